// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package fake provides an in-memory hostiface.InodeTable/UpcallSource/
// ConnEventSource/ForgetSource, standing in for a real filesystem's inode
// table and notification stack. It backs every test that needs a DirHandle
// and cmd/nlcached's scripted demo trace.
package fake

import (
	"sync"

	"github.com/nlcache/nlc/internal/dirid"
	"github.com/nlcache/nlc/internal/hostiface"
	"github.com/nlcache/nlc/internal/nlcache"
)

// handle is the fake's DirHandle implementation: just an id, a refcount,
// and the two opaque context slots.
type handle struct {
	id    dirid.ID
	isDir bool

	mu    sync.Mutex
	refs  int
	slotA *nlcache.DirCache
	slotB nlcache.SlotBToken
	haveB bool
}

func (h *handle) ID() dirid.ID { return h.id }
func (h *handle) IsDir() bool  { return h.isDir }

// Table is a fake hostiface.InodeTable: a plain map guarded by a mutex,
// with buffered (16-deep) channels for upcalls/connectivity/forgets that tests and
// cmd/nlcached push onto directly.
type Table struct {
	mu      sync.Mutex
	byID    map[dirid.ID]*handle
	upcalls chan hostiface.UpcallEvent
	conns   chan hostiface.ConnEventKind
	forgets chan dirid.ID
}

func NewTable() *Table {
	return &Table{
		byID:    make(map[dirid.ID]*handle),
		upcalls: make(chan hostiface.UpcallEvent, 16),
		conns:   make(chan hostiface.ConnEventKind, 16),
		forgets: make(chan dirid.ID, 16),
	}
}

var _ hostiface.InodeTable = (*Table)(nil)
var _ hostiface.UpcallSource = (*Table)(nil)
var _ hostiface.ConnEventSource = (*Table)(nil)
var _ hostiface.ForgetSource = (*Table)(nil)

// CreateDir registers a brand-new directory handle with the table (the
// fake's substitute for the host minting an inode on mkdir/lookup).
func (t *Table) CreateDir(isDir bool) hostiface.DirHandle {
	h := &handle{id: dirid.New(), isDir: isDir, refs: 1}
	t.mu.Lock()
	t.byID[h.id] = h
	t.mu.Unlock()
	return h
}

func (t *Table) Find(id dirid.ID) (hostiface.DirHandle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	h.mu.Lock()
	h.refs++
	h.mu.Unlock()
	return h, true
}

func (t *Table) Ref(hh hostiface.DirHandle) {
	h := hh.(*handle)
	h.mu.Lock()
	h.refs++
	h.mu.Unlock()
}

func (t *Table) Unref(hh hostiface.DirHandle) {
	h := hh.(*handle)
	h.mu.Lock()
	h.refs--
	evict := h.refs <= 0
	h.mu.Unlock()

	if !evict {
		return
	}
	t.mu.Lock()
	delete(t.byID, h.id)
	t.mu.Unlock()
	t.forgets <- h.id
}

func (t *Table) GetSlotA(hh hostiface.DirHandle) (*nlcache.DirCache, bool) {
	h := hh.(*handle)
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.slotA, h.slotA != nil
}

// SetSlotA installs dc if slot A is currently unset, otherwise returns the
// value already installed by a racing caller; the losing installer drops
// its allocation.
func (t *Table) SetSlotA(hh hostiface.DirHandle, dc *nlcache.DirCache) *nlcache.DirCache {
	h := hh.(*handle)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.slotA == nil {
		h.slotA = dc
	}
	return h.slotA
}

func (t *Table) GetSlotB(hh hostiface.DirHandle) (nlcache.SlotBToken, bool) {
	h := hh.(*handle)
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.slotB, h.haveB
}

func (t *Table) SetSlotB(hh hostiface.DirHandle, tok nlcache.SlotBToken) {
	h := hh.(*handle)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.slotB = tok
	h.haveB = true
}

func (t *Table) ClearSlotB(hh hostiface.DirHandle) (nlcache.SlotBToken, bool) {
	h := hh.(*handle)
	h.mu.Lock()
	defer h.mu.Unlock()
	tok, had := h.slotB, h.haveB
	h.slotB, h.haveB = nlcache.SlotBToken{}, false
	return tok, had
}

func (t *Table) Upcalls() <-chan hostiface.UpcallEvent      { return t.upcalls }
func (t *Table) ConnEvents() <-chan hostiface.ConnEventKind { return t.conns }
func (t *Table) Forgets() <-chan dirid.ID                   { return t.forgets }

// EmitUpcall, EmitConnEvent let tests/cmd/nlcached drive the fake without
// reaching past the interface into channel internals.
func (t *Table) EmitUpcall(ev hostiface.UpcallEvent)         { t.upcalls <- ev }
func (t *Table) EmitConnEvent(ev hostiface.ConnEventKind)    { t.conns <- ev }
