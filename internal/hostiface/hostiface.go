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

// Package hostiface defines the surface a host filesystem must provide for
// internal/fop and internal/invalidation to interoperate with it: an inode
// table keyed by directory identity, a FOP forwarding vocabulary, and an
// upcall/connectivity event channel. The core library (internal/nlcache,
// internal/fop, internal/invalidation) never constructs a DirHandle or
// mints a directory identity on its own; it only ever receives one from a
// host through these interfaces.
//
// hostiface/fake provides an in-memory implementation used by every test in
// this module and by cmd/nlcached's demo trace, standing in for a real
// inode table and RPC/upcall stack.
package hostiface

import (
	"context"

	"github.com/nlcache/nlc/internal/dirid"
	"github.com/nlcache/nlc/internal/nlcache"
)

// DirHandle is a reference-counted, host-owned handle on a directory. The
// two context slots are the host's storage for whatever the cache wants to
// hang off the handle: slot A holds the *nlcache.DirCache (installed once,
// compare-and-set semantics, see SetSlotA), slot B holds the
// nlcache.SlotBToken back-pointer from a uniquely-linked child to its
// parent's positive entry.
type DirHandle interface {
	// ID returns the directory identity this handle addresses.
	ID() dirid.ID

	// IsDir reports whether this handle addresses a directory (as opposed
	// to a file/symlink), used by the invalidation handler's
	// attribute-change check.
	IsDir() bool
}

// InodeTable is the host's opaque keyed store of DirHandles. The cache
// treats it purely as a collaborator: Find bumps a refcount the caller must
// eventually Unref.
type InodeTable interface {
	Find(id dirid.ID) (DirHandle, bool)
	Ref(h DirHandle)
	Unref(h DirHandle)

	// SlotA/SlotB accessors expose the per-handle context slots. SetSlotA
	// uses compare-and-set semantics: if another caller already installed
	// a DirCache for h, SetSlotA reports the winning value and the loser's
	// allocation (if any) must be dropped by the caller.
	GetSlotA(h DirHandle) (*nlcache.DirCache, bool)
	SetSlotA(h DirHandle, dc *nlcache.DirCache) (winner *nlcache.DirCache)

	GetSlotB(h DirHandle) (nlcache.SlotBToken, bool)
	SetSlotB(h DirHandle, tok nlcache.SlotBToken)
	ClearSlotB(h DirHandle) (nlcache.SlotBToken, bool)
}

// Forwarder winds a FOP to the next layer down the stack. Each FOP's
// Forwarder is a closure the host builds per call, carrying whatever
// frame/loc/argument state that FOP needs; it returns whatever the backend
// replied with, reduced to the handful of fields the cache's post-callback
// mutation policy needs to act on.
type Forwarder[T any] func(ctx context.Context) (T, error)

// UpcallEvent is the record a backend change notification carries.
// AffectedIsDir distinguishes a directory target from a file/symlink one;
// only directory targets have their own cache to clear.
type UpcallEvent struct {
	GFID           dirid.ID
	EventKind      string
	Flags          UpcallFlags
	ParentGFID     dirid.ID
	OldParentGFID  dirid.ID
	AffectedIsDir  bool
}

// UpcallFlags is the subset of the backend's change-flag bitmap the cache
// inspects: an attribute/timestamp change, and a dentry change under the
// parent.
type UpcallFlags uint32

const (
	UpcallTimes        UpcallFlags = 1 << 0
	UpcallParentDentry UpcallFlags = 1 << 1
)

func (f UpcallFlags) Has(bit UpcallFlags) bool { return f&bit != 0 }

// ConnEventKind enumerates the connectivity transitions the cache reacts to.
type ConnEventKind int

const (
	ConnChildUp ConnEventKind = iota
	ConnChildDown
	ConnDescendentUp
	ConnDescendentDown
	ConnParentDown
)

// UpcallSource and ConnEventSource deliver host events as receive channels
// a consumer ranges over, rather than callbacks the host would invoke into
// arbitrary code.
type UpcallSource interface {
	Upcalls() <-chan UpcallEvent
}

type ConnEventSource interface {
	ConnEvents() <-chan ConnEventKind
}

// ForgetSource delivers the "forget" notification that destroys a DirCache
// when the host discards the underlying DirHandle (e.g. the kernel's inode
// cache evicted it). The cache never initiates this; it only reacts.
type ForgetSource interface {
	Forgets() <-chan dirid.ID
}
