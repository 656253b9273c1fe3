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

// Package invalidation consumes backend upcalls, connectivity transitions,
// and forget notifications, evicting the affected directory caches. Events
// arrive over hostiface channels and are drained by a single Run loop.
package invalidation

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nlcache/nlc/internal/dirid"
	"github.com/nlcache/nlc/internal/hostiface"
	"github.com/nlcache/nlc/internal/logger"
	"github.com/nlcache/nlc/internal/nlcache"
)

// gfidResolveCacheSize bounds the gfid->handle memo cache. The memo is
// purely advisory: it never holds a ref itself and is blown away wholesale
// by the same connectivity events that invalidate the caches (see
// handleConnEvent), so it never needs to be precise, only to save a
// redundant InodeTable.Find under a burst of upcalls for the same
// directory.
const gfidResolveCacheSize = 4096

// Handler wires a hostiface.InodeTable + nlcache.Conf pair to the three
// inbound event kinds. Run drives it until ctx is done.
type Handler struct {
	conf  *nlcache.Conf
	table hostiface.InodeTable

	resolveCache *lru.Cache[dirid.ID, hostiface.DirHandle]
}

func NewHandler(conf *nlcache.Conf, table hostiface.InodeTable) *Handler {
	cache, err := lru.New[dirid.ID, hostiface.DirHandle](gfidResolveCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// gfidResolveCacheSize never is.
		panic(err)
	}
	return &Handler{conf: conf, table: table, resolveCache: cache}
}

// Run consumes upcalls, connectivity events, and forget notifications from
// the three channels until ctx is canceled. Any of the channels may be
// closed independently of canceling ctx; Run simply stops selecting on a
// closed channel (a nil channel is never selected).
func (h *Handler) Run(ctx context.Context, upcalls <-chan hostiface.UpcallEvent, conns <-chan hostiface.ConnEventKind, forgets <-chan dirid.ID) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-upcalls:
			if !ok {
				upcalls = nil
				continue
			}
			h.handleUpcall(ev)
		case ev, ok := <-conns:
			if !ok {
				conns = nil
				continue
			}
			h.handleConnEvent(ev)
		case id, ok := <-forgets:
			if !ok {
				forgets = nil
				continue
			}
			h.conf.Forget(id)
		}
	}
}

// resolve maps a gfid to a DirHandle via the host inode table, memoized;
// an unresolved gfid means the caller drops the event with a warning.
func (h *Handler) resolve(id dirid.ID) (hostiface.DirHandle, bool) {
	if id.IsNil() {
		return nil, false
	}
	if dh, ok := h.resolveCache.Get(id); ok {
		return dh, true
	}
	dh, ok := h.table.Find(id)
	if !ok {
		return nil, false
	}
	// Find took a reference for this lookup; the memo does not keep it.
	h.table.Unref(dh)
	h.resolveCache.Add(id, dh)
	return dh, true
}

// handleUpcall clears the affected directory's own cache (if the event
// concerns a directory and carries a timestamp change), then clears both
// parent/oldparent caches regardless.
func (h *Handler) handleUpcall(ev hostiface.UpcallEvent) {
	if ev.Flags.Has(hostiface.UpcallTimes) && ev.AffectedIsDir {
		if _, ok := h.resolve(ev.GFID); ok {
			h.conf.ClearCache(ev.GFID, nlcache.ClearReasonNone)
		} else {
			logger.Warnf("invalidation: dropping upcall for unresolved gfid %s", ev.GFID)
		}
	}

	if !ev.ParentGFID.IsNil() {
		if _, ok := h.resolve(ev.ParentGFID); ok {
			h.conf.ClearCache(ev.ParentGFID, nlcache.ClearReasonNone)
		} else {
			logger.Warnf("invalidation: dropping upcall for unresolved parent gfid %s", ev.ParentGFID)
		}
	}
	if !ev.OldParentGFID.IsNil() {
		if _, ok := h.resolve(ev.OldParentGFID); ok {
			h.conf.ClearCache(ev.OldParentGFID, nlcache.ClearReasonNone)
		} else {
			logger.Warnf("invalidation: dropping upcall for unresolved oldparent gfid %s", ev.OldParentGFID)
		}
	}

	h.conf.Stats.Invalidations.Add(1)
}

// handleConnEvent: child/descendent up-or-down events just stamp the
// last-disconnect time, lazily invalidating every DirCache the next time
// it's probed, with no eager walk. A parent-down event is the shutdown path:
// disable the cache outright and eagerly drain every DirCache, since
// nothing will probe it again before the process exits.
func (h *Handler) handleConnEvent(ev hostiface.ConnEventKind) {
	switch ev {
	case hostiface.ConnParentDown:
		h.conf.Disable()
		h.resolveCache.Purge()
	default:
		h.conf.UpdateChildDownTime(h.conf.Now())
		h.resolveCache.Purge()
	}
}
