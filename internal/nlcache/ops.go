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

package nlcache

import (
	"github.com/nlcache/nlc/internal/dirid"
	"github.com/nlcache/nlc/internal/logger"
)

// Decision is the outcome of the negative-lookup policy.
type Decision int

const (
	// DecisionMiss means the cache has no opinion; the caller must forward
	// to the backend.
	DecisionMiss Decision = iota
	// DecisionHitENOENT means the cache has positively established that
	// the name does not exist; the caller may short-circuit with ENOENT.
	DecisionHitENOENT
)

// Enabled reports whether the cache is taking any action at all. When false
// every probe is a MISS and every mutation is a no-op, so FOPs flow through
// untouched.
func (conf *Conf) Enabled() bool {
	return !conf.isDisabled()
}

// PositiveEntryCacheEnabled reports whether positive-entry tracking (AddPE,
// full-state, get_real_filename) is on; it is a separate opt-in from the
// base negative-entry cache.
func (conf *Conf) PositiveEntryCacheEnabled() bool {
	return conf.positiveEntryCache
}

// IsValid reports whether the directory has a live, un-invalidated cache.
// Probing never allocates a DirCache; a directory that was never cached is
// simply invalid. Observing an expired or disconnect-invalidated cache
// lazily clears it, so stale entries and their counter contributions are
// released at the first touch rather than lingering until an add happens
// to revisit the directory.
func (conf *Conf) IsValid(id dirid.ID) bool {
	if !conf.Enabled() {
		return false
	}
	dc, ok := conf.get(id)
	if !ok {
		return false
	}
	dc.mu.Lock()
	valid := dc.isCacheValidLocked(conf.lastDisconnectTime())
	dc.mu.Unlock()
	if !valid {
		conf.ClearCache(id, ClearReasonNone)
	}
	return valid
}

// AddNE records name as known-absent from id. A duplicate add is coalesced.
func (conf *Conf) AddNE(id dirid.ID, name string) {
	if !conf.Enabled() || !conf.negativeEntryCache {
		return
	}
	dc := conf.getOrCreate(id)

	// The global counter moves while dc.mu is still held, so for any one
	// directory every subtraction (clear, prune) is ordered after the adds
	// it is undoing; the global total can therefore never underflow, and at
	// quiescence it is exactly the sum of per-directory cacheSize values,
	// fixed headers included.
	dc.mu.Lock()
	before := dc.cacheSize
	dc.addNELocked(name)
	grew := dc.cacheSize - before
	if grew > 0 {
		addCacheSize(&conf.currentCacheSize, grew)
	}
	dc.mu.Unlock()

	if grew > 0 {
		conf.Stats.NEInodeCount.Add(1)
		conf.pruneAfterGrowth()
	}
}

// AddPE records name (and, if hasChild, childID) as present under id. Any
// NE for the same name is removed first: a create promotes a known-negative
// name to positive. The returned token should be installed into the child's
// host-owned slot B when hasChild is true and the link is not itself a
// hardlink target; it is the zero SlotBToken otherwise.
func (conf *Conf) AddPE(id dirid.ID, childID dirid.ID, hasChild bool, name string) SlotBToken {
	if !conf.Enabled() || !conf.PositiveEntryCacheEnabled() {
		return SlotBToken{}
	}
	dc := conf.getOrCreate(id)

	dc.mu.Lock()
	before := dc.cacheSize
	dc.delNELocked(name) // promotion: a name can't be both NE and PE.
	_, tok := dc.addPELocked(childID, hasChild, name)
	// A PE always costs more than the NE it promotes (same name, larger
	// overhead), so the net is a growth.
	grew := dc.cacheSize - before
	addCacheSize(&conf.currentCacheSize, grew)
	if hasChild {
		addCacheSize(&conf.refdInodes, 1)
	}
	dc.mu.Unlock()

	conf.Stats.PEInodeCount.Add(1)
	conf.pruneAfterGrowth()
	if !hasChild {
		return SlotBToken{}
	}
	return tok
}

// RemovePE locates the PE per the multilink/token/name policy, removes it,
// and always adds an NE for the name afterward, regardless of whether a PE
// was actually found: a successful remove means the name is now known
// absent either way.
func (conf *Conf) RemovePE(id dirid.ID, tok SlotBToken, childID dirid.ID, hasChild bool, name string, multilink bool) {
	if !conf.Enabled() || !conf.PositiveEntryCacheEnabled() {
		return
	}
	dc := conf.getOrCreate(id)

	dc.mu.Lock()
	before := dc.cacheSize
	pe := dc.removePELocked(tok, childID, hasChild, name, multilink)
	dc.addNELocked(name)
	after := dc.cacheSize
	switch {
	case after > before:
		addCacheSize(&conf.currentCacheSize, after-before)
	case before > after:
		subCacheSize(&conf.currentCacheSize, before-after)
	}
	if pe != nil && pe.hasChild {
		subCacheSize(&conf.refdInodes, 1)
	}
	dc.mu.Unlock()

	if after > before {
		conf.pruneAfterGrowth()
	}
}

// RemoveNE deletes a negative entry outright. No FOP interceptor calls it
// directly (AddPE's promotion step uses the unexported delNELocked), but
// hosts that learn about a name out of band need the operation.
func (conf *Conf) RemoveNE(id dirid.ID, name string) {
	dc, ok := conf.get(id)
	if !ok {
		return
	}
	dc.mu.Lock()
	defer dc.mu.Unlock()
	before := dc.cacheSize
	dc.delNELocked(name)
	if freed := before - dc.cacheSize; freed > 0 {
		subCacheSize(&conf.currentCacheSize, freed)
	}
}

// SearchNE reports whether name is recorded as absent from id.
func (conf *Conf) SearchNE(id dirid.ID, name string) bool {
	dc, ok := conf.get(id)
	if !ok {
		return false
	}
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.searchNELocked(name)
}

// SearchPE reports whether name is recorded as present under id.
func (conf *Conf) SearchPE(id dirid.ID, name string) bool {
	dc, ok := conf.get(id)
	if !ok {
		return false
	}
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.searchPELocked(name)
}

// SearchPECaseInsensitive is the get_real_filename scan: a case-insensitive
// match over the positive entries, returning the canonical stored spelling.
func (conf *Conf) SearchPECaseInsensitive(id dirid.ID, fname string) (string, bool) {
	dc, ok := conf.get(id)
	if !ok {
		return "", false
	}
	dc.mu.Lock()
	defer dc.mu.Unlock()
	pe := dc.getPELocked(fname, true)
	if pe == nil {
		return "", false
	}
	return pe.Name, true
}

// SetStateFull marks id's positive-entry set as enumerating every child.
// Its one caller is the mkdir callback on the freshly created directory,
// which is necessarily empty, so its (as yet empty) PE list trivially
// enumerates every child.
func (conf *Conf) SetStateFull(id dirid.ID) {
	if !conf.Enabled() || !conf.PositiveEntryCacheEnabled() {
		return
	}
	dc := conf.getOrCreate(id)
	dc.mu.Lock()
	dc.setStateFullLocked()
	dc.mu.Unlock()
}

// IsPEFull reports whether id's positive-entry set is known to enumerate
// every child, used by the getxattr real-filename fast path's ENOENT case.
func (conf *Conf) IsPEFull(id dirid.ID) bool {
	dc, ok := conf.get(id)
	if !ok {
		return false
	}
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.state&StatePEFull != 0
}

// NegativeLookupDecision runs the negative-lookup policy end to end: MISS
// if the cache isn't valid, HIT/ENOENT if name is a known negative or
// excluded by a full positive set, MISS otherwise.
func (conf *Conf) NegativeLookupDecision(id dirid.ID, name string) Decision {
	if !conf.Enabled() {
		return DecisionMiss
	}
	dc, ok := conf.get(id)
	if !ok {
		return DecisionMiss
	}

	dc.mu.Lock()
	if !dc.isCacheValidLocked(conf.lastDisconnectTime()) {
		dc.mu.Unlock()
		conf.ClearCache(id, ClearReasonNone)
		return DecisionMiss
	}
	defer dc.mu.Unlock()

	if dc.searchNELocked(name) {
		return DecisionHitENOENT
	}
	if dc.state&StatePEFull != 0 && !dc.searchPELocked(name) {
		return DecisionHitENOENT
	}
	return DecisionMiss
}

// pruneAfterGrowth runs after every operation that grows a DirCache, once
// dc.mu has been released. It is defined here rather than inline at each
// call site so every grow path (AddNE, AddPE, RemovePE's implicit AddNE)
// goes through one place.
func (conf *Conf) pruneAfterGrowth() {
	evicted := conf.lruPrune()
	if evicted > 0 {
		logger.Tracef("nlcache: lru_prune evicted %d directories", evicted)
	}
}
