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

// Package nlcache implements the per-directory negative-lookup cache and
// the global cache state it hangs off of. Each directory gets a small cache
// of child names known NOT to exist (negative entries) and, optionally,
// child names/identities known TO exist (positive entries), with a TTL and
// a global LRU/size cap shared across every directory. Workloads that probe
// many absent names before creating them (stat-then-create) get their
// ENOENT answers locally instead of paying a backend round trip each time.
package nlcache

import (
	"time"

	"github.com/jacobsa/syncutil"

	"github.com/nlcache/nlc/internal/dirid"
)

// State is the validity bitmask for a DirCache.
type State uint64

const (
	StateInvalid   State = 0x0000
	StatePEFull    State = 0x0001
	StatePEPartial State = 0x0002
	StateNEValid   State = 0x0004
)

// PEValid reports whether the positive-entry list can be trusted at all
// (fully or partially populated).
func (s State) PEValid() bool {
	return s != StateInvalid && s&(StatePEFull|StatePEPartial) != 0
}

// NEValid reports whether the negative-entry list can be trusted.
func (s State) NEValid() bool {
	return s != StateInvalid && s&StateNEValid != 0
}

// NE is a negative entry: a child name known NOT to exist.
type NE struct {
	Name string
}

// dirCacheBaseSize is the fixed header cost accounted to every DirCache,
// even an empty one.
const dirCacheBaseSize = 64

// peOverhead/neOverhead are the per-entry header costs added on top of each
// stored name's length.
const peOverhead = 24
const neOverhead = 16

// DirCache is the cache attached to one directory.
type DirCache struct {
	mu syncutil.InvariantMutex // guards everything below; see checkInvariants

	id    dirid.ID
	pe    map[int]*PE
	peSeq int
	ne    []*NE
	state State

	cacheTime  time.Time // zero means "not currently valid"
	timer      wheelTimer
	cacheSize  uint64
	refdInodes uint64
}

// wheelTimer is the subset of *timerwheel.Timer that DirCache needs; kept as
// an interface so nlcache doesn't import timerwheel directly, keeping the
// dependency direction the same as the host-facing packages above it.
type wheelTimer interface {
	Reset(delay time.Duration)
	Cancel() bool
}

func newDirCache(id dirid.ID) *DirCache {
	dc := &DirCache{id: id, pe: make(map[int]*PE), cacheSize: dirCacheBaseSize}
	dc.mu = syncutil.NewInvariantMutex(dc.checkInvariants)
	return dc
}

// checkInvariants is wired into dc.mu above so lock-discipline bugs panic
// immediately under invariant checking rather than corrupt state silently.
func (dc *DirCache) checkInvariants() {
	if dc.state&StatePEFull != 0 && dc.state&StatePEPartial != 0 {
		panic("nlcache: PE_FULL and PE_PARTIAL both set")
	}
	if dc.state == StateInvalid && (len(dc.pe) != 0 || len(dc.ne) != 0) {
		panic("nlcache: state invalid but entries present")
	}
	if dc.cacheTime.IsZero() && dc.timer != nil {
		panic("nlcache: invalid cache_time with a live timer")
	}
}

// isCacheValidLocked: a DirCache with a zero cacheTime was never populated
// (or was already cleared); one whose cacheTime predates the most recent
// connectivity event is stale even though nothing has gotten around to
// clearing it yet.
func (dc *DirCache) isCacheValidLocked(lastDisconnect time.Time) bool {
	if dc.cacheTime.IsZero() {
		return false
	}
	return !lastDisconnect.After(dc.cacheTime)
}

func nameLen0(name string) int {
	if name == "" {
		return 0
	}
	return len(name) + 1 // counted with a trailing NUL; an empty name
	// counts 0, the same as "no name stored".
}

func (dc *DirCache) searchNELocked(name string) bool {
	if !dc.state.NEValid() {
		return false
	}
	n0 := nameLen0(name)
	for _, ne := range dc.ne {
		if n0 != 0 && nameLen0(ne.Name) == n0 && ne.Name == name {
			return true
		}
	}
	return false
}

func (dc *DirCache) searchPELocked(name string) bool {
	if !dc.state.PEValid() {
		return false
	}
	n0 := nameLen0(name)
	for _, pe := range dc.pe {
		if n0 != 0 && nameLen0(pe.Name) == n0 && pe.Name == name {
			return true
		}
	}
	return false
}

// getPELocked finds a positive entry by name, optionally ignoring case;
// the get_real_filename xattr path uses the case-insensitive form.
func (dc *DirCache) getPELocked(name string, caseInsensitive bool) *PE {
	if !dc.state.PEValid() {
		return nil
	}
	for _, pe := range dc.pe {
		if pe.Name == "" {
			continue
		}
		if caseInsensitive {
			if equalFold(pe.Name, name) {
				return pe
			}
		} else if pe.Name == name {
			return pe
		}
	}
	return nil
}

// equalFold folds ASCII letters only, byte for byte; multi-byte case pairs
// compare as plain bytes, the same answer a strcasecmp-style backend gives.
func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func (dc *DirCache) addNELocked(name string) {
	if dc.searchNELocked(name) {
		return // duplicate adds coalesce into a no-op
	}
	dc.ne = append(dc.ne, &NE{Name: name})
	dc.state |= StateNEValid
	dc.cacheSize += uint64(nameLen0(name)) + neOverhead
}

// addPELocked assigns the new PE a slot in the (index, generation) arena
// described in pe.go and returns the token a caller should hand the host to
// install into the child's slot B, if the child is unique-linked (see
// removePEByTokenLocked).
func (dc *DirCache) addPELocked(childID dirid.ID, hasChild bool, name string) (*PE, SlotBToken) {
	idx := dc.peSeq
	dc.peSeq++
	pe := &PE{Name: name, ChildID: childID, hasChild: hasChild, generation: uint64(idx)}
	dc.pe[idx] = pe

	if dc.state&(StatePEFull|StatePEPartial) == 0 {
		dc.state |= StatePEPartial
	}
	dc.cacheSize += uint64(nameLen0(name)) + peOverhead
	if hasChild {
		dc.refdInodes++
	}

	tok := SlotBToken{dir: dc.id, index: idx, generation: pe.generation, valid: true}
	return pe, tok
}

// delNELocked removes (at most) the first matching negative entry.
func (dc *DirCache) delNELocked(name string) {
	if !dc.state.NEValid() {
		return
	}
	n0 := nameLen0(name)
	for i, ne := range dc.ne {
		if n0 != 0 && nameLen0(ne.Name) == n0 && ne.Name == name {
			dc.ne = append(dc.ne[:i], dc.ne[i+1:]...)
			dc.cacheSize -= uint64(nameLen0(ne.Name)) + neOverhead
			return
		}
	}
}

// removePEByNameLocked scans pe by name, used as the fallback/primary path
// depending on the multilink flag (see removePELocked).
func (dc *DirCache) removePEByNameLocked(name string) (int, *PE) {
	n0 := nameLen0(name)
	if n0 == 0 {
		return -1, nil
	}
	for idx, pe := range dc.pe {
		if nameLen0(pe.Name) == n0 && pe.Name == name {
			return idx, pe
		}
	}
	return -1, nil
}

func (dc *DirCache) removePEByChildLocked(childID dirid.ID) (int, *PE) {
	for idx, pe := range dc.pe {
		if pe.hasChild && pe.ChildID == childID {
			return idx, pe
		}
	}
	return -1, nil
}

// removePEByTokenLocked is the O(1) removal path: a host holding a
// SlotBToken for its child handle hands it back when removing the entry. A
// token whose generation no longer matches the live PE at that index (the
// PE was already removed and the slot reused, or never existed) is benign;
// the caller falls back to a linear scan.
func (dc *DirCache) removePEByTokenLocked(tok SlotBToken) (int, *PE) {
	if !tok.valid || tok.dir != dc.id {
		return -1, nil
	}
	pe, ok := dc.pe[tok.index]
	if !ok || pe.generation != tok.generation {
		return -1, nil
	}
	return tok.index, pe
}

// removePELocked locates the entry to drop by the name-vs-child policy:
//   - multilink=false, child known: prefer the slot-B token (O(1)), falling
//     back to a linear scan by child identity, then by name.
//   - multilink=true, child known: a hardlink remove can't trust slot-B
//     uniqueness (several names may share the inode), so match by name
//     first and only fall back to child identity.
//   - no child: match by name.
func (dc *DirCache) removePELocked(tok SlotBToken, childID dirid.ID, hasChild bool, name string, multilink bool) *PE {
	if !dc.state.PEValid() {
		return nil
	}

	var idx int
	var pe *PE

	switch {
	case !hasChild:
		idx, pe = dc.removePEByNameLocked(name)
	case multilink:
		idx, pe = dc.removePEByNameLocked(name)
		if pe == nil {
			idx, pe = dc.removePEByChildLocked(childID)
		}
	default:
		idx, pe = dc.removePEByTokenLocked(tok)
		if pe == nil {
			idx, pe = dc.removePEByChildLocked(childID)
		}
		if pe == nil {
			idx, pe = dc.removePEByNameLocked(name)
		}
	}
	if pe == nil {
		return nil
	}

	delete(dc.pe, idx)
	if pe.hasChild {
		dc.refdInodes--
	}
	dc.cacheSize -= uint64(nameLen0(pe.Name)) + peOverhead
	return pe
}

// clearEntriesLocked drops every PE/NE and resets state and cacheTime, but
// leaves the timer and LRU membership alone; those are the caller's
// responsibility, since a full clear and a revalidation manage them
// differently.
func (dc *DirCache) clearEntriesLocked() (freedPE, freedNE int) {
	freedPE, freedNE = len(dc.pe), len(dc.ne)
	dc.pe = make(map[int]*PE)
	dc.ne = nil
	dc.cacheTime = time.Time{}
	dc.state = StateInvalid
	dc.cacheSize = dirCacheBaseSize
	dc.refdInodes = 0
	return
}

// setStateFullLocked marks the positive-entry list as enumerating every
// child. Its single caller is the mkdir callback on the freshly created,
// necessarily-empty directory; nothing else promotes partial to full, even
// where a complete readdir would arguably justify it.
func (dc *DirCache) setStateFullLocked() {
	dc.state = (dc.state &^ StatePEPartial) | StatePEFull
}
