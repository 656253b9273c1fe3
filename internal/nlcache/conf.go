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
	"sync"
	"sync/atomic"
	"time"

	"github.com/nlcache/nlc/clock"
	"github.com/nlcache/nlc/common"
	"github.com/nlcache/nlc/internal/dirid"
	"github.com/nlcache/nlc/internal/logger"
	"github.com/nlcache/nlc/internal/timerwheel"
)

// Options configures a Conf. PositiveEntryCache and NegativeEntryCache left
// at their zero value keep those caches off, while DisableCache left at
// false keeps the cache as a whole enabled; callers should set sensible
// defaults (see internal/cfg) before passing Options to New.
type Options struct {
	CacheTimeout        time.Duration
	PositiveEntryCache  bool
	NegativeEntryCache  bool
	DisableCache        bool
	CacheSizeLimitBytes uint64
	InodeLimit          uint64
	Clock               clock.Clock
}

// Statistics are the module-wide counters, exposed both directly (Snapshot)
// and via Prometheus (see metrics.go).
type Statistics struct {
	Hit                 atomic.Uint64
	Miss                atomic.Uint64
	NamelessLookup      atomic.Uint64
	GetRealFileNameHit  atomic.Uint64
	GetRealFileNameMiss atomic.Uint64
	PEInodeCount        atomic.Uint64
	NEInodeCount        atomic.Uint64
	Invalidations       atomic.Uint64
}

// StatisticsSnapshot is a point-in-time copy of Statistics for callers that
// want plain integers rather than atomics.
type StatisticsSnapshot struct {
	Hit, Miss, NamelessLookup                 uint64
	GetRealFileNameHit, GetRealFileNameMiss   uint64
	PEInodeCount, NEInodeCount, Invalidations uint64
}

func (s *Statistics) Snapshot() StatisticsSnapshot {
	return StatisticsSnapshot{
		Hit:                 s.Hit.Load(),
		Miss:                s.Miss.Load(),
		NamelessLookup:      s.NamelessLookup.Load(),
		GetRealFileNameHit:  s.GetRealFileNameHit.Load(),
		GetRealFileNameMiss: s.GetRealFileNameMiss.Load(),
		PEInodeCount:        s.PEInodeCount.Load(),
		NEInodeCount:        s.NEInodeCount.Load(),
		Invalidations:       s.Invalidations.Load(),
	}
}

// Conf is the global cache state shared by every DirCache. Because this is
// a library with no direct access to the host's inode context slots, Conf
// itself holds the ID -> *DirCache registry rather than hanging each cache
// off a host inode.
type Conf struct {
	cacheTimeout       time.Duration
	positiveEntryCache bool
	negativeEntryCache bool
	cacheSizeLimit     uint64
	inodeLimit         uint64
	clock              clock.Clock
	wheel              *timerwheel.Wheel

	mu             sync.Mutex // guards dirs, lru, lastDisconnect, disabled
	dirs           map[dirid.ID]*DirCache
	lru            common.Queue[dirid.ID]
	lastDisconnect time.Time
	disabled       bool

	currentCacheSize atomic.Uint64
	refdInodes       atomic.Uint64

	Stats Statistics
}

// New creates a Conf with its own timer wheel driven by opts.Clock (or a
// clock.RealClock if unset).
func New(opts Options) *Conf {
	c := opts.Clock
	if c == nil {
		c = clock.RealClock{}
	}
	return &Conf{
		cacheTimeout:       opts.CacheTimeout,
		positiveEntryCache: opts.PositiveEntryCache,
		negativeEntryCache: opts.NegativeEntryCache,
		cacheSizeLimit:     opts.CacheSizeLimitBytes,
		inodeLimit:         opts.InodeLimit,
		clock:              c,
		wheel:              timerwheel.New(c),
		dirs:               make(map[dirid.ID]*DirCache),
		lru:                common.NewLinkedListQueue[dirid.ID](),
		disabled:           opts.DisableCache,
	}
}

// Close stops the underlying timer wheel.
func (conf *Conf) Close() {
	conf.wheel.Stop()
}

// Now returns the current time according to conf's injected clock, letting
// callers (internal/invalidation) stamp connectivity events without taking
// a dependency on the clock package themselves.
func (conf *Conf) Now() time.Time {
	return conf.clock.Now()
}

func (conf *Conf) isDisabled() bool {
	conf.mu.Lock()
	defer conf.mu.Unlock()
	return conf.disabled
}

// Disable turns off caching entirely and clears everything currently
// cached. Used on shutdown (parent-down); there is no re-enable.
func (conf *Conf) Disable() {
	conf.mu.Lock()
	conf.disabled = true
	conf.mu.Unlock()
	conf.ClearAll()
}

// UpdateChildDownTime records a connectivity event. Every DirCache whose
// cacheTime predates now is lazily treated as invalid from this point on;
// nothing is actively walked.
func (conf *Conf) UpdateChildDownTime(now time.Time) {
	conf.mu.Lock()
	conf.lastDisconnect = now
	conf.mu.Unlock()
}

func (conf *Conf) lastDisconnectTime() time.Time {
	conf.mu.Lock()
	defer conf.mu.Unlock()
	return conf.lastDisconnect
}

// get returns the existing DirCache for id, if any, without allocating.
func (conf *Conf) get(id dirid.ID) (*DirCache, bool) {
	conf.mu.Lock()
	defer conf.mu.Unlock()
	dc, ok := conf.dirs[id]
	return dc, ok
}

// timerAdapter lets a *DirCache Reset/Cancel its wheel timer without
// depending on the timerwheel package directly.
type timerAdapter struct {
	wheel *timerwheel.Wheel
	t     *timerwheel.Timer
}

func (a *timerAdapter) Reset(d time.Duration) {
	a.wheel.Mod(a.t, uint64(d/time.Second))
}

func (a *timerAdapter) Cancel() bool {
	return a.wheel.Del(a.t)
}

// getOrCreate fetches an existing DirCache, or allocates a fresh one,
// starting its timer and LRU membership; then, whether fresh or
// pre-existing, makes sure it is ready to accept entries (clearing stale
// state left by a prior TTL expiry or connectivity event).
func (conf *Conf) getOrCreate(id dirid.ID) *DirCache {
	conf.mu.Lock()
	dc, ok := conf.dirs[id]
	if !ok {
		dc = newDirCache(id)
		conf.startTimerAndLRULocked(dc)
		conf.dirs[id] = dc // publish only once fully armed
		// The fixed header joins the global counter for as long as the
		// DirCache lives; Forget takes it back out.
		addCacheSize(&conf.currentCacheSize, dirCacheBaseSize)
	}
	conf.mu.Unlock()

	conf.ensureValid(dc)
	return dc
}

// startTimerAndLRULocked must be called with conf.mu held.
func (conf *Conf) startTimerAndLRULocked(dc *DirCache) {
	wt := conf.wheel.NewTimer(func() { conf.onTimerExpired(dc.id) })
	conf.wheel.Add(wt, uint64(conf.cacheTimeout/time.Second))
	dc.timer = &timerAdapter{wheel: conf.wheel, t: wt}
	dc.cacheTime = conf.clock.Now()

	conf.lru.Push(dc.id)
}

// onTimerExpired runs on TTL expiry: stamp cacheTime as invalid and drop
// the (already-fired) timer handle. The entries themselves are left in
// place; the next probe observes the invalid cache and clears it lazily,
// and the next add re-arms a fresh timer via ensureValid.
func (conf *Conf) onTimerExpired(id dirid.ID) {
	dc, ok := conf.get(id)
	if !ok {
		return
	}
	dc.mu.Lock()
	dc.cacheTime = time.Time{}
	dc.timer = nil
	dc.mu.Unlock()
}

// ensureValid: if the cache is stale (expired or invalidated), wipe it and
// restart its timer so it is ready to accept fresh entries.
func (conf *Conf) ensureValid(dc *DirCache) {
	last := conf.lastDisconnectTime()

	dc.mu.Lock()
	defer dc.mu.Unlock()

	if dc.isCacheValidLocked(last) {
		return
	}

	staleBytes := entryBytes(dc.cacheSize)
	staleInodes := dc.refdInodes
	dc.clearEntriesLocked()
	if staleBytes > 0 {
		subCacheSize(&conf.currentCacheSize, staleBytes)
	}
	if staleInodes > 0 {
		subCacheSize(&conf.refdInodes, staleInodes)
	}

	if dc.timer != nil {
		dc.timer.Reset(conf.cacheTimeout)
		dc.cacheTime = conf.clock.Now()
		return
	}

	conf.mu.Lock()
	conf.startTimerAndLRULocked(dc)
	conf.mu.Unlock()
}

// ClearCache stops the timer and drops every entry, leaving an empty
// DirCache behind. The DirCache object itself stays in the registry until
// the host's forget notification (Forget); freeing it here would orphan the
// object under a concurrent getOrCreate caller that is about to add to it.
// LRU membership is left as it is: a stale id popped later by the pruner
// clears whatever the DirCache then holds, so no byte is freed twice.
func (conf *Conf) ClearCache(id dirid.ID, reason ClearReason) {
	dc, ok := conf.get(id)
	if !ok {
		return
	}

	dc.mu.Lock()
	if dc.timer != nil {
		dc.timer.Cancel()
		dc.timer = nil
	}
	freedBytes := entryBytes(dc.cacheSize)
	freedInodes := dc.refdInodes
	dc.clearEntriesLocked()
	if freedBytes > 0 {
		subCacheSize(&conf.currentCacheSize, freedBytes)
	}
	if freedInodes > 0 {
		subCacheSize(&conf.refdInodes, freedInodes)
	}
	dc.mu.Unlock()
}

// ClearReason records who initiated a clear; entry teardown is identical
// either way.
type ClearReason int

const (
	ClearReasonNone ClearReason = iota
	ClearReasonLRUPrune
)

func (conf *Conf) removeFromRegistry(id dirid.ID) {
	conf.mu.Lock()
	_, ok := conf.dirs[id]
	delete(conf.dirs, id)
	conf.mu.Unlock()
	if ok {
		subCacheSize(&conf.currentCacheSize, dirCacheBaseSize)
	}
}

// ClearAll is invoked on parent-down / shutdown: it eagerly tears down
// every directory rather than waiting for lazy last-disconnect checks to
// catch up.
func (conf *Conf) ClearAll() {
	conf.mu.Lock()
	ids := make([]dirid.ID, 0, len(conf.dirs))
	for id := range conf.dirs {
		ids = append(ids, id)
	}
	conf.lru = common.NewLinkedListQueue[dirid.ID]()
	conf.mu.Unlock()

	for _, id := range ids {
		conf.ClearCache(id, ClearReasonNone)
		logger.Tracef("nlcache: cleared %s during ClearAll", id)
	}
}

// entryBytes strips the fixed per-directory header (dirCacheBaseSize) back
// out of a DirCache's cacheSize. The header was contributed to the global
// counter once, at creation, and leaves only when the DirCache is forgotten;
// a clear therefore subtracts just the entry portion, keeping the global
// counter equal to the sum of live cacheSize values.
func entryBytes(size uint64) uint64 {
	if size <= dirCacheBaseSize {
		return 0
	}
	return size - dirCacheBaseSize
}

func addCacheSize(c *atomic.Uint64, n uint64) {
	c.Add(n)
}

func subCacheSize(c *atomic.Uint64, n uint64) {
	for {
		old := c.Load()
		next := old
		if n > old {
			next = 0
		} else {
			next = old - n
		}
		if c.CompareAndSwap(old, next) {
			return
		}
	}
}
