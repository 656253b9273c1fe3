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
	"testing"
	"time"

	"github.com/nlcache/nlc/clock"
	"github.com/nlcache/nlc/internal/dirid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConf(t *testing.T, sc *clock.SimulatedClock, ttl time.Duration, pec bool) *Conf {
	t.Helper()
	conf := New(Options{
		CacheTimeout:        ttl,
		PositiveEntryCache:  pec,
		NegativeEntryCache:  true,
		CacheSizeLimitBytes: 1 << 20,
		InodeLimit:          1 << 20,
		Clock:               sc,
	})
	t.Cleanup(conf.Close)
	return conf
}

// Scenario 1: Negative-lookup cache hit.
func TestScenario1NegativeLookupCacheHit(t *testing.T) {
	sc := clock.NewSimulatedClock(time.Unix(0, 0))
	conf := newTestConf(t, sc, 60*time.Second, false)
	d := dirid.New()

	conf.AddNE(d, "xyz")

	decision := conf.NegativeLookupDecision(d, "xyz")
	assert.Equal(t, DecisionHitENOENT, decision)
}

// Scenario 2: Lookup-miss seeds NE.
func TestScenario2LookupMissSeedsNE(t *testing.T) {
	sc := clock.NewSimulatedClock(time.Unix(0, 0))
	conf := newTestConf(t, sc, 60*time.Second, false)
	d := dirid.New()

	decision := conf.NegativeLookupDecision(d, "foo")
	assert.Equal(t, DecisionMiss, decision)

	// Backend reports ENOENT; the probe interceptor seeds an NE on the way
	// back.
	conf.AddNE(d, "foo")

	assert.True(t, conf.SearchNE(d, "foo"))
	assert.False(t, conf.SearchPE(d, "foo"))
}

// Scenario 3: Create promotes NE to PE.
func TestScenario3CreatePromotesNEToPE(t *testing.T) {
	sc := clock.NewSimulatedClock(time.Unix(0, 0))
	conf := newTestConf(t, sc, 60*time.Second, true)
	d := dirid.New()
	child := dirid.New()

	conf.AddNE(d, "foo")
	require.True(t, conf.SearchNE(d, "foo"))

	tok := conf.AddPE(d, child, true, "foo")

	assert.False(t, conf.SearchNE(d, "foo"))
	assert.True(t, conf.SearchPE(d, "foo"))
	assert.True(t, tok.Valid())
}

// Scenario 4: mkdir sets PE_FULL on the child.
func TestScenario4MkdirSetsPEFullOnChild(t *testing.T) {
	sc := clock.NewSimulatedClock(time.Unix(0, 0))
	conf := newTestConf(t, sc, 60*time.Second, true)
	parent := dirid.New()
	sub := dirid.New()

	conf.AddPE(parent, sub, true, "sub")
	conf.SetStateFull(sub)

	// The newly created directory's own cache is full and empty, so any
	// lookup under it is an immediate HIT/ENOENT.
	decision := conf.NegativeLookupDecision(sub, "anything")
	assert.Equal(t, DecisionHitENOENT, decision)
}

// Scenario 5: TTL expiry.
func TestScenario5TTLExpiry(t *testing.T) {
	sc := clock.NewSimulatedClock(time.Unix(0, 0))
	conf := newTestConf(t, sc, 2*time.Second, true)
	d := dirid.New()
	child := dirid.New()

	conf.AddPE(d, child, true, "f")
	assert.True(t, conf.SearchPE(d, "f"))

	for i := 0; i < 3; i++ {
		sc.AdvanceTime(1 * time.Second)
		time.Sleep(5 * time.Millisecond) // let the wheel's ticker goroutine re-subscribe
	}

	assert.False(t, conf.IsValid(d))
	assert.False(t, conf.SearchPE(d, "f"), "IsValid's lazy revalidation must have cleared stale entries")
}

// Scenario 6: LRU prune respects cap. Every live DirCache keeps its fixed
// header in the global counter until forgotten, so the cap must leave room
// for 100 headers; pruning reclaims the entry bytes on top of them.
func TestScenario6LRUPruneRespectsCap(t *testing.T) {
	sc := clock.NewSimulatedClock(time.Unix(0, 0))
	conf := New(Options{
		CacheTimeout:        600 * time.Second,
		NegativeEntryCache:  true,
		CacheSizeLimitBytes: 8192,
		Clock:               sc,
	})
	t.Cleanup(conf.Close)

	var ids []dirid.ID
	for i := 0; i < 100; i++ {
		id := dirid.New()
		ids = append(ids, id)
		conf.AddNE(id, "somewhatlongname")
	}

	assert.LessOrEqual(t, conf.currentCacheSize.Load(), conf.cacheSizeLimit)

	// Oldest directories were cleared; the youngest retains its NE.
	assert.False(t, conf.SearchNE(ids[0], "somewhatlongname"))
	assert.True(t, conf.SearchNE(ids[len(ids)-1], "somewhatlongname"))
}

func TestAddNEIdempotent(t *testing.T) {
	sc := clock.NewSimulatedClock(time.Unix(0, 0))
	conf := newTestConf(t, sc, 60*time.Second, false)
	d := dirid.New()

	conf.AddNE(d, "a")
	conf.AddNE(d, "a")

	dc, ok := conf.get(d)
	require.True(t, ok)
	dc.mu.Lock()
	defer dc.mu.Unlock()
	assert.Len(t, dc.ne, 1)
}

func TestRemovePEAddsNEEvenWithoutMatch(t *testing.T) {
	sc := clock.NewSimulatedClock(time.Unix(0, 0))
	conf := newTestConf(t, sc, 60*time.Second, true)
	d := dirid.New()

	// No PE for "ghost" exists, yet RemovePE still adds an NE
	// unconditionally.
	conf.RemovePE(d, SlotBToken{}, dirid.Nil, false, "ghost", false)

	assert.True(t, conf.SearchNE(d, "ghost"))
}

func TestSearchPECaseInsensitive(t *testing.T) {
	sc := clock.NewSimulatedClock(time.Unix(0, 0))
	conf := newTestConf(t, sc, 60*time.Second, true)
	d := dirid.New()
	child := dirid.New()

	conf.AddPE(d, child, true, "MixedCase.txt")

	canon, ok := conf.SearchPECaseInsensitive(d, "mixedcase.TXT")
	require.True(t, ok)
	assert.Equal(t, "MixedCase.txt", canon)
}

func TestDisabledCacheAlwaysMisses(t *testing.T) {
	sc := clock.NewSimulatedClock(time.Unix(0, 0))
	conf := newTestConf(t, sc, 60*time.Second, true)
	conf.Disable()
	d := dirid.New()

	conf.AddNE(d, "x")
	assert.Equal(t, DecisionMiss, conf.NegativeLookupDecision(d, "x"))
}

func TestUpdateChildDownTimeInvalidatesEverything(t *testing.T) {
	sc := clock.NewSimulatedClock(time.Unix(0, 0))
	conf := newTestConf(t, sc, 60*time.Second, false)
	d := dirid.New()
	conf.AddNE(d, "x")
	require.True(t, conf.SearchNE(d, "x"))

	sc.AdvanceTime(time.Second)
	conf.UpdateChildDownTime(sc.Now())

	assert.False(t, conf.IsValid(d))
	assert.False(t, conf.SearchNE(d, "x"))
}

func TestRenameOrderingNEThenPE(t *testing.T) {
	// RemovePE on the source name adds an NE there, then AddPE on the
	// destination removes any NE that happened to be there. Order matters;
	// this test pins it.
	sc := clock.NewSimulatedClock(time.Unix(0, 0))
	conf := newTestConf(t, sc, 60*time.Second, true)
	parent := dirid.New()
	child := dirid.New()

	conf.AddPE(parent, child, true, "old")
	conf.AddNE(parent, "new") // destination was already known-absent

	conf.RemovePE(parent, SlotBToken{}, child, true, "old", false)
	assert.True(t, conf.SearchNE(parent, "old"))

	conf.AddPE(parent, child, true, "new")
	assert.False(t, conf.SearchNE(parent, "new"))
	assert.True(t, conf.SearchPE(parent, "new"))
}
