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

package timerwheel

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nlcache/nlc/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiresAfterDelay(t *testing.T) {
	sc := clock.NewSimulatedClock(time.Unix(0, 0))
	w := New(sc)
	defer w.Stop()

	var fired atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	tm := w.NewTimer(func() { fired.Store(true); wg.Done() })
	w.Add(tm, 3)

	// Each AdvanceTime fires the wheel's one pending After, i.e. one tick;
	// the pause lets the runner run that tick and re-subscribe.
	sc.AdvanceTime(1 * time.Second)
	time.Sleep(5 * time.Millisecond)
	assert.False(t, fired.Load())
	sc.AdvanceTime(1 * time.Second)
	time.Sleep(5 * time.Millisecond)
	assert.False(t, fired.Load())
	sc.AdvanceTime(1 * time.Second)

	wg.Wait()
	assert.True(t, fired.Load())
}

func TestDelCancelsPendingTimer(t *testing.T) {
	sc := clock.NewSimulatedClock(time.Unix(0, 0))
	w := New(sc)
	defer w.Stop()

	var fired atomic.Bool
	tm := w.NewTimer(func() { fired.Store(true) })
	w.Add(tm, 2)

	removed := w.Del(tm)
	require.True(t, removed)

	for i := 0; i < 5; i++ {
		sc.AdvanceTime(1 * time.Second)
		time.Sleep(5 * time.Millisecond)
	}
	assert.False(t, fired.Load())

	// A second Del on an already-removed timer reports false.
	assert.False(t, w.Del(tm))
}

func TestModReschedules(t *testing.T) {
	sc := clock.NewSimulatedClock(time.Unix(0, 0))
	w := New(sc)
	defer w.Stop()

	fireCount := atomic.Int32{}
	var wg sync.WaitGroup
	wg.Add(1)
	tm := w.NewTimer(func() { fireCount.Add(1); wg.Done() })
	w.Add(tm, 10)

	// Pull it in closer before it fires.
	w.Mod(tm, 2)

	sc.AdvanceTime(1 * time.Second)
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, int32(0), fireCount.Load())
	sc.AdvanceTime(1 * time.Second)

	wg.Wait()
	assert.Equal(t, int32(1), fireCount.Load())
}

func TestModPendingNoopWhenNotPending(t *testing.T) {
	sc := clock.NewSimulatedClock(time.Unix(0, 0))
	w := New(sc)
	defer w.Stop()

	tm := w.NewTimer(func() {})
	assert.False(t, w.ModPending(tm, 5), "timer was never added, so ModPending must report false")
}

func TestModPendingReschedulesWhenPending(t *testing.T) {
	sc := clock.NewSimulatedClock(time.Unix(0, 0))
	w := New(sc)
	defer w.Stop()

	var fired atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	tm := w.NewTimer(func() { fired.Store(true); wg.Done() })
	w.Add(tm, 2)

	assert.True(t, w.ModPending(tm, 5))

	// One tick per AdvanceTime call, so advance a second at a time.
	for i := 0; i < 2; i++ {
		sc.AdvanceTime(1 * time.Second)
		time.Sleep(5 * time.Millisecond)
	}
	assert.False(t, fired.Load(), "timer should have been pushed out to 5s")

	for i := 0; i < 3; i++ {
		sc.AdvanceTime(1 * time.Second)
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()
	assert.True(t, fired.Load())
}

func TestCascadeAcrossTiers(t *testing.T) {
	// A delay comfortably into tv2's range (>= 256s) must still fire,
	// exercising the cascade() path as tv1 wraps repeatedly.
	sc := clock.NewSimulatedClock(time.Unix(0, 0))
	w := New(sc)
	defer w.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	tm := w.NewTimer(func() { wg.Done() })
	w.Add(tm, 300)

	// Advance one logical tick at a time, giving the wheel's runner
	// goroutine a chance to re-subscribe to the clock between ticks.
	for i := 0; i < 301; i++ {
		sc.AdvanceTime(1 * time.Second)
		time.Sleep(time.Millisecond)
	}

	wg.Wait()
}
