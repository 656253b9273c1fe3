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

// Package timerwheel implements a hierarchical timer wheel in the classic
// Linux-kernel style: a root wheel of 256 one-second slots cascading into
// four wheels of 64 slots each, advanced by one tick per second. Add and
// delete are O(1) amortized, at the cost of up to ceil(delta/256) seconds
// of slack on far-future expirations (applySlack below).
//
// The slot storage is a small doubly linked list type private to this
// package rather than a borrowed container, because the cascading
// recomputation on every tick *is* the algorithm this package exists to
// provide; there is nothing generic a container library would factor out.
package timerwheel

import (
	"sync"
	"time"

	"github.com/nlcache/nlc/clock"
)

const (
	tickInterval = time.Second

	tvrBits = 8
	tvnBits = 6
	tvrSize = 1 << tvrBits // 256
	tvnSize = 1 << tvnBits // 64
	tvrMask = tvrSize - 1
	tvnMask = tvnSize - 1

	bitsPerWord = 64
)

// Timer is a single scheduled callback. The zero value is not ready for use;
// obtain one from Wheel.NewTimer. All fields are guarded by the owning
// wheel's mutex.
type Timer struct {
	wheel    *Wheel
	expires  uint64 // absolute tick at which this timer fires
	pending  bool
	fn       func()
	listNext *Timer
	listPrev *Timer
}

// list is an intrusive doubly linked list of timers, one per wheel slot.
type list struct {
	head *Timer // sentinel-free; nil means empty
	tail *Timer
}

func (l *list) pushBack(t *Timer) {
	t.listPrev = l.tail
	t.listNext = nil
	if l.tail != nil {
		l.tail.listNext = t
	} else {
		l.head = t
	}
	l.tail = t
}

func (l *list) remove(t *Timer) {
	if t.listPrev != nil {
		t.listPrev.listNext = t.listNext
	} else if l.head == t {
		l.head = t.listNext
	}
	if t.listNext != nil {
		t.listNext.listPrev = t.listPrev
	} else if l.tail == t {
		l.tail = t.listPrev
	}
	t.listNext, t.listPrev = nil, nil
}

// drain empties the list into the returned slice of timers, leaving the
// list empty, for cascading.
func (l *list) drain() []*Timer {
	var out []*Timer
	for t := l.head; t != nil; {
		next := t.listNext
		t.listNext, t.listPrev = nil, nil
		out = append(out, t)
		t = next
	}
	l.head, l.tail = nil, nil
	return out
}

// Wheel is a running hierarchical timer wheel. Callers must call Stop to
// release the background ticking goroutine.
type Wheel struct {
	mu       sync.Mutex
	clock    clock.Clock
	timerSec uint64 // next slot to process; may trail nowSec by one mid-tick
	nowSec   uint64 // seconds elapsed since the wheel started

	tv1 [tvrSize]list
	tv2 [tvnSize]list
	tv3 [tvnSize]list
	tv4 [tvnSize]list
	tv5 [tvnSize]list

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates and starts a timer wheel whose tick granularity is driven by
// c.After(time.Second). Passing a clock.SimulatedClock makes ticking
// deterministic under test.
func New(c clock.Clock) *Wheel {
	w := &Wheel{
		clock:  c,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go w.run()
	return w
}

// Stop terminates the wheel's background ticking goroutine. Pending timers
// are abandoned; it is the caller's responsibility to cancel them first if
// that matters.
func (w *Wheel) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *Wheel) run() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case <-w.clock.After(tickInterval):
			w.tick()
		}
	}
}

// NewTimer creates a timer bound to this wheel. It is not scheduled until
// Add is called.
func (w *Wheel) NewTimer(fn func()) *Timer {
	return &Timer{wheel: w, fn: fn}
}

// Add schedules t to fire after delaySeconds: the relative delay is
// converted to an absolute tick, slack-adjusted, and slotted.
func (w *Wheel) Add(t *Timer, delaySeconds uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	t.expires = applySlack(w.timerSec, w.timerSec+delaySeconds)
	w.addLocked(t)
}

// Del removes t from the wheel if it is pending. It reports whether t had
// been pending.
func (w *Wheel) Del(t *Timer) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.detachIfPending(t)
}

// Mod reschedules t to fire after delaySeconds from now, whether or not it
// was already pending.
func (w *Wheel) Mod(t *Timer, delaySeconds uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	newExpires := applySlack(w.timerSec, w.timerSec+delaySeconds)
	if t.pending && t.expires == newExpires {
		return
	}
	w.detachIfPending(t)
	t.expires = newExpires
	w.addLocked(t)
}

// ModPending reschedules t to fire after delaySeconds from now, but only if
// it is currently pending; unlike Mod, it is a no-op on a timer that
// already fired or was never added.
func (w *Wheel) ModPending(t *Timer, delaySeconds uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !t.pending {
		return false
	}
	newExpires := applySlack(w.timerSec, w.timerSec+delaySeconds)
	if t.expires == newExpires {
		return true
	}
	w.detachIfPending(t)
	t.expires = newExpires
	w.addLocked(t)
	return true
}

func (w *Wheel) detachIfPending(t *Timer) bool {
	if !t.pending {
		return false
	}
	w.slotFor(t).remove(t)
	t.pending = false
	return true
}

func (w *Wheel) addLocked(t *Timer) {
	w.slotFor(t).pushBack(t)
	t.pending = true
}

// slotFor returns the slot t.expires currently maps to: the tier is chosen
// by how far out the expiry is relative to the processing cursor.
func (w *Wheel) slotFor(t *Timer) *list {
	expires := t.expires
	idx := expires - w.timerSec

	switch {
	case idx < tvrSize:
		return &w.tv1[expires&tvrMask]
	case idx < 1<<(tvrBits+tvnBits):
		return &w.tv2[(expires>>tvrBits)&tvnMask]
	case idx < 1<<(tvrBits+2*tvnBits):
		return &w.tv3[(expires>>(tvrBits+tvnBits))&tvnMask]
	case idx < 1<<(tvrBits+3*tvnBits):
		return &w.tv4[(expires>>(tvrBits+2*tvnBits))&tvnMask]
	case int64(idx) < 0:
		// Expiry already in the past (a Mod racing a tick, or a cascade of
		// an overdue entry): park it in the slot about to be processed so it
		// fires on the next tick rather than in ~4.3Gs.
		return &w.tv1[w.timerSec&tvrMask]
	default:
		return &w.tv5[(expires>>(tvrBits+3*tvnBits))&tvnMask]
	}
}

// applySlack mirrors apply_slack: far-future expirations are rounded up to
// the nearest boundary that keeps re-cascade cost bounded, trading up to
// ceil(delta/256) seconds of slack for O(1) amortized add.
func applySlack(now, expires uint64) uint64 {
	delta := expires - now
	if delta < tvrSize {
		return expires
	}

	limit := expires + delta/tvrSize
	mask := expires ^ limit
	if mask == 0 {
		return expires
	}

	bit := findLastBit(mask)
	clearMask := (uint64(1) << bit) - 1
	return limit &^ clearMask
}

func findLastBit(mask uint64) uint {
	var bit uint
	for mask != 0 {
		mask >>= 1
		bit++
	}
	if bit == 0 {
		return 0
	}
	return bit - 1
}

// tick advances the wheel by one second, processing every slot up to and
// including the new "now" (a catch-up loop, so a slow tick never strands a
// slot), cascading higher wheels into tv1 whenever tv1 wraps, and firing
// every timer that lands in a processed slot. Callbacks run after the wheel
// lock is released, so a callback may freely call back into Add/Del/Mod.
func (w *Wheel) tick() {
	w.mu.Lock()
	w.nowSec++

	var fired []*Timer
	for w.timerSec <= w.nowSec {
		index := w.timerSec & tvrMask
		if index == 0 {
			if !w.cascade(&w.tv2, idxAt(w.timerSec, 0)) &&
				!w.cascade(&w.tv3, idxAt(w.timerSec, 1)) &&
				!w.cascade(&w.tv4, idxAt(w.timerSec, 2)) {
				w.cascade(&w.tv5, idxAt(w.timerSec, 3))
			}
		}

		w.timerSec++
		for _, t := range w.tv1[index].drain() {
			t.pending = false
			fired = append(fired, t)
		}
	}
	w.mu.Unlock()

	for _, t := range fired {
		t.fn()
	}
}

func idxAt(timerSec uint64, n int) int {
	return int((timerSec >> (tvrBits + uint(n)*tvnBits)) & tvnMask)
}

// cascade empties slot index of tv into the wheel proper, re-slotting each
// timer at its new (lower-tier) home. It reports whether index was nonzero,
// which tick uses to decide whether to keep cascading up the chain.
func (w *Wheel) cascade(tv *[tvnSize]list, index int) bool {
	for _, t := range tv[index].drain() {
		w.addLocked(t)
	}
	return index != 0
}
