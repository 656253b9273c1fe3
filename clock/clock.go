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

// Package clock provides an injectable source of time, so that components
// with TTL or scheduling behavior (the directory cache's expiry checks, the
// timer wheel's ticker) can be driven deterministically in tests instead of
// sleeping on the wall clock.
package clock

import "time"

// Clock is the common surface implemented by RealClock, FakeClock and
// SimulatedClock.
type Clock interface {
	// Now returns the current time according to the clock.
	Now() time.Time

	// After waits for the duration to elapse and then sends the current
	// time on the returned channel, mirroring time.After.
	After(d time.Duration) <-chan time.Time
}

var (
	_ Clock = RealClock{}
	_ Clock = &FakeClock{}
	_ Clock = &SimulatedClock{}
)
