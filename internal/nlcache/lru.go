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

import "github.com/nlcache/nlc/internal/dirid"

// lruPrune pops the least-recently-inserted directory while the byte or
// inode caps are exceeded, releasing conf.mu before calling ClearCache so
// the pruner never blocks on the very DirCache mutex it is trying to free.
// The lock order is DirCache.mu before Conf.mu, never the reverse.
//
// Conf.lru is a plain FIFO (common.Queue), not an arbitrary-removal
// structure, so a popped id may already be stale: cleared by invalidation,
// forget, or a prior TTL expiry. A directory that is cleared and later
// repopulated is queued again, so it can appear more than once. A popped id
// is cleared whatever its DirCache holds at that moment: a still-empty one
// frees zero bytes, and a repopulated one is evicted at its older queue
// position. No counter is decremented twice either way.
func (conf *Conf) lruPrune() int {
	evicted := 0
	for {
		if conf.underCaps() {
			return evicted
		}

		conf.mu.Lock()
		if conf.lru.IsEmpty() {
			conf.mu.Unlock()
			return evicted
		}
		victim := conf.lru.Pop()
		conf.mu.Unlock()

		conf.ClearCache(victim, ClearReasonLRUPrune)
		evicted++
	}
}

func (conf *Conf) underCaps() bool {
	bytes := conf.currentCacheSize.Load()
	inodes := conf.refdInodes.Load()

	underBytes := conf.cacheSizeLimit == 0 || bytes <= conf.cacheSizeLimit
	underInodes := conf.inodeLimit == 0 || inodes <= conf.inodeLimit
	return underBytes && underInodes
}

// forgetDir handles the host discarding the directory handle itself: the
// cache drops whatever it holds for it immediately and frees the DirCache
// object. The host guarantees no FOP on the directory is in flight once
// forget fires, which is what makes the registry removal safe here and
// nowhere else.
func (conf *Conf) forgetDir(id dirid.ID) {
	conf.ClearCache(id, ClearReasonNone)
	conf.removeFromRegistry(id)
}

// Forget is the public entry point for a host's directory-forget
// notification.
func (conf *Conf) Forget(id dirid.ID) {
	conf.forgetDir(id)
}
