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

// PE is a positive entry: a child name known to exist. ChildID is set when
// the child's own identity is known (e.g. after mkdir/create); name-only
// entries arise from link(2) targets, which deliberately never capture the
// child handle since the same inode may already be pinned under another
// name.
type PE struct {
	Name       string
	ChildID    dirid.ID
	hasChild   bool
	generation uint64 // matches the SlotBToken handed to the host, if any
}

// SlotBToken is the back-pointer a host installs in a child's second
// context slot so the parent's PE can be found and removed in O(1) by child
// identity. A raw pointer would be an ownership hazard, since the PE can be
// freed (clear/prune/TTL) out from under a token the host is still holding;
// instead the token is an opaque (index, generation) pair into DirCache's
// own pe arena. Before trusting it, removePEByTokenLocked checks the
// generation still matches the live PE at that index, falling back to a
// linear scan by name/child otherwise. A stale token is therefore inert,
// never a dangling pointer.
type SlotBToken struct {
	dir        dirid.ID
	index      int
	generation uint64
	valid      bool
}

// Valid reports whether the token was ever issued (as opposed to the zero
// value, which hostiface.DirHandle implementations use for "slot B unset").
func (t SlotBToken) Valid() bool { return t.valid }
