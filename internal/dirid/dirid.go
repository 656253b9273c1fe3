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

// Package dirid provides the opaque 128-bit directory identity used as the
// cache key throughout internal/nlcache, internal/fop and
// internal/invalidation, wrapped around google/uuid rather than a bespoke
// 16-byte array type.
package dirid

import "github.com/google/uuid"

// ID identifies a directory independent of any particular host inode
// pointer, so the cache can be keyed and compared without depending on the
// host's inode table representation.
type ID uuid.UUID

// Nil is the zero ID, used to mean "no parent" (e.g. a lookup on the
// mountpoint's own root, which nl-cache always forwards uncached).
var Nil = ID(uuid.Nil)

// New generates a fresh random ID. Hosts normally derive an ID from their
// own gfid rather than calling this directly; it exists for tests and for
// hostiface/fake.
func New() ID {
	return ID(uuid.New())
}

// FromBytes interprets b (which must be 16 bytes) as an ID, mirroring how a
// host would wrap its own on-disk gfid.
func FromBytes(b []byte) (ID, error) {
	u, err := uuid.FromBytes(b)
	if err != nil {
		return Nil, err
	}
	return ID(u), nil
}

func (id ID) String() string {
	return uuid.UUID(id).String()
}

func (id ID) IsNil() bool {
	return id == Nil
}
