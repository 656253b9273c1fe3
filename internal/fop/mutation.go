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

package fop

import (
	"context"

	"github.com/nlcache/nlc/internal/dirid"
	"github.com/nlcache/nlc/internal/hostiface"
	"github.com/nlcache/nlc/internal/nlcache"
)

// MutationInterceptor covers the dentry-changing FOPs: mkdir, mknod,
// create, symlink, link, unlink, rmdir, rename. Every method forwards
// first; cache mutation only happens in the callback, and only on success,
// so the cache never pre-commits a create the backend might still reject.
// The whole dentry-op path is gated on the positive-entry cache being
// enabled: with only negative entries configured, every method is a direct
// forward with no post-callback cache work.
type MutationInterceptor struct {
	Conf  *nlcache.Conf
	Table hostiface.InodeTable
}

func NewMutationInterceptor(conf *nlcache.Conf, table hostiface.InodeTable) *MutationInterceptor {
	return &MutationInterceptor{Conf: conf, Table: table}
}

// ChildResult is the common shape of mkdir/mknod/create/symlink's backend
// reply: success plus the identity of the new child.
type ChildResult struct {
	ChildID dirid.ID
}

// Mkdir records the new directory as a positive entry under its parent and
// marks the new directory's own (empty) positive set as full: a freshly
// created directory has no children, so every lookup under it can be
// answered ENOENT locally until something changes it.
func (m *MutationInterceptor) Mkdir(ctx context.Context, parent dirid.ID, name string, forward hostiface.Forwarder[ChildResult]) (ChildResult, error) {
	res, err := forward(ctx)
	if err != nil {
		return res, err
	}
	if !m.Conf.Enabled() {
		return res, nil
	}
	m.Conf.AddPE(parent, res.ChildID, true, name)
	m.Conf.SetStateFull(res.ChildID)
	return res, nil
}

// CreateChild handles mknod, create, and symlink: on success, record the
// new child as a positive entry under its parent. All three FOPs have
// identical cache effects, so they share one method.
func (m *MutationInterceptor) CreateChild(ctx context.Context, parent dirid.ID, name string, forward hostiface.Forwarder[ChildResult]) (ChildResult, error) {
	res, err := forward(ctx)
	if err != nil {
		return res, err
	}
	if !m.Conf.Enabled() {
		return res, nil
	}
	m.Conf.AddPE(parent, res.ChildID, true, name)
	return res, nil
}

// Link records the new hardlink name under its parent, name-only: the
// target inode may already be pinned under another name, so the entry never
// captures a child identity.
func (m *MutationInterceptor) Link(ctx context.Context, newParent dirid.ID, newName string, forward hostiface.Forwarder[struct{}]) error {
	_, err := forward(ctx)
	if err != nil {
		return err
	}
	if !m.Conf.Enabled() {
		return nil
	}
	m.Conf.AddPE(newParent, dirid.Nil, false, newName)
	return nil
}

// UnlinkResult carries the backend's reported link count, which Unlink
// needs to decide the multilink flag.
type UnlinkResult struct {
	LinkCount      int
	LinkCountKnown bool
}

// Unlink removes the name's positive entry, passing multilink = (count > 1)
// when the backend reported a link count. An unknown link count skips cache
// mutation entirely: guessing single-link would let the by-name removal
// evict an entry a surviving hardlink still covers.
func (m *MutationInterceptor) Unlink(ctx context.Context, parent dirid.ID, name string, child dirid.ID, forward hostiface.Forwarder[UnlinkResult]) (UnlinkResult, error) {
	res, err := forward(ctx)
	if err != nil {
		return res, err
	}
	if !m.Conf.Enabled() || !m.Conf.PositiveEntryCacheEnabled() || !res.LinkCountKnown {
		return res, nil
	}
	multilink := res.LinkCount > 1
	m.Conf.RemovePE(parent, nlcache.SlotBToken{}, child, true, name, multilink)
	return res, nil
}

// Rmdir clears the removed directory's own cache (its contents are no
// longer meaningful once it's gone) before removing the parent's entry
// for it.
func (m *MutationInterceptor) Rmdir(ctx context.Context, parent dirid.ID, name string, child dirid.ID, forward hostiface.Forwarder[struct{}]) error {
	_, err := forward(ctx)
	if err != nil {
		return err
	}
	if !m.Conf.Enabled() || !m.Conf.PositiveEntryCacheEnabled() {
		return nil
	}
	m.Conf.ClearCache(child, nlcache.ClearReasonNone)
	m.Conf.RemovePE(parent, nlcache.SlotBToken{}, child, true, name, false)
	return nil
}

// Rename moves the entry from the source name to the destination name. The
// order is load-bearing: RemovePE on the source (which unconditionally adds
// an NE for oldname) must happen before AddPE on the destination (which
// removes any NE sitting on newname); the other way around would leave a
// stale NE on newname after the add. Any existing PE at newparent/newname
// (a destination overwrite) is removed before the add.
func (m *MutationInterceptor) Rename(ctx context.Context, oldParent dirid.ID, oldName string, newParent dirid.ID, newName string, child dirid.ID, forward hostiface.Forwarder[struct{}]) error {
	_, err := forward(ctx)
	if err != nil {
		return err
	}
	if !m.Conf.Enabled() || !m.Conf.PositiveEntryCacheEnabled() {
		return nil
	}

	m.Conf.RemovePE(oldParent, nlcache.SlotBToken{}, child, true, oldName, false)

	if m.Conf.SearchPE(newParent, newName) {
		m.Conf.RemovePE(newParent, nlcache.SlotBToken{}, dirid.Nil, false, newName, false)
	}
	m.Conf.AddPE(newParent, child, true, newName)
	return nil
}
