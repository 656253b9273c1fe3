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
	"testing"
	"time"

	"github.com/nlcache/nlc/clock"
	"github.com/nlcache/nlc/internal/dirid"
	"github.com/nlcache/nlc/internal/hostiface/fake"
	"github.com/nlcache/nlc/internal/nlcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHarness(t *testing.T, pec bool) (*nlcache.Conf, *ProbeInterceptor, *MutationInterceptor) {
	t.Helper()
	sc := clock.NewSimulatedClock(time.Unix(0, 0))
	conf := nlcache.New(nlcache.Options{
		CacheTimeout:        60 * time.Second,
		PositiveEntryCache:  pec,
		NegativeEntryCache:  true,
		CacheSizeLimitBytes: 1 << 20,
		InodeLimit:          1 << 20,
		Clock:               sc,
	})
	t.Cleanup(conf.Close)
	table := fake.NewTable()
	return conf, NewProbeInterceptor(conf, table), NewMutationInterceptor(conf, table)
}

func TestLookupNamelessAlwaysForwards(t *testing.T) {
	conf, probe, _ := newHarness(t, false)
	parent := dirid.New()

	forwarded := false
	out, err := probe.Lookup(context.Background(), LookupRequest{Parent: parent, HasParent: true, Name: ""},
		func(ctx context.Context) (LookupBackendResult, error) {
			forwarded = true
			return LookupBackendResult{}, nil
		})

	require.NoError(t, err)
	assert.True(t, forwarded)
	assert.False(t, out.ServedLocally)
	assert.Equal(t, uint64(1), conf.Stats.NamelessLookup.Load())
}

func TestLookupNoParentAlwaysForwards(t *testing.T) {
	conf, probe, _ := newHarness(t, false)

	forwarded := false
	_, err := probe.Lookup(context.Background(), LookupRequest{HasParent: false, Name: "root-self"},
		func(ctx context.Context) (LookupBackendResult, error) {
			forwarded = true
			return LookupBackendResult{}, nil
		})

	require.NoError(t, err)
	assert.True(t, forwarded)
	_ = conf
}

func TestLookupHitShortCircuits(t *testing.T) {
	conf, probe, _ := newHarness(t, false)
	parent := dirid.New()
	conf.AddNE(parent, "xyz")

	forwarded := false
	out, err := probe.Lookup(context.Background(), LookupRequest{Parent: parent, HasParent: true, Name: "xyz"},
		func(ctx context.Context) (LookupBackendResult, error) {
			forwarded = true
			return LookupBackendResult{}, nil
		})

	require.NoError(t, err)
	assert.False(t, forwarded, "a cache hit must never reach the backend")
	assert.True(t, out.ServedLocally)
	assert.True(t, out.ENOENT)
	assert.Equal(t, uint64(1), conf.Stats.Hit.Load())
}

func TestLookupMissSeedsNEOnENOENT(t *testing.T) {
	conf, probe, _ := newHarness(t, false)
	parent := dirid.New()

	out, err := probe.Lookup(context.Background(), LookupRequest{Parent: parent, HasParent: true, Name: "foo"},
		func(ctx context.Context) (LookupBackendResult, error) {
			return LookupBackendResult{ENOENT: true}, nil
		})

	require.NoError(t, err)
	assert.False(t, out.ServedLocally)
	assert.True(t, out.ENOENT)
	assert.Equal(t, uint64(1), conf.Stats.Miss.Load())
	assert.True(t, conf.SearchNE(parent, "foo"))
}

func TestLookupAlreadyPositiveBypassesCache(t *testing.T) {
	conf, probe, _ := newHarness(t, false)
	parent := dirid.New()
	conf.AddNE(parent, "foo") // cache thinks it's negative...

	forwarded := false
	_, err := probe.Lookup(context.Background(), LookupRequest{Parent: parent, HasParent: true, Name: "foo", AlreadyPositive: true},
		func(ctx context.Context) (LookupBackendResult, error) {
			forwarded = true
			return LookupBackendResult{}, nil
		})

	require.NoError(t, err)
	assert.True(t, forwarded, "host's own positive answer must bypass the negative-lookup cache")
}

func TestGetXattrWrongKeyForwards(t *testing.T) {
	_, probe, _ := newHarness(t, true)
	dir := dirid.New()

	forwarded := false
	_, err := probe.GetXattr(context.Background(), GetXattrRequest{Dir: dir, Key: "user.something"},
		func(ctx context.Context) (GetXattrBackendResult, error) {
			forwarded = true
			return GetXattrBackendResult{}, nil
		})
	require.NoError(t, err)
	assert.True(t, forwarded)
}

func TestGetXattrCaseInsensitiveHit(t *testing.T) {
	conf, probe, mut := newHarness(t, true)
	parent := dirid.New()

	_, err := mut.CreateChild(context.Background(), parent, "MixedCase.txt",
		func(ctx context.Context) (ChildResult, error) { return ChildResult{ChildID: dirid.New()}, nil })
	require.NoError(t, err)

	out, err := probe.GetXattr(context.Background(), GetXattrRequest{Dir: parent, Key: "get_real_filename:mixedcase.TXT"},
		func(ctx context.Context) (GetXattrBackendResult, error) {
			t.Fatal("must not forward on a case-insensitive hit")
			return GetXattrBackendResult{}, nil
		})

	require.NoError(t, err)
	assert.True(t, out.ServedLocally)
	assert.Equal(t, "MixedCase.txt", out.CanonicalName)
	assert.Equal(t, uint64(1), conf.Stats.GetRealFileNameHit.Load())
}

func TestMkdirSetsChildFull(t *testing.T) {
	conf, _, mut := newHarness(t, true)
	parent := dirid.New()
	var sub dirid.ID

	_, err := mut.Mkdir(context.Background(), parent, "sub",
		func(ctx context.Context) (ChildResult, error) {
			sub = dirid.New()
			return ChildResult{ChildID: sub}, nil
		})
	require.NoError(t, err)

	assert.True(t, conf.SearchPE(parent, "sub"))
	assert.True(t, conf.IsPEFull(sub))

	decision := conf.NegativeLookupDecision(sub, "anything")
	assert.Equal(t, nlcache.DecisionHitENOENT, decision)
}

func TestUnlinkUnknownLinkCountSkipsMutation(t *testing.T) {
	conf, _, mut := newHarness(t, true)
	parent := dirid.New()
	child := dirid.New()
	conf.AddPE(parent, child, true, "f")

	_, err := mut.Unlink(context.Background(), parent, "f", child,
		func(ctx context.Context) (UnlinkResult, error) {
			return UnlinkResult{LinkCountKnown: false}, nil
		})
	require.NoError(t, err)

	assert.True(t, conf.SearchPE(parent, "f"), "unknown link count must skip cache mutation entirely")
}

func TestUnlinkKnownLinkCountRemovesPE(t *testing.T) {
	conf, _, mut := newHarness(t, true)
	parent := dirid.New()
	child := dirid.New()
	conf.AddPE(parent, child, true, "f")

	_, err := mut.Unlink(context.Background(), parent, "f", child,
		func(ctx context.Context) (UnlinkResult, error) {
			return UnlinkResult{LinkCountKnown: true, LinkCount: 1}, nil
		})
	require.NoError(t, err)

	assert.False(t, conf.SearchPE(parent, "f"))
	assert.True(t, conf.SearchNE(parent, "f"))
}

func TestRmdirClearsChildCache(t *testing.T) {
	conf, _, mut := newHarness(t, true)
	parent := dirid.New()
	child := dirid.New()
	conf.AddPE(parent, child, true, "sub")
	conf.SetStateFull(child)
	require.True(t, conf.IsPEFull(child))

	mErr := mut.Rmdir(context.Background(), parent, "sub", child,
		func(ctx context.Context) (struct{}, error) { return struct{}{}, nil })
	require.NoError(t, mErr)

	assert.False(t, conf.SearchPE(parent, "sub"))
	assert.True(t, conf.SearchNE(parent, "sub"))
	assert.False(t, conf.IsPEFull(child), "child's own cache must be cleared, not left dangling")
}

func TestRenameMovesPEAndPreservesOrdering(t *testing.T) {
	conf, _, mut := newHarness(t, true)
	oldParent := dirid.New()
	newParent := dirid.New()
	child := dirid.New()
	conf.AddPE(oldParent, child, true, "old")
	conf.AddNE(newParent, "new")

	err := mut.Rename(context.Background(), oldParent, "old", newParent, "new", child,
		func(ctx context.Context) (struct{}, error) { return struct{}{}, nil })
	require.NoError(t, err)

	assert.False(t, conf.SearchPE(oldParent, "old"))
	assert.True(t, conf.SearchNE(oldParent, "old"))
	assert.True(t, conf.SearchPE(newParent, "new"))
	assert.False(t, conf.SearchNE(newParent, "new"))
}

func TestLinkIsNameOnly(t *testing.T) {
	conf, _, mut := newHarness(t, true)
	newParent := dirid.New()

	err := mut.Link(context.Background(), newParent, "hardlink",
		func(ctx context.Context) (struct{}, error) { return struct{}{}, nil })
	require.NoError(t, err)

	assert.True(t, conf.SearchPE(newParent, "hardlink"))
}

func TestDentryOpsForwardOnlyWithoutPositiveCache(t *testing.T) {
	// With only the negative-entry cache configured, the dentry ops are
	// direct forwards: no NE seeded by unlink/rename, no child cache
	// cleared by rmdir.
	conf, _, mut := newHarness(t, false)
	parent := dirid.New()
	child := dirid.New()
	conf.AddNE(child, "inner")

	_, err := mut.Unlink(context.Background(), parent, "f", child,
		func(ctx context.Context) (UnlinkResult, error) {
			return UnlinkResult{LinkCountKnown: true, LinkCount: 1}, nil
		})
	require.NoError(t, err)
	assert.False(t, conf.SearchNE(parent, "f"))

	err = mut.Rename(context.Background(), parent, "old", parent, "new", child,
		func(ctx context.Context) (struct{}, error) { return struct{}{}, nil })
	require.NoError(t, err)
	assert.False(t, conf.SearchNE(parent, "old"))

	err = mut.Rmdir(context.Background(), parent, "sub", child,
		func(ctx context.Context) (struct{}, error) { return struct{}{}, nil })
	require.NoError(t, err)
	assert.True(t, conf.SearchNE(child, "inner"), "rmdir must not touch the child's cache when the positive-entry cache is off")
	assert.False(t, conf.SearchNE(parent, "sub"))
}

func TestPassThroughWhenDisabled(t *testing.T) {
	conf, probe, mut := newHarness(t, true)
	conf.Disable()
	parent := dirid.New()

	forwarded := false
	_, err := probe.Lookup(context.Background(), LookupRequest{Parent: parent, HasParent: true, Name: "x"},
		func(ctx context.Context) (LookupBackendResult, error) {
			forwarded = true
			return LookupBackendResult{ENOENT: true}, nil
		})
	require.NoError(t, err)
	assert.True(t, forwarded)
	assert.False(t, conf.SearchNE(parent, "x"), "disabled cache must not seed an NE even on ENOENT")

	_, err = mut.CreateChild(context.Background(), parent, "y",
		func(ctx context.Context) (ChildResult, error) { return ChildResult{ChildID: dirid.New()}, nil })
	require.NoError(t, err)
	assert.False(t, conf.SearchPE(parent, "y"))
}
