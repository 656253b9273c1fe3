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

// Package fop implements the two FOP interceptor templates: a probe
// interceptor for lookup/getxattr, and a mutation interceptor for the
// dentry-changing FOPs. Both wrap a hostiface.Forwarder closure that winds
// the FOP to the next layer, applying cache policy before and/or after.
package fop

import (
	"context"
	"strings"

	"github.com/nlcache/nlc/internal/dirid"
	"github.com/nlcache/nlc/internal/hostiface"
	"github.com/nlcache/nlc/internal/nlcache"
)

// getRealFileNamePrefix is the one xattr key prefix the cache recognizes;
// any other key always forwards.
const getRealFileNamePrefix = "get_real_filename:"

// ProbeInterceptor is the read half of the interception: lookup and
// getxattr, which can be answered locally but never mutate the backend.
type ProbeInterceptor struct {
	Conf  *nlcache.Conf
	Table hostiface.InodeTable
}

func NewProbeInterceptor(conf *nlcache.Conf, table hostiface.InodeTable) *ProbeInterceptor {
	return &ProbeInterceptor{Conf: conf, Table: table}
}

// LookupRequest describes an inbound lookup(parent, name) FOP.
type LookupRequest struct {
	Parent    dirid.ID
	HasParent bool // false for the mountpoint's own self-lookup
	Name      string

	// AlreadyPositive is set by the caller when the host's own inode table
	// already holds a positive (resolved) entry for (Parent, Name); the
	// cache is irrelevant to an answer the host already has.
	AlreadyPositive bool
}

// LookupBackendResult is what a forwarded lookup's callback reports.
type LookupBackendResult struct {
	ENOENT  bool
	ChildID dirid.ID
}

// LookupOutcome is what ProbeInterceptor.Lookup reports to the caller.
type LookupOutcome struct {
	ServedLocally bool
	ENOENT        bool
	ChildID       dirid.ID
}

// Lookup probes the cache for (parent, name) and short-circuits with ENOENT
// on a hit. A nameless lookup (inode revalidation) and a lookup with no
// parent (the mountpoint's self-lookup) always forward; the nameless case
// is counted even when the cache is disabled, keeping the counter a faithful
// tally of revalidation traffic.
func (p *ProbeInterceptor) Lookup(ctx context.Context, req LookupRequest, forward hostiface.Forwarder[LookupBackendResult]) (LookupOutcome, error) {
	if req.Name == "" {
		p.Conf.Stats.NamelessLookup.Add(1)
		res, err := forward(ctx)
		if err != nil {
			return LookupOutcome{}, err
		}
		return LookupOutcome{ENOENT: res.ENOENT, ChildID: res.ChildID}, nil
	}

	if !req.HasParent {
		res, err := forward(ctx)
		if err != nil {
			return LookupOutcome{}, err
		}
		return LookupOutcome{ENOENT: res.ENOENT, ChildID: res.ChildID}, nil
	}

	if req.AlreadyPositive {
		res, err := forward(ctx)
		if err != nil {
			return LookupOutcome{}, err
		}
		return LookupOutcome{ENOENT: res.ENOENT, ChildID: res.ChildID}, nil
	}

	if p.Conf.Enabled() {
		if p.Conf.NegativeLookupDecision(req.Parent, req.Name) == nlcache.DecisionHitENOENT {
			p.Conf.Stats.Hit.Add(1)
			return LookupOutcome{ServedLocally: true, ENOENT: true}, nil
		}
	}

	res, err := forward(ctx)
	if err != nil {
		return LookupOutcome{}, err
	}
	if res.ENOENT && p.Conf.Enabled() {
		p.Conf.Stats.Miss.Add(1)
		p.Conf.AddNE(req.Parent, req.Name)
	}
	return LookupOutcome{ENOENT: res.ENOENT, ChildID: res.ChildID}, nil
}

// GetXattrRequest describes an inbound getxattr(dir, key) FOP.
type GetXattrRequest struct {
	Dir dirid.ID
	Key string
}

// GetXattrBackendResult is what a forwarded getxattr's callback reports.
type GetXattrBackendResult struct {
	ENOENT bool
	Value  string
}

// GetXattrOutcome is what ProbeInterceptor.GetXattr reports to the caller.
type GetXattrOutcome struct {
	ServedLocally bool
	ENOENT        bool
	CanonicalName string
}

// GetXattr serves the restricted real-filename lookup for case-insensitive
// clients: only "get_real_filename:<fname>" keys are eligible; anything
// else always forwards.
func (p *ProbeInterceptor) GetXattr(ctx context.Context, req GetXattrRequest, forward hostiface.Forwarder[GetXattrBackendResult]) (GetXattrOutcome, error) {
	fname, ok := strings.CutPrefix(req.Key, getRealFileNamePrefix)
	if !ok {
		res, err := forward(ctx)
		if err != nil {
			return GetXattrOutcome{}, err
		}
		return GetXattrOutcome{ENOENT: res.ENOENT, CanonicalName: res.Value}, nil
	}

	if p.Conf.Enabled() {
		if p.Conf.IsValid(req.Dir) {
			if canon, found := p.Conf.SearchPECaseInsensitive(req.Dir, fname); found {
				p.Conf.Stats.GetRealFileNameHit.Add(1)
				return GetXattrOutcome{ServedLocally: true, CanonicalName: canon}, nil
			}
			if p.Conf.IsPEFull(req.Dir) {
				p.Conf.Stats.GetRealFileNameHit.Add(1)
				return GetXattrOutcome{ServedLocally: true, ENOENT: true}, nil
			}
		}
		p.Conf.Stats.GetRealFileNameMiss.Add(1)
	}

	res, err := forward(ctx)
	if err != nil {
		return GetXattrOutcome{}, err
	}
	return GetXattrOutcome{ENOENT: res.ENOENT, CanonicalName: res.Value}, nil
}
