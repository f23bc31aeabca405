// Copyright 2025 the original author or authors.
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

// Package resolve turns the member references of ways and relations into
// the element versions they point at, read at the same sequence point as
// their parents.
package resolve

import (
	"slices"

	"github.com/dgraph-io/badger/v4"

	"m4o.io/osmhistory/internal/element"
	"m4o.io/osmhistory/model"
)

// Options of a resolution. At pins the snapshot; nil reads current
// versions. RecurseWays also resolves the nodes of member ways. Limit caps
// the number of distinct elements resolved when positive.
type Options struct {
	At          *int64
	RecurseWays bool
	Limit       int
}

// Member is a member reference together with the version it resolved to.
type Member struct {
	model.MemberRef
	Version model.ElementVersion
}

// Result holds the resolved members of one call. Missing, deleted and
// self-referencing members are absent.
type Result struct {
	resolved map[model.ElementRef]model.ElementVersion
}

// Len is the number of distinct elements resolved.
func (r Result) Len() int {
	return len(r.resolved)
}

// Lookup returns the version that m resolved to.
func (r Result) Lookup(m model.MemberRef) (model.ElementVersion, bool) {
	ev, ok := r.resolved[m.Ref()]
	return ev, ok
}

// Elements returns the resolved versions in element order.
func (r Result) Elements() []model.ElementVersion {
	return element.SortByRef(r.resolved, 0)
}

// Ordered lists the resolved members of parent in their declared order.
func (r Result) Ordered(parent model.ElementVersion) []Member {
	members := slices.Clone(parent.Members)
	slices.SortStableFunc(members, func(a, b model.MemberRef) int {
		return int(a.Order) - int(b.Order)
	})

	out := make([]Member, 0, len(members))

	for _, m := range members {
		if m.Ref() == parent.Ref() {
			continue
		}

		if ev, ok := r.resolved[m.Ref()]; ok {
			out = append(out, Member{MemberRef: m, Version: ev})
		}
	}

	return out
}

// Resolver reads members through an element store.
type Resolver struct {
	store *element.Store
}

func NewResolver(store *element.Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve resolves the members of elements in two phases: the direct
// members first, then, with RecurseWays, the nodes of the ways found in
// the first phase. Ways only ever hold nodes, so there is no third phase.
func (r *Resolver) Resolve(txn *badger.Txn, elements []model.ElementVersion, opts Options) (Result, error) {
	res := Result{resolved: make(map[model.ElementRef]model.ElementVersion)}

	seen := make(map[model.ElementRef]bool)

	budget := func(refs []model.ElementRef) []model.ElementRef {
		if opts.Limit <= 0 {
			return refs
		}

		left := max(opts.Limit-len(res.resolved), 0)

		return refs[:min(len(refs), left)]
	}

	var direct []model.ElementRef
	for _, e := range elements {
		direct = appendMembers(direct, e, seen)
	}

	ways, err := r.fetch(txn, budget(direct), opts.At, res.resolved)
	if err != nil {
		return res, err
	}

	if !opts.RecurseWays {
		return res, nil
	}

	var nodes []model.ElementRef
	for _, w := range ways {
		nodes = appendMembers(nodes, w, seen)
	}

	if _, err := r.fetch(txn, budget(nodes), opts.At, res.resolved); err != nil {
		return res, err
	}

	return res, nil
}

// fetch reads refs at the snapshot, adds the visible ones to resolved and
// returns the ways among them in the order of refs.
func (r *Resolver) fetch(txn *badger.Txn, refs []model.ElementRef, at *int64,
	resolved map[model.ElementRef]model.ElementVersion,
) ([]model.ElementVersion, error) {
	if len(refs) == 0 {
		return nil, nil
	}

	var (
		found map[model.ElementRef]model.ElementVersion
		err   error
	)

	if at != nil {
		found, err = r.store.GetAsOf(txn, refs, *at)
	} else {
		found, err = r.store.GetCurrent(txn, refs)
	}

	if err != nil {
		return nil, err
	}

	var ways []model.ElementVersion

	for _, ref := range refs {
		ev, ok := found[ref]
		if !ok || !ev.Visible {
			continue
		}

		resolved[ref] = ev

		if ref.Type == model.WAY {
			ways = append(ways, ev)
		}
	}

	return ways, nil
}

// appendMembers appends the members of e not yet in seen, in declared
// order, and marks them seen. A relation listing itself is skipped.
func appendMembers(refs []model.ElementRef, e model.ElementVersion, seen map[model.ElementRef]bool) []model.ElementRef {
	for _, m := range e.Members {
		ref := m.Ref()
		if seen[ref] || ref == e.Ref() {
			continue
		}

		seen[ref] = true
		refs = append(refs, ref)
	}

	return refs
}
