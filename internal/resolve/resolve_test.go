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

package resolve

import (
	"errors"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"m4o.io/osmhistory/internal/element"
	"m4o.io/osmhistory/internal/layout"
	"m4o.io/osmhistory/model"
)

type fixture struct {
	db       *badger.DB
	seq      *element.Sequencer
	store    *element.Store
	resolver *Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)

	seq, err := element.NewSequencer(db, layout.SequenceElements, 0)
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, seq.Close())
		assert.NoError(t, db.Close())
	})

	store := element.NewStore()

	return &fixture{db: db, seq: seq, store: store, resolver: NewResolver(store)}
}

func (f *fixture) create(t *testing.T, e element.Edit) model.ElementVersion {
	t.Helper()

	e.ChangesetID = 1
	e.CreatedAt = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	for {
		var ev model.ElementVersion

		alloc := f.seq.Begin()
		err := f.db.Update(func(txn *badger.Txn) (err error) {
			ev, _, err = f.store.Create(txn, alloc, e)
			return err
		})
		alloc.Release()

		if !errors.Is(err, badger.ErrConflict) {
			require.NoError(t, err)
			return ev
		}
	}
}

func (f *fixture) resolve(t *testing.T, elements []model.ElementVersion, opts Options) Result {
	t.Helper()

	var res Result

	require.NoError(t, f.db.View(func(txn *badger.Txn) (err error) {
		res, err = f.resolver.Resolve(txn, elements, opts)
		return err
	}))

	return res
}

func node(id int64, lat, lon model.Degrees) element.Edit {
	return element.Edit{Ref: model.NodeRef(id), Visible: true, Point: &model.Point{Lat: lat, Lon: lon}}
}

func way(id int64, nodes ...int64) element.Edit {
	return element.Edit{Ref: model.WayRef(id), Visible: true, Members: model.NodeMembers(nodes...)}
}

func relation(id int64, members ...model.MemberRef) element.Edit {
	return element.Edit{Ref: model.RelationRef(id), Visible: true, Members: members}
}

func member(ref model.ElementRef, role string) model.MemberRef {
	return model.MemberRef{Type: ref.Type, ID: ref.ID, Role: role}
}

func refs(members []Member) []model.ElementRef {
	out := make([]model.ElementRef, 0, len(members))
	for _, m := range members {
		out = append(out, m.Ref())
	}

	return out
}

// populate builds nodes 1..3, way 10 over 1,2, way 11 over 2,3 and
// relation 100 listing way 10, node 3 and way 11.
func populate(t *testing.T, f *fixture) model.ElementVersion {
	t.Helper()

	f.create(t, node(1, 0, 0))
	f.create(t, node(2, 0, 1))
	f.create(t, node(3, 1, 1))
	f.create(t, way(10, 1, 2))
	f.create(t, way(11, 2, 3))

	return f.create(t, relation(100,
		member(model.WayRef(10), "outer"),
		member(model.NodeRef(3), "label"),
		member(model.WayRef(11), "outer"),
	))
}

func TestResolveDirectMembers(t *testing.T) {
	f := newFixture(t)
	rel := populate(t, f)

	res := f.resolve(t, []model.ElementVersion{rel}, Options{})

	assert.Equal(t, 3, res.Len())
	assert.Equal(t,
		[]model.ElementRef{model.WayRef(10), model.NodeRef(3), model.WayRef(11)},
		refs(res.Ordered(rel)))

	ordered := res.Ordered(rel)
	assert.Equal(t, "label", ordered[1].Role)
	assert.Equal(t, uint16(1), ordered[1].Order)
	assert.Equal(t, &model.Point{Lat: 1, Lon: 1}, ordered[1].Version.Point)
}

func TestResolveRecurseWays(t *testing.T) {
	f := newFixture(t)
	rel := populate(t, f)

	res := f.resolve(t, []model.ElementVersion{rel}, Options{RecurseWays: true})

	assert.Equal(t, 5, res.Len())

	way10, ok := res.Lookup(member(model.WayRef(10), ""))
	require.True(t, ok)
	assert.Equal(t, []model.ElementRef{model.NodeRef(1), model.NodeRef(2)}, refs(res.Ordered(way10)))

	var got []model.ElementRef
	for _, ev := range res.Elements() {
		got = append(got, ev.Ref())
	}

	assert.Equal(t, []model.ElementRef{
		model.NodeRef(1), model.NodeRef(2), model.NodeRef(3),
		model.WayRef(10), model.WayRef(11),
	}, got)
}

func TestResolveLimit(t *testing.T) {
	f := newFixture(t)
	rel := populate(t, f)

	test_cases := []struct {
		name     string
		limit    int
		recurse  bool
		expected int
	}{
		{"unlimited", 0, true, 5},
		{"direct members capped", 2, false, 2},
		{"recursion capped", 4, true, 4},
		{"recursion after full first phase", 3, true, 3},
	}

	for _, tc := range test_cases {
		t.Run(tc.name, func(t *testing.T) {
			res := f.resolve(t, []model.ElementVersion{rel}, Options{Limit: tc.limit, RecurseWays: tc.recurse})
			assert.Equal(t, tc.expected, res.Len())
		})
	}
}

func TestResolveOmitsMissingAndSelf(t *testing.T) {
	f := newFixture(t)
	f.create(t, node(1, 0, 0))

	self := f.create(t, relation(7,
		member(model.RelationRef(7), "self"),
		member(model.NodeRef(1), ""),
	))

	res := f.resolve(t, []model.ElementVersion{self}, Options{RecurseWays: true})
	assert.Equal(t, []model.ElementRef{model.NodeRef(1)}, refs(res.Ordered(self)))

	// a parent read elsewhere may name members this store never saw
	orphan := model.ElementVersion{
		Type:    model.WAY,
		ID:      50,
		Visible: true,
		Members: model.NodeMembers(1, 999),
	}

	res = f.resolve(t, []model.ElementVersion{orphan}, Options{})
	assert.Equal(t, 1, res.Len())
	assert.Equal(t, []model.ElementRef{model.NodeRef(1)}, refs(res.Ordered(orphan)))

	_, ok := res.Lookup(member(model.NodeRef(999), ""))
	assert.False(t, ok)
}

func TestResolveAsOf(t *testing.T) {
	f := newFixture(t)
	f.create(t, node(1, 0, 0))
	f.create(t, node(2, 0, 1))
	w := f.create(t, way(10, 1, 2))

	moved := f.create(t, node(1, 5, 5))
	require.Equal(t, int64(2), moved.Version)

	res := f.resolve(t, []model.ElementVersion{w}, Options{At: &w.SequenceID})
	n1, ok := res.Lookup(member(model.NodeRef(1), ""))
	require.True(t, ok)
	assert.Equal(t, int64(1), n1.Version)
	assert.Equal(t, &model.Point{Lat: 0, Lon: 0}, n1.Point)

	res = f.resolve(t, []model.ElementVersion{w}, Options{})
	n1, ok = res.Lookup(member(model.NodeRef(1), ""))
	require.True(t, ok)
	assert.Equal(t, int64(2), n1.Version)

	// nothing existed before the first node
	before := int64(0)
	res = f.resolve(t, []model.ElementVersion{w}, Options{At: &before})
	assert.Zero(t, res.Len())
}
