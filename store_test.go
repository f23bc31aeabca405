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

package osmhistory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"m4o.io/osmhistory/model"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func openStore(t testing.TB, opts ...Option) *Store {
	t.Helper()

	opts = append([]Option{WithInMemory(), WithLogger(discard)}, opts...)

	s, err := Open(opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, s.Close())
	})

	return s
}

func openChangeset(t testing.TB, s *Store) int64 {
	t.Helper()

	cs, err := s.OpenChangeset(context.Background(), 1, model.Tags{"comment": "test"})
	require.NoError(t, err)

	return cs.ID
}

func node(id int64, lat, lon model.Degrees, tags model.Tags) Edit {
	return Edit{Ref: model.NodeRef(id), Visible: true, Tags: tags, Point: &model.Point{Lat: lat, Lon: lon}}
}

func way(id int64, nodes ...int64) Edit {
	return Edit{Ref: model.WayRef(id), Visible: true, Members: model.NodeMembers(nodes...)}
}

func deletion(ref model.ElementRef) Edit {
	return Edit{Ref: ref}
}

func based(e Edit, version int64) Edit {
	e.BaseVersion = &version
	return e
}

func submit(t testing.TB, s *Store, cs int64, edits ...Edit) []model.ElementVersion {
	t.Helper()

	created, err := s.Submit(context.Background(), cs, edits...)
	require.NoError(t, err)

	return created
}

func TestEditThenReadAsOf(t *testing.T) {
	s := openStore(t)
	cs := openChangeset(t, s)
	a := model.NodeRef(1)

	v1 := submit(t, s, cs, node(1, 0, 0, nil))[0]
	v2 := submit(t, s, cs, based(node(1, 1, 1, nil), 1))[0]

	assert.Equal(t, int64(1), v1.Version)
	assert.Equal(t, int64(2), v2.Version)
	assert.Greater(t, v2.SequenceID, v1.SequenceID)

	current, err := s.GetCurrent(a)
	require.NoError(t, err)
	assert.Equal(t, v2, current[a])

	asOf, err := s.GetAsOf(v1.SequenceID, a)
	require.NoError(t, err)
	assert.Equal(t, int64(1), asOf[a].Version)
	require.NotNil(t, asOf[a].NextSequenceID)
	assert.Equal(t, v2.SequenceID, *asOf[a].NextSequenceID)

	assert.Equal(t, v2.SequenceID, s.CurrentSequenceID())

	version, err := s.GetVersion(a.Version(1))
	require.NoError(t, err)
	assert.Equal(t, model.Point{Lat: 0, Lon: 0}, *version.Point)
}

func TestMissingMemberRejectsTheEdit(t *testing.T) {
	s := openStore(t)
	cs := openChangeset(t, s)

	submit(t, s, cs, node(1, 0, 0, nil))

	_, err := s.Submit(context.Background(), cs, way(10, 1, 999))

	var referential *model.ReferentialError
	require.ErrorAs(t, err, &referential)
	assert.Equal(t, model.NodeRef(999), referential.Member)

	current, err := s.GetCurrent(model.WayRef(10))
	require.NoError(t, err)
	assert.Empty(t, current)

	changeset, err := s.GetChangeset(cs)
	require.NoError(t, err)
	assert.Equal(t, int64(1), changeset.Size)
}

func TestSubmitIsAtomic(t *testing.T) {
	s := openStore(t)
	cs := openChangeset(t, s)

	_, err := s.Submit(context.Background(), cs,
		node(1, 0, 0, nil),
		node(2, 1, 1, nil),
		way(10, 1, 3))
	require.ErrorIs(t, err, model.ErrReferential)

	current, err := s.GetCurrent(model.NodeRef(1), model.NodeRef(2))
	require.NoError(t, err)
	assert.Empty(t, current)

	changeset, err := s.GetChangeset(cs)
	require.NoError(t, err)
	assert.Zero(t, changeset.Size)
	assert.Nil(t, changeset.Bounds)
}

func TestLaterEditsSeeEarlierOnes(t *testing.T) {
	s := openStore(t)
	cs := openChangeset(t, s)

	created := submit(t, s, cs,
		node(1, 0, 0, nil),
		node(2, 1, 1, nil),
		way(10, 1, 2),
		based(node(1, 0.5, 0.5, nil), 1))

	require.Len(t, created, 4)
	assert.Equal(t, int64(2), created[3].Version)

	for i := 1; i < len(created); i++ {
		assert.Greater(t, created[i].SequenceID, created[i-1].SequenceID)
	}
}

func TestDeletedNodeLeavesTheMap(t *testing.T) {
	s := openStore(t)
	cs := openChangeset(t, s)
	a := model.NodeRef(1)

	submit(t, s, cs, node(1, 0, 0, model.Tags{"amenity": "bench"}))
	submit(t, s, cs, node(1, 1, 1, model.Tags{"amenity": "bench"}))
	deleted := submit(t, s, cs, based(deletion(a), 2))[0]

	assert.Equal(t, int64(3), deleted.Version)
	assert.Nil(t, deleted.Point)

	current, err := s.GetCurrent(a)
	require.NoError(t, err)
	assert.False(t, current[a].Visible)

	found, err := s.FindInBBox(BBoxQuery{BBox: model.BoundingBox{Top: 1.1, Left: 0.9, Bottom: 0.9, Right: 1.1}})
	require.NoError(t, err)
	assert.Empty(t, found)

	tagged, err := s.FindByTag(TagQuery{Key: "amenity"})
	require.NoError(t, err)
	assert.Empty(t, tagged)

	before := deleted.SequenceID - 1
	found, err = s.FindInBBox(BBoxQuery{BBox: model.BoundingBox{Top: 1.1, Left: 0.9, Bottom: 0.9, Right: 1.1}, At: &before})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, int64(2), found[0].Version)
}

func TestStaleBaseVersionConflicts(t *testing.T) {
	s := openStore(t)
	cs := openChangeset(t, s)
	a := model.NodeRef(1)

	submit(t, s, cs, node(1, 0, 0, nil))
	v2 := submit(t, s, cs, based(node(1, 1, 1, nil), 1))[0]

	_, err := s.Submit(context.Background(), cs, based(node(1, 2, 2, nil), 1))

	var conflict *model.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(1), conflict.Expected)
	assert.Equal(t, int64(2), conflict.Actual)

	v3 := submit(t, s, cs, based(node(1, 2, 2, nil), conflict.Actual))[0]
	assert.Equal(t, int64(3), v3.Version)

	history, err := s.GetHistory(a, HistoryOptions{})
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, v2.SequenceID, history[1].SequenceID)
	assert.Equal(t, v3.SequenceID, *history[1].NextSequenceID)
	assert.Nil(t, history[2].NextSequenceID)
}

func TestConcurrentEditsOfOneElement(t *testing.T) {
	const writers = 8

	test_cases := []struct {
		name      string
		base      bool
		succeeded int
	}{
		{"without base version", false, writers},
		{"with base version", true, 1},
	}

	for _, tc := range test_cases {
		t.Run(tc.name, func(t *testing.T) {
			s := openStore(t, WithMaxRetries(100))
			cs := openChangeset(t, s)
			a := model.NodeRef(1)

			submit(t, s, cs, node(1, 0, 0, nil))

			var (
				mu        sync.Mutex
				succeeded int
				conflicts int
			)

			g, ctx := errgroup.WithContext(context.Background())

			for i := range writers {
				g.Go(func() error {
					e := node(1, model.Degrees(i), 0, nil)
					if tc.base {
						e = based(e, 1)
					}

					_, err := s.Submit(ctx, cs, e)

					mu.Lock()
					defer mu.Unlock()

					switch {
					case err == nil:
						succeeded++
					case errors.Is(err, model.ErrConflict):
						conflicts++
					default:
						return err
					}

					return nil
				})
			}

			require.NoError(t, g.Wait())
			assert.Equal(t, tc.succeeded, succeeded)
			assert.Equal(t, writers-tc.succeeded, conflicts)

			history, err := s.GetHistory(a, HistoryOptions{})
			require.NoError(t, err)
			require.Len(t, history, succeeded+1)

			for i, ev := range history {
				assert.Equal(t, int64(i+1), ev.Version)

				if i < len(history)-1 {
					assert.Equal(t, history[i+1].SequenceID, *ev.NextSequenceID)
				} else {
					assert.Nil(t, ev.NextSequenceID)
				}
			}

			changeset, err := s.GetChangeset(cs)
			require.NoError(t, err)
			assert.Equal(t, int64(succeeded+1), changeset.Size)
		})
	}
}

func TestConcurrentEditsOfDifferentElements(t *testing.T) {
	s := openStore(t, WithMaxRetries(100))

	g, ctx := errgroup.WithContext(context.Background())

	for i := range 16 {
		g.Go(func() error {
			cs, err := s.OpenChangeset(ctx, int64(i), nil)
			if err != nil {
				return err
			}

			id := int64(i + 1)

			if _, err := s.Submit(ctx, cs.ID, node(id, 0, model.Degrees(i), nil)); err != nil {
				return err
			}

			_, err = s.Submit(ctx, cs.ID, based(node(id, 1, model.Degrees(i), nil), 1))

			return err
		})
	}

	require.NoError(t, g.Wait())

	refs := make([]model.ElementRef, 16)
	for i := range refs {
		refs[i] = model.NodeRef(int64(i + 1))
	}

	current, err := s.GetCurrent(refs...)
	require.NoError(t, err)
	require.Len(t, current, 16)

	for _, ev := range current {
		assert.Equal(t, int64(2), ev.Version)
	}

	assert.GreaterOrEqual(t, s.CurrentSequenceID(), int64(32))
}

func TestChangesetAccounting(t *testing.T) {
	s := openStore(t)
	cs := openChangeset(t, s)

	submit(t, s, cs, node(1, 0, 0, nil), node(2, 2, 3, nil))
	submit(t, s, cs, way(10, 1, 2))
	submit(t, s, cs, node(3, -1, 5, nil))

	changeset, err := s.GetChangeset(cs)
	require.NoError(t, err)

	assert.Equal(t, int64(4), changeset.Size)
	assert.Equal(t, &model.BoundingBox{Top: 2, Left: 0, Bottom: -1, Right: 5}, changeset.Bounds)
	assert.True(t, changeset.IsOpen())

	edits, err := s.GetByChangeset(cs, 0)
	require.NoError(t, err)
	require.Len(t, edits, int(changeset.Size))

	var refs []model.VersionedElementRef
	for _, ev := range edits {
		assert.Equal(t, cs, ev.ChangesetID)
		refs = append(refs, ev.VersionedRef())
	}

	assert.Equal(t, []model.VersionedElementRef{
		model.NodeRef(1).Version(1), model.NodeRef(2).Version(1),
		model.WayRef(10).Version(1), model.NodeRef(3).Version(1),
	}, refs)

	first, err := s.GetByChangeset(cs, 2)
	require.NoError(t, err)
	assert.Equal(t, edits[:2], first)

	// moving a node accounts for where it was as well as where it went
	moves := openChangeset(t, s)
	submit(t, s, moves, based(node(3, 1, 1, nil), 1))

	changeset, err = s.GetChangeset(moves)
	require.NoError(t, err)
	assert.Equal(t, &model.BoundingBox{Top: 1, Left: 1, Bottom: -1, Right: 5}, changeset.Bounds)

	edits, err = s.GetByChangeset(moves, 0)
	require.NoError(t, err)
	require.Len(t, edits, 1)
	assert.Equal(t, int64(2), edits[0].Version)

	_, err = s.GetByChangeset(404, 0)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestPlaceholders(t *testing.T) {
	s := openStore(t)
	cs := openChangeset(t, s)

	submit(t, s, cs, node(7, 0, 0, nil))

	created := submit(t, s, cs,
		node(-1, 0, 0, nil),
		node(-2, 1, 1, nil),
		way(-1, -1, -2, 7),
		based(node(-1, 0.5, 0.5, nil), 1))

	require.Len(t, created, 4)
	assert.Equal(t, model.NodeRef(8).Version(1), created[0].VersionedRef())
	assert.Equal(t, model.NodeRef(9).Version(1), created[1].VersionedRef())
	assert.Equal(t, model.WayRef(1).Version(1), created[2].VersionedRef())
	assert.Equal(t, model.NodeMembers(8, 9, 7), created[2].Members)
	assert.Equal(t, model.NodeRef(8).Version(2), created[3].VersionedRef())

	// placeholders only live for one submission
	again := submit(t, s, cs, node(-1, 0, 0, nil))
	assert.Equal(t, model.NodeRef(10), again[0].Ref())

	test_cases := []struct {
		name     string
		edits    []Edit
		expected error
	}{
		{"unknown member", []Edit{way(-3, 7, -42)}, model.ErrReferential},
		{"base version", []Edit{based(node(-3, 0, 0, nil), 2)}, model.ErrInvalid},
		{"deleted before creation", []Edit{deletion(model.NodeRef(-3))}, model.ErrNotFound},
	}

	for _, tc := range test_cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Submit(context.Background(), cs, tc.edits...)
			assert.ErrorIs(t, err, tc.expected)
		})
	}

	current, err := s.GetCurrent(model.NodeRef(11), model.WayRef(2))
	require.NoError(t, err)
	assert.Empty(t, current)
}

func TestConcurrentPlaceholders(t *testing.T) {
	s := openStore(t)

	const writers = 4

	ids := make([]int64, writers)

	var g errgroup.Group

	for i := range writers {
		cs := openChangeset(t, s)

		g.Go(func() error {
			created, err := s.Submit(context.Background(), cs, node(-1, 0, 0, nil))
			if err != nil {
				return err
			}

			ids[i] = created[0].ID

			return nil
		})
	}

	require.NoError(t, g.Wait())
	assert.ElementsMatch(t, []int64{1, 2, 3, 4}, ids)
}

func TestChangesetLifecycle(t *testing.T) {
	c := newClock()
	s := openStore(t, WithClock(c.Now))
	ctx := context.Background()

	cs := openChangeset(t, s)

	updated, err := s.UpdateChangesetTags(ctx, cs, model.Tags{"comment": "fixed"})
	require.NoError(t, err)
	assert.Equal(t, model.Tags{"comment": "fixed"}, updated.Tags)

	c.Advance(time.Minute)

	closed, err := s.CloseChangeset(ctx, cs)
	require.NoError(t, err)
	require.NotNil(t, closed.ClosedAt)
	assert.Equal(t, c.Now(), *closed.ClosedAt)

	_, err = s.CloseChangeset(ctx, cs)
	assert.ErrorIs(t, err, model.ErrAlreadyClosed)

	_, err = s.Submit(ctx, cs, node(1, 0, 0, nil))
	assert.ErrorIs(t, err, model.ErrAlreadyClosed)

	_, err = s.Submit(ctx, 9999, node(1, 0, 0, nil))
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = s.GetChangeset(9999)
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = s.Submit(ctx, cs)
	assert.ErrorIs(t, err, model.ErrInvalid)
}

func TestChangesetClosesWhenFull(t *testing.T) {
	s := openStore(t, WithChangesetMaxSize(2))
	cs := openChangeset(t, s)

	submit(t, s, cs, node(1, 0, 0, nil), node(2, 0, 0, nil))

	changeset, err := s.GetChangeset(cs)
	require.NoError(t, err)
	assert.False(t, changeset.IsOpen())

	_, err = s.Submit(context.Background(), cs, node(3, 0, 0, nil))
	assert.ErrorIs(t, err, model.ErrAlreadyClosed)
}

func TestReap(t *testing.T) {
	c := newClock()
	s := openStore(t, WithClock(c.Now), WithIdleTimeout(time.Hour), WithEmptyTimeout(time.Hour))
	ctx := context.Background()

	busy := openChangeset(t, s)
	idle := openChangeset(t, s)

	c.Advance(50 * time.Minute)
	submit(t, s, busy, node(1, 0, 0, nil))
	c.Advance(20 * time.Minute)

	closed, deleted, err := s.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{idle}, closed)
	assert.Empty(t, deleted)

	c.Advance(2 * time.Hour)

	closed, deleted, err = s.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{busy}, closed)
	assert.Equal(t, []int64{idle}, deleted)

	_, err = s.GetChangeset(idle)
	assert.ErrorIs(t, err, model.ErrNotFound)

	changeset, err := s.GetChangeset(busy)
	require.NoError(t, err)
	assert.Equal(t, int64(1), changeset.Size)
}

func TestRunReaperStops(t *testing.T) {
	s := openStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		s.RunReaper(ctx, time.Millisecond)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reaper did not stop")
	}
}

func TestResolveMembers(t *testing.T) {
	s := openStore(t)
	cs := openChangeset(t, s)

	created := submit(t, s, cs,
		node(1, 0, 0, nil),
		node(2, 1, 1, nil),
		way(10, 1, 2),
		Edit{Ref: model.RelationRef(100), Visible: true, Members: []model.MemberRef{
			{Type: model.WAY, ID: 10, Role: "outer"},
			{Type: model.NODE, ID: 2, Role: "label"},
		}})
	relation := created[3]

	submit(t, s, cs, based(node(2, 2, 2, nil), 1))

	res, err := s.ResolveMembers([]model.ElementVersion{relation}, ResolveOptions{RecurseWays: true})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Len())

	ordered := res.Ordered(relation)
	require.Len(t, ordered, 2)
	assert.Equal(t, model.WayRef(10), ordered[0].Version.Ref())
	assert.Equal(t, "label", ordered[1].Role)
	assert.Equal(t, int64(2), ordered[1].Version.Version)

	at := relation.SequenceID
	res, err = s.ResolveMembers([]model.ElementVersion{relation}, ResolveOptions{At: &at})
	require.NoError(t, err)

	label, ok := res.Lookup(relation.Members[1])
	require.True(t, ok)
	assert.Equal(t, int64(1), label.Version)

	parents, err := s.Parents([]model.ElementRef{model.NodeRef(2)}, nil, 0)
	require.NoError(t, err)
	require.Len(t, parents, 2)
	assert.Equal(t, model.WayRef(10), parents[0].Ref())
	assert.Equal(t, model.RelationRef(100), parents[1].Ref())
}

func TestReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(WithPath(dir), WithLogger(discard))
	require.NoError(t, err)

	cs, err := s.OpenChangeset(ctx, 1, nil)
	require.NoError(t, err)

	created, err := s.Submit(ctx, cs.ID, node(1, 0, 0, nil), node(2, 0, 0, nil))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(WithPath(dir), WithLogger(discard))
	require.NoError(t, err)

	defer s.Close()

	assert.Equal(t, created[1].SequenceID, s.CurrentSequenceID())

	m, err := s.Manifest()
	require.NoError(t, err)
	assert.Nil(t, m)

	next, err := s.Submit(ctx, cs.ID, based(node(1, 1, 1, nil), 1))
	require.NoError(t, err)
	assert.Greater(t, next[0].SequenceID, created[1].SequenceID)

	other, err := s.OpenChangeset(ctx, 1, nil)
	require.NoError(t, err)
	assert.Greater(t, other.ID, cs.ID)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := openStore(t, WithRegisterer(reg))
	cs := openChangeset(t, s)

	submit(t, s, cs, node(1, 0, 0, nil), node(2, 0, 0, nil))

	_, err := s.Submit(context.Background(), cs, way(10, 1, 3))
	require.Error(t, err)

	_, err = s.Submit(context.Background(), cs, based(node(1, 0, 0, nil), 7))
	require.Error(t, err)

	_, err = s.FindInBBox(BBoxQuery{BBox: model.BoundingBox{Top: 0.5, Left: 0, Bottom: 0, Right: 0.5}})
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(s.metrics.edits.WithLabelValues(ResultCommitted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.edits.WithLabelValues(ResultRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.edits.WithLabelValues(ResultConflict)))

	n, err := testutil.GatherAndCount(reg, "osmhistory_edits_total", "osmhistory_query_seconds")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}
