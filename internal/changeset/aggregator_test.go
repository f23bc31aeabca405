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

package changeset

import (
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"m4o.io/osmhistory/internal/element"
	"m4o.io/osmhistory/internal/layout"
	"m4o.io/osmhistory/model"
)

var now = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func newAggregator(t *testing.T, maxSize int64) (*badger.DB, *Aggregator) {
	t.Helper()

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)

	ids, err := element.NewSequencer(db, layout.SequenceChangesets, 0)
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, ids.Close())
		assert.NoError(t, db.Close())
	})

	return db, NewAggregator(ids, maxSize)
}

func update[T any](t *testing.T, db *badger.DB, fn func(txn *badger.Txn) (T, error)) (T, error) {
	t.Helper()

	var v T

	err := db.Update(func(txn *badger.Txn) (err error) {
		v, err = fn(txn)
		return err
	})

	return v, err
}

func open(t *testing.T, db *badger.DB, a *Aggregator, at time.Time) model.Changeset {
	t.Helper()

	cs, err := update(t, db, func(txn *badger.Txn) (model.Changeset, error) {
		return a.Open(txn, 7, model.Tags{"comment": "test"}, at)
	})
	require.NoError(t, err)

	return cs
}

func TestOpenAndGet(t *testing.T) {
	db, a := newAggregator(t, 0)

	first := open(t, db, a, now)
	second := open(t, db, a, now)

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
	assert.Zero(t, first.Size)
	assert.Nil(t, first.Bounds)
	assert.True(t, first.IsOpen())

	require.NoError(t, db.View(func(txn *badger.Txn) error {
		cs, err := a.Get(txn, first.ID)
		require.NoError(t, err)
		assert.Equal(t, first, cs)

		_, err = a.Get(txn, 99)
		assert.ErrorIs(t, err, model.ErrNotFound)

		return nil
	}))
}

func TestApplyEdit(t *testing.T) {
	db, a := newAggregator(t, 0)
	cs := open(t, db, a, now)

	edits := []*model.BoundingBox{
		model.PointBoundingBox(model.Point{Lat: 1, Lon: 1}),
		nil,
		{Top: 3, Left: -2, Bottom: 0, Right: 0},
	}

	for i, bb := range edits {
		var err error

		cs, err = update(t, db, func(txn *badger.Txn) (model.Changeset, error) {
			return a.ApplyEdit(txn, cs.ID, bb, now.Add(time.Duration(i+1)*time.Minute))
		})
		require.NoError(t, err)
	}

	assert.Equal(t, int64(3), cs.Size)
	assert.Equal(t, &model.BoundingBox{Top: 3, Left: -2, Bottom: 0, Right: 1}, cs.Bounds)
	assert.Equal(t, now.Add(3*time.Minute), cs.UpdatedAt)
	assert.True(t, cs.IsOpen())

	_, err := update(t, db, func(txn *badger.Txn) (model.Changeset, error) {
		return a.ApplyEdit(txn, 404, nil, now)
	})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestAutoCloseWhenFull(t *testing.T) {
	db, a := newAggregator(t, 2)
	cs := open(t, db, a, now)

	for range 2 {
		var err error

		cs, err = update(t, db, func(txn *badger.Txn) (model.Changeset, error) {
			return a.ApplyEdit(txn, cs.ID, nil, now)
		})
		require.NoError(t, err)
	}

	assert.False(t, cs.IsOpen())

	_, err := update(t, db, func(txn *badger.Txn) (model.Changeset, error) {
		return a.ApplyEdit(txn, cs.ID, nil, now)
	})
	assert.ErrorIs(t, err, model.ErrAlreadyClosed)
}

func TestCloseTwice(t *testing.T) {
	db, a := newAggregator(t, 0)
	cs := open(t, db, a, now)

	closed, err := update(t, db, func(txn *badger.Txn) (model.Changeset, error) {
		return a.Close(txn, cs.ID, now.Add(time.Minute))
	})
	require.NoError(t, err)
	require.NotNil(t, closed.ClosedAt)
	assert.Equal(t, now.Add(time.Minute), *closed.ClosedAt)

	_, err = update(t, db, func(txn *badger.Txn) (model.Changeset, error) {
		return a.Close(txn, cs.ID, now.Add(time.Hour))
	})

	var already *model.AlreadyClosedError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, now.Add(time.Minute), already.ClosedAt)

	_, err = update(t, db, func(txn *badger.Txn) (model.Changeset, error) {
		return a.UpdateTags(txn, cs.ID, model.Tags{"comment": "late"}, now)
	})
	assert.ErrorIs(t, err, model.ErrAlreadyClosed)
}

func TestUpdateTags(t *testing.T) {
	db, a := newAggregator(t, 0)
	cs := open(t, db, a, now)

	cs, err := update(t, db, func(txn *badger.Txn) (model.Changeset, error) {
		return a.UpdateTags(txn, cs.ID, model.Tags{"comment": "better"}, now.Add(time.Minute))
	})
	require.NoError(t, err)
	assert.Equal(t, model.Tags{"comment": "better"}, cs.Tags)
	assert.Equal(t, now.Add(time.Minute), cs.UpdatedAt)
}

func TestReaper(t *testing.T) {
	db, a := newAggregator(t, 0)

	idle := open(t, db, a, now)
	old := open(t, db, a, now.Add(-25*time.Hour))
	busy := open(t, db, a, now)
	fresh := open(t, db, a, now.Add(50*time.Minute))

	// keep the old one busy so that only its age closes it
	_, err := update(t, db, func(txn *badger.Txn) (model.Changeset, error) {
		return a.ApplyEdit(txn, old.ID, nil, now.Add(59*time.Minute))
	})
	require.NoError(t, err)

	_, err = update(t, db, func(txn *badger.Txn) (model.Changeset, error) {
		return a.ApplyEdit(txn, busy.ID, nil, now.Add(30*time.Minute))
	})
	require.NoError(t, err)

	reapAt := now.Add(time.Hour)

	closed, err := update(t, db, func(txn *badger.Txn) ([]int64, error) {
		return a.CloseInactive(txn, reapAt, DefaultIdleTimeout, DefaultOpenTimeout)
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{idle.ID, old.ID}, closed)

	// idle was empty, old was not
	deleted, err := update(t, db, func(txn *badger.Txn) ([]int64, error) {
		return a.DeleteEmpty(txn, reapAt.Add(30*time.Minute), DefaultEmptyTimeout)
	})
	require.NoError(t, err)
	assert.Empty(t, deleted)

	deleted, err = update(t, db, func(txn *badger.Txn) ([]int64, error) {
		return a.DeleteEmpty(txn, reapAt.Add(time.Hour), DefaultEmptyTimeout)
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{idle.ID}, deleted)

	require.NoError(t, db.View(func(txn *badger.Txn) error {
		_, err := a.Get(txn, idle.ID)
		assert.ErrorIs(t, err, model.ErrNotFound)

		for _, id := range []int64{busy.ID, fresh.ID} {
			cs, err := a.Get(txn, id)
			require.NoError(t, err)
			assert.True(t, cs.IsOpen())
		}

		return nil
	}))
}
