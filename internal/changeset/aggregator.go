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

// Package changeset keeps the changeset rows: their lifecycle and the edit
// count and bounds aggregated from the element versions they contain.
package changeset

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"m4o.io/osmhistory/internal/element"
	"m4o.io/osmhistory/internal/layout"
	"m4o.io/osmhistory/model"
)

// Defaults of the changeset lifecycle.
const (
	DefaultMaxSize      = 10000
	DefaultIdleTimeout  = time.Hour
	DefaultOpenTimeout  = 24 * time.Hour
	DefaultEmptyTimeout = time.Hour
)

// Aggregator opens, updates and closes changesets.
type Aggregator struct {
	ids     *element.Sequencer
	maxSize int64
}

// NewAggregator returns an aggregator drawing changeset ids from ids.
// Changesets close on their own once they hold maxSize edits.
func NewAggregator(ids *element.Sequencer, maxSize int64) *Aggregator {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	return &Aggregator{ids: ids, maxSize: maxSize}
}

// Open creates an empty, open changeset.
func (a *Aggregator) Open(txn *badger.Txn, userID int64, tags model.Tags, now time.Time) (model.Changeset, error) {
	alloc := a.ids.Begin()
	defer alloc.Release()

	id, err := alloc.Next()
	if err != nil {
		return model.Changeset{}, err
	}

	if tags == nil {
		tags = model.Tags{}
	}

	cs := model.Changeset{
		ID:        id,
		UserID:    userID,
		Tags:      tags.Clone(),
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}

	if err := txn.Set(layout.OpenKey(id), nil); err != nil {
		return model.Changeset{}, err
	}

	return cs, save(txn, &cs)
}

// Get returns the changeset id.
func (a *Aggregator) Get(txn *badger.Txn, id int64) (model.Changeset, error) {
	item, err := txn.Get(layout.ChangesetKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return model.Changeset{}, &model.NotFoundError{What: fmt.Sprintf("changeset %d", id)}
	} else if err != nil {
		return model.Changeset{}, err
	}

	var cs model.Changeset

	err = item.Value(func(val []byte) error {
		cs, err = layout.DecodeChangeset(id, val)
		return err
	})

	return cs, err
}

// getOpen returns the changeset id, which must be open.
func (a *Aggregator) getOpen(txn *badger.Txn, id int64) (model.Changeset, error) {
	cs, err := a.Get(txn, id)
	if err != nil {
		return cs, err
	}

	if !cs.IsOpen() {
		return cs, &model.AlreadyClosedError{ChangesetID: id, ClosedAt: *cs.ClosedAt}
	}

	return cs, nil
}

// ApplyEdit accounts for one element version in changeset id: the size
// grows by one and the bounds by the edit's footprint, if it has one.
func (a *Aggregator) ApplyEdit(txn *badger.Txn, id int64, bounds *model.BoundingBox, now time.Time) (model.Changeset, error) {
	cs, err := a.getOpen(txn, id)
	if err != nil {
		return cs, err
	}

	cs.Size++
	cs.Bounds = model.Union(cs.Bounds, bounds)
	cs.UpdatedAt = now.UTC()

	if cs.Size >= a.maxSize {
		slog.Debug("closing full changeset", "changeset", id, "size", cs.Size)

		return cs, closeChangeset(txn, &cs, now)
	}

	return cs, save(txn, &cs)
}

// Close closes changeset id. Closing a closed changeset fails.
func (a *Aggregator) Close(txn *badger.Txn, id int64, now time.Time) (model.Changeset, error) {
	cs, err := a.getOpen(txn, id)
	if err != nil {
		return cs, err
	}

	return cs, closeChangeset(txn, &cs, now)
}

// UpdateTags replaces the tags of open changeset id.
func (a *Aggregator) UpdateTags(txn *badger.Txn, id int64, tags model.Tags, now time.Time) (model.Changeset, error) {
	cs, err := a.getOpen(txn, id)
	if err != nil {
		return cs, err
	}

	if tags == nil {
		tags = model.Tags{}
	}

	cs.Tags = tags.Clone()
	cs.UpdatedAt = now.UTC()

	return cs, save(txn, &cs)
}

// CloseInactive closes every open changeset without edits for idle, or
// open for longer than maxOpen, and returns their ids.
func (a *Aggregator) CloseInactive(txn *badger.Txn, now time.Time, idle, maxOpen time.Duration) ([]int64, error) {
	ids, err := scanIndex(txn, layout.PrefixOpen)
	if err != nil {
		return nil, err
	}

	var closed []int64

	for _, id := range ids {
		cs, err := a.Get(txn, id)
		if err != nil {
			return nil, err
		}

		if now.Sub(cs.UpdatedAt) < idle && now.Sub(cs.CreatedAt) < maxOpen {
			continue
		}

		if err := closeChangeset(txn, &cs, now); err != nil {
			return nil, err
		}

		closed = append(closed, id)
	}

	return closed, nil
}

// DeleteEmpty removes changesets closed for longer than timeout without
// holding a single edit, and returns their ids.
func (a *Aggregator) DeleteEmpty(txn *badger.Txn, now time.Time, timeout time.Duration) ([]int64, error) {
	ids, err := scanIndex(txn, layout.PrefixEmpty)
	if err != nil {
		return nil, err
	}

	var deleted []int64

	for _, id := range ids {
		cs, err := a.Get(txn, id)
		if err != nil {
			return nil, err
		}

		if cs.Size > 0 || cs.ClosedAt == nil || now.Sub(*cs.ClosedAt) < timeout {
			continue
		}

		if err := txn.Delete(layout.ChangesetKey(id)); err != nil {
			return nil, err
		}

		if err := txn.Delete(layout.EmptyKey(id)); err != nil {
			return nil, err
		}

		deleted = append(deleted, id)
	}

	return deleted, nil
}

func closeChangeset(txn *badger.Txn, cs *model.Changeset, now time.Time) error {
	closed := now.UTC()
	cs.ClosedAt = &closed

	if err := txn.Delete(layout.OpenKey(cs.ID)); err != nil {
		return err
	}

	if cs.Size == 0 {
		if err := txn.Set(layout.EmptyKey(cs.ID), nil); err != nil {
			return err
		}
	}

	return save(txn, cs)
}

func save(txn *badger.Txn, cs *model.Changeset) error {
	if err := txn.Set(layout.ChangesetKey(cs.ID), layout.EncodeChangeset(cs)); err != nil {
		return fmt.Errorf("unable to write changeset %d: %w", cs.ID, err)
	}

	return nil
}

func scanIndex(txn *badger.Txn, p byte) ([]int64, error) {
	prefix := layout.Prefix(p)

	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	defer it.Close()

	var ids []int64

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		id, err := layout.ParseChangesetIndexKey(it.Item().Key())
		if err != nil {
			return nil, err
		}

		ids = append(ids, id)
	}

	return ids, nil
}
