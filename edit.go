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
	"fmt"
	"slices"

	"github.com/dgraph-io/badger/v4"

	"m4o.io/osmhistory/model"
)

// Submit applies edits to changeset changesetID in a single transaction:
// every edit creates the next version of its element and is counted in the
// changeset. Later edits see the versions created by earlier ones. Either
// all edits are stored or none is.
//
// The ChangesetID of the edits is ignored and CreatedAt defaults to now.
// A BaseVersion that is no longer current fails the whole batch with a
// ConflictError.
//
// A negative id is a placeholder for a new element. Its first edit creates
// the element under a fresh id, and later edits and members referring to
// the same placeholder use that id. The versions returned follow the order
// of edits and carry the assigned ids.
func (s *Store) Submit(ctx context.Context, changesetID int64, edits ...Edit) ([]model.ElementVersion, error) {
	if len(edits) == 0 {
		return nil, &model.InvalidError{Reason: "no edits submitted"}
	}

	var created []model.ElementVersion

	err := s.retry(ctx, func() error {
		var err error

		created, err = s.submit(changesetID, edits)

		return err
	})

	s.metrics.recordEdits(len(edits), err)

	if err != nil {
		s.logger.Debug("edits rejected", "changeset", changesetID, "edits", len(edits), "error", err)
		return nil, err
	}

	return created, nil
}

func (s *Store) submit(changesetID int64, edits []Edit) ([]model.ElementVersion, error) {
	alloc := s.ids.Begin()
	defer alloc.Release()

	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	now := s.opts.clock().UTC()

	cs, err := s.changesets.Get(txn, changesetID)
	if err != nil {
		return nil, err
	}

	if !cs.IsOpen() {
		return nil, &model.AlreadyClosedError{ChangesetID: changesetID, ClosedAt: *cs.ClosedAt}
	}

	created := make([]model.ElementVersion, 0, len(edits))
	assigned := make(map[model.ElementRef]int64)

	for i, e := range edits {
		e.ChangesetID = changesetID
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}

		if err := s.assignIDs(txn, assigned, &e); err != nil {
			return nil, fmt.Errorf("edit %d: %w", i, err)
		}

		ev, prev, err := s.elements.Create(txn, alloc, e)
		if err != nil {
			return nil, fmt.Errorf("edit %d: %w", i, err)
		}

		bounds, err := s.elements.EditBounds(txn, &ev, prev)
		if err != nil {
			return nil, err
		}

		if _, err := s.changesets.ApplyEdit(txn, changesetID, bounds, now); err != nil {
			return nil, fmt.Errorf("edit %d: %w", i, err)
		}

		created = append(created, ev)
	}

	if err := txn.Commit(); err != nil {
		return nil, err
	}

	return created, nil
}

// assignIDs replaces the placeholder ids of e and of its members with the
// ids assigned to them in this submission, assigning one to e when this is
// the first edit of its placeholder.
func (s *Store) assignIDs(txn *badger.Txn, assigned map[model.ElementRef]int64, e *Edit) error {
	if placeholder := e.Ref; placeholder.ID < 0 {
		id, ok := assigned[placeholder]
		if !ok {
			if e.BaseVersion != nil && *e.BaseVersion != 0 {
				return &model.InvalidError{Reason: fmt.Sprintf("new element %s cannot have base version %d", placeholder, *e.BaseVersion)}
			}

			var err error

			if id, err = s.elements.NewID(txn, placeholder.Type); err != nil {
				return err
			}

			assigned[placeholder] = id
		}

		e.Ref.ID = id
	}

	cloned := false

	for i, m := range e.Members {
		if m.ID >= 0 {
			continue
		}

		id, ok := assigned[m.Ref()]
		if !ok {
			return &model.ReferentialError{Ref: e.Ref, Member: m.Ref(), Reason: "unknown placeholder"}
		}

		if !cloned {
			e.Members = slices.Clone(e.Members)
			cloned = true
		}

		e.Members[i].ID = id
	}

	return nil
}

// OpenChangeset opens a new changeset for userID.
func (s *Store) OpenChangeset(ctx context.Context, userID int64, tags model.Tags) (model.Changeset, error) {
	var cs model.Changeset

	err := s.update(ctx, func(txn *badger.Txn) (err error) {
		cs, err = s.changesets.Open(txn, userID, tags, s.opts.clock())
		return err
	})

	return cs, err
}

// CloseChangeset closes changeset id. Closing it twice fails with an
// AlreadyClosedError.
func (s *Store) CloseChangeset(ctx context.Context, id int64) (model.Changeset, error) {
	var cs model.Changeset

	err := s.update(ctx, func(txn *badger.Txn) (err error) {
		cs, err = s.changesets.Close(txn, id, s.opts.clock())
		return err
	})

	return cs, err
}

// UpdateChangesetTags replaces the tags of open changeset id.
func (s *Store) UpdateChangesetTags(ctx context.Context, id int64, tags model.Tags) (model.Changeset, error) {
	var cs model.Changeset

	err := s.update(ctx, func(txn *badger.Txn) (err error) {
		cs, err = s.changesets.UpdateTags(txn, id, tags, s.opts.clock())
		return err
	})

	return cs, err
}

// GetChangeset returns changeset id.
func (s *Store) GetChangeset(id int64) (model.Changeset, error) {
	var cs model.Changeset

	err := s.db.View(func(txn *badger.Txn) (err error) {
		cs, err = s.changesets.Get(txn, id)
		return err
	})

	return cs, err
}

// GetByChangeset lists the element versions created in changeset id in
// sequence order, at most limit of them when limit is positive.
func (s *Store) GetByChangeset(id int64, limit int) ([]model.ElementVersion, error) {
	var edits []model.ElementVersion

	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := s.changesets.Get(txn, id); err != nil {
			return err
		}

		var err error

		edits, err = s.elements.GetByChangeset(txn, id, limit)

		return err
	})

	return edits, err
}
