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

// Package element is the append-only store of element versions. Every
// operation runs inside a caller supplied badger transaction so that an
// edit, the link from its predecessor and the changeset bookkeeping commit
// together.
package element

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dgraph-io/badger/v4"

	"m4o.io/osmhistory/internal/layout"
	"m4o.io/osmhistory/model"
)

// Edit is a request to create the next version of an element.
type Edit struct {
	Ref         model.ElementRef
	ChangesetID int64
	Visible     bool
	Tags        model.Tags
	Point       *model.Point
	Members     []model.MemberRef
	CreatedAt   time.Time

	// BaseVersion is the version the editor based the edit on; nil skips
	// the check. Zero means the element must not exist yet.
	BaseVersion *int64
}

// Store creates and reads element versions.
type Store struct {
	opts options
}

// NewStore returns a store configured with opts.
func NewStore(opts ...Option) *Store {
	cfg := options{
		recreate:      RecreateAllow,
		tombstoneTags: TombstoneDropTags,
		maxMembers:    DefaultMaxMembers,
		maxWayNodes:   DefaultMaxWayNodes,
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	cfg.maxMembers = min(cfg.maxMembers, math.MaxUint16+1)
	cfg.maxWayNodes = min(cfg.maxWayNodes, math.MaxUint16+1)

	return &Store{opts: cfg}
}

// Create appends the next version of the edited element and links the
// previous current version to it. The previous version, if any, is returned
// as it was before the edit.
func (s *Store) Create(txn *badger.Txn, alloc *Allocation, e Edit) (model.ElementVersion, *model.ElementVersion, error) {
	if err := s.validate(&e); err != nil {
		return model.ElementVersion{}, nil, err
	}

	prev, err := s.current(txn, e.Ref)
	if err != nil {
		return model.ElementVersion{}, nil, err
	}

	if err := s.checkTransition(&e, prev); err != nil {
		return model.ElementVersion{}, nil, err
	}

	if e.Visible {
		if err := s.checkMembers(txn, &e); err != nil {
			return model.ElementVersion{}, nil, err
		}
	} else if err := s.checkUnreferenced(txn, e.Ref); err != nil {
		return model.ElementVersion{}, nil, err
	}

	seq, err := alloc.Next()
	if err != nil {
		return model.ElementVersion{}, nil, err
	}

	ev := model.ElementVersion{
		SequenceID:  seq,
		ChangesetID: e.ChangesetID,
		Type:        e.Ref.Type,
		ID:          e.Ref.ID,
		Version:     1,
		Visible:     e.Visible,
		Tags:        e.Tags.Clone(),
		CreatedAt:   e.CreatedAt.UTC(),
	}

	if ev.Tags == nil || (!e.Visible && s.opts.tombstoneTags == TombstoneDropTags) {
		ev.Tags = model.Tags{}
	}

	if e.Visible {
		if e.Point != nil {
			p := *e.Point
			ev.Point = &p
		}

		if len(e.Members) > 0 {
			ev.Members = make([]model.MemberRef, len(e.Members))
			for i, m := range e.Members {
				m.Order = uint16(i)
				ev.Members[i] = m
			}
		}
	}

	if prev != nil {
		ev.Version = prev.Version + 1

		if err := s.supersede(txn, *prev, seq); err != nil {
			return model.ElementVersion{}, nil, err
		}
	}

	if err := s.insert(txn, &ev); err != nil {
		return model.ElementVersion{}, nil, err
	}

	return ev, prev, nil
}

// NewID returns an id of type t that no element uses yet: one past the
// highest id stored, the pending writes of txn included. Transactions that
// are handed the same id conflict once they create the element.
func (s *Store) NewID(txn *badger.Txn, t model.ElementType) (int64, error) {
	id, err := MaxID(txn, t)
	if err != nil {
		return 0, fmt.Errorf("unable to allocate a %s id: %w", t, err)
	}

	return id + 1, nil
}

func (s *Store) checkTransition(e *Edit, prev *model.ElementVersion) error {
	if prev == nil {
		if e.BaseVersion != nil && *e.BaseVersion != 0 {
			return &model.ConflictError{Ref: e.Ref, Expected: *e.BaseVersion, Actual: 0}
		}

		if !e.Visible {
			return &model.NotFoundError{What: e.Ref.String()}
		}

		return nil
	}

	if e.BaseVersion != nil && *e.BaseVersion != prev.Version {
		return &model.ConflictError{Ref: e.Ref, Expected: *e.BaseVersion, Actual: prev.Version}
	}

	if !prev.Visible && (!e.Visible || s.opts.recreate == RecreateForbid) {
		return &model.DeletedError{Ref: e.Ref, Version: prev.Version}
	}

	return nil
}

// checkMembers requires every member to exist and be visible.
func (s *Store) checkMembers(txn *badger.Txn, e *Edit) error {
	seen := make(map[model.ElementRef]struct{}, len(e.Members))

	for _, m := range e.Members {
		ref := m.Ref()
		if _, ok := seen[ref]; ok {
			continue
		}

		seen[ref] = struct{}{}

		// a relation may list itself
		if ref == e.Ref {
			continue
		}

		seq, ok, err := getSeq(txn, layout.CurrentKey(ref))
		if err != nil {
			return err
		}

		if !ok {
			return &model.ReferentialError{Ref: e.Ref, Member: ref, Reason: "missing member"}
		}

		member, err := getRow(txn, seq)
		if err != nil {
			return err
		}

		if !member.Visible {
			return &model.ReferentialError{Ref: e.Ref, Member: ref, Reason: "member deleted"}
		}

		// rewriting the member's current pointer makes a concurrent deletion
		// of the member conflict with this transaction
		if err := txn.Set(layout.CurrentKey(ref), layout.EncodeSeq(seq)); err != nil {
			return err
		}
	}

	return nil
}

// checkUnreferenced rejects the deletion of an element that a visible
// current way or relation still lists.
func (s *Store) checkUnreferenced(txn *badger.Txn, ref model.ElementRef) error {
	seqs, err := memberOf(txn, ref)
	if err != nil {
		return err
	}

	for _, seq := range seqs {
		parent, err := getRow(txn, seq)
		if err != nil {
			return err
		}

		if parent.IsCurrent() && parent.Visible && parent.Ref() != ref {
			return &model.ReferentialError{Ref: ref, Member: parent.Ref(), Reason: "still referenced"}
		}
	}

	return nil
}

// supersede links prev to its successor and drops the index entries that
// only hold for current versions.
func (s *Store) supersede(txn *badger.Txn, prev model.ElementVersion, next int64) error {
	prev.NextSequenceID = &next

	if err := txn.Set(layout.ElementKey(prev.SequenceID), layout.EncodeElement(&prev)); err != nil {
		return err
	}

	if !prev.Visible {
		return nil
	}

	if prev.Point != nil {
		if err := txn.Delete(layout.CellKey(layout.CellOf(*prev.Point), prev.ID)); err != nil {
			return err
		}
	}

	for k, v := range prev.Tags {
		if err := txn.Delete(layout.TagKey(k, v, prev.Ref())); err != nil {
			return err
		}
	}

	return nil
}

// insert writes a new current row together with its index entries.
func (s *Store) insert(txn *badger.Txn, ev *model.ElementVersion) error {
	for _, e := range layout.Entries(ev) {
		if err := txn.Set(e.Key, e.Value); err != nil {
			return fmt.Errorf("unable to write %s: %w", ev.VersionedRef(), err)
		}
	}

	return nil
}

// current returns the current version of ref, or nil if it never existed.
func (s *Store) current(txn *badger.Txn, ref model.ElementRef) (*model.ElementVersion, error) {
	seq, ok, err := getSeq(txn, layout.CurrentKey(ref))
	if err != nil || !ok {
		return nil, err
	}

	ev, err := getRow(txn, seq)
	if err != nil {
		return nil, err
	}

	return &ev, nil
}

func getSeq(txn *badger.Txn, key []byte) (int64, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	} else if err != nil {
		return 0, false, err
	}

	var seq int64

	err = item.Value(func(val []byte) error {
		seq, err = layout.DecodeSeq(val)
		return err
	})

	return seq, err == nil, err
}

func getRow(txn *badger.Txn, seq int64) (model.ElementVersion, error) {
	item, err := txn.Get(layout.ElementKey(seq))
	if err != nil {
		return model.ElementVersion{}, fmt.Errorf("unable to read row %d: %w", seq, err)
	}

	var ev model.ElementVersion

	err = item.Value(func(val []byte) error {
		ev, err = layout.DecodeElement(seq, val)
		return err
	})

	return ev, err
}

// memberOf returns the sequence ids of every row listing ref as a member.
func memberOf(txn *badger.Txn, ref model.ElementRef) ([]int64, error) {
	prefix := layout.MemberPrefix(ref)

	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	defer it.Close()

	var seqs []int64

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		seq, _, err := layout.ParseMemberKey(it.Item().KeyCopy(nil))
		if err != nil {
			return nil, err
		}

		if n := len(seqs); n == 0 || seqs[n-1] != seq {
			seqs = append(seqs, seq)
		}
	}

	return seqs, nil
}
