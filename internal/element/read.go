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

package element

import (
	"errors"
	"fmt"
	"slices"

	"github.com/dgraph-io/badger/v4"

	"m4o.io/osmhistory/internal/layout"
	"m4o.io/osmhistory/model"
)

// GetCurrent returns the current version of every ref that exists.
// Deleted elements are returned as their tombstone.
func (s *Store) GetCurrent(txn *badger.Txn, refs []model.ElementRef) (map[model.ElementRef]model.ElementVersion, error) {
	found := make(map[model.ElementRef]model.ElementVersion, len(refs))

	for _, ref := range refs {
		if _, ok := found[ref]; ok {
			continue
		}

		ev, err := s.current(txn, ref)
		if err != nil {
			return nil, err
		}

		if ev != nil {
			found[ref] = *ev
		}
	}

	return found, nil
}

// GetAsOf returns, for every ref, the version in effect at the sequence
// point at. Refs created after at are absent.
func (s *Store) GetAsOf(txn *badger.Txn, refs []model.ElementRef, at int64) (map[model.ElementRef]model.ElementVersion, error) {
	found := make(map[model.ElementRef]model.ElementVersion, len(refs))

	for _, ref := range refs {
		if _, ok := found[ref]; ok {
			continue
		}

		seq, ok, err := s.seqAsOf(txn, ref, at)
		if err != nil {
			return nil, err
		}

		if !ok {
			continue
		}

		ev, err := getRow(txn, seq)
		if err != nil {
			return nil, err
		}

		if ev.AliveAt(at) {
			found[ref] = ev
		}
	}

	return found, nil
}

// seqAsOf finds the last version of ref created at or before at. Versions
// of one element are created in sequence order, so it is the one alive at
// that point.
func (s *Store) seqAsOf(txn *badger.Txn, ref model.ElementRef, at int64) (int64, bool, error) {
	prefix := layout.VersionPrefix(ref)

	it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false, Prefix: prefix})
	defer it.Close()

	var (
		found int64
		ok    bool
	)

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var seq int64

		err := it.Item().Value(func(val []byte) (err error) {
			seq, err = layout.DecodeSeq(val)
			return err
		})
		if err != nil {
			return 0, false, err
		}

		if seq > at {
			break
		}

		found, ok = seq, true
	}

	return found, ok, nil
}

// HistoryOptions restricts a history listing to the versions From..To,
// inclusive, of which at most Limit are returned. Zero values impose no
// restriction.
type HistoryOptions struct {
	From  int64
	To    int64
	Limit int
}

// GetHistory lists the versions of ref in version order. A listing cut
// short by Limit resumes with From set to one past the last version seen.
func (s *Store) GetHistory(txn *badger.Txn, ref model.ElementRef, opts HistoryOptions) ([]model.ElementVersion, error) {
	prefix := layout.VersionPrefix(ref)

	var seqs []int64

	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})

	for it.Seek(layout.VersionKey(ref.Version(max(opts.From, 1)))); it.ValidForPrefix(prefix); it.Next() {
		if opts.Limit > 0 && len(seqs) == opts.Limit {
			break
		}

		item := it.Item()

		vref, err := layout.ParseVersionKey(item.Key())
		if err != nil {
			it.Close()
			return nil, err
		}

		if opts.To > 0 && vref.Version > opts.To {
			break
		}

		var seq int64

		err = item.Value(func(val []byte) (err error) {
			seq, err = layout.DecodeSeq(val)
			return err
		})
		if err != nil {
			it.Close()
			return nil, err
		}

		seqs = append(seqs, seq)
	}

	it.Close()

	history := make([]model.ElementVersion, 0, len(seqs))

	for _, seq := range seqs {
		ev, err := getRow(txn, seq)
		if err != nil {
			return nil, err
		}

		history = append(history, ev)
	}

	return history, nil
}

// GetVersion returns one specific version.
func (s *Store) GetVersion(txn *badger.Txn, ref model.VersionedElementRef) (model.ElementVersion, error) {
	seq, ok, err := getSeq(txn, layout.VersionKey(ref))
	if err != nil {
		return model.ElementVersion{}, err
	}

	if !ok {
		return model.ElementVersion{}, &model.NotFoundError{What: ref.String()}
	}

	return getRow(txn, seq)
}

// GetBySequence returns the row with sequence id seq.
func (s *Store) GetBySequence(txn *badger.Txn, seq int64) (model.ElementVersion, error) {
	ev, err := getRow(txn, seq)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ev, &model.NotFoundError{What: fmt.Sprintf("sequence id %d", seq)}
	}

	return ev, err
}

// GetByChangeset lists the versions created in changeset id in sequence
// order, at most limit of them when limit is positive.
func (s *Store) GetByChangeset(txn *badger.Txn, id int64, limit int) ([]model.ElementVersion, error) {
	prefix := layout.EditPrefix(id)

	var seqs []int64

	it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false, Prefix: prefix})

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if limit > 0 && len(seqs) == limit {
			break
		}

		_, seq, err := layout.ParseEditKey(it.Item().Key())
		if err != nil {
			it.Close()
			return nil, err
		}

		seqs = append(seqs, seq)
	}

	it.Close()

	edits := make([]model.ElementVersion, 0, len(seqs))

	for _, seq := range seqs {
		ev, err := getRow(txn, seq)
		if err != nil {
			return nil, err
		}

		edits = append(edits, ev)
	}

	return edits, nil
}

// Parents returns the ways and relations that list any of refs as a
// member: the visible current versions, or when at is given, the versions
// in effect at that point. Results are ordered by element and capped at
// limit when positive.
func (s *Store) Parents(txn *badger.Txn, refs []model.ElementRef, at *int64, limit int) ([]model.ElementVersion, error) {
	parents := make(map[model.ElementRef]model.ElementVersion)

	for _, ref := range refs {
		seqs, err := memberOf(txn, ref)
		if err != nil {
			return nil, err
		}

		for _, seq := range seqs {
			if at != nil && seq > *at {
				continue
			}

			parent, err := getRow(txn, seq)
			if err != nil {
				return nil, err
			}

			alive := parent.IsCurrent()
			if at != nil {
				alive = parent.AliveAt(*at)
			}

			if alive && parent.Visible && parent.Ref() != ref {
				parents[parent.Ref()] = parent
			}
		}
	}

	return SortByRef(parents, limit), nil
}

// SortByRef flattens found into element order, keeping at most limit
// versions when limit is positive.
func SortByRef(found map[model.ElementRef]model.ElementVersion, limit int) []model.ElementVersion {
	out := make([]model.ElementVersion, 0, len(found))
	for _, ev := range found {
		out = append(out, ev)
	}

	slices.SortFunc(out, func(a, b model.ElementVersion) int {
		switch ar, br := a.Ref(), b.Ref(); {
		case ar.Less(br):
			return -1
		case br.Less(ar):
			return 1
		default:
			return 0
		}
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out
}

// MaxSequenceID is the highest sequence id stored.
func MaxSequenceID(txn *badger.Txn) (int64, error) {
	prefix := layout.Prefix(layout.PrefixElement)

	it := txn.NewIterator(badger.IteratorOptions{Reverse: true, Prefix: prefix})
	defer it.Close()

	// seek past every element key
	it.Seek(append(prefix, 0xff))

	if !it.ValidForPrefix(prefix) {
		return 0, nil
	}

	return layout.ParseElementKey(it.Item().Key())
}

// MaxID is the highest id of any element of type t, zero when there is
// none.
func MaxID(txn *badger.Txn, t model.ElementType) (int64, error) {
	prefix := layout.CurrentTypePrefix(t)

	it := txn.NewIterator(badger.IteratorOptions{Reverse: true, PrefetchValues: false, Prefix: prefix})
	defer it.Close()

	it.Seek(append(prefix, 0xff))

	if !it.ValidForPrefix(prefix) {
		return 0, nil
	}

	ref, err := layout.ParseCurrentKey(it.Item().Key())
	if err != nil {
		return 0, err
	}

	return ref.ID, nil
}
