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

// Package query answers spatial and tag queries over the element history,
// either against current versions or against a sequence point snapshot.
package query

import (
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/golang/geo/s2"

	"m4o.io/osmhistory/internal/element"
	"m4o.io/osmhistory/internal/layout"
	"m4o.io/osmhistory/model"
)

// DefaultMaxArea is the largest bounding box, in square degrees, that
// FindInBBox accepts.
const DefaultMaxArea = 0.25

// TagFilter matches elements carrying Key, with Value when it is set.
type TagFilter struct {
	Key   string
	Value *string
}

// Match reports whether tags pass the filter. A nil filter passes all.
func (f *TagFilter) Match(tags model.Tags) bool {
	if f == nil {
		return true
	}

	v, ok := tags[f.Key]
	if !ok {
		return false
	}

	return f.Value == nil || *f.Value == v
}

// BBoxQuery selects the visible elements inside BBox. Empty Types selects
// all three element types. At pins the snapshot; nil reads current
// versions. Limit caps the result when positive.
type BBoxQuery struct {
	BBox  model.BoundingBox
	Types []model.ElementType
	Tags  *TagFilter
	At    *int64
	Limit int
}

// TagQuery selects the visible elements tagged Key, or Key=Value.
type TagQuery struct {
	Key   string
	Value *string
	Types []model.ElementType
	At    *int64
	Limit int
}

// Querier runs queries through an element store.
type Querier struct {
	store   *element.Store
	maxArea float64
}

// NewQuerier returns a querier rejecting boxes larger than maxArea square
// degrees; zero or less selects DefaultMaxArea.
func NewQuerier(store *element.Store, maxArea float64) *Querier {
	if maxArea <= 0 {
		maxArea = DefaultMaxArea
	}

	return &Querier{store: store, maxArea: maxArea}
}

// FindInBBox returns the nodes inside the box, the ways with a node inside
// it and the relations listing any of those nodes or ways, in that order.
func (q *Querier) FindInBBox(txn *badger.Txn, bq BBoxQuery) ([]model.ElementVersion, error) {
	bbox := bq.BBox

	if err := bbox.Validate(); err != nil {
		return nil, err
	}

	if area := bbox.Area(); area > q.maxArea {
		return nil, &model.QueryTooLargeError{Area: area, Max: q.maxArea}
	}

	nodes, err := q.nodesIn(txn, &bbox, bq.At)
	if err != nil {
		return nil, err
	}

	nodeRefs := refsOf(nodes)

	parents, err := q.store.Parents(txn, nodeRefs, bq.At, 0)
	if err != nil {
		return nil, err
	}

	ways := ofType(parents, model.WAY)

	// relations may list the nodes directly or only through their ways
	parents, err = q.store.Parents(txn, append(nodeRefs, refsOf(ways)...), bq.At, 0)
	if err != nil {
		return nil, err
	}

	relations := ofType(parents, model.RELATION)

	var out []model.ElementVersion

	for _, group := range []struct {
		typ      model.ElementType
		elements []model.ElementVersion
	}{
		{model.NODE, nodes},
		{model.WAY, ways},
		{model.RELATION, relations},
	} {
		if !selects(bq.Types, group.typ) {
			continue
		}

		for _, ev := range group.elements {
			if bq.Limit > 0 && len(out) == bq.Limit {
				return out, nil
			}

			if bq.Tags.Match(ev.Tags) {
				out = append(out, ev)
			}
		}
	}

	return out, nil
}

// nodesIn range scans the cell index over a covering of bbox and keeps the
// visible nodes whose point lies inside it, in id order.
func (q *Querier) nodesIn(txn *badger.Txn, bbox *model.BoundingBox, at *int64) ([]model.ElementVersion, error) {
	prefix := layout.PrefixCell
	if at != nil {
		prefix = layout.PrefixCellHistory
	}

	var seqs []int64

	for _, cell := range layout.Covering(bbox) {
		found, err := scanCell(txn, prefix, cell, at)
		if err != nil {
			return nil, err
		}

		seqs = append(seqs, found...)
	}

	nodes := make(map[model.ElementRef]model.ElementVersion)

	for _, seq := range seqs {
		ev, err := q.store.GetBySequence(txn, seq)
		if err != nil {
			return nil, err
		}

		if at != nil && !ev.AliveAt(*at) {
			continue
		}

		if ev.Visible && ev.Point != nil && bbox.ContainsPoint(*ev.Point) {
			nodes[ev.Ref()] = ev
		}
	}

	return element.SortByRef(nodes, 0), nil
}

// scanCell returns the sequence ids indexed under the leaf cells of cell.
// History entries created after at are skipped.
func scanCell(txn *badger.Txn, prefix byte, cell s2.CellID, at *int64) ([]int64, error) {
	lo := layout.CellBound(prefix, cell.RangeMin())
	last := cell.RangeMax()

	it := txn.NewIterator(badger.IteratorOptions{Prefix: layout.Prefix(prefix)})
	defer it.Close()

	var seqs []int64

	for it.Seek(lo); it.Valid(); it.Next() {
		item := it.Item()

		leaf, trailer, err := layout.ParseCellKey(item.Key())
		if err != nil {
			return nil, err
		}

		if leaf > last {
			break
		}

		if prefix == layout.PrefixCellHistory {
			if *at >= trailer {
				seqs = append(seqs, trailer)
			}

			continue
		}

		err = item.Value(func(val []byte) error {
			seq, err := layout.DecodeSeq(val)
			seqs = append(seqs, seq)

			return err
		})
		if err != nil {
			return nil, err
		}
	}

	return seqs, nil
}

// FindByTag returns the visible elements tagged Key, or Key=Value when a
// value is given, in element order.
func (q *Querier) FindByTag(txn *badger.Txn, tq TagQuery) ([]model.ElementVersion, error) {
	if tq.Key == "" {
		return nil, &model.InvalidError{Reason: "tag query needs a key"}
	}

	var (
		seqs []int64
		err  error
	)

	if tq.At == nil {
		seqs, err = scanTags(txn, layout.TagPrefix(layout.PrefixTag, tq.Key, tq.Value), tq.Types, nil)
	} else {
		seqs, err = scanTags(txn, layout.TagPrefix(layout.PrefixTagHistory, tq.Key, tq.Value), tq.Types, tq.At)
	}

	if err != nil {
		return nil, err
	}

	found := make(map[model.ElementRef]model.ElementVersion)

	for _, seq := range seqs {
		ev, err := q.store.GetBySequence(txn, seq)
		if err != nil {
			return nil, err
		}

		if tq.At != nil && !ev.AliveAt(*tq.At) {
			continue
		}

		found[ev.Ref()] = ev
	}

	return element.SortByRef(found, tq.Limit), nil
}

// scanTags returns the sequence ids of the tag index entries under prefix
// whose element type is selected. With at set, prefix is a history prefix
// and entries created after at are skipped.
func scanTags(txn *badger.Txn, prefix []byte, types []model.ElementType, at *int64) ([]int64, error) {
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	defer it.Close()

	var seqs []int64

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()

		if at != nil {
			_, _, seq, err := layout.ParseTagHistoryKey(item.Key())
			if err != nil {
				return nil, err
			}

			if seq > *at {
				continue
			}

			var ref model.ElementRef

			err = item.Value(func(val []byte) (err error) {
				ref, err = layout.DecodeRef(val)
				return err
			})
			if err != nil {
				return nil, err
			}

			if selects(types, ref.Type) {
				seqs = append(seqs, seq)
			}

			continue
		}

		_, _, ref, err := layout.ParseTagKey(item.Key())
		if err != nil {
			return nil, err
		}

		if !selects(types, ref.Type) {
			continue
		}

		err = item.Value(func(val []byte) error {
			seq, err := layout.DecodeSeq(val)
			seqs = append(seqs, seq)

			return err
		})
		if err != nil {
			return nil, err
		}
	}

	return seqs, nil
}

func selects(types []model.ElementType, typ model.ElementType) bool {
	return len(types) == 0 || slices.Contains(types, typ)
}

func refsOf(elements []model.ElementVersion) []model.ElementRef {
	refs := make([]model.ElementRef, 0, len(elements))
	for _, ev := range elements {
		refs = append(refs, ev.Ref())
	}

	return refs
}

func ofType(elements []model.ElementVersion, typ model.ElementType) []model.ElementVersion {
	return slices.DeleteFunc(elements, func(ev model.ElementVersion) bool {
		return ev.Type != typ
	})
}
