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
	"github.com/dgraph-io/badger/v4"

	"m4o.io/osmhistory/model"
)

// EditBounds is the geographic footprint of an edit: the point of a node,
// or the points of the nodes a way or relation lists, including the nodes
// of member ways. The footprint of the version it replaces is included, so
// a moved node covers both locations and a way covers the nodes it dropped.
// Nil means the edit has no known location.
func (s *Store) EditBounds(txn *badger.Txn, ev *model.ElementVersion, prev *model.ElementVersion) (*model.BoundingBox, error) {
	var bounds *model.BoundingBox

	for _, v := range []*model.ElementVersion{ev, prev} {
		if v == nil || !v.Visible {
			continue
		}

		bb, err := s.footprint(txn, v)
		if err != nil {
			return nil, err
		}

		bounds = model.Union(bounds, bb)
	}

	return bounds, nil
}

// footprint measures ev against the current versions of its nodes.
func (s *Store) footprint(txn *badger.Txn, ev *model.ElementVersion) (*model.BoundingBox, error) {
	if ev.Point != nil {
		return model.PointBoundingBox(*ev.Point), nil
	}

	var nodes, ways []model.ElementRef

	for _, m := range ev.Members {
		switch m.Type {
		case model.NODE:
			nodes = append(nodes, m.Ref())
		case model.WAY:
			ways = append(ways, m.Ref())
		}
	}

	if len(ways) > 0 {
		found, err := s.GetCurrent(txn, ways)
		if err != nil {
			return nil, err
		}

		for _, w := range found {
			for _, m := range w.Members {
				nodes = append(nodes, m.Ref())
			}
		}
	}

	if len(nodes) == 0 {
		return nil, nil
	}

	found, err := s.GetCurrent(txn, nodes)
	if err != nil {
		return nil, err
	}

	var bounds *model.BoundingBox

	for _, n := range found {
		if n.Point != nil {
			bounds = model.Union(bounds, model.PointBoundingBox(*n.Point))
		}
	}

	return bounds, nil
}
