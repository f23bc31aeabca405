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
	"time"

	"github.com/dgraph-io/badger/v4"

	"m4o.io/osmhistory/model"
)

// view runs fn in a read-only snapshot and records its duration under
// query when query is not empty.
func (s *Store) view(query string, fn func(txn *badger.Txn) error) error {
	if query != "" {
		start := time.Now()
		defer func() {
			s.metrics.queryLatency.WithLabelValues(query).Observe(time.Since(start).Seconds())
		}()
	}

	return s.db.View(fn)
}

// GetCurrent returns the current version of each of refs that exists,
// deleted ones included.
func (s *Store) GetCurrent(refs ...model.ElementRef) (map[model.ElementRef]model.ElementVersion, error) {
	var found map[model.ElementRef]model.ElementVersion

	err := s.view("", func(txn *badger.Txn) (err error) {
		found, err = s.elements.GetCurrent(txn, refs)
		return err
	})

	return found, err
}

// GetAsOf returns the version of each of refs in effect at sequence id at.
// Elements created after at are missing from the result.
func (s *Store) GetAsOf(at int64, refs ...model.ElementRef) (map[model.ElementRef]model.ElementVersion, error) {
	var found map[model.ElementRef]model.ElementVersion

	err := s.view(QueryHistory, func(txn *badger.Txn) (err error) {
		found, err = s.elements.GetAsOf(txn, refs, at)
		return err
	})

	return found, err
}

// GetHistory lists the versions of ref in version order.
func (s *Store) GetHistory(ref model.ElementRef, opts HistoryOptions) ([]model.ElementVersion, error) {
	var history []model.ElementVersion

	err := s.view(QueryHistory, func(txn *badger.Txn) (err error) {
		history, err = s.elements.GetHistory(txn, ref, opts)
		return err
	})

	return history, err
}

// GetVersion returns one version of an element.
func (s *Store) GetVersion(ref model.VersionedElementRef) (model.ElementVersion, error) {
	var ev model.ElementVersion

	err := s.view("", func(txn *badger.Txn) (err error) {
		ev, err = s.elements.GetVersion(txn, ref)
		return err
	})

	return ev, err
}

// Parents returns the ways and relations listing any of refs as a member,
// as of at when it is given.
func (s *Store) Parents(refs []model.ElementRef, at *int64, limit int) ([]model.ElementVersion, error) {
	var parents []model.ElementVersion

	err := s.view("", func(txn *badger.Txn) (err error) {
		parents, err = s.elements.Parents(txn, refs, at, limit)
		return err
	})

	return parents, err
}

// ResolveMembers resolves the members of elements, and with RecurseWays
// the nodes of member ways, in one snapshot.
func (s *Store) ResolveMembers(elements []model.ElementVersion, opts ResolveOptions) (Resolution, error) {
	var res Resolution

	err := s.view(QueryResolve, func(txn *badger.Txn) (err error) {
		res, err = s.resolver.Resolve(txn, elements, opts)
		return err
	})

	return res, err
}

// FindInBBox returns the nodes inside q.BBox followed by the ways and
// relations referencing them.
func (s *Store) FindInBBox(q BBoxQuery) ([]model.ElementVersion, error) {
	var found []model.ElementVersion

	err := s.view(QueryBBox, func(txn *badger.Txn) (err error) {
		found, err = s.querier.FindInBBox(txn, q)
		return err
	})

	return found, err
}

// FindByTag returns the elements carrying the tag of q.
func (s *Store) FindByTag(q TagQuery) ([]model.ElementVersion, error) {
	var found []model.ElementVersion

	err := s.view(QueryTag, func(txn *badger.Txn) (err error) {
		found, err = s.querier.FindByTag(txn, q)
		return err
	})

	return found, err
}
