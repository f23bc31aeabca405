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

// Package osmhistory is a versioned store of OpenStreetMap elements. Every
// edit appends an immutable element version numbered by a global sequence
// id, so the map can be read as of any point in its history.
//
// Edits are submitted in changesets through Submit, which creates the new
// versions, links them to their predecessors and updates the changeset in
// one transaction. Reads see a consistent snapshot of the store.
package osmhistory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"m4o.io/osmhistory/internal/changeset"
	"m4o.io/osmhistory/internal/core"
	"m4o.io/osmhistory/internal/element"
	"m4o.io/osmhistory/internal/layout"
	"m4o.io/osmhistory/internal/query"
	"m4o.io/osmhistory/internal/resolve"
	"m4o.io/osmhistory/model"
)

// Store is a versioned OpenStreetMap element store. It is safe for
// concurrent use.
type Store struct {
	db     *badger.DB
	opts   storeOptions
	logger *slog.Logger

	ids          *element.Sequencer
	changesetIDs *element.Sequencer

	elements   *element.Store
	changesets *changeset.Aggregator
	resolver   *resolve.Resolver
	querier    *query.Querier
	metrics    *metrics
}

// Open opens the store configured by opts, creating it when missing.
func Open(opts ...Option) (*Store, error) {
	cfg := defaultStoreConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := core.OpenBadger(core.BadgerConfig{
		Path:       cfg.path,
		InMemory:   cfg.inMemory,
		SyncWrites: cfg.syncWrites,
		Logger:     cfg.logger,
	})
	if err != nil {
		return nil, err
	}

	s, err := newStore(db, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func newStore(db *badger.DB, cfg storeOptions) (*Store, error) {
	var floor int64

	err := db.View(func(txn *badger.Txn) (err error) {
		floor, err = element.MaxSequenceID(txn)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("unable to read the last sequence id: %w", err)
	}

	ids, err := element.NewSequencer(db, layout.SequenceElements, floor)
	if err != nil {
		return nil, err
	}

	changesetIDs, err := element.NewSequencer(db, layout.SequenceChangesets, 0)
	if err != nil {
		_ = ids.Close()
		return nil, err
	}

	elements := element.NewStore(cfg.elementOptions()...)

	s := &Store{
		db:           db,
		opts:         cfg,
		logger:       cfg.logger,
		ids:          ids,
		changesetIDs: changesetIDs,
		elements:     elements,
		changesets:   changeset.NewAggregator(changesetIDs, cfg.changesetSize),
		resolver:     resolve.NewResolver(elements),
		querier:      query.NewQuerier(elements, cfg.maxQueryArea),
		metrics:      newMetrics(cfg.registerer),
	}

	s.logger.Debug("store opened", "path", cfg.path, "in_memory", cfg.inMemory, "sequence_id", floor)

	return s, nil
}

// Close releases the sequences and closes the database.
func (s *Store) Close() error {
	return errors.Join(s.ids.Close(), s.changesetIDs.Close(), s.db.Close())
}

// CurrentSequenceID is the highest sequence id at or below which every
// edit has finished. A snapshot read at this point never changes.
func (s *Store) CurrentSequenceID() int64 {
	return s.ids.Watermark()
}

// Manifest returns the manifest of the bulk import the store was created
// from, or nil when it was not created by an import.
func (s *Store) Manifest() (*model.Manifest, error) {
	var m *model.Manifest

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(layout.ManifestKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		} else if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			m = &model.Manifest{}
			return json.Unmarshal(val, m)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("unable to read manifest: %w", err)
	}

	return m, nil
}

// retry runs fn until it does not lose a commit race, at most MaxRetries
// more times.
func (s *Store) retry(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}

		if attempt >= s.opts.maxRetries {
			return fmt.Errorf("%w: gave up after %d attempts: %w", model.ErrConflict, attempt+1, err)
		}

		s.metrics.retries.Inc()
		s.logger.Debug("retrying transaction", "attempt", attempt+1)

		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// update runs fn in a read-write transaction, retried on commit races.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	return s.retry(ctx, func() error {
		return s.db.Update(fn)
	})
}
