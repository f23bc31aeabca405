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

package preload

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"

	"m4o.io/osmhistory/internal/core"
	"m4o.io/osmhistory/internal/layout"
	"m4o.io/osmhistory/model"
)

// Sink is a destination of an import. Load writes everything without
// making it visible; Commit publishes it and Abort discards it. The
// pipeline commits only after every sink loaded successfully.
type Sink interface {
	Load(ctx context.Context, rows *Rows, m *model.Manifest) error
	Commit(ctx context.Context) error
	Abort(ctx context.Context) error
}

// BadgerSink builds a store directory. The store is written to a staging
// directory next to it and renamed into place on commit.
type BadgerSink struct {
	dir     string
	staging string
	logger  *slog.Logger
	db      *badger.DB
}

var _ Sink = (*BadgerSink)(nil)

// NewBadgerSink returns a sink creating the store at dir, which must not
// exist yet.
func NewBadgerSink(dir string, logger *slog.Logger) *BadgerSink {
	return &BadgerSink{dir: dir, staging: dir + ".staging", logger: logger}
}

func (s *BadgerSink) Load(ctx context.Context, rows *Rows, m *model.Manifest) error {
	if _, err := os.Stat(s.dir); err == nil {
		return fmt.Errorf("store %s: %w", s.dir, fs.ErrExist)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if err := os.RemoveAll(s.staging); err != nil {
		return fmt.Errorf("unable to clear %s: %w", s.staging, err)
	}

	db, err := core.OpenBadger(core.BadgerConfig{Path: s.staging, Logger: s.logger})
	if err != nil {
		return err
	}

	s.db = db

	wb := db.NewWriteBatch()

	err = rows.Each(ctx, func(row *Row) error {
		for _, e := range layout.Entries(&row.ElementVersion) {
			if err := wb.Set(e.Key, e.Value); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		wb.Cancel()
		return fmt.Errorf("unable to write element rows: %w", err)
	}

	if err := writeTrailer(wb, rows, m); err != nil {
		wb.Cancel()
		return err
	}

	if err := wb.Flush(); err != nil {
		return fmt.Errorf("unable to flush store: %w", err)
	}

	s.db = nil

	if err := db.Close(); err != nil {
		return fmt.Errorf("unable to close store: %w", err)
	}

	return m.Save(filepath.Join(s.staging, model.ManifestFileName))
}

// writeTrailer writes the changesets, the manifest and the sequences, which
// continue after the highest imported ids.
func writeTrailer(wb *badger.WriteBatch, rows *Rows, m *model.Manifest) error {
	for i := range rows.Changesets() {
		cs := &rows.Changesets()[i]
		if err := wb.Set(layout.ChangesetKey(cs.ID), layout.EncodeChangeset(cs)); err != nil {
			return fmt.Errorf("unable to write changeset %d: %w", cs.ID, err)
		}
	}

	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("could not marshal manifest: %w", err)
	}

	if err := wb.Set(layout.ManifestKey, b); err != nil {
		return err
	}

	if err := wb.Set(layout.SequenceElements, binary.BigEndian.AppendUint64(nil, uint64(m.MaxSequenceID))); err != nil {
		return err
	}

	return wb.Set(layout.SequenceChangesets, binary.BigEndian.AppendUint64(nil, uint64(m.MaxChangesetID)))
}

func (s *BadgerSink) Commit(context.Context) error {
	if err := os.Rename(s.staging, s.dir); err != nil {
		return fmt.Errorf("unable to move store into place: %w", err)
	}

	s.logger.Info("store written", "path", s.dir)

	return nil
}

func (s *BadgerSink) Abort(context.Context) error {
	if s.db != nil {
		_ = s.db.Close()
		s.db = nil
	}

	return os.RemoveAll(s.staging)
}
