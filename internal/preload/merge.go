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
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"golang.org/x/sync/errgroup"

	"m4o.io/osmhistory/internal/decoder"
	"m4o.io/osmhistory/model"
)

// prefetch is the number of decoded spill batches read ahead of the writer.
const prefetch = 8

// Row is one imported element version together with its author.
type Row struct {
	model.ElementVersion

	UserID int64
	User   string
}

// Rows is the merged import: every parsed record as an element row with
// its sequence ids, and the changesets derived from them. Rows can be read
// any number of times; every read goes back to the spill files.
type Rows struct {
	spills     []Spill
	order      *Order
	changesets []model.Changeset
}

// Changesets returns the derived changesets in id order.
func (r *Rows) Changesets() []model.Changeset {
	return r.changesets
}

// Count is the number of rows.
func (r *Rows) Count() int64 {
	return r.order.Count
}

type batch struct {
	part     int
	entities []model.Entity
}

// Each calls fn for every row, partition by partition in input order. A
// background reader decodes the spill files ahead of fn.
func (r *Rows) Each(ctx context.Context, fn func(row *Row) error) error {
	g, ctx := errgroup.WithContext(ctx)
	batches := make(chan batch, prefetch)

	g.Go(func() error {
		for p, s := range r.spills {
			if err := readSpill(ctx, p, s.Path, batches); err != nil {
				return err
			}
		}

		// a failed reader leaves batches open, the writer stops on ctx
		close(batches)

		return nil
	})

	g.Go(func() error {
		part, idx := -1, 0

		var n int64

		for {
			var (
				b  batch
				ok bool
			)

			select {
			case b, ok = <-batches:
			case <-ctx.Done():
				return ctx.Err()
			}

			if !ok {
				break
			}

			if b.part != part {
				part, idx = b.part, 0
			}

			seqs := r.order.Seqs[b.part]

			for _, e := range b.entities {
				if idx >= len(seqs) {
					return fmt.Errorf("spill file %s holds more records than were parsed", r.spills[b.part].Path)
				}

				row := toRow(e, seqs[idx], r.order.Next[seqs[idx]])
				if err := fn(&row); err != nil {
					return err
				}

				idx++
				n++
			}
		}

		if n != r.order.Count {
			return fmt.Errorf("spill files hold %d records but %d were parsed", n, r.order.Count)
		}

		return nil
	})

	return g.Wait()
}

func readSpill(ctx context.Context, part int, path string, out chan<- batch) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("unable to open spill file: %w", err)
	}
	defer f.Close()

	dec, err := decoder.NewDecoder(ctx, f)
	if err != nil {
		return fmt.Errorf("unable to read spill file %s: %w", path, err)
	}

	for {
		entities, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return fmt.Errorf("unable to read spill file %s: %w", path, err)
		}

		select {
		case out <- batch{part: part, entities: entities}:
		case <-ctx.Done():
			dec.Close()
			return ctx.Err()
		}
	}
}

func toRow(e model.Entity, seq, next int64) Row {
	row := Row{ElementVersion: model.ToElementVersion(e)}
	row.SequenceID = seq

	if next != 0 {
		row.NextSequenceID = &next
	}

	if info := e.GetInfo(); info != nil {
		row.UserID = int64(info.UID)
		row.User = info.User
	}

	return row
}

// Merge reads the linked spills once to derive the changesets and fills in
// the row counts of m.
func Merge(ctx context.Context, spills []Spill, order *Order, m *model.Manifest) (*Rows, error) {
	rows := &Rows{spills: spills, order: order}
	found := make(map[int64]*model.Changeset)

	err := rows.Each(ctx, func(row *Row) error {
		switch row.Type {
		case model.NODE:
			m.NodeRows++
		case model.WAY:
			m.WayRows++
		case model.RELATION:
			m.RelationRows++
		}

		if row.Visible {
			m.MemberRows += int64(len(row.Members))
		}

		accumulate(found, row)

		return nil
	})
	if err != nil {
		return nil, err
	}

	rows.changesets = make([]model.Changeset, 0, len(found))
	for _, cs := range found {
		rows.changesets = append(rows.changesets, *cs)
	}

	slices.SortFunc(rows.changesets, func(a, b model.Changeset) int {
		return cmp.Compare(a.ID, b.ID)
	})

	m.Rows = order.Count
	m.Elements = order.Elements
	m.MaxSequenceID = order.Count
	m.Changesets = int64(len(rows.changesets))

	if n := len(rows.changesets); n > 0 {
		m.MaxChangesetID = rows.changesets[n-1].ID
	}

	return rows, nil
}

// accumulate accounts for row in its changeset. Imported changesets are
// closed at their last edit, belong to the author of their first record and
// are bounded by the points of their node versions.
func accumulate(found map[int64]*model.Changeset, row *Row) {
	cs, ok := found[row.ChangesetID]
	if !ok {
		closed := row.CreatedAt
		cs = &model.Changeset{
			ID:        row.ChangesetID,
			UserID:    row.UserID,
			Tags:      model.Tags{},
			CreatedAt: row.CreatedAt,
			ClosedAt:  &closed,
		}
		found[row.ChangesetID] = cs
	}

	cs.Size++

	if row.CreatedAt.Before(cs.CreatedAt) {
		cs.CreatedAt = row.CreatedAt
	}

	if row.CreatedAt.After(*cs.ClosedAt) {
		*cs.ClosedAt = row.CreatedAt
	}

	cs.UpdatedAt = *cs.ClosedAt

	if row.Point != nil {
		cs.Bounds = model.Union(cs.Bounds, model.PointBoundingBox(*row.Point))
	}
}
