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
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"m4o.io/osmhistory/model"
)

// PostgresSchema creates the tables loaded by PostgresSink.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS changeset (
	id         bigint PRIMARY KEY,
	user_id    bigint,
	tags       jsonb NOT NULL,
	created_at timestamptz NOT NULL,
	updated_at timestamptz NOT NULL,
	closed_at  timestamptz,
	size       bigint NOT NULL,
	min_lat    double precision,
	min_lon    double precision,
	max_lat    double precision,
	max_lon    double precision
);

CREATE TABLE IF NOT EXISTS element (
	sequence_id      bigint PRIMARY KEY,
	changeset_id     bigint NOT NULL,
	type             text NOT NULL,
	id               bigint NOT NULL,
	version          bigint NOT NULL,
	visible          boolean NOT NULL,
	tags             jsonb NOT NULL,
	lat              double precision,
	lon              double precision,
	created_at       timestamptz NOT NULL,
	next_sequence_id bigint
);

CREATE TABLE IF NOT EXISTS element_member (
	sequence_id bigint NOT NULL,
	"order"     smallint NOT NULL,
	type        text NOT NULL,
	id          bigint NOT NULL,
	role        text NOT NULL,
	PRIMARY KEY (sequence_id, "order")
);
`

var (
	elementColumns   = []string{"sequence_id", "changeset_id", "type", "id", "version", "visible", "tags", "lat", "lon", "created_at", "next_sequence_id"}
	memberColumns    = []string{"sequence_id", "order", "type", "id", "role"}
	changesetColumns = []string{"id", "user_id", "tags", "created_at", "updated_at", "closed_at", "size", "min_lat", "min_lon", "max_lat", "max_lon"}
)

// PostgresSink copies the import into the element, element_member and
// changeset tables inside a single transaction. The tables must be empty.
type PostgresSink struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	tx     pgx.Tx
}

var _ Sink = (*PostgresSink)(nil)

func NewPostgresSink(pool *pgxpool.Pool, logger *slog.Logger) *PostgresSink {
	return &PostgresSink{pool: pool, logger: logger}
}

func (s *PostgresSink) Load(ctx context.Context, rows *Rows, _ *model.Manifest) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	s.tx = tx

	if _, err := tx.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	var populated bool
	if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM element)").Scan(&populated); err != nil {
		return fmt.Errorf("inspect element table: %w", err)
	}

	if populated {
		return errors.New("element table is not empty")
	}

	n, err := copyRows(ctx, tx, "element", elementColumns, rows, elementValues)
	if err != nil {
		return fmt.Errorf("copy elements: %w", err)
	}

	s.logger.Info("copied rows", "table", "element", "rows", n)

	n, err = copyRows(ctx, tx, "element_member", memberColumns, rows, memberValues)
	if err != nil {
		return fmt.Errorf("copy members: %w", err)
	}

	s.logger.Info("copied rows", "table", "element_member", "rows", n)

	changesets := rows.Changesets()

	n, err = tx.CopyFrom(ctx, pgx.Identifier{"changeset"}, changesetColumns,
		pgx.CopyFromSlice(len(changesets), func(i int) ([]any, error) {
			return changesetValues(&changesets[i]), nil
		}))
	if err != nil {
		return fmt.Errorf("copy changesets: %w", err)
	}

	s.logger.Info("copied rows", "table", "changeset", "rows", n)

	return nil
}

// copyRows streams one pass over rows into table. Every row yields the
// values of zero or more table rows.
func copyRows(ctx context.Context, tx pgx.Tx, table string, columns []string, rows *Rows,
	values func(row *Row) [][]any,
) (int64, error) {
	g, ctx := errgroup.WithContext(ctx)
	ch := make(chan []any, 1024)

	g.Go(func() error {
		defer close(ch)

		return rows.Each(ctx, func(row *Row) error {
			for _, v := range values(row) {
				select {
				case ch <- v:
				case <-ctx.Done():
					return ctx.Err()
				}
			}

			return nil
		})
	})

	var copied int64

	g.Go(func() error {
		var err error

		copied, err = tx.CopyFrom(ctx, pgx.Identifier{table}, columns, &chanSource{ctx: ctx, ch: ch})

		return err
	})

	return copied, g.Wait()
}

// chanSource is a pgx.CopyFromSource reading row values from ch until it
// is closed.
type chanSource struct {
	ctx    context.Context
	ch     <-chan []any
	values []any
}

func (c *chanSource) Next() bool {
	v, ok := <-c.ch
	c.values = v

	return ok
}

func (c *chanSource) Values() ([]any, error) {
	return c.values, nil
}

// Err is non-nil once the producer has been cancelled.
func (c *chanSource) Err() error {
	return c.ctx.Err()
}

func elementValues(row *Row) [][]any {
	var lat, lon *float64

	if p := row.Point; p != nil {
		la, lo := float64(p.Lat), float64(p.Lon)
		lat, lon = &la, &lo
	}

	tags := row.Tags
	if tags == nil {
		tags = model.Tags{}
	}

	return [][]any{{
		row.SequenceID, row.ChangesetID, row.Type.String(), row.ID, row.Version, row.Visible,
		map[string]string(tags), lat, lon, row.CreatedAt, row.NextSequenceID,
	}}
}

func memberValues(row *Row) [][]any {
	if !row.Visible {
		return nil
	}

	values := make([][]any, 0, len(row.Members))
	for _, m := range row.Members {
		values = append(values, []any{row.SequenceID, int16(m.Order), m.Type.String(), m.ID, m.Role})
	}

	return values
}

func changesetValues(cs *model.Changeset) []any {
	var minLat, minLon, maxLat, maxLon *float64

	if bb := cs.Bounds; bb != nil {
		b, l, t, r := float64(bb.Bottom), float64(bb.Left), float64(bb.Top), float64(bb.Right)
		minLat, minLon, maxLat, maxLon = &b, &l, &t, &r
	}

	return []any{
		cs.ID, cs.UserID, map[string]string(cs.Tags), cs.CreatedAt, cs.UpdatedAt, cs.ClosedAt, cs.Size,
		minLat, minLon, maxLat, maxLon,
	}
}

func (s *PostgresSink) Commit(ctx context.Context) error {
	if s.tx == nil {
		return errors.New("nothing loaded")
	}

	if err := s.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}

	s.tx = nil

	return nil
}

func (s *PostgresSink) Abort(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}

	err := s.tx.Rollback(ctx)
	s.tx = nil

	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}

	return err
}
