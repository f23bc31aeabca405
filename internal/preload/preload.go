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

// Package preload imports a full history dump into an element store
// without going through the live edit path. The dump is cut into byte
// ranges that are parsed in parallel into spill files; a single merge
// then numbers, links and writes every record.
package preload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync/atomic"
	"time"

	"github.com/destel/rill"

	"m4o.io/osmhistory/model"
)

// Stage names, as reported to Progress and in the manifest.
const (
	StagePartition = "partition"
	StageParse     = "parse"
	StageSequence  = "sequence"
	StageLink      = "link"
	StageMerge     = "merge"
	StageLoad      = "load"
)

// Run imports the dump at path into the configured sinks and returns the
// manifest of the import. Nothing is committed unless every stage and
// every sink succeeded.
func Run(ctx context.Context, path string, opts ...Option) (*model.Manifest, error) {
	cfg := newOptions(opts)
	log := cfg.logger

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open input: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("unable to stat input: %w", err)
	}

	format := cfg.format
	if format == FormatAuto {
		if format, err = DetectFormat(f); err != nil {
			return nil, err
		}
	}

	m := &model.Manifest{Input: path, Format: format.String(), CreatedAt: time.Now().UTC()}

	timed := func(stage string, fn func() (int64, error)) error {
		start := time.Now()

		n, err := fn()
		if err != nil {
			log.Error("stage failed", "stage", stage, "error", err)
			return err
		}

		took := time.Since(start)
		m.Stages = append(m.Stages, model.StageCount{Stage: stage, Count: n, Took: took})
		log.Info("stage complete", "stage", stage, "count", n, "took", took)

		return nil
	}

	var ranges []Range

	err = timed(StagePartition, func() (int64, error) {
		if format == FormatXML {
			ranges, err = PartitionXML(f, info.Size(), cfg.rangeSize)
		} else {
			m.Header, ranges, err = PartitionPBF(f, cfg.rangeSize)
		}

		return int64(len(ranges)), err
	})
	if err != nil {
		return nil, err
	}

	m.Partitions = len(ranges)

	dir, err := os.MkdirTemp(cfg.workDir, "osmhistory-preload-")
	if err != nil {
		return nil, fmt.Errorf("unable to create work directory: %w", err)
	}
	defer os.RemoveAll(dir)

	var spills []Spill

	err = timed(StageParse, func() (int64, error) {
		spills, err = parseAll(ctx, &parser{src: f, format: format, dir: dir, cfg: &cfg}, ranges, &cfg)
		if err != nil {
			return 0, err
		}

		var n int64
		for _, s := range spills {
			n += int64(len(s.Keys))
			m.Dropped += s.Dropped
		}

		if m.Dropped > 0 {
			log.Warn("dropped malformed records", "count", m.Dropped)
		}

		return n, nil
	})
	if err != nil {
		return nil, err
	}

	var order *Order

	_ = timed(StageSequence, func() (int64, error) {
		order = Sequence(spills)
		return order.Count, nil
	})

	err = timed(StageLink, func() (int64, error) {
		return order.Elements, Link(spills, order)
	})
	if err != nil {
		return nil, err
	}

	var rows *Rows

	err = timed(StageMerge, func() (int64, error) {
		rows, err = Merge(ctx, spills, order, m)
		if err != nil {
			return 0, err
		}

		return int64(len(rows.Changesets())), nil
	})
	if err != nil {
		return nil, err
	}

	err = timed(StageLoad, func() (int64, error) {
		return int64(len(cfg.sinks)), load(ctx, cfg.sinks, rows, m, cfg.progress)
	})
	if err != nil {
		return nil, err
	}

	return m, nil
}

// parseAll parses every range on the configured number of workers. On
// failure the remaining ranges are cancelled and waited for, so no worker
// still writes to the work directory when parseAll returns.
func parseAll(ctx context.Context, p *parser, ranges []Range, cfg *options) ([]Spill, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var done atomic.Int64

	total := int64(len(ranges))
	results := rill.Map(rill.FromSlice(ranges, nil), cfg.workers, func(r Range) (Spill, error) {
		spill, err := p.parse(ctx, r)
		cfg.progress(StageParse, done.Add(1), total)

		return spill, err
	})

	var (
		spills   []Spill
		firstErr error
	)

	for res := range results {
		if res.Error != nil {
			if firstErr == nil {
				firstErr = res.Error
				cancel()
			}

			continue
		}

		spills = append(spills, res.Value)
	}

	if firstErr != nil {
		return nil, firstErr
	}

	slices.SortFunc(spills, func(a, b Spill) int {
		return a.Range.Index - b.Range.Index
	})

	return spills, nil
}

// load loads every sink and commits them once all loaded. Any failure
// aborts every sink.
func load(ctx context.Context, sinks []Sink, rows *Rows, m *model.Manifest, progress Progress) error {
	abort := func(cause error) error {
		errs := []error{cause}

		for _, s := range sinks {
			if err := s.Abort(context.WithoutCancel(ctx)); err != nil {
				errs = append(errs, fmt.Errorf("abort: %w", err))
			}
		}

		return errors.Join(errs...)
	}

	total := int64(len(sinks))

	for i, s := range sinks {
		if err := s.Load(ctx, rows, m); err != nil {
			return abort(err)
		}

		progress(StageLoad, int64(i+1), total)
	}

	for _, s := range sinks {
		if err := s.Commit(ctx); err != nil {
			return abort(err)
		}
	}

	return nil
}
