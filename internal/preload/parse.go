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
	"io"
	"os"
	"path/filepath"

	"m4o.io/osmhistory/internal/decoder"
	"m4o.io/osmhistory/internal/encoder"
	"m4o.io/osmhistory/internal/osmxml"
	"m4o.io/osmhistory/model"
)

// spillHeader marks the spill files as full history PBF.
var spillHeader = model.Header{
	RequiredFeatures: []string{"OsmSchema-V0.6", "DenseNodes", model.FeatureHistoricalInformation},
	WritingProgram:   "osmhistory",
}

// Key is what the global ordering needs to know about one record.
type Key struct {
	Timestamp int64 // unix nanoseconds
	Ref       model.ElementRef
	Version   int64
}

// Spill is the parsed output of one range: its records written to a spill
// file in input order, and their keys in the same order.
type Spill struct {
	Range   Range
	Path    string
	Keys    []Key
	Dropped int64
}

type parser struct {
	src    io.ReaderAt
	format Format
	dir    string
	cfg    *options
}

// parse turns r into a spill, parsing it again up to the configured number
// of retries when it fails. A failed attempt leaves no file behind.
func (p *parser) parse(ctx context.Context, r Range) (Spill, error) {
	var err error

	for attempt := 0; attempt <= p.cfg.retries; attempt++ {
		if attempt > 0 {
			p.cfg.logger.Warn("retrying partition", "partition", r.Index, "attempt", attempt, "error", err)
		}

		var spill Spill

		spill, err = p.parseOnce(ctx, r)
		if err == nil {
			return spill, nil
		}

		if ctx.Err() != nil {
			return Spill{}, ctx.Err()
		}
	}

	return Spill{}, fmt.Errorf("unable to parse partition %d: %w", r.Index, err)
}

func (p *parser) parseOnce(ctx context.Context, r Range) (spill Spill, err error) {
	spill = Spill{Range: r, Path: filepath.Join(p.dir, fmt.Sprintf("part-%06d.pbf", r.Index))}

	f, err := os.Create(spill.Path)
	if err != nil {
		return spill, fmt.Errorf("unable to create spill file: %w", err)
	}

	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}

		if err != nil {
			_ = os.Remove(spill.Path)
		}
	}()

	w, err := encoder.NewWriter(f, spillHeader, p.cfg.compression, 1)
	if err != nil {
		return spill, err
	}

	emit := func(entities []model.Entity) {
		kept := entities[:0]

		for _, e := range entities {
			if err := check(e); err != nil {
				spill.Dropped++
				p.cfg.logger.Debug("dropping malformed record", "partition", r.Index, "error", err)

				continue
			}

			info := e.GetInfo()
			spill.Keys = append(spill.Keys, Key{Timestamp: info.Timestamp.UnixNano(), Ref: e.GetRef(), Version: info.Version})
			kept = append(kept, e)
		}

		w.Write(kept...)
	}

	if p.format == FormatXML {
		err = p.parseXML(r, &spill, emit)
	} else {
		err = p.parsePBF(ctx, r, &spill, emit)
	}

	if cerr := w.Close(); err == nil {
		err = cerr
	}

	return spill, err
}

func (p *parser) parseXML(r Range, spill *Spill, emit func([]model.Entity)) error {
	dec := osmxml.NewDecoder(io.NewSectionReader(p.src, r.Offset, r.Size), osmxml.WithFragment())

	var batch []model.Entity

	for {
		e, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return fmt.Errorf("input is not well-formed after offset %d: %w", r.Offset, err)
		}

		batch = append(batch, e)

		if len(batch) == encoder.EntityLimit {
			emit(batch)
			batch = nil
		}
	}

	emit(batch)
	spill.Dropped += dec.Dropped()

	return nil
}

// parsePBF decodes the blobs of r one at a time so that a corrupt blob
// costs only its own records.
func (p *parser) parsePBF(ctx context.Context, r Range, spill *Spill, emit func([]model.Entity)) error {
	for _, pos := range r.Blobs {
		dec, err := decoder.NewDecoder(ctx, io.NewSectionReader(p.src, pos.Offset, pos.Size),
			decoder.WithoutHeader(), decoder.WithNCpus(1), decoder.WithBatchSize(1))
		if err != nil {
			return err
		}

		for {
			entities, err := dec.Decode()
			if errors.Is(err, io.EOF) {
				break
			} else if decoder.IsMalformed(err) {
				p.cfg.logger.Warn("dropping malformed blob", "partition", r.Index, "offset", pos.Offset, "error", err)
				spill.Dropped++

				break
			} else if err != nil {
				return err
			}

			emit(entities)
		}

		spill.Dropped += dec.Dropped()
	}

	return nil
}

// check rejects records that cannot become an element row.
func check(e model.Entity) error {
	ref := e.GetRef()
	if err := ref.Validate(); err != nil {
		return err
	}

	info := e.GetInfo()

	switch {
	case info == nil:
		return fmt.Errorf("%s has no metadata", ref)
	case info.Version < 1:
		return fmt.Errorf("%s has version %d", ref, info.Version)
	case info.Changeset < 1:
		return fmt.Errorf("%s has changeset %d", ref, info.Changeset)
	case info.Timestamp.IsZero():
		return fmt.Errorf("%s has no timestamp", ref)
	}

	if n, ok := e.(*model.Node); ok && info.Visible {
		if !n.HasLocation || !(model.Point{Lat: n.Lat, Lon: n.Lon}).Valid() {
			return fmt.Errorf("%s is visible without a valid location", ref)
		}
	}

	return nil
}
