// Copyright 2017-25 the original author or authors.
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

package decoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync/atomic"

	"github.com/destel/rill"

	"m4o.io/osmhistory/internal/core"
	"m4o.io/osmhistory/internal/pb"
	"m4o.io/osmhistory/model"
)

const (
	// DefaultBatchSize is the default batch size for unprocessed blobs.
	DefaultBatchSize = 16
)

// DefaultNCpu provides the default number of CPUs.
func DefaultNCpu() int {
	return max(runtime.GOMAXPROCS(-1)-1, 1)
}

// options provides optional configuration parameters for Decoder construction.
type options struct {
	batchSize int  // number of blobs decoded by one worker at a time
	nCPU      int  // the number of CPUs to use for background processing
	header    bool // whether the stream starts with an OSMHeader blob
}

// Option configures how we set up the decoder.
type Option func(*options)

// WithBatchSize lets you set the number of blobs handed to a worker at once.
func WithBatchSize(s int) Option {
	return func(o *options) {
		o.batchSize = s
	}
}

// WithNCpus lets you set the number of CPUs to use for background processing.
func WithNCpus(n int) Option {
	return func(o *options) {
		o.nCPU = n
	}
}

// WithoutHeader decodes a stream that starts in the middle of a PBF file,
// i.e. one without a leading OSMHeader blob.
func WithoutHeader() Option {
	return func(o *options) {
		o.header = false
	}
}

// Decoder reads and decodes OpenStreetMap PBF data from an input stream.
// Entities are returned in file order.
type Decoder struct {
	Header model.Header

	ctx     context.Context
	cancel  context.CancelFunc
	blocks  <-chan rill.Try[Block]
	dropped atomic.Int64
}

// NewDecoder returns a new decoder, configured with opts, that reads from
// reader. Unless WithoutHeader is given, the decoder is initialized with the
// OSM header.
func NewDecoder(ctx context.Context, reader io.Reader, opts ...Option) (*Decoder, error) {
	cfg := options{
		batchSize: DefaultBatchSize,
		nCPU:      DefaultNCpu(),
		header:    true,
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	d := &Decoder{}

	if cfg.header {
		hdr, err := LoadHeader(reader)
		if err != nil {
			return nil, fmt.Errorf("unable to load header: %w", err)
		}

		d.Header = hdr
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	blobs := rill.FromSeq2(GenerateBlobReader(d.ctx, reader))
	batches := rill.Batch(blobs, max(cfg.batchSize, 1), -1)
	d.blocks = rill.OrderedFlatMap(batches, max(cfg.nCPU, 1), DecodeBatch)

	return d, nil
}

// Decode returns the entities of the next blob, or io.EOF once the stream
// is exhausted.
func (d *Decoder) Decode() ([]model.Entity, error) {
	for {
		blk, ok := <-d.blocks
		if !ok {
			return nil, io.EOF
		}

		if blk.Error != nil {
			d.Close()

			return nil, blk.Error
		}

		d.dropped.Add(int64(blk.Value.Dropped))

		if len(blk.Value.Entities) > 0 {
			return blk.Value.Entities, nil
		}
	}
}

// Dropped is the number of elements skipped so far because they could not
// be decoded.
func (d *Decoder) Dropped() int64 {
	return d.dropped.Load()
}

// Close will cancel the background decoding pipeline and drain it.
func (d *Decoder) Close() {
	d.cancel()

	go func() {
		for range d.blocks {
		}
	}()
}

// DecodeBatch unpacks a batch of primitive blobs and parses them into
// primitive blocks which are subsequently sent down the out channel.
func DecodeBatch(array []*pb.Blob) <-chan rill.Try[Block] {
	ch := make(chan rill.Try[Block])

	go func() {
		defer close(ch)

		buf := core.NewPooledBuffer()
		defer buf.Close()

		for _, blob := range array {
			buf.Reset()

			unpacked, err := unpack(buf, blob)
			if err != nil {
				slog.Error("unable to unpack blob", "error", err)
				ch <- rill.Try[Block]{Error: err}

				return
			}

			blk, err := parsePrimitiveBlock(unpacked)
			if err != nil {
				slog.Error("unable to parse block", "error", err)
				ch <- rill.Try[Block]{Error: err}

				return
			}

			ch <- rill.Try[Block]{Value: blk}
		}
	}()

	return ch
}

// IsMalformed reports whether err was caused by corrupt input rather than
// an I/O failure.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedBlob) || errors.Is(err, ErrUnknownCompressionType)
}
