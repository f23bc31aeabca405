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

package encoder

import (
	"fmt"
	"io"
	"reflect"
	"sync"

	"github.com/destel/rill"

	"m4o.io/osmhistory/internal/pb"
	"m4o.io/osmhistory/model"
)

// Coalesce groups consecutive entities of the same type into batches of at
// most size entities. Unlike a type partitioned batching, the input order is
// kept, which the preload relies on to address records by position.
func Coalesce(in <-chan []model.Entity, size int) <-chan rill.Try[[]model.Entity] {
	out := make(chan rill.Try[[]model.Entity])

	go func() {
		defer close(out)

		var (
			batch []model.Entity
			kind  reflect.Type
		)

		flush := func() {
			if len(batch) > 0 {
				out <- rill.Wrap(batch, nil)
				batch = nil
			}
		}

		for entities := range in {
			for _, e := range entities {
				if t := reflect.TypeOf(e); t != kind || len(batch) == size {
					flush()
					kind = t
				}

				batch = append(batch, e)
			}
		}

		flush()
	}()

	return out
}

// SavePacked writes every packed block to w, reporting one status per block.
func SavePacked(w io.Writer, ch <-chan rill.Try[[]byte]) <-chan rill.Try[struct{}] {
	out := make(chan rill.Try[struct{}])

	go func() {
		defer close(out)

		for buf := range ch {
			out <- rill.Wrap(struct{}{}, SaveBlock(w, buf))
		}
	}()

	return out
}

// SaveBlock writes a packed OSMData blob.
func SaveBlock(w io.Writer, bb rill.Try[[]byte]) error {
	if bb.Error != nil {
		return bb.Error
	}

	_, err := WriteBlob(w, OSMData, bb.Value)

	return err
}

func GenerateBatchPacker(c BlobCompression) func(block *pb.PrimitiveBlock) ([]byte, error) {
	return func(block *pb.PrimitiveBlock) ([]byte, error) {
		return Pack(block, c)
	}
}

// Writer encodes entities into a PBF stream in the order they are written.
type Writer struct {
	entities chan []model.Entity

	err   error
	close sync.Once
	done  chan struct{}
}

// NewWriter writes the header to w and starts the background encoding
// pipeline using up to n concurrent encoders.
func NewWriter(w io.Writer, hdr model.Header, c BlobCompression, n int) (*Writer, error) {
	if err := SaveHeader(w, hdr, c); err != nil {
		return nil, err
	}

	n = max(n, 1)
	entities := make(chan []model.Entity, n)

	coalesced := Coalesce(entities, EntityLimit)
	encoded := rill.OrderedMap(coalesced, n, EncodeBatch)
	packed := rill.OrderedMap(encoded, n, GenerateBatchPacker(c))
	statuses := SavePacked(w, packed)

	wr := &Writer{
		entities: entities,
		done:     make(chan struct{}),
	}

	go wr.consumeStatuses(statuses)

	return wr, nil
}

// Write queues entities for encoding.
func (w *Writer) Write(entities ...model.Entity) {
	if len(entities) > 0 {
		w.entities <- entities
	}
}

// Close flushes the pipeline and returns the first error it encountered.
func (w *Writer) Close() error {
	w.close.Do(func() {
		close(w.entities)
	})

	<-w.done

	return w.err
}

func (w *Writer) consumeStatuses(statuses <-chan rill.Try[struct{}]) {
	defer close(w.done)

	for status := range statuses {
		if status.Error != nil && w.err == nil {
			w.err = fmt.Errorf("could not write block: %w", status.Error)
		}
	}
}
