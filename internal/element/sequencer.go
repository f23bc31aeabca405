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
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// DefaultBandwidth is the number of sequence ids leased from badger at a
// time.
const DefaultBandwidth = 1000

// Sequencer hands out strictly increasing sequence ids and tracks which of
// them belong to transactions that have not finished yet.
type Sequencer struct {
	seq *badger.Sequence

	mu       sync.Mutex
	last     int64
	inflight map[int64]struct{}
}

// NewSequencer leases ids stored under key. floor is the highest id already
// in use; ids handed out are always above it.
func NewSequencer(db *badger.DB, key []byte, floor int64) (*Sequencer, error) {
	seq, err := db.GetSequence(key, DefaultBandwidth)
	if err != nil {
		return nil, fmt.Errorf("unable to lease sequence %q: %w", key, err)
	}

	return &Sequencer{
		seq:      seq,
		last:     floor,
		inflight: make(map[int64]struct{}),
	}, nil
}

// Allocation collects the ids handed out to one transaction.
type Allocation struct {
	s   *Sequencer
	ids []int64
}

// Begin starts a new allocation. Release must be called once the
// transaction has committed or been discarded.
func (s *Sequencer) Begin() *Allocation {
	return &Allocation{s: s}
}

// Next returns the next sequence id.
func (a *Allocation) Next() (int64, error) {
	s := a.s

	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		v, err := s.seq.Next()
		if err != nil {
			return 0, fmt.Errorf("unable to allocate sequence id: %w", err)
		}

		// badger sequences start at zero
		id := int64(v) + 1
		if id <= s.last {
			continue
		}

		s.last = id
		s.inflight[id] = struct{}{}
		a.ids = append(a.ids, id)

		return id, nil
	}
}

// Release marks every id of the allocation as finished.
func (a *Allocation) Release() {
	s := a.s

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range a.ids {
		delete(s.inflight, id)
	}

	a.ids = nil
}

// Watermark is the highest sequence id at or below which every id handed
// out belongs to a finished transaction. A snapshot read at the watermark
// never changes afterwards.
func (s *Sequencer) Watermark() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.last
	for id := range s.inflight {
		if id <= w {
			w = id - 1
		}
	}

	return w
}

// Close returns unused leased ids to badger.
func (s *Sequencer) Close() error {
	return s.seq.Release()
}
