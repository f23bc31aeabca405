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
	"fmt"
	"slices"

	"m4o.io/osmhistory/model"
)

// Order is the global order of the parsed records.
type Order struct {
	// Seqs holds the sequence id of every record by partition and index.
	Seqs [][]int64

	// Next maps a sequence id to the id of the version that superseded
	// it, or zero for current versions. Set by Link.
	Next []int64

	// Count is the number of records, and so the highest sequence id.
	Count int64

	// Elements is the number of distinct elements. Set by Link.
	Elements int64
}

// Sequence numbers the records 1..N by timestamp. Records with the same
// timestamp keep their input order, i.e. partition then index, so the
// numbering only depends on the input.
func Sequence(spills []Spill) *Order {
	type entry struct {
		ts        int64
		part, idx int32
	}

	o := &Order{Seqs: make([][]int64, len(spills))}

	var total int
	for p, s := range spills {
		o.Seqs[p] = make([]int64, len(s.Keys))
		total += len(s.Keys)
	}

	entries := make([]entry, 0, total)

	for p, s := range spills {
		for i, k := range s.Keys {
			entries = append(entries, entry{ts: k.Timestamp, part: int32(p), idx: int32(i)})
		}
	}

	slices.SortStableFunc(entries, func(a, b entry) int {
		return cmp.Compare(a.ts, b.ts)
	})

	for i, e := range entries {
		o.Seqs[e.part][e.idx] = int64(i + 1)
	}

	o.Count = int64(total)

	return o
}

// Link walks every element's records in sequence order, checks that their
// versions run 1, 2, 3... without gaps or duplicates and links each version
// to its successor. A broken chain fails the whole import.
func Link(spills []Spill, o *Order) error {
	bySeq := make([]*Key, o.Count+1)

	for p, s := range spills {
		for i := range s.Keys {
			bySeq[o.Seqs[p][i]] = &s.Keys[i]
		}
	}

	type tail struct {
		version int64
		seq     int64
	}

	chains := make(map[model.ElementRef]tail)
	o.Next = make([]int64, o.Count+1)

	for seq := int64(1); seq <= o.Count; seq++ {
		k := bySeq[seq]
		last, ok := chains[k.Ref]

		var reason string

		switch {
		case !ok && k.Version != 1:
			reason = fmt.Sprintf("history starts at version %d", k.Version)
		case ok && k.Version == last.version:
			reason = fmt.Sprintf("duplicate version %d", k.Version)
		case ok && k.Version < last.version:
			reason = fmt.Sprintf("version %d is newer than version %d", last.version, k.Version)
		case ok && k.Version > last.version+1:
			reason = fmt.Sprintf("versions %d to %d are missing", last.version+1, k.Version-1)
		}

		if reason != "" {
			return &model.ImportInconsistencyError{Ref: k.Ref, Reason: reason}
		}

		if ok {
			o.Next[last.seq] = seq
		}

		chains[k.Ref] = tail{version: k.Version, seq: seq}
	}

	o.Elements = int64(len(chains))

	return nil
}
