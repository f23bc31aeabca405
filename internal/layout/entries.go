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

package layout

import (
	"m4o.io/osmhistory/model"
)

// Entry is one key/value pair of the store.
type Entry struct {
	Key   []byte
	Value []byte
}

// Entries returns the row of ev and every index entry pointing at it,
// its place among the edits of its changeset included. The entries of
// current versions, i.e. the current pointer and the current cell and tag
// entries, are only included while ev is current.
func Entries(ev *model.ElementVersion) []Entry {
	seqValue := EncodeSeq(ev.SequenceID)
	current := ev.IsCurrent()

	entries := []Entry{
		{ElementKey(ev.SequenceID), EncodeElement(ev)},
		{VersionKey(ev.VersionedRef()), seqValue},
		{EditKey(ev.ChangesetID, ev.SequenceID), EncodeRef(ev.Ref())},
	}

	if current {
		entries = append(entries, Entry{CurrentKey(ev.Ref()), seqValue})
	}

	if !ev.Visible {
		return entries
	}

	for _, m := range ev.Members {
		entries = append(entries, Entry{MemberKey(m.Ref(), ev.SequenceID, m.Order), []byte(m.Role)})
	}

	if ev.Point != nil {
		cell := CellOf(*ev.Point)
		entries = append(entries, Entry{CellHistoryKey(cell, ev.SequenceID), EncodeRef(ev.Ref())})

		if current {
			entries = append(entries, Entry{CellKey(cell, ev.ID), seqValue})
		}
	}

	for k, v := range ev.Tags {
		entries = append(entries, Entry{TagHistoryKey(k, v, ev.SequenceID), EncodeRef(ev.Ref())})

		if current {
			entries = append(entries, Entry{TagKey(k, v, ev.Ref()), seqValue})
		}
	}

	return entries
}
