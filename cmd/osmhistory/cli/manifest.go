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

package cli

import (
	"fmt"
	"io"
	"time"

	humanize "github.com/dustin/go-humanize"

	"m4o.io/osmhistory/model"
)

// RenderManifest writes m as "Name: value" lines.
func RenderManifest(w io.Writer, m *model.Manifest) {
	fmt.Fprintf(w, "Input: %s\n", m.Input)
	fmt.Fprintf(w, "Format: %s\n", m.Format)
	fmt.Fprintf(w, "ImportedAt: %s\n", m.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "Partitions: %d\n", m.Partitions)
	fmt.Fprintf(w, "Rows: %s\n", humanize.Comma(m.Rows))
	fmt.Fprintf(w, "NodeRows: %s\n", humanize.Comma(m.NodeRows))
	fmt.Fprintf(w, "WayRows: %s\n", humanize.Comma(m.WayRows))
	fmt.Fprintf(w, "RelationRows: %s\n", humanize.Comma(m.RelationRows))
	fmt.Fprintf(w, "MemberRows: %s\n", humanize.Comma(m.MemberRows))
	fmt.Fprintf(w, "Elements: %s\n", humanize.Comma(m.Elements))
	fmt.Fprintf(w, "Changesets: %s\n", humanize.Comma(m.Changesets))
	fmt.Fprintf(w, "Dropped: %s\n", humanize.Comma(m.Dropped))
	fmt.Fprintf(w, "MaxSequenceID: %d\n", m.MaxSequenceID)
	fmt.Fprintf(w, "MaxChangesetID: %d\n", m.MaxChangesetID)

	for _, s := range m.Stages {
		fmt.Fprintf(w, "Stage %s: %s in %s\n", s.Stage, humanize.Comma(s.Count), s.Took.Round(time.Millisecond))
	}
}
