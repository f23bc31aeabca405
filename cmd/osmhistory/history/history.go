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

// Package history is the command listing the versions of an element.
package history

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"m4o.io/osmhistory"
	"m4o.io/osmhistory/cmd/osmhistory/cli"
	"m4o.io/osmhistory/model"
)

var out io.Writer = os.Stdout

func init() {
	cli.RootCmd.AddCommand(historyCmd)

	flags := historyCmd.Flags()
	flags.BoolP("json", "j", false, "print the versions in JSON, one per line")
	flags.Int64("from", 0, "first version to list")
	flags.Int64("to", 0, "last version to list")
	flags.IntP("limit", "l", 0, "list at most this many versions")
	flags.Int64("at", 0, "only print the version in effect at this sequence id")
}

var historyCmd = &cobra.Command{
	Use:   "history <store directory> <element>",
	Short: "List the versions of an element",
	Long: `List the versions of an element, e.g. n123 or way/42, oldest first.

With --at only the version in effect at the given sequence id is printed.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, err := model.ParseElementRef(args[1])
		if err != nil {
			return err
		}

		flags := cmd.Flags()

		var opts osmhistory.HistoryOptions

		opts.From, _ = flags.GetInt64("from")
		opts.To, _ = flags.GetInt64("to")
		opts.Limit, _ = flags.GetInt("limit")
		at, _ := flags.GetInt64("at")
		jsonfmt, _ := flags.GetBool("json")

		s, err := osmhistory.Open(osmhistory.WithPath(args[0]), osmhistory.WithLogger(slog.Default()))
		if err != nil {
			return err
		}
		defer s.Close()

		versions, err := lookup(s, ref, at, opts)
		if err != nil {
			return err
		}

		if jsonfmt {
			return renderJSON(versions)
		}

		renderTxt(versions)

		return nil
	},
}

func lookup(s *osmhistory.Store, ref model.ElementRef, at int64, opts osmhistory.HistoryOptions) ([]model.ElementVersion, error) {
	if at <= 0 {
		return s.GetHistory(ref, opts)
	}

	found, err := s.GetAsOf(at, ref)
	if err != nil {
		return nil, err
	}

	ev, ok := found[ref]
	if !ok {
		return nil, &model.NotFoundError{What: fmt.Sprintf("%s at sequence id %d", ref, at)}
	}

	return []model.ElementVersion{ev}, nil
}

func renderJSON(versions []model.ElementVersion) error {
	enc := json.NewEncoder(out)

	for i := range versions {
		if err := enc.Encode(&versions[i]); err != nil {
			return err
		}
	}

	return nil
}

func renderTxt(versions []model.ElementVersion) {
	for i := range versions {
		fmt.Fprintln(out, line(&versions[i]))
	}
}

func line(ev *model.ElementVersion) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s seq=%d changeset=%d %s", ev.VersionedRef(), ev.SequenceID, ev.ChangesetID,
		ev.CreatedAt.UTC().Format(time.RFC3339))

	if !ev.Visible {
		b.WriteString(" deleted")
		return b.String()
	}

	if ev.Point != nil {
		fmt.Fprintf(&b, " %s", ev.Point)
	}

	if len(ev.Members) > 0 {
		members := make([]string, len(ev.Members))
		for i, m := range ev.Members {
			members[i] = m.Ref().String()
			if m.Role != "" {
				members[i] += "@" + m.Role
			}
		}

		fmt.Fprintf(&b, " [%s]", strings.Join(members, " "))
	}

	for _, k := range slices.Sorted(maps.Keys(ev.Tags)) {
		fmt.Fprintf(&b, " %s=%s", k, ev.Tags[k])
	}

	return b.String()
}
