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

package info

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"m4o.io/osmhistory"
	"m4o.io/osmhistory/cmd/osmhistory/cli"
	"m4o.io/osmhistory/internal/decoder"
	"m4o.io/osmhistory/internal/osmxml"
	"m4o.io/osmhistory/internal/preload"
	"m4o.io/osmhistory/model"
)

var out io.Writer = os.Stdout

type dumpInfo struct {
	model.Header

	Format        string `json:"format"`
	NodeCount     int64  `json:"node_count,omitempty"`
	WayCount      int64  `json:"way_count,omitempty"`
	RelationCount int64  `json:"relation_count,omitempty"`
	DeletedCount  int64  `json:"deleted_count,omitempty"`
	Dropped       int64  `json:"dropped,omitempty"`
}

type storeInfo struct {
	Path              string          `json:"path"`
	CurrentSequenceID int64           `json:"current_sequence_id"`
	Manifest          *model.Manifest `json:"manifest,omitempty"`
}

func init() {
	cli.RootCmd.AddCommand(infoCmd)

	flags := infoCmd.Flags()
	flags.BoolP("json", "j", false, "format information in JSON")
	flags.Uint16P("cpu", "c", uint16(runtime.GOMAXPROCS(-1)), "number of CPUs to use for scanning")
	flags.BoolP("extended", "e", false, "provide extended information (scans entire file)")
}

var infoCmd = &cobra.Command{
	Use:   "info [<OSM file> | <store directory>]",
	Short: "Print information about a history dump or a store",
	Long: `Print information about a history dump or a store.

A dump, PBF or XML, is read from the named file or stdin. A directory is
opened as a store and its import manifest is printed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()

		jsonfmt, err := flags.GetBool("json")
		if err != nil {
			return err
		}

		if len(args) == 1 {
			if fi, err := os.Stat(args[0]); err == nil && fi.IsDir() {
				info, err := runStoreInfo(args[0])
				if err != nil {
					return err
				}

				if jsonfmt {
					return renderJSON(info)
				}

				renderStoreTxt(info)

				return nil
			}
		}

		f := os.Stdin
		format := preload.FormatPBF

		if len(args) == 1 {
			if f, err = os.Open(args[0]); err != nil {
				return err
			}

			if format, err = preload.DetectFormat(f); err != nil {
				_ = f.Close()
				return err
			}
		}

		in, err := cli.WrapInputFile(f)
		if err != nil {
			return err
		}

		ncpu, err := flags.GetUint16("cpu")
		if err != nil {
			return err
		}

		extended, err := flags.GetBool("extended")
		if err != nil {
			return err
		}

		info, err := runInfo(cmd.Context(), in, format, int(ncpu), extended)
		if cerr := in.Close(); err == nil {
			err = cerr
		}

		if err != nil {
			return err
		}

		if jsonfmt {
			return renderJSON(info)
		}

		renderTxt(info, extended)

		return nil
	},
}

func runInfo(ctx context.Context, in io.Reader, format preload.Format, ncpu int, extended bool) (*dumpInfo, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	info := &dumpInfo{Format: format.String()}

	if format == preload.FormatXML {
		if !extended {
			return info, nil
		}

		d := osmxml.NewDecoder(in)

		for {
			e, err := d.Decode()
			if errors.Is(err, io.EOF) {
				break
			} else if err != nil {
				return nil, err
			}

			info.count(e)
		}

		info.Dropped = d.Dropped()

		return info, nil
	}

	d, err := decoder.NewDecoder(ctx, in, decoder.WithNCpus(ncpu))
	if err != nil {
		return nil, err
	}
	defer d.Close()

	info.Header = d.Header

	if !extended {
		return info, nil
	}

	for {
		entities, err := d.Decode()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, err
		}

		for _, e := range entities {
			info.count(e)
		}
	}

	info.Dropped = d.Dropped()

	return info, nil
}

func (i *dumpInfo) count(e model.Entity) {
	switch e.(type) {
	case *model.Node:
		i.NodeCount++
	case *model.Way:
		i.WayCount++
	case *model.Relation:
		i.RelationCount++
	}

	if info := e.GetInfo(); info != nil && !info.Visible {
		i.DeletedCount++
	}
}

func runStoreInfo(dir string) (*storeInfo, error) {
	s, err := osmhistory.Open(osmhistory.WithPath(dir))
	if err != nil {
		return nil, err
	}
	defer s.Close()

	m, err := s.Manifest()
	if err != nil {
		return nil, err
	}

	return &storeInfo{Path: dir, CurrentSequenceID: s.CurrentSequenceID(), Manifest: m}, nil
}

func renderJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, string(b))

	return err
}

func renderTxt(info *dumpInfo, extended bool) {
	fmt.Fprintf(out, "Format: %s\n", info.Format)

	if info.Format == preload.FormatPBF.String() {
		renderHeader(&info.Header)
	}

	if extended {
		fmt.Fprintf(out, "NodeCount: %s\n", humanize.Comma(info.NodeCount))
		fmt.Fprintf(out, "WayCount: %s\n", humanize.Comma(info.WayCount))
		fmt.Fprintf(out, "RelationCount: %s\n", humanize.Comma(info.RelationCount))
		fmt.Fprintf(out, "DeletedCount: %s\n", humanize.Comma(info.DeletedCount))
		fmt.Fprintf(out, "Dropped: %s\n", humanize.Comma(info.Dropped))
	}
}

func renderHeader(h *model.Header) {
	if h.BoundingBox != nil {
		fmt.Fprintf(out, "BoundingBox: %s\n", h.BoundingBox)
	}

	fmt.Fprintf(out, "RequiredFeatures: %s\n", strings.Join(h.RequiredFeatures, ", "))
	fmt.Fprintf(out, "OptionalFeatures: %s\n", strings.Join(h.OptionalFeatures, ", "))
	fmt.Fprintf(out, "WritingProgram: %s\n", h.WritingProgram)
	fmt.Fprintf(out, "Source: %s\n", h.Source)
	fmt.Fprintf(out, "History: %t\n", h.IsHistory())

	if !h.OsmosisReplicationTimestamp.IsZero() {
		fmt.Fprintf(out, "OsmosisReplicationTimestamp: %s\n", h.OsmosisReplicationTimestamp.UTC().Format(time.RFC3339))
		fmt.Fprintf(out, "OsmosisReplicationSequenceNumber: %d\n", h.OsmosisReplicationSequenceNumber)
		fmt.Fprintf(out, "OsmosisReplicationBaseURL: %s\n", h.OsmosisReplicationBaseURL)
	}
}

func renderStoreTxt(info *storeInfo) {
	fmt.Fprintf(out, "Path: %s\n", info.Path)
	fmt.Fprintf(out, "CurrentSequenceID: %s\n", humanize.Comma(info.CurrentSequenceID))

	if info.Manifest != nil {
		cli.RenderManifest(out, info.Manifest)
	}
}
