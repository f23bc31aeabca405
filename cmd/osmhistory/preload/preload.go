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

// Package preload is the command importing a history dump into a new
// store.
package preload

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	humanize "github.com/dustin/go-humanize"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"m4o.io/osmhistory/cmd/osmhistory/cli"
	"m4o.io/osmhistory/internal/encoder"
	pipeline "m4o.io/osmhistory/internal/preload"
	"m4o.io/osmhistory/model"
)

var out io.Writer = os.Stdout

// settings is the preload configuration once flags and the configuration
// file are merged.
type settings struct {
	format      pipeline.Format
	workers     int
	rangeSize   int64
	compression encoder.BlobCompression
	workDir     string
	retries     int
	postgres    string
	progress    bool
}

func init() {
	cli.RootCmd.AddCommand(preloadCmd)
	addFlags(preloadCmd.Flags())
}

func addFlags(flags *pflag.FlagSet) {
	flags.StringP("format", "f", pipeline.FormatAuto.String(), "input format: auto, pbf or xml")
	flags.IntP("workers", "w", pipeline.DefaultWorkers(), "number of partitions parsed concurrently")
	flags.String("range-size", humanize.IBytes(pipeline.DefaultRangeSize), "target size of a partition")
	flags.String("compression", encoder.ZSTD.String(), "compression of the spill files: raw, zlib, lzma, lz4 or zstd")
	flags.String("work-dir", os.TempDir(), "directory for the spill files")
	flags.Int("retries", pipeline.DefaultRetries, "how often a failed partition is parsed again")
	flags.String("postgres", "", "also load the rows into the PostgreSQL database at this URL")
	flags.BoolP("json", "j", false, "print the manifest in JSON")
	flags.Bool("progress", true, "show progress bars on stderr")
}

var preloadCmd = &cobra.Command{
	Use:   "preload <OSM history file> <store directory>",
	Short: "Import a full history dump into a new store",
	Long: `Import a full history dump, PBF or XML, into a new store.

The store directory must not exist yet. The dump is split into partitions
parsed in parallel; the rows are written only once every partition was
parsed and linked, so a failed import leaves nothing behind.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()

		s, err := newSettings(flags, cli.Conf.Preload)
		if err != nil {
			return err
		}

		m, err := runPreload(cmd.Context(), args[0], args[1], s, slog.Default())
		if err != nil {
			return err
		}

		if jsonfmt, _ := flags.GetBool("json"); jsonfmt {
			return renderJSON(m)
		}

		cli.RenderManifest(out, m)

		return nil
	},
}

func newSettings(flags *pflag.FlagSet, conf cli.PreloadConfig) (settings, error) {
	var (
		s   settings
		err error
	)

	if s.format, err = pipeline.ParseFormat(cli.StringFlag(flags, "format", conf.Format)); err != nil {
		return s, err
	}

	size, err := humanize.ParseBytes(cli.StringFlag(flags, "range-size", conf.RangeSize))
	if err != nil {
		return s, fmt.Errorf("invalid range size: %w", err)
	}

	if size == 0 {
		return s, fmt.Errorf("invalid range size: must not be zero")
	}

	s.rangeSize = int64(size)

	if s.compression, err = encoder.ParseBlobCompression(cli.StringFlag(flags, "compression", conf.Compression)); err != nil {
		return s, err
	}

	s.workers = cli.IntFlag(flags, "workers", conf.Workers)
	if s.workers < 1 {
		return s, fmt.Errorf("invalid number of workers: %d", s.workers)
	}

	s.retries, _ = flags.GetInt("retries")
	if !flags.Changed("retries") && conf.Retries != nil {
		s.retries = *conf.Retries
	}

	s.workDir = cli.StringFlag(flags, "work-dir", conf.WorkDir)
	s.postgres = cli.StringFlag(flags, "postgres", conf.Postgres)
	s.progress, _ = flags.GetBool("progress")

	return s, nil
}

func runPreload(ctx context.Context, input, dir string, s settings, logger *slog.Logger) (*model.Manifest, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	opts := []pipeline.Option{
		pipeline.WithFormat(s.format),
		pipeline.WithWorkers(s.workers),
		pipeline.WithRangeSize(s.rangeSize),
		pipeline.WithCompression(s.compression),
		pipeline.WithWorkDir(s.workDir),
		pipeline.WithRetries(s.retries),
		pipeline.WithLogger(logger),
		pipeline.WithSink(pipeline.NewBadgerSink(dir, logger)),
	}

	if s.postgres != "" {
		pool, err := pgxpool.New(ctx, s.postgres)
		if err != nil {
			return nil, fmt.Errorf("unable to connect to postgres: %w", err)
		}
		defer pool.Close()

		opts = append(opts, pipeline.WithSink(pipeline.NewPostgresSink(pool, logger)))
	}

	if s.progress {
		var p cli.StageProgress
		defer p.Finish()

		opts = append(opts, pipeline.WithProgress(p.Update))
	}

	return pipeline.Run(ctx, input, opts...)
}

func renderJSON(m *model.Manifest) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, string(b))

	return err
}
