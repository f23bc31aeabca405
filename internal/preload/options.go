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
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"m4o.io/osmhistory/internal/encoder"
)

// Format of the input dump.
type Format int

const (
	// FormatAuto sniffs the first bytes of the input.
	FormatAuto Format = iota
	FormatPBF
	FormatXML
)

func (f Format) String() string {
	switch f {
	case FormatAuto:
		return "auto"
	case FormatPBF:
		return "pbf"
	case FormatXML:
		return "xml"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// ParseFormat is the inverse of Format.String.
func ParseFormat(s string) (Format, error) {
	for _, f := range []Format{FormatAuto, FormatPBF, FormatXML} {
		if f.String() == s {
			return f, nil
		}
	}

	return 0, fmt.Errorf("unknown input format %q", s)
}

const (
	// DefaultRangeSize is the target number of input bytes per partition.
	DefaultRangeSize = 64 * 1024 * 1024

	// DefaultRetries is how often a failed partition is parsed again.
	DefaultRetries = 2
)

// DefaultWorkers provides the default number of parse workers.
func DefaultWorkers() int {
	return max(runtime.GOMAXPROCS(-1)-1, 1)
}

// Progress is told how many of the items of a stage are done.
type Progress func(stage string, done, total int64)

type options struct {
	workers     int
	rangeSize   int64
	compression encoder.BlobCompression
	workDir     string
	format      Format
	retries     int
	sinks       []Sink
	logger      *slog.Logger
	progress    Progress
}

// Option configures a preload.
type Option func(*options)

// WithWorkers sets the number of partitions parsed concurrently.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithRangeSize sets the target size of a partition in bytes.
func WithRangeSize(n int64) Option {
	return func(o *options) {
		o.rangeSize = n
	}
}

// WithCompression sets the compression of the spill files.
func WithCompression(c encoder.BlobCompression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithWorkDir sets the directory the spill files are written to.
func WithWorkDir(dir string) Option {
	return func(o *options) {
		o.workDir = dir
	}
}

// WithFormat overrides the detection of the input format.
func WithFormat(f Format) Option {
	return func(o *options) {
		o.format = f
	}
}

// WithRetries sets how often a failed partition is parsed again.
func WithRetries(n int) Option {
	return func(o *options) {
		o.retries = n
	}
}

// WithSink adds a destination for the imported rows.
func WithSink(s Sink) Option {
	return func(o *options) {
		o.sinks = append(o.sinks, s)
	}
}

// WithLogger sets the logger of the pipeline.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithProgress registers a progress callback.
func WithProgress(p Progress) Option {
	return func(o *options) {
		o.progress = p
	}
}

func newOptions(opts []Option) options {
	cfg := options{
		workers:     DefaultWorkers(),
		rangeSize:   DefaultRangeSize,
		compression: encoder.ZSTD,
		workDir:     os.TempDir(),
		retries:     DefaultRetries,
		logger:      slog.Default(),
		progress:    func(string, int64, int64) {},
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	cfg.workers = max(cfg.workers, 1)
	cfg.rangeSize = max(cfg.rangeSize, 1)
	cfg.retries = max(cfg.retries, 0)

	return cfg
}
