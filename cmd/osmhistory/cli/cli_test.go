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
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"m4o.io/osmhistory/model"
)

func TestLoadConfig(t *testing.T) {
	test_cases := []struct {
		name     string
		yaml     string
		expected Config
		err      bool
	}{
		{
			name:     "empty",
			yaml:     "",
			expected: Config{LogLevel: "warn"},
		},
		{
			name: "full",
			yaml: `
log_level: debug
log_format: json
preload:
  format: xml
  workers: 3
  range_size: 16MiB
  compression: lz4
  work_dir: /var/tmp
  retries: 0
  postgres: postgres://localhost/osm
`,
			expected: Config{
				LogLevel:  "debug",
				LogFormat: "json",
				Preload: PreloadConfig{
					Format:      "xml",
					Workers:     3,
					RangeSize:   "16MiB",
					Compression: "lz4",
					WorkDir:     "/var/tmp",
					Retries:     new(int),
					Postgres:    "postgres://localhost/osm",
				},
			},
		},
		{
			name: "malformed",
			yaml: "preload: [",
			err:  true,
		},
	}

	for _, tc := range test_cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Config{LogLevel: "warn"}

			err := LoadConfig(strings.NewReader(tc.yaml), &c)
			if tc.err {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.expected, c)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger, err := NewLogger(&buf, "warn", "json")
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "count", 3)

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"count":3`)

	buf.Reset()

	logger, err = NewLogger(&buf, "debug", "text")
	require.NoError(t, err)
	assert.True(t, logger.Enabled(t.Context(), slog.LevelDebug))

	logger.Debug("colored")
	assert.Contains(t, buf.String(), "colored")

	_, err = NewLogger(&buf, "loud", "text")
	assert.Error(t, err)

	_, err = NewLogger(&buf, "info", "xml")
	assert.Error(t, err)
}

func TestFlagPrecedence(t *testing.T) {
	newFlags := func() *pflag.FlagSet {
		flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
		flags.String("format", "auto", "")
		flags.Int("workers", 4, "")

		return flags
	}

	flags := newFlags()
	assert.Equal(t, "auto", StringFlag(flags, "format", ""))
	assert.Equal(t, "xml", StringFlag(flags, "format", "xml"))
	assert.Equal(t, 4, IntFlag(flags, "workers", 0))
	assert.Equal(t, 2, IntFlag(flags, "workers", 2))

	flags = newFlags()
	require.NoError(t, flags.Parse([]string{"--format=pbf", "--workers=8"}))
	assert.Equal(t, "pbf", StringFlag(flags, "format", "xml"))
	assert.Equal(t, 8, IntFlag(flags, "workers", 2))
}

func TestRenderManifest(t *testing.T) {
	var buf bytes.Buffer

	RenderManifest(&buf, &model.Manifest{
		Input:          "history.osh.pbf",
		Format:         "pbf",
		CreatedAt:      time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC),
		Partitions:     3,
		Rows:           1234567,
		NodeRows:       1000000,
		WayRows:        200000,
		RelationRows:   34567,
		MemberRows:     2500000,
		Elements:       900000,
		Changesets:     4000,
		MaxSequenceID:  1234567,
		MaxChangesetID: 98765,
		Stages:         []model.StageCount{{Stage: "parse", Count: 1234568, Took: 1500 * time.Millisecond}},
	})

	assert.Equal(t, `Input: history.osh.pbf
Format: pbf
ImportedAt: 2025-03-01T12:00:00Z
Partitions: 3
Rows: 1,234,567
NodeRows: 1,000,000
WayRows: 200,000
RelationRows: 34,567
MemberRows: 2,500,000
Elements: 900,000
Changesets: 4,000
Dropped: 0
MaxSequenceID: 1234567
MaxChangesetID: 98765
Stage parse: 1,234,568 in 1.5s
`, buf.String())
}
