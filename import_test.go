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

package osmhistory_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"m4o.io/osmhistory"
	"m4o.io/osmhistory/internal/preload"
	"m4o.io/osmhistory/model"
)

var discard = slog.New(slog.DiscardHandler)

const dump = `<osm version="0.6">
  <node id="1" version="1" changeset="3" timestamp="2019-06-01T10:00:00Z" uid="5" user="ann" lat="10" lon="20"/>
  <node id="2" version="1" changeset="3" timestamp="2019-06-01T10:00:00Z" uid="5" user="ann" lat="10.001" lon="20.001"/>
  <way id="1" version="1" changeset="3" timestamp="2019-06-01T10:00:01Z" uid="5" user="ann">
    <nd ref="1"/>
    <nd ref="2"/>
  </way>
  <node id="1" version="2" changeset="4" timestamp="2019-06-02T10:00:00Z" uid="6" user="ben" lat="10.0005" lon="20"/>
</osm>
`

func TestOpenImportedStore(t *testing.T) {
	input := filepath.Join(t.TempDir(), "dump.osm")
	require.NoError(t, os.WriteFile(input, []byte(dump), 0o644))

	dir := filepath.Join(t.TempDir(), "store")

	_, err := preload.Run(context.Background(), input,
		preload.WithWorkDir(t.TempDir()),
		preload.WithLogger(discard),
		preload.WithSink(preload.NewBadgerSink(dir, discard)))
	require.NoError(t, err)

	s, err := osmhistory.Open(osmhistory.WithPath(dir), osmhistory.WithLogger(discard))
	require.NoError(t, err)

	defer s.Close()

	m, err := s.Manifest()
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, int64(4), m.Rows)
	assert.Equal(t, int64(4), s.CurrentSequenceID())

	ctx := context.Background()

	cs, err := s.OpenChangeset(ctx, 7, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), cs.ID)

	base := int64(2)
	created, err := s.Submit(ctx, cs.ID, osmhistory.Edit{
		Ref: model.NodeRef(1), Visible: true, Point: &model.Point{Lat: 10, Lon: 20}, BaseVersion: &base,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), created[0].Version)
	assert.Equal(t, int64(5), created[0].SequenceID)

	_, err = s.Submit(ctx, cs.ID, osmhistory.Edit{Ref: model.NodeRef(2)})
	assert.ErrorIs(t, err, model.ErrReferential)

	history, err := s.GetHistory(model.NodeRef(1), osmhistory.HistoryOptions{})
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, int64(4), *history[0].NextSequenceID)
	assert.Equal(t, int64(5), *history[1].NextSequenceID)
}
