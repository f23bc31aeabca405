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

package decoder

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"m4o.io/osmhistory/internal/encoder"
	"m4o.io/osmhistory/model"
)

var ts = time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)

func historyFixture() []model.Entity {
	return []model.Entity{
		&model.Node{
			ID:          1,
			Tags:        map[string]string{"amenity": "bench"},
			Info:        &model.Info{Version: 1, UID: 7, Timestamp: ts, Changeset: 10, User: "alice", Visible: true},
			Lat:         51.5,
			Lon:         -0.1,
			HasLocation: true,
		},
		&model.Node{
			ID:          1,
			Tags:        map[string]string{},
			Info:        &model.Info{Version: 2, UID: 8, Timestamp: ts.Add(time.Hour), Changeset: 11, User: "bob", Visible: false},
		},
		&model.Node{
			ID:          2,
			Tags:        map[string]string{},
			Info:        &model.Info{Version: 1, UID: 7, Timestamp: ts, Changeset: 10, User: "alice", Visible: true},
			Lat:         51.6,
			Lon:         -0.2,
			HasLocation: true,
		},
		&model.Way{
			ID:      5,
			Tags:    map[string]string{"highway": "residential"},
			Info:    &model.Info{Version: 1, UID: 7, Timestamp: ts, Changeset: 10, User: "alice", Visible: true},
			NodeIDs: []int64{1, 2},
		},
		&model.Relation{
			ID:   9,
			Tags: map[string]string{"type": "route"},
			Info: &model.Info{Version: 3, UID: 9, Timestamp: ts, Changeset: 12, User: "carol", Visible: true},
			Members: []model.Member{
				{ID: 5, Type: model.WAY, Role: "forward"},
				{ID: 2, Type: model.NODE, Role: "stop"},
			},
		},
	}
}

func writeFixture(t *testing.T, c encoder.BlobCompression, entities []model.Entity) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer

	hdr := model.Header{
		RequiredFeatures: []string{"OsmSchema-V0.6", model.FeatureHistoricalInformation},
		WritingProgram:   "osmhistory",
		BoundingBox:      &model.BoundingBox{Top: 52, Left: -1, Bottom: 51, Right: 0},
	}

	w, err := encoder.NewWriter(&buf, hdr, c, 2)
	require.NoError(t, err)

	w.Write(entities...)
	require.NoError(t, w.Close())

	return &buf
}

func decodeAll(t *testing.T, d *Decoder) []model.Entity {
	t.Helper()

	var all []model.Entity

	for {
		entities, err := d.Decode()
		if errors.Is(err, io.EOF) {
			return all
		}

		require.NoError(t, err)

		all = append(all, entities...)
	}
}

func TestDecodeHistoryRoundTrip(t *testing.T) {
	test_cases := []encoder.BlobCompression{
		encoder.RAW, encoder.ZLIB, encoder.LZMA, encoder.LZ4, encoder.ZSTD,
	}

	for _, c := range test_cases {
		t.Run(c.String(), func(t *testing.T) {
			buf := writeFixture(t, c, historyFixture())

			d, err := NewDecoder(context.Background(), buf, WithNCpus(2), WithBatchSize(1))
			require.NoError(t, err)

			defer d.Close()

			assert.True(t, d.Header.IsHistory())
			assert.Equal(t, "osmhistory", d.Header.WritingProgram)
			require.NotNil(t, d.Header.BoundingBox)
			assert.InDelta(t, 52.0, float64(d.Header.BoundingBox.Top), 1e-9)

			entities := decodeAll(t, d)
			require.Len(t, entities, 5)
			assert.Zero(t, d.Dropped())

			n1 := entities[0].(*model.Node)
			assert.Equal(t, int64(1), n1.ID)
			assert.Equal(t, int64(1), n1.Info.Version)
			assert.True(t, n1.HasLocation)
			assert.InDelta(t, 51.5, float64(n1.Lat), 1e-7)
			assert.InDelta(t, -0.1, float64(n1.Lon), 1e-7)
			assert.Equal(t, "bench", n1.Tags["amenity"])
			assert.Equal(t, "alice", n1.Info.User)
			assert.Equal(t, ts, n1.Info.Timestamp)

			n1v2 := entities[1].(*model.Node)
			assert.Equal(t, int64(2), n1v2.Info.Version)
			assert.False(t, n1v2.Info.Visible)
			assert.False(t, n1v2.HasLocation)
			assert.Equal(t, "bob", n1v2.Info.User)
			assert.Equal(t, int64(11), n1v2.Info.Changeset)

			assert.Equal(t, int64(2), entities[2].(*model.Node).ID)

			w := entities[3].(*model.Way)
			assert.Equal(t, []int64{1, 2}, w.NodeIDs)
			assert.Equal(t, "residential", w.Tags["highway"])

			r := entities[4].(*model.Relation)
			assert.Equal(t, int64(3), r.Info.Version)
			assert.Equal(t, historyFixture()[4].(*model.Relation).Members, r.Members)
		})
	}
}

func TestDecodeWithoutHeader(t *testing.T) {
	buf := writeFixture(t, encoder.ZSTD, historyFixture())

	_, err := LoadHeader(buf)
	require.NoError(t, err)

	d, err := NewDecoder(context.Background(), buf, WithoutHeader())
	require.NoError(t, err)

	defer d.Close()

	assert.Nil(t, d.Header.BoundingBox)
	assert.Len(t, decodeAll(t, d), 5)
}

func TestLoadHeaderRejectsData(t *testing.T) {
	buf := writeFixture(t, encoder.RAW, historyFixture())

	_, err := LoadHeader(buf)
	require.NoError(t, err)

	_, err = LoadHeader(buf)
	assert.Error(t, err)
}

func TestScanBlobs(t *testing.T) {
	entities := make([]model.Entity, 0, encoder.EntityLimit+10)
	for i := range encoder.EntityLimit + 10 {
		entities = append(entities, &model.Node{
			ID:          int64(i + 1),
			Info:        &model.Info{Version: 1, Timestamp: ts, Visible: true},
			HasLocation: true,
		})
	}

	buf := writeFixture(t, encoder.ZLIB, entities)
	data := buf.Bytes()

	positions, err := ScanBlobs(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, positions, 3)

	assert.Equal(t, OSMHeader, positions[0].Type)
	assert.Equal(t, int64(0), positions[0].Offset)
	assert.Equal(t, OSMData, positions[1].Type)

	last := positions[len(positions)-1]
	assert.Equal(t, int64(len(data)), last.Offset+last.Size)

	// decoding from a data blob boundary yields only the trailing entities
	d, err := NewDecoder(context.Background(), bytes.NewReader(data[positions[2].Offset:]), WithoutHeader())
	require.NoError(t, err)

	defer d.Close()

	assert.Len(t, decodeAll(t, d), 10)
}

func TestDecodeTruncatedStream(t *testing.T) {
	buf := writeFixture(t, encoder.RAW, historyFixture())
	data := buf.Bytes()

	d, err := NewDecoder(context.Background(), bytes.NewReader(data[:len(data)-3]))
	require.NoError(t, err)

	defer d.Close()

	for {
		_, err = d.Decode()
		if err != nil {
			break
		}
	}

	assert.NotErrorIs(t, err, io.EOF)
	assert.True(t, IsMalformed(err))
}

func TestDecodeCancelled(t *testing.T) {
	buf := writeFixture(t, encoder.RAW, historyFixture())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d, err := NewDecoder(ctx, buf)
	require.NoError(t, err)

	defer d.Close()

	_, err = d.Decode()
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDenseDropsDanglingStrings(t *testing.T) {
	c := &blockContext{strings: []string{"", "k", "v"}}
	tic := c.newTagsContext([]int32{1, 2, 0, 1, 9, 0, 0})

	tags, ok := tic.decodeTags()
	assert.True(t, ok)
	assert.Equal(t, map[string]string{"k": "v"}, tags)

	_, ok = tic.decodeTags()
	assert.False(t, ok)

	tags, ok = tic.decodeTags()
	assert.True(t, ok)
	assert.Empty(t, tags)
}
