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

package model_test

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"m4o.io/osmhistory/model"
)

func TestHeader_JSON(t *testing.T) {
	ts, _ := time.Parse(time.RFC3339, "2024-10-28T14:21:30-07:00")
	h := model.Header{
		BoundingBox: &model.BoundingBox{
			Top:    51.69344,
			Left:   -0.511482,
			Bottom: 51.28554,
			Right:  0.335437,
		},
		RequiredFeatures:                 []string{"OsmSchema-V0.6", "DenseNodes"},
		OptionalFeatures:                 []string{"Sort.Type_then_ID"},
		WritingProgram:                   "osmium/1.14.0",
		OsmosisReplicationTimestamp:      ts,
		OsmosisReplicationSequenceNumber: 4221,
		OsmosisReplicationBaseURL:        "http://download.geofabrik.de/europe/united-kingdom/england/greater-london-updates",
	}

	b, err := json.Marshal(h)
	assert.NoError(t, err)
	assert.Equal(t, `{"bounding_box":{"top":51.69344,"left":-0.511482,"bottom":51.28554,"right":0.335437},"required_features":["OsmSchema-V0.6","DenseNodes"],"optional_features":["Sort.Type_then_ID"],"writing_program":"osmium/1.14.0","osmosis_replication_timestamp":"2024-10-28T14:21:30-07:00","osmosis_replication_sequence_number":4221,"osmosis_replication_base_url":"http://download.geofabrik.de/europe/united-kingdom/england/greater-london-updates"}`, string(b))
}

func TestHeader_IsHistory(t *testing.T) {
	h := model.Header{RequiredFeatures: []string{"OsmSchema-V0.6", "DenseNodes"}}
	assert.False(t, h.IsHistory())

	h.RequiredFeatures = append(h.RequiredFeatures, model.FeatureHistoricalInformation)
	assert.True(t, h.IsHistory())
}

func TestManifest_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), model.ManifestFileName)
	m := &model.Manifest{
		Header: model.Header{
			BoundingBox:    &model.BoundingBox{Top: 1, Left: -1, Bottom: -1, Right: 1},
			WritingProgram: "osmhistory",
		},
		Input:         "history.osh.pbf",
		Format:        "pbf",
		CreatedAt:     time.Date(2024, 10, 28, 21, 21, 30, 0, time.UTC),
		Partitions:    3,
		Dropped:       2,
		Rows:          42,
		NodeRows:      30,
		WayRows:       10,
		RelationRows:  2,
		MemberRows:    55,
		Changesets:    7,
		MaxSequenceID: 42,
		Stages:        []model.StageCount{{Stage: "parse", Count: 44, Took: time.Second}},
	}

	require.NoError(t, m.Save(path))

	loaded, err := model.LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, m, loaded)
}
