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

package model

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"time"
)

// FeatureHistoricalInformation marks a PBF file carrying every version of
// every element.
const FeatureHistoricalInformation = "HistoricalInformation"

// Header is the contents of the OpenStreetMap PBF data file header.
type Header struct {
	BoundingBox                      *BoundingBox `json:"bounding_box,omitempty"`
	RequiredFeatures                 []string     `json:"required_features,omitempty"`
	OptionalFeatures                 []string     `json:"optional_features,omitempty"`
	WritingProgram                   string       `json:"writing_program,omitempty"`
	Source                           string       `json:"source,omitempty"`
	OsmosisReplicationTimestamp      time.Time    `json:"osmosis_replication_timestamp,omitempty"`
	OsmosisReplicationSequenceNumber int64        `json:"osmosis_replication_sequence_number,omitempty"`
	OsmosisReplicationBaseURL        string       `json:"osmosis_replication_base_url,omitempty"`
}

// IsHistory reports whether the file declares full history.
func (h *Header) IsHistory() bool {
	return slices.Contains(h.RequiredFeatures, FeatureHistoricalInformation)
}

// StageCount is the number of items a preload stage handled.
type StageCount struct {
	Stage string        `json:"stage"`
	Count int64         `json:"count"`
	Took  time.Duration `json:"took"`
}

// Manifest describes a dataset produced by a bulk import. It is written next
// to the store so that the import can be verified later.
type Manifest struct {
	Header

	Input          string       `json:"input"`
	Format         string       `json:"format"`
	CreatedAt      time.Time    `json:"created_at"`
	Partitions     int          `json:"partitions"`
	Dropped        int64        `json:"dropped"`
	Rows           int64        `json:"rows"`
	NodeRows       int64        `json:"node_rows"`
	WayRows        int64        `json:"way_rows"`
	RelationRows   int64        `json:"relation_rows"`
	MemberRows     int64        `json:"member_rows"`
	Changesets     int64        `json:"changesets"`
	Elements       int64        `json:"elements"`
	MaxSequenceID  int64        `json:"max_sequence_id"`
	MaxChangesetID int64        `json:"max_changeset_id"`
	Stages         []StageCount `json:"stages,omitempty"`
}

// ManifestFileName is the name of the manifest inside a store directory.
const ManifestFileName = "MANIFEST.json"

// Save writes the manifest as indented JSON.
func (m *Manifest) Save(path string) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal manifest: %w", err)
	}

	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("could not write manifest %s: %w", path, err)
	}

	return nil
}

// LoadManifest reads a manifest written by Save.
func LoadManifest(path string) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read manifest %s: %w", path, err)
	}

	m := &Manifest{}
	if err := json.Unmarshal(b, m); err != nil {
		return nil, fmt.Errorf("could not unmarshal manifest %s: %w", path, err)
	}

	return m, nil
}
