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
	"fmt"
	"io"
	"time"

	"m4o.io/osmhistory/internal/core"
	"m4o.io/osmhistory/internal/pb"
	"m4o.io/osmhistory/model"
)

// LoadHeader reads the OSMHeader blob that starts every PBF file.
func LoadHeader(reader io.Reader) (model.Header, error) {
	h, b, err := readBlob(reader)
	if err != nil {
		return model.Header{}, err
	}

	if h.Type != OSMHeader {
		return model.Header{}, fmt.Errorf("expected header data but got %s", h.Type)
	}

	return parseHeaderBlob(b)
}

func parseHeaderBlob(b *pb.Blob) (model.Header, error) {
	buf := core.NewPooledBuffer()
	defer buf.Close()

	data, err := unpack(buf, b)
	if err != nil {
		return model.Header{}, fmt.Errorf("unable to unpack header: %w", err)
	}

	hb := &pb.HeaderBlock{}
	if err := hb.Unmarshal(data); err != nil {
		return model.Header{}, fmt.Errorf("unable to unmarshal header: %w", err)
	}

	hdr := model.Header{
		RequiredFeatures:                 hb.RequiredFeatures,
		OptionalFeatures:                 hb.OptionalFeatures,
		WritingProgram:                   hb.Writingprogram,
		Source:                           hb.Source,
		OsmosisReplicationSequenceNumber: hb.OsmosisReplicationSequenceNumber,
		OsmosisReplicationBaseURL:        hb.OsmosisReplicationBaseUrl,
	}

	if hb.OsmosisReplicationTimestamp != 0 {
		hdr.OsmosisReplicationTimestamp = time.Unix(hb.OsmosisReplicationTimestamp, 0).UTC()
	}

	if bbox := hb.Bbox; bbox != nil {
		hdr.BoundingBox = &model.BoundingBox{
			Top:    model.ToDegrees(0, 1, bbox.Top),
			Left:   model.ToDegrees(0, 1, bbox.Left),
			Bottom: model.ToDegrees(0, 1, bbox.Bottom),
			Right:  model.ToDegrees(0, 1, bbox.Right),
		}
	}

	return hdr, nil
}
