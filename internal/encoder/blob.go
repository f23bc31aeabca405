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

package encoder

import (
	"encoding/binary"
	"fmt"
	"io"

	"m4o.io/osmhistory/internal/pb"
)

// Blob types.
const (
	OSMHeader = "OSMHeader"
	OSMData   = "OSMData"
)

// maxBlobHeaderSize and maxBlobSize are the limits set by the PBF format.
const (
	MaxBlobHeaderSize = 64 * 1024
	MaxBlobSize       = 32 * 1024 * 1024
)

// WriteBlob writes a packed blob, bb, preceded by its blob header to the
// wrtr. It returns the number of bytes written.
func WriteBlob(wrtr io.Writer, typ string, bb []byte) (int64, error) {
	if len(bb) > MaxBlobSize {
		return 0, fmt.Errorf("blob of %d bytes exceeds the maximum of %d", len(bb), MaxBlobSize)
	}

	hdr := &pb.BlobHeader{
		Type:     typ,
		Datasize: int32(len(bb)),
	}

	hb := hdr.Marshal()

	if err := binary.Write(wrtr, binary.BigEndian, uint32(len(hb))); err != nil {
		return 0, fmt.Errorf("could not write header size: %w", err)
	}

	if _, err := wrtr.Write(hb); err != nil {
		return 0, fmt.Errorf("could not write blob header: %w", err)
	}

	if _, err := wrtr.Write(bb); err != nil {
		return 0, fmt.Errorf("could not write blob data: %w", err)
	}

	return int64(4 + len(hb) + len(bb)), nil
}

// writeBlob packs a message, msg, into a PBF blob and writes its blob header
// and blob data to the wrtr.
func writeBlob(wrtr io.Writer, typ string, msg Marshaler, c BlobCompression) error {
	bb, err := Pack(msg, c)
	if err != nil {
		return fmt.Errorf("could not marshal blob data: %w", err)
	}

	_, err = WriteBlob(wrtr, typ, bb)

	return err
}
