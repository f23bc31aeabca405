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
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"m4o.io/osmhistory/internal/core"
	"m4o.io/osmhistory/internal/pb"
)

// Blob types.
const (
	OSMHeader = "OSMHeader"
	OSMData   = "OSMData"
)

const (
	maxBlobHeaderSize = 64 * 1024
	maxBlobSize       = 32 * 1024 * 1024
)

// ErrMalformedBlob is returned for blobs whose framing is corrupt.
var ErrMalformedBlob = errors.New("malformed blob")

// Position locates one blob inside a PBF file.
type Position struct {
	Type   string
	Offset int64
	Size   int64
}

// GenerateBlobReader creates an iterator that returns the OSMData blobs read
// off of the reader. Any other blob type is skipped.
func GenerateBlobReader(ctx context.Context, reader io.Reader) iter.Seq2[*pb.Blob, error] {
	return func(yield func(enc *pb.Blob, err error) bool) {
		for {
			select {
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			default:
			}

			h, blob, err := readBlob(reader)
			if err != nil {
				if !errors.Is(err, io.EOF) {
					slog.Error("unable to read blob", "error", err)
					yield(nil, err)
				}

				return
			}

			if h.Type != OSMData {
				continue
			}

			if !yield(blob, nil) {
				return
			}
		}
	}
}

// ScanBlobs reads only the blob headers of a PBF stream and returns the
// position of every blob. The data of each blob is skipped.
func ScanBlobs(rdr io.ReadSeeker) ([]Position, error) {
	var (
		positions []Position
		offset    int64
	)

	for {
		h, n, err := readBlobHeader(rdr)
		if errors.Is(err, io.EOF) {
			return positions, nil
		} else if err != nil {
			return nil, fmt.Errorf("error scanning blob at offset %d: %w", offset, err)
		}

		if _, err := rdr.Seek(int64(h.Datasize), io.SeekCurrent); err != nil {
			return nil, fmt.Errorf("error skipping blob at offset %d: %w", offset, err)
		}

		size := n + int64(h.Datasize)
		positions = append(positions, Position{Type: h.Type, Offset: offset, Size: size})
		offset += size
	}
}

// readBlob reads a PBF blob from the rdr.
func readBlob(rdr io.Reader) (*pb.BlobHeader, *pb.Blob, error) {
	h, _, err := readBlobHeader(rdr)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, err
		}

		return nil, nil, fmt.Errorf("error reading blob header: %w", err)
	}

	b, err := readBlobData(rdr, int64(h.Datasize))
	if err != nil {
		return nil, nil, fmt.Errorf("error reading blob: %w", err)
	}

	return h, b, nil
}

// readBlobHeader unmarshals a header from an array of protobuf encoded bytes.
// The header is used when decoding blobs into OSM elements. It also returns
// the number of bytes consumed. A clean end of stream is reported as io.EOF.
func readBlobHeader(rdr io.Reader) (header *pb.BlobHeader, n int64, err error) {
	buf := core.NewPooledBuffer()
	defer buf.Close()

	var size uint32

	err = binary.Read(rdr, binary.BigEndian, &size)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, 0, fmt.Errorf("%w: truncated header size", ErrMalformedBlob)
		}

		return nil, 0, err
	}

	if size > maxBlobHeaderSize {
		return nil, 0, fmt.Errorf("%w: header size %d exceeds %d", ErrMalformedBlob, size, maxBlobHeaderSize)
	}

	if m, err := io.CopyN(buf, rdr, int64(size)); err != nil {
		return nil, 0, fmt.Errorf("%w: expected %d header bytes, got %d", ErrMalformedBlob, size, m)
	}

	header = &pb.BlobHeader{}

	if err := header.Unmarshal(buf.Bytes()); err != nil {
		return nil, 0, fmt.Errorf("error unmarshalling blob header: %w", err)
	}

	if header.Datasize < 0 || header.Datasize > maxBlobSize {
		return nil, 0, fmt.Errorf("%w: blob size %d out of range", ErrMalformedBlob, header.Datasize)
	}

	return header, 4 + int64(size), nil
}

// readBlobData unmarshals a blob from an array of protobuf encoded bytes.  The
// blob still needs to be decoded into OSM elements. The blob keeps a
// reference to the bytes read, so they are not pooled.
func readBlobData(rdr io.Reader, size int64) (*pb.Blob, error) {
	data := make([]byte, size)

	if _, err := io.ReadFull(rdr, data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedBlob, err)
	}

	blob := &pb.Blob{}

	if err := blob.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("error unmarshalling blob: %w", err)
	}

	return blob, nil
}
