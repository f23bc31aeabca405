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
	"bytes"
	"errors"
	"fmt"
	"io"

	"m4o.io/osmhistory/internal/decoder"
	"m4o.io/osmhistory/internal/osmxml"
	"m4o.io/osmhistory/model"
)

// Source is a random access input dump.
type Source interface {
	io.ReaderAt
	io.ReadSeeker
}

// Range is one partition of the input, aligned to record boundaries.
type Range struct {
	Index  int
	Offset int64
	Size   int64

	// Blobs are the data blobs of a PBF partition.
	Blobs []decoder.Position
}

// DetectFormat tells an XML dump from a PBF one by its first bytes.
func DetectFormat(r io.ReaderAt) (Format, error) {
	buf := make([]byte, 512)

	n, err := r.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return FormatAuto, fmt.Errorf("unable to read input: %w", err)
	}

	b := bytes.TrimLeft(bytes.TrimPrefix(buf[:n], []byte("\xef\xbb\xbf")), " \t\r\n")
	if len(b) > 0 && b[0] == '<' {
		return FormatXML, nil
	}

	return FormatPBF, nil
}

// PartitionPBF groups the data blobs of a PBF file into ranges of about
// rangeSize bytes and reads its header.
func PartitionPBF(src Source, rangeSize int64) (model.Header, []Range, error) {
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return model.Header{}, nil, err
	}

	positions, err := decoder.ScanBlobs(src)
	if err != nil {
		return model.Header{}, nil, err
	}

	var (
		hdr    model.Header
		ranges []Range
		cur    *Range
	)

	for _, pos := range positions {
		if pos.Type == decoder.OSMHeader {
			hdr, err = decoder.LoadHeader(io.NewSectionReader(src, pos.Offset, pos.Size))
			if err != nil {
				return hdr, nil, fmt.Errorf("unable to load header: %w", err)
			}

			continue
		}

		if pos.Type != decoder.OSMData {
			continue
		}

		if cur == nil || cur.Size >= rangeSize {
			ranges = append(ranges, Range{Index: len(ranges), Offset: pos.Offset})
			cur = &ranges[len(ranges)-1]
		}

		cur.Blobs = append(cur.Blobs, pos)
		cur.Size = pos.Offset + pos.Size - cur.Offset
	}

	return hdr, ranges, nil
}

// PartitionXML cuts an XML dump of size bytes into ranges of about
// rangeSize bytes, each starting at a node, way or relation.
func PartitionXML(r io.ReaderAt, size, rangeSize int64) ([]Range, error) {
	start, err := osmxml.NextRecord(r, 0, size)
	if err != nil {
		return nil, err
	}

	if start >= size {
		return nil, nil
	}

	bounds := []int64{start}

	for cut := start + rangeSize; cut < size; {
		next, err := osmxml.NextRecord(r, cut, size)
		if err != nil {
			return nil, err
		}

		if next >= size {
			break
		}

		bounds = append(bounds, next)
		cut = next + rangeSize
	}

	bounds = append(bounds, size)

	ranges := make([]Range, 0, len(bounds)-1)
	for i := range len(bounds) - 1 {
		ranges = append(ranges, Range{Index: i, Offset: bounds[i], Size: bounds[i+1] - bounds[i]})
	}

	return ranges, nil
}
