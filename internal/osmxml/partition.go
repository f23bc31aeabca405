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

package osmxml

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// lookahead is the window searched for the next element start.
const lookahead = 1024 * 1024

var recordStarts = [][]byte{[]byte("<node "), []byte("<way "), []byte("<relation ")}

// NextRecord returns the offset of the first node, way or relation start
// tag at or after off, or size when there is none.
func NextRecord(r io.ReaderAt, off, size int64) (int64, error) {
	buf := make([]byte, lookahead)

	// consecutive windows overlap so that a start tag split across them is
	// still found
	overlap := int64(len("<relation "))

	for off < size {
		n, err := r.ReadAt(buf[:min(int64(len(buf)), size-off)], off)
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("unable to read at offset %d: %w", off, err)
		}

		if i := firstRecordStart(buf[:n]); i >= 0 {
			return off + int64(i), nil
		}

		if off+int64(n) >= size || n == 0 {
			break
		}

		off += max(int64(n)-overlap, 1)
	}

	return size, nil
}

func firstRecordStart(b []byte) int {
	first := -1

	for _, start := range recordStarts {
		if i := bytes.Index(b, start); i >= 0 && (first < 0 || i < first) {
			first = i
		}
	}

	return first
}
