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

package packers

import (
	"compress/zlib"
	"io"
	"sync"

	"m4o.io/osmhistory/internal/pb"
)

var zlibWriters = sync.Pool{
	New: func() any { return zlib.NewWriter(io.Discard) },
}

// Zlib stores raw deflated with zlib framing, the compression every PBF
// reader understands.
func Zlib(blob *pb.Blob, raw []byte) error {
	zw, _ := zlibWriters.Get().(*zlib.Writer)
	defer zlibWriters.Put(zw)

	data, err := compress(raw, func(w io.Writer) (io.WriteCloser, error) {
		zw.Reset(w)
		return zw, nil
	})
	if err != nil {
		return err
	}

	blob.Data = &pb.Blob_ZlibData{ZlibData: data}

	return nil
}
