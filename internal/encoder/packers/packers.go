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

// Package packers compresses the contents of a blob, one whole message at a
// time, and stores the result in the matching field of a pb.Blob. Packers
// are safe for concurrent use; their writers are pooled.
package packers

import (
	"bytes"
	"io"

	"m4o.io/osmhistory/internal/core"
	"m4o.io/osmhistory/internal/pb"
)

// Packer compresses raw into blob. raw must not be modified afterwards.
type Packer func(blob *pb.Blob, raw []byte) error

// Raw stores raw uncompressed.
func Raw(blob *pb.Blob, raw []byte) error {
	blob.Data = &pb.Blob_Raw{Raw: raw}
	return nil
}

// compress writes raw through the writer created by open into a pooled
// buffer and returns a copy of the compressed bytes.
func compress(raw []byte, open func(w io.Writer) (io.WriteCloser, error)) ([]byte, error) {
	buf := core.NewPooledBuffer()
	defer buf.Close()

	w, err := open(buf)
	if err != nil {
		return nil, err
	}

	if _, err := w.Write(raw); err != nil {
		return nil, err
	}

	if err := w.Close(); err != nil {
		return nil, err
	}

	return bytes.Clone(buf.Bytes()), nil
}
