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
	"io"

	"github.com/ulikunitz/xz/lzma"

	"m4o.io/osmhistory/internal/pb"
)

// Lzma stores raw compressed with LZMA. Its writers cannot be reset, so
// every call sets up a new one.
func Lzma(blob *pb.Blob, raw []byte) error {
	data, err := compress(raw, func(w io.Writer) (io.WriteCloser, error) {
		return lzma.NewWriter(w)
	})
	if err != nil {
		return err
	}

	blob.Data = &pb.Blob_LzmaData{LzmaData: data}

	return nil
}
