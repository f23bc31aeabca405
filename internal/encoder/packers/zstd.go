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
	"sync"

	"github.com/klauspost/compress/zstd"

	"m4o.io/osmhistory/internal/pb"
)

// zstdEncoder is shared; EncodeAll may be called concurrently.
var zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
	return zstd.NewWriter(nil)
})

func Zstd(blob *pb.Blob, raw []byte) error {
	enc, err := zstdEncoder()
	if err != nil {
		return err
	}

	blob.Data = &pb.Blob_ZstdData{ZstdData: enc.EncodeAll(raw, make([]byte, 0, len(raw)/2))}

	return nil
}
