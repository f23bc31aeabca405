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
	"fmt"

	"m4o.io/osmhistory/internal/encoder/packers"
	"m4o.io/osmhistory/internal/pb"
)

// Marshaler is a wire message that can be stored in a blob.
type Marshaler interface {
	Marshal() []byte
}

var packerOf = [...]packers.Packer{
	RAW:  packers.Raw,
	ZLIB: packers.Zlib,
	LZMA: packers.Lzma,
	LZ4:  packers.Lz4,
	ZSTD: packers.Zstd,
}

// Pack marshals and compresses the message into a marshaled blob.
func Pack(msg Marshaler, c BlobCompression) ([]byte, error) {
	if c < 0 || int(c) >= len(packerOf) {
		return nil, fmt.Errorf("unknown compression type: %v", c)
	}

	b := msg.Marshal()

	blob := &pb.Blob{
		RawSize: int32(len(b)),
	}

	if err := packerOf[c](blob, b); err != nil {
		return nil, fmt.Errorf("could not compress message: %w", err)
	}

	return blob.Marshal(), nil
}
