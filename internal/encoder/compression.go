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
	"strings"
)

// BlobCompression is the algorithm used to compress blob contents.
type BlobCompression int

const (
	RAW BlobCompression = iota
	ZLIB
	LZMA
	LZ4
	ZSTD
)

var compressionNames = [...]string{"raw", "zlib", "lzma", "lz4", "zstd"}

func (c BlobCompression) String() string {
	if c >= 0 && int(c) < len(compressionNames) {
		return compressionNames[c]
	}

	return fmt.Sprintf("BlobCompression(%d)", int(c))
}

// ParseBlobCompression maps a compression name to its BlobCompression.
func ParseBlobCompression(s string) (BlobCompression, error) {
	for i, name := range compressionNames {
		if strings.EqualFold(s, name) {
			return BlobCompression(i), nil
		}
	}

	return 0, fmt.Errorf("unknown compression type: %q", s)
}
