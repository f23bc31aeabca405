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
	"sync"

	"github.com/pierrec/lz4"

	"m4o.io/osmhistory/internal/pb"
)

var lz4Writers = sync.Pool{
	New: func() any { return lz4.NewWriter(io.Discard) },
}

func Lz4(blob *pb.Blob, raw []byte) error {
	lw, _ := lz4Writers.Get().(*lz4.Writer)
	defer lz4Writers.Put(lw)

	data, err := compress(raw, func(w io.Writer) (io.WriteCloser, error) {
		lw.Reset(w)
		return lw, nil
	})
	if err != nil {
		return err
	}

	blob.Data = &pb.Blob_Lz4Data{Lz4Data: data}

	return nil
}
