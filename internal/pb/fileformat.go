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

package pb

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// BlobHeader precedes every blob in a PBF file.
type BlobHeader struct {
	Type      string
	IndexData []byte
	Datasize  int32
}

func (h *BlobHeader) Marshal() []byte {
	var b []byte

	b = appendStringField(b, 1, h.Type)

	if len(h.IndexData) > 0 {
		b = appendBytesField(b, 2, h.IndexData)
	}

	return appendVarintField(b, 3, fromInt32(h.Datasize))
}

func (h *BlobHeader) Unmarshal(b []byte) error {
	*h = BlobHeader{}

	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(typ, b)
			h.Type = string(v)

			return n, err
		case 2:
			v, n, err := consumeBytes(typ, b)
			h.IndexData = append([]byte(nil), v...)

			return n, err
		case 3:
			v, n, err := consumeVarint(typ, b)
			h.Datasize = int32(v)

			return n, err
		default:
			return -1, nil
		}
	})
}

// Blob holds the, possibly compressed, contents of a header or data block.
type Blob struct {
	RawSize int32
	Data    isBlobData
}

type isBlobData interface {
	isBlobData()
}

type Blob_Raw struct{ Raw []byte }

type Blob_ZlibData struct{ ZlibData []byte }

type Blob_LzmaData struct{ LzmaData []byte }

type Blob_Lz4Data struct{ Lz4Data []byte }

type Blob_ZstdData struct{ ZstdData []byte }

func (*Blob_Raw) isBlobData()      {}
func (*Blob_ZlibData) isBlobData() {}
func (*Blob_LzmaData) isBlobData() {}
func (*Blob_Lz4Data) isBlobData()  {}
func (*Blob_ZstdData) isBlobData() {}

func (b *Blob) GetRaw() []byte {
	if d, ok := b.Data.(*Blob_Raw); ok {
		return d.Raw
	}

	return nil
}

func (b *Blob) GetZlibData() []byte {
	if d, ok := b.Data.(*Blob_ZlibData); ok {
		return d.ZlibData
	}

	return nil
}

func (b *Blob) GetLzmaData() []byte {
	if d, ok := b.Data.(*Blob_LzmaData); ok {
		return d.LzmaData
	}

	return nil
}

func (b *Blob) GetLz4Data() []byte {
	if d, ok := b.Data.(*Blob_Lz4Data); ok {
		return d.Lz4Data
	}

	return nil
}

func (b *Blob) GetZstdData() []byte {
	if d, ok := b.Data.(*Blob_ZstdData); ok {
		return d.ZstdData
	}

	return nil
}

func (b *Blob) Marshal() []byte {
	var out []byte

	switch d := b.Data.(type) {
	case *Blob_Raw:
		out = appendBytesField(out, 1, d.Raw)
	case *Blob_ZlibData:
		out = appendBytesField(out, 3, d.ZlibData)
	case *Blob_LzmaData:
		out = appendBytesField(out, 4, d.LzmaData)
	case *Blob_Lz4Data:
		out = appendBytesField(out, 6, d.Lz4Data)
	case *Blob_ZstdData:
		out = appendBytesField(out, 7, d.ZstdData)
	}

	return appendVarintField(out, 2, fromInt32(b.RawSize))
}

// Unmarshal decodes a blob. The data slices alias b.
func (b *Blob) Unmarshal(buf []byte) error {
	*b = Blob{}

	return walk(buf, func(num protowire.Number, typ protowire.Type, buf []byte) (int, error) {
		switch num {
		case 2:
			v, n, err := consumeVarint(typ, buf)
			b.RawSize = int32(v)

			return n, err
		case 1, 3, 4, 6, 7:
			v, n, err := consumeBytes(typ, buf)
			if err != nil {
				return 0, err
			}

			switch num {
			case 1:
				b.Data = &Blob_Raw{Raw: v}
			case 3:
				b.Data = &Blob_ZlibData{ZlibData: v}
			case 4:
				b.Data = &Blob_LzmaData{LzmaData: v}
			case 6:
				b.Data = &Blob_Lz4Data{Lz4Data: v}
			case 7:
				b.Data = &Blob_ZstdData{ZstdData: v}
			}

			return n, nil
		default:
			return -1, nil
		}
	})
}
