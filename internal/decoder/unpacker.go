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

package decoder

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4"
	"github.com/ulikunitz/xz/lzma"

	"m4o.io/osmhistory/internal/core"
	"m4o.io/osmhistory/internal/pb"
)

var ErrUnknownCompressionType = errors.New("unknown blob compression type")

var (
	// zlibReaders holds readers implementing zlib.Resetter. zlib cannot
	// create a reader without reading a stream header, so the pool starts
	// empty.
	zlibReaders sync.Pool

	lz4Readers = sync.Pool{
		New: func() any { return lz4.NewReader(nil) },
	}

	// zstdDecoder is shared; DecodeAll may be called concurrently.
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil)
	})
)

// unpack uncompresses the blob. The result is only valid until buf is
// reset. Corrupt compressed data is reported as ErrMalformedBlob.
//
// This method is not "buried" within the readBlob function so that decompression
// of blobs can be performed concurrently.
func unpack(buf *core.PooledBuffer, blob *pb.Blob) ([]byte, error) {
	var (
		data []byte
		err  error
	)

	switch d := blob.Data.(type) {
	case *pb.Blob_Raw:
		return d.Raw, nil
	case *pb.Blob_ZstdData:
		data, err = unzstd(buf, d.ZstdData, int(blob.RawSize))
	case *pb.Blob_ZlibData:
		data, err = unzlib(buf, d.ZlibData, blob.RawSize)
	case *pb.Blob_Lz4Data:
		lr, _ := lz4Readers.Get().(*lz4.Reader)
		defer lz4Readers.Put(lr)

		lr.Reset(bytes.NewReader(d.Lz4Data))
		data, err = readAll(buf, lr, blob.RawSize)
	case *pb.Blob_LzmaData:
		var lr *lzma.Reader
		if lr, err = lzma.NewReader(bytes.NewReader(d.LzmaData)); err == nil {
			data, err = readAll(buf, lr, blob.RawSize)
		}
	default:
		return nil, ErrUnknownCompressionType
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedBlob, err)
	}

	if len(data) != int(blob.RawSize) {
		return nil, fmt.Errorf("%w: raw blob data size %d but expected %d", ErrMalformedBlob, len(data), blob.RawSize)
	}

	return data, nil
}

func unzstd(buf *core.PooledBuffer, data []byte, rawSize int) ([]byte, error) {
	dec, err := zstdDecoder()
	if err != nil {
		return nil, err
	}

	buf.Grow(rawSize)

	return dec.DecodeAll(data, buf.AvailableBuffer())
}

func unzlib(buf *core.PooledBuffer, data []byte, rawSize int32) ([]byte, error) {
	src := bytes.NewReader(data)

	var zr io.ReadCloser

	if pooled, ok := zlibReaders.Get().(io.ReadCloser); ok {
		if err := pooled.(zlib.Resetter).Reset(src, nil); err != nil {
			return nil, err
		}

		zr = pooled
	} else {
		r, err := zlib.NewReader(src)
		if err != nil {
			return nil, err
		}

		zr = r
	}

	defer func() {
		_ = zr.Close()
		zlibReaders.Put(zr)
	}()

	return readAll(buf, zr, rawSize)
}

// readAll reads at most one byte more than rawSize from r into buf, so that
// oversized blobs are noticed.
func readAll(buf *core.PooledBuffer, r io.Reader, rawSize int32) ([]byte, error) {
	rawBufferSize := int(rawSize + bytes.MinRead)
	if rawBufferSize > buf.Cap() {
		buf.Grow(rawBufferSize)
	}

	if _, err := buf.ReadFrom(io.LimitReader(r, int64(rawSize)+1)); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
