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

// Package pb is the wire format of OpenStreetMap PBF files
// (fileformat.proto and osmformat.proto), encoded and decoded directly with
// protowire. Repeated scalar fields are written packed and read in either
// packed or unpacked form.
package pb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// fieldFunc consumes the value of one field and returns the number of bytes
// read. Returning -1 skips the field.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

// walk calls fn for every field of the message in b.
func walk(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("malformed tag: %w", protowire.ParseError(n))
		}

		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}

		if m < 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("field %d: %w", num, protowire.ParseError(m))
			}
		}

		b = b[m:]
	}

	return nil
}

func errWireType(typ protowire.Type) error {
	return fmt.Errorf("unexpected wire type %d", typ)
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, errWireType(typ)
	}

	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}

	return v, n, nil
}

func consumeVarint(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, errWireType(typ)
	}

	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}

	return v, n, nil
}

// consumeVarints appends one or a packed run of varints to dst, converted
// with conv.
func consumeVarints[T any](typ protowire.Type, b []byte, dst *[]T, conv func(uint64) T) (int, error) {
	switch typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}

		*dst = append(*dst, conv(v))

		return n, nil
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}

		for len(packed) > 0 {
			v, m := protowire.ConsumeVarint(packed)
			if m < 0 {
				return 0, protowire.ParseError(m)
			}

			*dst = append(*dst, conv(v))
			packed = packed[m:]
		}

		return n, nil
	default:
		return 0, errWireType(typ)
	}
}

func asInt32(v uint64) int32   { return int32(v) }
func asUint32(v uint64) uint32 { return uint32(v) }
func asInt64(v uint64) int64   { return int64(v) }
func asSint32(v uint64) int32  { return int32(protowire.DecodeZigZag(v & 0xffffffff)) }
func asSint64(v uint64) int64  { return protowire.DecodeZigZag(v) }
func asBool(v uint64) bool     { return v != 0 }

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendSint64Field(b []byte, num protowire.Number, v int64) []byte {
	return appendVarintField(b, num, protowire.EncodeZigZag(v))
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// appendPacked writes values as a packed repeated field; empty slices are
// omitted.
func appendPacked[T any](b []byte, num protowire.Number, values []T, conv func(T) uint64) []byte {
	if len(values) == 0 {
		return b
	}

	var packed []byte
	for _, v := range values {
		packed = protowire.AppendVarint(packed, conv(v))
	}

	return appendBytesField(b, num, packed)
}

func fromInt32(v int32) uint64   { return uint64(int64(v)) }
func fromUint32(v uint32) uint64 { return uint64(v) }
func fromSint32(v int32) uint64  { return protowire.EncodeZigZag(int64(v)) }
func fromSint64(v int64) uint64  { return protowire.EncodeZigZag(v) }

func fromBool(v bool) uint64 {
	if v {
		return 1
	}

	return 0
}
