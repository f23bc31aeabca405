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

package layout

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"m4o.io/osmhistory/model"
)

// ErrMalformedRow is returned for rows that cannot be decoded.
var ErrMalformedRow = errors.New("malformed row")

// element row fields
const (
	elemChangeset protowire.Number = iota + 1
	elemType
	elemID
	elemVersion
	elemVisible
	elemKeys
	elemValues
	elemLat
	elemLon
	elemMemberTypes
	elemMemberIDs
	elemMemberRoles
	elemCreatedAt
	elemNext
)

// changeset row fields
const (
	csUser protowire.Number = iota + 1
	csKeys
	csValues
	csCreatedAt
	csUpdatedAt
	csClosedAt
	csSize
	csBounds
)

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendSint(b []byte, num protowire.Number, v int64) []byte {
	return appendVarint(b, num, protowire.EncodeZigZag(v))
}

func appendStr(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendPacked(b []byte, num protowire.Number, values []uint64) []byte {
	if len(values) == 0 {
		return b
	}

	var packed []byte
	for _, v := range values {
		packed = protowire.AppendVarint(packed, v)
	}

	b = protowire.AppendTag(b, num, protowire.BytesType)

	return protowire.AppendBytes(b, packed)
}

func appendTags(b []byte, keys, values protowire.Number, tags model.Tags) []byte {
	sorted := make([]string, 0, len(tags))
	for k := range tags {
		sorted = append(sorted, k)
	}

	slices.Sort(sorted)

	for _, k := range sorted {
		b = appendStr(b, keys, k)
	}

	for _, k := range sorted {
		b = appendStr(b, values, tags[k])
	}

	return b
}

// EncodeElement encodes an element row. The sequence id is not part of the
// row; it is the key.
func EncodeElement(ev *model.ElementVersion) []byte {
	b := make([]byte, 0, 64)

	b = appendVarint(b, elemChangeset, uint64(ev.ChangesetID))
	b = appendVarint(b, elemType, uint64(ev.Type))
	b = appendVarint(b, elemID, uint64(ev.ID))
	b = appendVarint(b, elemVersion, uint64(ev.Version))
	b = appendVarint(b, elemVisible, protowire.EncodeBool(ev.Visible))
	b = appendTags(b, elemKeys, elemValues, ev.Tags)

	if ev.Point != nil {
		b = appendSint(b, elemLat, ev.Point.Lat.Nano())
		b = appendSint(b, elemLon, ev.Point.Lon.Nano())
	}

	if len(ev.Members) > 0 {
		types := make([]uint64, len(ev.Members))
		ids := make([]uint64, len(ev.Members))

		var prev int64
		for i, m := range ev.Members {
			types[i] = uint64(m.Type)
			ids[i] = protowire.EncodeZigZag(m.ID - prev)
			prev = m.ID
		}

		b = appendPacked(b, elemMemberTypes, types)
		b = appendPacked(b, elemMemberIDs, ids)

		for _, m := range ev.Members {
			b = appendStr(b, elemMemberRoles, m.Role)
		}
	}

	b = appendSint(b, elemCreatedAt, ev.CreatedAt.UnixNano())

	if ev.NextSequenceID != nil {
		b = appendVarint(b, elemNext, uint64(*ev.NextSequenceID))
	}

	return b
}

// DecodeElement decodes the element row stored under seq.
func DecodeElement(seq int64, b []byte) (model.ElementVersion, error) {
	ev := model.ElementVersion{SequenceID: seq}

	var (
		keys, values, roles []string
		types, ids          []uint64
		lat, lon            *int64
	)

	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case elemChangeset, elemType, elemID, elemVersion, elemVisible, elemNext:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 || typ != protowire.VarintType {
				return 0, errField(num)
			}

			switch num {
			case elemChangeset:
				ev.ChangesetID = int64(v)
			case elemType:
				ev.Type = model.ElementType(v)
			case elemID:
				ev.ID = int64(v)
			case elemVersion:
				ev.Version = int64(v)
			case elemVisible:
				ev.Visible = protowire.DecodeBool(v)
			case elemNext:
				next := int64(v)
				ev.NextSequenceID = &next
			}

			return n, nil
		case elemLat, elemLon, elemCreatedAt:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 || typ != protowire.VarintType {
				return 0, errField(num)
			}

			d := protowire.DecodeZigZag(v)

			switch num {
			case elemLat:
				lat = &d
			case elemLon:
				lon = &d
			case elemCreatedAt:
				ev.CreatedAt = time.Unix(0, d).UTC()
			}

			return n, nil
		case elemKeys:
			return consumeString(num, typ, b, &keys)
		case elemValues:
			return consumeString(num, typ, b, &values)
		case elemMemberRoles:
			return consumeString(num, typ, b, &roles)
		case elemMemberTypes:
			return consumePacked(num, typ, b, &types)
		case elemMemberIDs:
			return consumePacked(num, typ, b, &ids)
		default:
			return -1, nil
		}
	})
	if err != nil {
		return ev, err
	}

	if ev.Tags, err = zipTags(keys, values); err != nil {
		return ev, err
	}

	if (lat == nil) != (lon == nil) {
		return ev, fmt.Errorf("%w: partial point", ErrMalformedRow)
	} else if lat != nil {
		ev.Point = &model.Point{Lat: model.FromNano(*lat), Lon: model.FromNano(*lon)}
	}

	if len(types) != len(ids) || len(roles) != len(ids) || len(ids) > math.MaxUint16+1 {
		return ev, fmt.Errorf("%w: member columns differ in length", ErrMalformedRow)
	}

	if len(ids) > 0 {
		ev.Members = make([]model.MemberRef, len(ids))

		var id int64
		for i := range ids {
			id += protowire.DecodeZigZag(ids[i])
			ev.Members[i] = model.MemberRef{
				Order: uint16(i),
				Type:  model.ElementType(types[i]),
				ID:    id,
				Role:  roles[i],
			}
		}
	}

	return ev, nil
}

// EncodeChangeset encodes a changeset row. The id is the key.
func EncodeChangeset(cs *model.Changeset) []byte {
	b := make([]byte, 0, 64)

	b = appendVarint(b, csUser, uint64(cs.UserID))
	b = appendTags(b, csKeys, csValues, cs.Tags)
	b = appendSint(b, csCreatedAt, cs.CreatedAt.UnixNano())
	b = appendSint(b, csUpdatedAt, cs.UpdatedAt.UnixNano())

	if cs.ClosedAt != nil {
		b = appendSint(b, csClosedAt, cs.ClosedAt.UnixNano())
	}

	b = appendVarint(b, csSize, uint64(cs.Size))

	if bb := cs.Bounds; bb != nil {
		b = appendPacked(b, csBounds, []uint64{
			protowire.EncodeZigZag(bb.Top.Nano()),
			protowire.EncodeZigZag(bb.Left.Nano()),
			protowire.EncodeZigZag(bb.Bottom.Nano()),
			protowire.EncodeZigZag(bb.Right.Nano()),
		})
	}

	return b
}

// DecodeChangeset decodes the changeset row stored under id.
func DecodeChangeset(id int64, b []byte) (model.Changeset, error) {
	cs := model.Changeset{ID: id}

	var (
		keys, values []string
		bounds       []uint64
	)

	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case csUser, csSize, csCreatedAt, csUpdatedAt, csClosedAt:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 || typ != protowire.VarintType {
				return 0, errField(num)
			}

			switch num {
			case csUser:
				cs.UserID = int64(v)
			case csSize:
				cs.Size = int64(v)
			case csCreatedAt:
				cs.CreatedAt = time.Unix(0, protowire.DecodeZigZag(v)).UTC()
			case csUpdatedAt:
				cs.UpdatedAt = time.Unix(0, protowire.DecodeZigZag(v)).UTC()
			case csClosedAt:
				closed := time.Unix(0, protowire.DecodeZigZag(v)).UTC()
				cs.ClosedAt = &closed
			}

			return n, nil
		case csKeys:
			return consumeString(num, typ, b, &keys)
		case csValues:
			return consumeString(num, typ, b, &values)
		case csBounds:
			return consumePacked(num, typ, b, &bounds)
		default:
			return -1, nil
		}
	})
	if err != nil {
		return cs, err
	}

	if cs.Tags, err = zipTags(keys, values); err != nil {
		return cs, err
	}

	switch len(bounds) {
	case 0:
	case 4:
		cs.Bounds = &model.BoundingBox{
			Top:    model.FromNano(protowire.DecodeZigZag(bounds[0])),
			Left:   model.FromNano(protowire.DecodeZigZag(bounds[1])),
			Bottom: model.FromNano(protowire.DecodeZigZag(bounds[2])),
			Right:  model.FromNano(protowire.DecodeZigZag(bounds[3])),
		}
	default:
		return cs, fmt.Errorf("%w: bounds has %d values", ErrMalformedRow, len(bounds))
	}

	return cs, nil
}

func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %w", ErrMalformedRow, protowire.ParseError(n))
		}

		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}

		if m < 0 {
			if m = protowire.ConsumeFieldValue(num, typ, b); m < 0 {
				return fmt.Errorf("%w: %w", ErrMalformedRow, protowire.ParseError(m))
			}
		}

		b = b[m:]
	}

	return nil
}

func errField(num protowire.Number) error {
	return fmt.Errorf("%w: field %d", ErrMalformedRow, num)
}

func consumeString(num protowire.Number, typ protowire.Type, b []byte, dst *[]string) (int, error) {
	v, n := protowire.ConsumeString(b)
	if n < 0 || typ != protowire.BytesType {
		return 0, errField(num)
	}

	*dst = append(*dst, v)

	return n, nil
}

func consumePacked(num protowire.Number, typ protowire.Type, b []byte, dst *[]uint64) (int, error) {
	packed, n := protowire.ConsumeBytes(b)
	if n < 0 || typ != protowire.BytesType {
		return 0, errField(num)
	}

	for len(packed) > 0 {
		v, m := protowire.ConsumeVarint(packed)
		if m < 0 {
			return 0, errField(num)
		}

		*dst = append(*dst, v)
		packed = packed[m:]
	}

	return n, nil
}

func zipTags(keys, values []string) (model.Tags, error) {
	if len(keys) != len(values) {
		return nil, fmt.Errorf("%w: %d tag keys but %d values", ErrMalformedRow, len(keys), len(values))
	}

	tags := make(model.Tags, len(keys))
	for i, k := range keys {
		tags[k] = values[i]
	}

	return tags, nil
}
