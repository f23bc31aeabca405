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

// Package layout is the persisted form of the element history: the key
// space shared by the live store and the bulk import, and the encoding of
// the rows stored under those keys.
//
// Every integer in a key is big-endian so that byte order equals numeric
// order. Element types take one byte.
package layout

import (
	"encoding/binary"
	"fmt"

	"github.com/golang/geo/s2"

	"m4o.io/osmhistory/model"
)

// Key prefixes.
const (
	PrefixElement      byte = 'e' // seq -> element row
	PrefixVersion      byte = 'v' // type,id,version -> seq
	PrefixCurrent      byte = 'c' // type,id -> seq
	PrefixMember       byte = 'm' // member type,member id,parent seq,order -> role
	PrefixCell         byte = 'p' // cell,id -> seq of visible current nodes
	PrefixCellHistory  byte = 'q' // cell,seq -> id of every visible node version
	PrefixTag          byte = 't' // key,value,type,id -> seq of visible current elements
	PrefixTagHistory   byte = 'u' // key,value,seq -> type,id of every visible version
	PrefixChangeset    byte = 's' // id -> changeset row
	PrefixOpen         byte = 'o' // id -> nothing, open changesets
	PrefixEmpty        byte = 'z' // id -> nothing, closed changesets without edits
	PrefixEdit         byte = 'k' // changeset id,seq -> type,id of every version
	PrefixSequence     byte = '!' // name -> badger sequence
	PrefixMeta         byte = '#' // name -> value
)

// Well known keys.
var (
	SequenceElements   = SequenceKey("seq")
	SequenceChangesets = SequenceKey("changeset")
	ManifestKey        = MetaKey("manifest")
)

func appendUint64(b []byte, v int64) []byte {
	return binary.BigEndian.AppendUint64(b, uint64(v))
}

func appendRef(b []byte, ref model.ElementRef) []byte {
	return appendUint64(append(b, byte(ref.Type)), ref.ID)
}

func appendString(b []byte, s string) []byte {
	return append(binary.BigEndian.AppendUint16(b, uint16(len(s))), s...)
}

func key(prefix byte, size int) []byte {
	return append(make([]byte, 0, size+1), prefix)
}

// ElementKey addresses the element row with sequence id seq.
func ElementKey(seq int64) []byte {
	return appendUint64(key(PrefixElement, 8), seq)
}

// ParseElementKey is the inverse of ElementKey.
func ParseElementKey(k []byte) (int64, error) {
	if len(k) != 9 || k[0] != PrefixElement {
		return 0, fmt.Errorf("malformed element key %x", k)
	}

	return int64(binary.BigEndian.Uint64(k[1:])), nil
}

// VersionKey indexes the version of an element.
func VersionKey(ref model.VersionedElementRef) []byte {
	return appendUint64(appendRef(key(PrefixVersion, 17), ref.ElementRef), ref.Version)
}

// VersionPrefix is the common prefix of every version of ref.
func VersionPrefix(ref model.ElementRef) []byte {
	return appendRef(key(PrefixVersion, 9), ref)
}

// ParseVersionKey returns the version encoded in a VersionKey.
func ParseVersionKey(k []byte) (model.VersionedElementRef, error) {
	if len(k) != 18 || k[0] != PrefixVersion {
		return model.VersionedElementRef{}, fmt.Errorf("malformed version key %x", k)
	}

	return model.VersionedElementRef{
		ElementRef: parseRef(k[1:]),
		Version:    int64(binary.BigEndian.Uint64(k[10:])),
	}, nil
}

// CurrentKey points at the current version of ref.
func CurrentKey(ref model.ElementRef) []byte {
	return appendRef(key(PrefixCurrent, 9), ref)
}

// ParseCurrentKey is the inverse of CurrentKey.
func ParseCurrentKey(k []byte) (model.ElementRef, error) {
	if len(k) != 10 || k[0] != PrefixCurrent {
		return model.ElementRef{}, fmt.Errorf("malformed current key %x", k)
	}

	return parseRef(k[1:]), nil
}

// MemberKey records that the row parentSeq lists member at position order.
func MemberKey(member model.ElementRef, parentSeq int64, order uint16) []byte {
	k := appendUint64(appendRef(key(PrefixMember, 19), member), parentSeq)

	return binary.BigEndian.AppendUint16(k, order)
}

// MemberPrefix is the common prefix of every row that lists member.
func MemberPrefix(member model.ElementRef) []byte {
	return appendRef(key(PrefixMember, 9), member)
}

// ParseMemberKey returns the parent sequence id and member position.
func ParseMemberKey(k []byte) (parentSeq int64, order uint16, err error) {
	if len(k) != 20 || k[0] != PrefixMember {
		return 0, 0, fmt.Errorf("malformed member key %x", k)
	}

	return int64(binary.BigEndian.Uint64(k[10:])), binary.BigEndian.Uint16(k[18:]), nil
}

// CellKey places the current version of node id in its leaf cell.
func CellKey(cell s2.CellID, id int64) []byte {
	return appendUint64(binary.BigEndian.AppendUint64(key(PrefixCell, 16), uint64(cell)), id)
}

// CellHistoryKey places the node version seq in its leaf cell.
func CellHistoryKey(cell s2.CellID, seq int64) []byte {
	return appendUint64(binary.BigEndian.AppendUint64(key(PrefixCellHistory, 16), uint64(cell)), seq)
}

// CellBound is the smallest key of prefix at or inside cell.
func CellBound(prefix byte, cell s2.CellID) []byte {
	return binary.BigEndian.AppendUint64(key(prefix, 8), uint64(cell))
}

// ParseCellKey splits a CellKey or CellHistoryKey into its cell and the
// trailing id or sequence id.
func ParseCellKey(k []byte) (s2.CellID, int64, error) {
	if len(k) != 17 || (k[0] != PrefixCell && k[0] != PrefixCellHistory) {
		return 0, 0, fmt.Errorf("malformed cell key %x", k)
	}

	return s2.CellID(binary.BigEndian.Uint64(k[1:])), int64(binary.BigEndian.Uint64(k[9:])), nil
}

// TagPrefix is the common prefix of the tag index entries for key, and for
// value too when one is given.
func TagPrefix(prefix byte, k string, v *string) []byte {
	b := appendString(key(prefix, 2+len(k)), k)
	if v != nil {
		b = appendString(b, *v)
	}

	return b
}

// TagKey indexes the current version of ref under the tag k=v.
func TagKey(k, v string, ref model.ElementRef) []byte {
	return appendRef(TagPrefix(PrefixTag, k, &v), ref)
}

// TagHistoryKey indexes the version seq under the tag k=v.
func TagHistoryKey(k, v string, seq int64) []byte {
	return appendUint64(TagPrefix(PrefixTagHistory, k, &v), seq)
}

// ParseTagKey returns the tag and the element of a TagKey.
func ParseTagKey(b []byte) (k, v string, ref model.ElementRef, err error) {
	k, v, rest, err := parseTag(b, PrefixTag)
	if err != nil {
		return "", "", model.ElementRef{}, err
	}

	if len(rest) != 9 {
		return "", "", model.ElementRef{}, fmt.Errorf("malformed tag key %x", b)
	}

	return k, v, parseRef(rest), nil
}

// ParseTagHistoryKey returns the tag and the sequence id of a TagHistoryKey.
func ParseTagHistoryKey(b []byte) (k, v string, seq int64, err error) {
	k, v, rest, err := parseTag(b, PrefixTagHistory)
	if err != nil {
		return "", "", 0, err
	}

	if len(rest) != 8 {
		return "", "", 0, fmt.Errorf("malformed tag history key %x", b)
	}

	return k, v, int64(binary.BigEndian.Uint64(rest)), nil
}

func parseTag(b []byte, prefix byte) (k, v string, rest []byte, err error) {
	if len(b) < 1 || b[0] != prefix {
		return "", "", nil, fmt.Errorf("malformed tag key %x", b)
	}

	rest = b[1:]

	k, rest, ok := parseString(rest)
	if !ok {
		return "", "", nil, fmt.Errorf("malformed tag key %x", b)
	}

	v, rest, ok = parseString(rest)
	if !ok {
		return "", "", nil, fmt.Errorf("malformed tag key %x", b)
	}

	return k, v, rest, nil
}

func parseString(b []byte) (string, []byte, bool) {
	if len(b) < 2 {
		return "", nil, false
	}

	n := int(binary.BigEndian.Uint16(b))
	if len(b) < 2+n {
		return "", nil, false
	}

	return string(b[2 : 2+n]), b[2+n:], true
}

// ChangesetKey addresses the changeset row id.
func ChangesetKey(id int64) []byte {
	return appendUint64(key(PrefixChangeset, 8), id)
}

// OpenKey marks changeset id as open.
func OpenKey(id int64) []byte {
	return appendUint64(key(PrefixOpen, 8), id)
}

// EmptyKey marks changeset id as closed without edits.
func EmptyKey(id int64) []byte {
	return appendUint64(key(PrefixEmpty, 8), id)
}

// EditKey lists the version seq among the edits of changeset id.
func EditKey(id, seq int64) []byte {
	return appendUint64(appendUint64(key(PrefixEdit, 16), id), seq)
}

// EditPrefix is the common prefix of the edits of changeset id.
func EditPrefix(id int64) []byte {
	return appendUint64(key(PrefixEdit, 8), id)
}

// ParseEditKey returns the changeset id and sequence id of an EditKey.
func ParseEditKey(k []byte) (id, seq int64, err error) {
	if len(k) != 17 || k[0] != PrefixEdit {
		return 0, 0, fmt.Errorf("malformed edit key %x", k)
	}

	return int64(binary.BigEndian.Uint64(k[1:])), int64(binary.BigEndian.Uint64(k[9:])), nil
}

// ParseChangesetIndexKey returns the changeset id of an OpenKey or EmptyKey.
func ParseChangesetIndexKey(k []byte) (int64, error) {
	if len(k) != 9 || (k[0] != PrefixOpen && k[0] != PrefixEmpty) {
		return 0, fmt.Errorf("malformed changeset index key %x", k)
	}

	return int64(binary.BigEndian.Uint64(k[1:])), nil
}

// SequenceKey is the key of a named badger sequence.
func SequenceKey(name string) []byte {
	return append(key(PrefixSequence, len(name)), name...)
}

// CurrentTypePrefix is the common prefix of the current pointers of every
// element of type t.
func CurrentTypePrefix(t model.ElementType) []byte {
	return append(key(PrefixCurrent, 1), byte(t))
}

// MetaKey is the key of a named store property.
func MetaKey(name string) []byte {
	return append(key(PrefixMeta, len(name)), name...)
}

// Prefix is a single byte key prefix.
func Prefix(p byte) []byte {
	return []byte{p}
}

// EncodeSeq encodes a sequence id stored as a value.
func EncodeSeq(seq int64) []byte {
	return appendUint64(nil, seq)
}

// DecodeSeq is the inverse of EncodeSeq.
func DecodeSeq(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("malformed sequence value %x", b)
	}

	return int64(binary.BigEndian.Uint64(b)), nil
}

// EncodeRef encodes an element reference stored as a value.
func EncodeRef(ref model.ElementRef) []byte {
	return appendRef(nil, ref)
}

// DecodeRef is the inverse of EncodeRef.
func DecodeRef(b []byte) (model.ElementRef, error) {
	if len(b) != 9 {
		return model.ElementRef{}, fmt.Errorf("malformed reference value %x", b)
	}

	return parseRef(b), nil
}

func parseRef(b []byte) model.ElementRef {
	return model.ElementRef{Type: model.ElementType(b[0]), ID: int64(binary.BigEndian.Uint64(b[1:9]))}
}
