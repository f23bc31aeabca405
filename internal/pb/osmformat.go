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

const (
	DefaultGranularity     = 100
	DefaultDateGranularity = 1000
)

// HeaderBBox is a bounding box in nanodegrees.
type HeaderBBox struct {
	Left, Right, Top, Bottom int64
}

// HeaderBlock is the contents of the OSMHeader blob.
type HeaderBlock struct {
	Bbox                             *HeaderBBox
	RequiredFeatures                 []string
	OptionalFeatures                 []string
	Writingprogram                   string
	Source                           string
	OsmosisReplicationTimestamp      int64
	OsmosisReplicationSequenceNumber int64
	OsmosisReplicationBaseUrl        string
}

func (h *HeaderBlock) Marshal() []byte {
	var b []byte

	if h.Bbox != nil {
		var bb []byte
		bb = appendSint64Field(bb, 1, h.Bbox.Left)
		bb = appendSint64Field(bb, 2, h.Bbox.Right)
		bb = appendSint64Field(bb, 3, h.Bbox.Top)
		bb = appendSint64Field(bb, 4, h.Bbox.Bottom)
		b = appendBytesField(b, 1, bb)
	}

	for _, f := range h.RequiredFeatures {
		b = appendStringField(b, 4, f)
	}

	for _, f := range h.OptionalFeatures {
		b = appendStringField(b, 5, f)
	}

	if h.Writingprogram != "" {
		b = appendStringField(b, 16, h.Writingprogram)
	}

	if h.Source != "" {
		b = appendStringField(b, 17, h.Source)
	}

	if h.OsmosisReplicationTimestamp != 0 {
		b = appendVarintField(b, 32, uint64(h.OsmosisReplicationTimestamp))
	}

	if h.OsmosisReplicationSequenceNumber != 0 {
		b = appendVarintField(b, 33, uint64(h.OsmosisReplicationSequenceNumber))
	}

	if h.OsmosisReplicationBaseUrl != "" {
		b = appendStringField(b, 34, h.OsmosisReplicationBaseUrl)
	}

	return b
}

func (h *HeaderBlock) Unmarshal(b []byte) error {
	*h = HeaderBlock{}

	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}

			h.Bbox = &HeaderBBox{}

			return n, walk(v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				var dst *int64

				switch num {
				case 1:
					dst = &h.Bbox.Left
				case 2:
					dst = &h.Bbox.Right
				case 3:
					dst = &h.Bbox.Top
				case 4:
					dst = &h.Bbox.Bottom
				default:
					return -1, nil
				}

				v, n, err := consumeVarint(typ, b)
				*dst = asSint64(v)

				return n, err
			})
		case 4, 5, 16, 17, 34:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}

			switch num {
			case 4:
				h.RequiredFeatures = append(h.RequiredFeatures, string(v))
			case 5:
				h.OptionalFeatures = append(h.OptionalFeatures, string(v))
			case 16:
				h.Writingprogram = string(v)
			case 17:
				h.Source = string(v)
			case 34:
				h.OsmosisReplicationBaseUrl = string(v)
			}

			return n, nil
		case 32:
			v, n, err := consumeVarint(typ, b)
			h.OsmosisReplicationTimestamp = int64(v)

			return n, err
		case 33:
			v, n, err := consumeVarint(typ, b)
			h.OsmosisReplicationSequenceNumber = int64(v)

			return n, err
		default:
			return -1, nil
		}
	})
}

// PrimitiveBlock is the contents of an OSMData blob.
type PrimitiveBlock struct {
	Stringtable     []string
	Primitivegroup  []*PrimitiveGroup
	Granularity     int32
	DateGranularity int32
	LatOffset       int64
	LonOffset       int64
}

// PrimitiveGroup holds elements of a single kind.
type PrimitiveGroup struct {
	Nodes     []*Node
	Dense     *DenseNodes
	Ways      []*Way
	Relations []*Relation
}

// Info is the edit metadata of a non-dense element.
type Info struct {
	Version   int32
	Timestamp int64
	Changeset int64
	Uid       int32
	UserSid   uint32
	Visible   *bool
}

type Node struct {
	Id   int64
	Keys []uint32
	Vals []uint32
	Info *Info
	Lat  int64
	Lon  int64
}

// DenseInfo columns are delta coded, except Version and Visible.
type DenseInfo struct {
	Version   []int32
	Timestamp []int64
	Changeset []int64
	Uid       []int32
	UserSid   []int32
	Visible   []bool
}

// DenseNodes columns are delta coded. KeysVals holds key/value string ids
// of every node, each node terminated by a 0.
type DenseNodes struct {
	Id        []int64
	Denseinfo *DenseInfo
	Lat       []int64
	Lon       []int64
	KeysVals  []int32
}

type Way struct {
	Id   int64
	Keys []uint32
	Vals []uint32
	Info *Info
	Refs []int64
}

type Relation_MemberType int32

const (
	Relation_NODE     Relation_MemberType = 0
	Relation_WAY      Relation_MemberType = 1
	Relation_RELATION Relation_MemberType = 2
)

type Relation struct {
	Id       int64
	Keys     []uint32
	Vals     []uint32
	Info     *Info
	RolesSid []int32
	Memids   []int64
	Types    []Relation_MemberType
}

func (p *PrimitiveBlock) Marshal() []byte {
	var b []byte

	var st []byte
	for _, s := range p.Stringtable {
		st = appendStringField(st, 1, s)
	}

	b = appendBytesField(b, 1, st)

	for _, g := range p.Primitivegroup {
		b = appendBytesField(b, 2, g.marshal())
	}

	b = appendVarintField(b, 17, fromInt32(p.Granularity))
	b = appendVarintField(b, 18, fromInt32(p.DateGranularity))

	if p.LatOffset != 0 {
		b = appendVarintField(b, 19, uint64(p.LatOffset))
	}

	if p.LonOffset != 0 {
		b = appendVarintField(b, 20, uint64(p.LonOffset))
	}

	return b
}

func (p *PrimitiveBlock) Unmarshal(b []byte) error {
	*p = PrimitiveBlock{Granularity: DefaultGranularity, DateGranularity: DefaultDateGranularity}

	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}

			return n, walk(v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				if num != 1 {
					return -1, nil
				}

				s, n, err := consumeBytes(typ, b)
				p.Stringtable = append(p.Stringtable, string(s))

				return n, err
			})
		case 2:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}

			g := &PrimitiveGroup{}
			p.Primitivegroup = append(p.Primitivegroup, g)

			return n, g.unmarshal(v)
		case 17:
			v, n, err := consumeVarint(typ, b)
			p.Granularity = int32(v)

			return n, err
		case 18:
			v, n, err := consumeVarint(typ, b)
			p.DateGranularity = int32(v)

			return n, err
		case 19:
			v, n, err := consumeVarint(typ, b)
			p.LatOffset = int64(v)

			return n, err
		case 20:
			v, n, err := consumeVarint(typ, b)
			p.LonOffset = int64(v)

			return n, err
		default:
			return -1, nil
		}
	})
}

func (g *PrimitiveGroup) marshal() []byte {
	var b []byte

	for _, n := range g.Nodes {
		b = appendBytesField(b, 1, n.marshal())
	}

	if g.Dense != nil {
		b = appendBytesField(b, 2, g.Dense.marshal())
	}

	for _, w := range g.Ways {
		b = appendBytesField(b, 3, w.marshal())
	}

	for _, r := range g.Relations {
		b = appendBytesField(b, 4, r.marshal())
	}

	return b
}

func (g *PrimitiveGroup) unmarshal(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num < 1 || num > 4 {
			return -1, nil
		}

		v, n, err := consumeBytes(typ, b)
		if err != nil {
			return 0, err
		}

		switch num {
		case 1:
			node := &Node{}
			g.Nodes = append(g.Nodes, node)
			err = node.unmarshal(v)
		case 2:
			g.Dense = &DenseNodes{}
			err = g.Dense.unmarshal(v)
		case 3:
			way := &Way{}
			g.Ways = append(g.Ways, way)
			err = way.unmarshal(v)
		case 4:
			rel := &Relation{}
			g.Relations = append(g.Relations, rel)
			err = rel.unmarshal(v)
		}

		return n, err
	})
}

func (i *Info) marshal() []byte {
	var b []byte

	b = appendVarintField(b, 1, fromInt32(i.Version))
	b = appendVarintField(b, 2, uint64(i.Timestamp))
	b = appendVarintField(b, 3, uint64(i.Changeset))
	b = appendVarintField(b, 4, fromInt32(i.Uid))
	b = appendVarintField(b, 5, fromUint32(i.UserSid))

	if i.Visible != nil {
		b = appendVarintField(b, 6, fromBool(*i.Visible))
	}

	return b
}

func (i *Info) unmarshal(b []byte) error {
	*i = Info{Version: -1}

	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num < 1 || num > 6 {
			return -1, nil
		}

		v, n, err := consumeVarint(typ, b)
		if err != nil {
			return 0, err
		}

		switch num {
		case 1:
			i.Version = int32(v)
		case 2:
			i.Timestamp = int64(v)
		case 3:
			i.Changeset = int64(v)
		case 4:
			i.Uid = int32(v)
		case 5:
			i.UserSid = uint32(v)
		case 6:
			visible := v != 0
			i.Visible = &visible
		}

		return n, nil
	})
}

func unmarshalInfo(typ protowire.Type, b []byte) (*Info, int, error) {
	v, n, err := consumeBytes(typ, b)
	if err != nil {
		return nil, 0, err
	}

	info := &Info{}

	return info, n, info.unmarshal(v)
}

func (n *Node) marshal() []byte {
	var b []byte

	b = appendSint64Field(b, 1, n.Id)
	b = appendPacked(b, 2, n.Keys, fromUint32)
	b = appendPacked(b, 3, n.Vals, fromUint32)

	if n.Info != nil {
		b = appendBytesField(b, 4, n.Info.marshal())
	}

	b = appendSint64Field(b, 8, n.Lat)

	return appendSint64Field(b, 9, n.Lon)
}

func (n *Node) unmarshal(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1, 8, 9:
			v, m, err := consumeVarint(typ, b)

			switch num {
			case 1:
				n.Id = asSint64(v)
			case 8:
				n.Lat = asSint64(v)
			case 9:
				n.Lon = asSint64(v)
			}

			return m, err
		case 2:
			return consumeVarints(typ, b, &n.Keys, asUint32)
		case 3:
			return consumeVarints(typ, b, &n.Vals, asUint32)
		case 4:
			info, m, err := unmarshalInfo(typ, b)
			n.Info = info

			return m, err
		default:
			return -1, nil
		}
	})
}

func (d *DenseInfo) marshal() []byte {
	var b []byte

	b = appendPacked(b, 1, d.Version, fromInt32)
	b = appendPacked(b, 2, d.Timestamp, fromSint64)
	b = appendPacked(b, 3, d.Changeset, fromSint64)
	b = appendPacked(b, 4, d.Uid, fromSint32)
	b = appendPacked(b, 5, d.UserSid, fromSint32)

	return appendPacked(b, 6, d.Visible, fromBool)
}

func (d *DenseInfo) unmarshal(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeVarints(typ, b, &d.Version, asInt32)
		case 2:
			return consumeVarints(typ, b, &d.Timestamp, asSint64)
		case 3:
			return consumeVarints(typ, b, &d.Changeset, asSint64)
		case 4:
			return consumeVarints(typ, b, &d.Uid, asSint32)
		case 5:
			return consumeVarints(typ, b, &d.UserSid, asSint32)
		case 6:
			return consumeVarints(typ, b, &d.Visible, asBool)
		default:
			return -1, nil
		}
	})
}

func (d *DenseNodes) marshal() []byte {
	var b []byte

	b = appendPacked(b, 1, d.Id, fromSint64)

	if d.Denseinfo != nil {
		b = appendBytesField(b, 5, d.Denseinfo.marshal())
	}

	b = appendPacked(b, 8, d.Lat, fromSint64)
	b = appendPacked(b, 9, d.Lon, fromSint64)

	return appendPacked(b, 10, d.KeysVals, fromInt32)
}

func (d *DenseNodes) unmarshal(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeVarints(typ, b, &d.Id, asSint64)
		case 5:
			v, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}

			d.Denseinfo = &DenseInfo{}

			return n, d.Denseinfo.unmarshal(v)
		case 8:
			return consumeVarints(typ, b, &d.Lat, asSint64)
		case 9:
			return consumeVarints(typ, b, &d.Lon, asSint64)
		case 10:
			return consumeVarints(typ, b, &d.KeysVals, asInt32)
		default:
			return -1, nil
		}
	})
}

func (w *Way) marshal() []byte {
	var b []byte

	b = appendVarintField(b, 1, uint64(w.Id))
	b = appendPacked(b, 2, w.Keys, fromUint32)
	b = appendPacked(b, 3, w.Vals, fromUint32)

	if w.Info != nil {
		b = appendBytesField(b, 4, w.Info.marshal())
	}

	return appendPacked(b, 8, w.Refs, fromSint64)
}

func (w *Way) unmarshal(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, b)
			w.Id = int64(v)

			return n, err
		case 2:
			return consumeVarints(typ, b, &w.Keys, asUint32)
		case 3:
			return consumeVarints(typ, b, &w.Vals, asUint32)
		case 4:
			info, n, err := unmarshalInfo(typ, b)
			w.Info = info

			return n, err
		case 8:
			return consumeVarints(typ, b, &w.Refs, asSint64)
		default:
			return -1, nil
		}
	})
}

func (r *Relation) marshal() []byte {
	var b []byte

	b = appendVarintField(b, 1, uint64(r.Id))
	b = appendPacked(b, 2, r.Keys, fromUint32)
	b = appendPacked(b, 3, r.Vals, fromUint32)

	if r.Info != nil {
		b = appendBytesField(b, 4, r.Info.marshal())
	}

	b = appendPacked(b, 8, r.RolesSid, fromInt32)
	b = appendPacked(b, 9, r.Memids, fromSint64)

	return appendPacked(b, 10, r.Types, func(t Relation_MemberType) uint64 { return uint64(t) })
}

func (r *Relation) unmarshal(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(typ, b)
			r.Id = int64(v)

			return n, err
		case 2:
			return consumeVarints(typ, b, &r.Keys, asUint32)
		case 3:
			return consumeVarints(typ, b, &r.Vals, asUint32)
		case 4:
			info, n, err := unmarshalInfo(typ, b)
			r.Info = info

			return n, err
		case 8:
			return consumeVarints(typ, b, &r.RolesSid, asInt32)
		case 9:
			return consumeVarints(typ, b, &r.Memids, asSint64)
		case 10:
			return consumeVarints(typ, b, &r.Types, func(v uint64) Relation_MemberType { return Relation_MemberType(v) })
		default:
			return -1, nil
		}
	})
}
