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
	"sort"
	"time"

	"golang.org/x/exp/constraints"

	"m4o.io/osmhistory/internal/pb"
	"m4o.io/osmhistory/model"
)

const (
	DateGranularityMs = 1000
	Granularity       = 100
	LatOffset         = 0
	LonOffset         = 0

	// EntityLimit is the max number of entities in a pb.PrimitiveBlock.
	// Certain programs (e.g. osmosis 0.38) limit the number of entities in
	// each block to 8000 when writing PBF format.
	EntityLimit = 8000
)

type blockContext struct {
	table    *Table
	entities []model.Entity
}

// EncodeBatch encodes entities of a single type into a primitive block.
// Every version of an element is kept, so the block carries history.
func EncodeBatch(batch []model.Entity) (*pb.PrimitiveBlock, error) {
	return newBlockContext(batch).extractPrimitiveBlock(), nil
}

func newBlockContext(entities []model.Entity) *blockContext {
	strings := NewStrings()

	for _, e := range entities {
		extractTagsAndInfo(strings, e)

		if r, ok := e.(*model.Relation); ok {
			extractMemberRoles(strings, r)
		}
	}

	return &blockContext{
		table:    strings.CalcTable(),
		entities: entities,
	}
}

func (bc *blockContext) extractPrimitiveBlock() *pb.PrimitiveBlock {
	pg := &pb.PrimitiveGroup{}

	if len(bc.entities) > 0 {
		switch bc.entities[0].(type) {
		case *model.Node:
			pg.Dense = bc.extractDenseNodes()
		case *model.Way:
			pg.Ways = bc.extractWays()
		case *model.Relation:
			pg.Relations = bc.extractRelations()
		default:
			panic("unknown type")
		}
	}

	return &pb.PrimitiveBlock{
		Stringtable:     bc.table.AsArray(),
		Primitivegroup:  []*pb.PrimitiveGroup{pg},
		Granularity:     Granularity,
		LatOffset:       LatOffset,
		LonOffset:       LonOffset,
		DateGranularity: DateGranularityMs,
	}
}

func (bc *blockContext) extractDenseNodes() *pb.DenseNodes {
	var (
		ids, lats, lons []int64
		versions        []int32
		uids, usids     []int32
		ts, cs          []int64
		visible         []bool
		keyValIDs       []int32
	)

	for _, e := range bc.entities {
		n, ok := e.(*model.Node)
		if !ok {
			continue
		}

		ids = append(ids, n.ID)

		var lat, lon int64
		if n.HasLocation {
			lat = model.ToCoordinate(LatOffset, Granularity, n.Lat)
			lon = model.ToCoordinate(LonOffset, Granularity, n.Lon)
		}

		lats = append(lats, lat)
		lons = append(lons, lon)

		info := infoOf(n)
		versions = append(versions, int32(info.Version))
		uids = append(uids, int32(info.UID))
		ts = append(ts, fromTimestamp(DateGranularityMs, info.Timestamp))
		cs = append(cs, info.Changeset)
		usids = append(usids, bc.table.IndexOf(info.User))
		visible = append(visible, info.Visible && n.HasLocation)

		kIDs, vIDs := calcTagIDs(n.Tags, bc.table)
		for i, k := range kIDs {
			keyValIDs = append(keyValIDs, int32(k), int32(vIDs[i]))
		}

		keyValIDs = append(keyValIDs, 0)
	}

	return &pb.DenseNodes{
		Id: calcDeltas(ids),
		Denseinfo: &pb.DenseInfo{
			Version:   versions,
			Timestamp: calcDeltas(ts),
			Changeset: calcDeltas(cs),
			Uid:       calcDeltas(uids),
			UserSid:   calcDeltas(usids),
			Visible:   visible,
		},
		Lat:      calcDeltas(lats),
		Lon:      calcDeltas(lons),
		KeysVals: keyValIDs,
	}
}

func (bc *blockContext) extractWays() []*pb.Way {
	var ways []*pb.Way

	for _, e := range bc.entities {
		if w, ok := e.(*model.Way); ok {
			keyIDs, valIDs := calcTagIDs(w.Tags, bc.table)

			ways = append(ways, &pb.Way{
				Id:   w.ID,
				Keys: keyIDs,
				Vals: valIDs,
				Info: toInfoPb(infoOf(w), bc.table),
				Refs: calcDeltas(w.NodeIDs),
			})
		}
	}

	return ways
}

func (bc *blockContext) extractRelations() []*pb.Relation {
	var relations []*pb.Relation

	for _, e := range bc.entities {
		if r, ok := e.(*model.Relation); ok {
			keyIDs, valIDs := calcTagIDs(r.Tags, bc.table)
			memids := make([]int64, len(r.Members))
			roleids := make([]int32, len(r.Members))
			types := make([]pb.Relation_MemberType, len(r.Members))

			for i, m := range r.Members {
				memids[i] = m.ID
				roleids[i] = bc.table.IndexOf(m.Role)
				types[i] = pb.Relation_MemberType(m.Type)
			}

			relations = append(relations, &pb.Relation{
				Id:       r.ID,
				Keys:     keyIDs,
				Vals:     valIDs,
				Info:     toInfoPb(infoOf(r), bc.table),
				RolesSid: roleids,
				Memids:   calcDeltas(memids),
				Types:    types,
			})
		}
	}

	return relations
}

func extractMemberRoles(strings *Strings, r *model.Relation) {
	for _, m := range r.Members {
		strings.Add(m.Role)
	}
}

func extractTagsAndInfo(strings *Strings, e model.Entity) {
	for k, v := range e.GetTags() {
		strings.Add(k, v)
	}

	strings.Add(infoOf(e).User)
}

var visibleInfo = &model.Info{Visible: true}

func infoOf(e model.Entity) *model.Info {
	if info := e.GetInfo(); info != nil {
		return info
	}

	return visibleInfo
}

// calcDeltas calculates the delta-encoding of the values.
func calcDeltas[T interface {
	constraints.Integer | constraints.Float
}](values []T) []T {
	prev := T(0)
	deltas := make([]T, len(values))

	for i, id := range values {
		deltas[i] = id - prev
		prev = id
	}

	return deltas
}

func calcTagIDs(tags map[string]string, table *Table) (keyIDs []uint32, valIDs []uint32) {
	keys := make([]string, 0, len(tags))

	for k := range tags {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		keyIDs = append(keyIDs, uint32(table.IndexOf(k)))
		valIDs = append(valIDs, uint32(table.IndexOf(tags[k])))
	}

	return keyIDs, valIDs
}

func toInfoPb(info *model.Info, table *Table) *pb.Info {
	visible := info.Visible

	return &pb.Info{
		Version:   int32(info.Version),
		Timestamp: fromTimestamp(DateGranularityMs, info.Timestamp),
		Changeset: info.Changeset,
		Uid:       int32(info.UID),
		UserSid:   uint32(table.IndexOf(info.User)),
		Visible:   &visible,
	}
}

// fromTimestamp converts a timestamp to a count of granularity
// milliseconds since the epoch.
func fromTimestamp(granularity int32, timestamp time.Time) int64 {
	millis := timestamp.UnixMilli()

	return millis / int64(granularity)
}
