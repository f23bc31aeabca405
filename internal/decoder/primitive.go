// Copyright 2017-25 the original author or authors.
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
	"fmt"
	"time"

	"m4o.io/osmhistory/internal/pb"
	"m4o.io/osmhistory/model"
)

// Block is the decoded contents of one OSMData blob. Dropped counts the
// elements that could not be decoded, e.g. because of a dangling string
// table index.
type Block struct {
	Entities []model.Entity
	Dropped  int
}

func parsePrimitiveBlock(buf []byte) (Block, error) {
	blk := &pb.PrimitiveBlock{}
	if err := blk.Unmarshal(buf); err != nil {
		return Block{}, fmt.Errorf("unable to unmarshal primitive block: %w", err)
	}

	c := newBlockContext(blk)

	entities := make([]model.Entity, 0)
	for _, pg := range blk.Primitivegroup {
		entities = append(entities, c.decodeNodes(pg.Nodes)...)
		entities = append(entities, c.decodeDenseNodes(pg.Dense)...)
		entities = append(entities, c.decodeWays(pg.Ways)...)
		entities = append(entities, c.decodeRelations(pg.Relations)...)
	}

	return Block{Entities: entities, Dropped: c.dropped}, nil
}

type blockContext struct {
	strings         []string
	granularity     int32
	latOffset       int64
	lonOffset       int64
	dateGranularity int32

	dropped int
}

func newBlockContext(pb *pb.PrimitiveBlock) *blockContext {
	return &blockContext{
		strings:         pb.Stringtable,
		granularity:     pb.Granularity,
		latOffset:       pb.LatOffset,
		lonOffset:       pb.LonOffset,
		dateGranularity: pb.DateGranularity,
	}
}

func (c *blockContext) str(i int64) (string, bool) {
	if i < 0 || i >= int64(len(c.strings)) {
		return "", false
	}

	return c.strings[i], true
}

func (c *blockContext) decodeNodes(nodes []*pb.Node) []model.Entity {
	entities := make([]model.Entity, 0, len(nodes))

	for _, node := range nodes {
		tags, ok := c.decodeTags(node.Keys, node.Vals)
		if !ok {
			c.dropped++
			continue
		}

		info, ok := c.decodeInfo(node.Info)
		if !ok {
			c.dropped++
			continue
		}

		entities = append(entities, &model.Node{
			ID:          node.Id,
			Tags:        tags,
			Info:        info,
			Lat:         model.ToDegrees(c.latOffset, c.granularity, node.Lat),
			Lon:         model.ToDegrees(c.lonOffset, c.granularity, node.Lon),
			HasLocation: info.Visible,
		})
	}

	return entities
}

func (c *blockContext) decodeDenseNodes(nodes *pb.DenseNodes) []model.Entity {
	if nodes == nil {
		return nil
	}

	ids := nodes.Id
	lats := nodes.Lat
	lons := nodes.Lon

	if len(lats) != len(ids) || len(lons) != len(ids) {
		c.dropped += len(ids)
		return nil
	}

	entities := make([]model.Entity, 0, len(ids))

	tic := c.newTagsContext(nodes.KeysVals)
	dic := c.newDenseInfoContext(nodes.Denseinfo, len(ids))

	var id, lat, lon int64
	for i := range ids {
		id += ids[i]
		lat += lats[i]
		lon += lons[i]

		tags, tagsOK := tic.decodeTags()
		info, infoOK := dic.decodeInfo(i)

		if !tagsOK || !infoOK {
			c.dropped++
			continue
		}

		entities = append(entities, &model.Node{
			ID:          id,
			Tags:        tags,
			Info:        info,
			Lat:         model.ToDegrees(c.latOffset, c.granularity, lat),
			Lon:         model.ToDegrees(c.lonOffset, c.granularity, lon),
			HasLocation: info.Visible,
		})
	}

	return entities
}

func (c *blockContext) decodeWays(ways []*pb.Way) []model.Entity {
	entities := make([]model.Entity, 0, len(ways))

	for _, way := range ways {
		nodeIDs := make([]int64, len(way.Refs))

		var nodeID int64

		for j, delta := range way.Refs {
			nodeID = delta + nodeID
			nodeIDs[j] = nodeID
		}

		tags, tagsOK := c.decodeTags(way.Keys, way.Vals)
		info, infoOK := c.decodeInfo(way.Info)

		if !tagsOK || !infoOK {
			c.dropped++
			continue
		}

		entities = append(entities, &model.Way{
			ID:      way.Id,
			Tags:    tags,
			NodeIDs: nodeIDs,
			Info:    info,
		})
	}

	return entities
}

func (c *blockContext) decodeRelations(relations []*pb.Relation) []model.Entity {
	entities := make([]model.Entity, 0, len(relations))

	for _, rel := range relations {
		tags, tagsOK := c.decodeTags(rel.Keys, rel.Vals)
		info, infoOK := c.decodeInfo(rel.Info)
		members, membersOK := c.decodeMembers(rel)

		if !tagsOK || !infoOK || !membersOK {
			c.dropped++
			continue
		}

		entities = append(entities, &model.Relation{
			ID:      rel.Id,
			Tags:    tags,
			Info:    info,
			Members: members,
		})
	}

	return entities
}

func (c *blockContext) decodeMembers(rel *pb.Relation) ([]model.Member, bool) {
	memids := rel.Memids
	memtypes := rel.Types
	memroles := rel.RolesSid

	if len(memtypes) != len(memids) || len(memroles) != len(memids) {
		return nil, false
	}

	members := make([]model.Member, len(memids))

	var memid int64

	for i := range memids {
		memid = memids[i] + memid

		typ, ok := decodeMemberType(memtypes[i])
		if !ok {
			return nil, false
		}

		role, ok := c.str(int64(memroles[i]))
		if !ok {
			return nil, false
		}

		members[i] = model.Member{
			ID:   memid,
			Type: typ,
			Role: role,
		}
	}

	return members, true
}

func (c *blockContext) decodeTags(keyIDs, valIDs []uint32) (map[string]string, bool) {
	if len(keyIDs) != len(valIDs) {
		return nil, false
	}

	tags := make(map[string]string, len(keyIDs))

	for i, keyID := range keyIDs {
		k, kok := c.str(int64(keyID))
		v, vok := c.str(int64(valIDs[i]))

		if !kok || !vok {
			return nil, false
		}

		tags[k] = v
	}

	return tags, true
}

func (c *blockContext) decodeInfo(info *pb.Info) (*model.Info, bool) {
	i := &model.Info{Visible: true}
	if info == nil {
		return i, true
	}

	user, ok := c.str(int64(info.UserSid))
	if !ok {
		return nil, false
	}

	i.Version = int64(info.Version)
	i.Timestamp = toTimestamp(c.dateGranularity, info.Timestamp)
	i.Changeset = info.Changeset
	i.UID = model.UID(info.Uid)
	i.User = user

	if info.Visible != nil {
		i.Visible = *info.Visible
	}

	return i, true
}

func (c *blockContext) newDenseInfoContext(di *pb.DenseInfo, n int) *denseInfoContext {
	dic := &denseInfoContext{
		dateGranularity: c.dateGranularity,
		blockContext:    c,
	}

	if di == nil {
		return dic
	}

	if len(di.Version) != n || len(di.Timestamp) != n || len(di.Changeset) != n ||
		len(di.Uid) != n || len(di.UserSid) != n {
		dic.malformed = true

		return dic
	}

	dic.versions = di.Version
	dic.uids = di.Uid
	dic.timestamps = di.Timestamp
	dic.changesets = di.Changeset
	dic.userSids = di.UserSid

	if len(di.Visible) == n {
		dic.visibilities = di.Visible
	}

	return dic
}

type denseInfoContext struct {
	*blockContext

	timestamp int64
	changeset int64
	uid       int32
	userSid   int32

	dateGranularity int32
	malformed       bool
	versions        []int32
	uids            []int32
	timestamps      []int64
	changesets      []int64
	userSids        []int32
	visibilities    []bool
}

// decodeInfo decodes the info of the i-th node. Every column but version and
// visibility is delta coded, so it must be called for every node in order.
func (dic *denseInfoContext) decodeInfo(i int) (*model.Info, bool) {
	if dic.malformed {
		return nil, false
	}

	if dic.versions == nil {
		return &model.Info{Visible: true}, true
	}

	dic.uid += dic.uids[i]
	dic.timestamp += dic.timestamps[i]
	dic.changeset += dic.changesets[i]
	dic.userSid += dic.userSids[i]

	user, ok := dic.str(int64(dic.userSid))
	if !ok {
		return nil, false
	}

	info := &model.Info{
		Version:   int64(dic.versions[i]),
		UID:       model.UID(dic.uid),
		Timestamp: toTimestamp(dic.dateGranularity, dic.timestamp),
		Changeset: dic.changeset,
		User:      user,
	}

	if dic.visibilities == nil {
		info.Visible = true
	} else {
		info.Visible = dic.visibilities[i]
	}

	return info, true
}

type tagsContext struct {
	*blockContext
	i       int
	keyVals []int32
}

func (c *blockContext) newTagsContext(keyVals []int32) *tagsContext {
	tc := &tagsContext{blockContext: c}

	if len(keyVals) != 0 {
		tc.keyVals = keyVals
	}

	return tc
}

// decodeTags decodes the tags of the next node. A node whose tag list runs
// past the end of the column is reported as malformed.
func (tic *tagsContext) decodeTags() (map[string]string, bool) {
	if tic.keyVals == nil {
		return map[string]string{}, true
	}

	tags := make(map[string]string)
	i := tic.i

	for i < len(tic.keyVals) && tic.keyVals[i] > 0 {
		if i+1 >= len(tic.keyVals) {
			tic.i = len(tic.keyVals)
			return nil, false
		}

		k, kok := tic.str(int64(tic.keyVals[i]))
		v, vok := tic.str(int64(tic.keyVals[i+1]))
		i += 2

		if !kok || !vok {
			tic.skipTo(i)
			return nil, false
		}

		tags[k] = v
	}

	if i >= len(tic.keyVals) {
		tic.i = i
		return nil, false
	}

	tic.i = i + 1

	return tags, true
}

// skipTo advances past the terminator of the current node.
func (tic *tagsContext) skipTo(i int) {
	for i < len(tic.keyVals) && tic.keyVals[i] != 0 {
		i++
	}

	tic.i = i + 1
}

// decodeMemberType converts protobuf enum Relation_MemberType to an ElementType.
func decodeMemberType(mt pb.Relation_MemberType) (model.ElementType, bool) {
	switch mt {
	case pb.Relation_NODE:
		return model.NODE, true
	case pb.Relation_WAY:
		return model.WAY, true
	case pb.Relation_RELATION:
		return model.RELATION, true
	default:
		return 0, false
	}
}

// toTimestamp converts a timestamp with a specific granularity, in units of
// milliseconds, to a UTC timestamp of type Time.
func toTimestamp(granularity int32, timestamp int64) time.Time {
	return time.UnixMilli(timestamp * int64(granularity)).UTC()
}
