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
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"m4o.io/osmhistory/model"
)

func TestElementRowRoundTrip(t *testing.T) {
	next := int64(99)
	created := time.Date(2024, 5, 6, 7, 8, 9, 123, time.UTC)

	test_cases := []struct {
		name string
		ev   model.ElementVersion
	}{
		{"node", model.ElementVersion{
			SequenceID: 7, ChangesetID: 3, Type: model.NODE, ID: 1, Version: 2, Visible: true,
			Tags:      model.Tags{"amenity": "bench", "name": "Bänkchen"},
			Point:     &model.Point{Lat: 51.123456789, Lon: -0.000000001},
			CreatedAt: created, NextSequenceID: &next,
		}},
		{"way", model.ElementVersion{
			SequenceID: 8, ChangesetID: 3, Type: model.WAY, ID: 5, Version: 1, Visible: true,
			Tags:      model.Tags{},
			Members:   model.NodeMembers(10, 4, 10),
			CreatedAt: created,
		}},
		{"relation", model.ElementVersion{
			SequenceID: 9, ChangesetID: 4, Type: model.RELATION, ID: 6, Version: 3, Visible: true,
			Tags: model.Tags{"type": "route"},
			Members: []model.MemberRef{
				{Order: 0, Type: model.WAY, ID: 5, Role: "forward"},
				{Order: 1, Type: model.NODE, ID: 1, Role: ""},
				{Order: 2, Type: model.RELATION, ID: 6, Role: "self"},
			},
			CreatedAt: created,
		}},
		{"tombstone", model.ElementVersion{
			SequenceID: 10, ChangesetID: 4, Type: model.NODE, ID: 1, Version: 3,
			Tags: model.Tags{}, CreatedAt: created,
		}},
	}

	for _, tc := range test_cases {
		t.Run(tc.name, func(t *testing.T) {
			decoded, err := DecodeElement(tc.ev.SequenceID, EncodeElement(&tc.ev))
			require.NoError(t, err)
			assert.Equal(t, tc.ev, decoded)
		})
	}
}

func TestElementRowIsDeterministic(t *testing.T) {
	ev := &model.ElementVersion{Type: model.NODE, ID: 1, Version: 1, Tags: model.Tags{"a": "1", "b": "2", "c": "3"}}
	assert.Equal(t, EncodeElement(ev), EncodeElement(ev))
}

func TestDecodeElementRejectsGarbage(t *testing.T) {
	_, err := DecodeElement(1, []byte{0x0a, 0xff})
	assert.ErrorIs(t, err, ErrMalformedRow)
}

func TestChangesetRowRoundTrip(t *testing.T) {
	created := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	closed := created.Add(time.Hour)

	cs := model.Changeset{
		ID: 12, UserID: 44, Tags: model.Tags{"comment": "fix"},
		CreatedAt: created, UpdatedAt: created.Add(time.Minute), ClosedAt: &closed,
		Size:   3,
		Bounds: &model.BoundingBox{Top: 1.5, Left: -2.25, Bottom: -1.5, Right: 2.25},
	}

	decoded, err := DecodeChangeset(cs.ID, EncodeChangeset(&cs))
	require.NoError(t, err)
	assert.Equal(t, cs, decoded)

	open := model.Changeset{ID: 13, Tags: model.Tags{}, CreatedAt: created, UpdatedAt: created}

	decoded, err = DecodeChangeset(open.ID, EncodeChangeset(&open))
	require.NoError(t, err)
	assert.Equal(t, open, decoded)
	assert.True(t, decoded.IsOpen())
}

func TestKeysSortNumerically(t *testing.T) {
	assert.Equal(t, -1, bytes.Compare(ElementKey(255), ElementKey(256)))
	assert.Equal(t, -1, bytes.Compare(
		VersionKey(model.NodeRef(1).Version(9)),
		VersionKey(model.NodeRef(1).Version(10))))
	assert.Equal(t, -1, bytes.Compare(
		VersionKey(model.NodeRef(300).Version(1)),
		VersionKey(model.WayRef(1).Version(1))))
	assert.True(t, bytes.HasPrefix(VersionKey(model.WayRef(3).Version(2)), VersionPrefix(model.WayRef(3))))
}

func TestParseKeys(t *testing.T) {
	seq, err := ParseElementKey(ElementKey(42))
	require.NoError(t, err)
	assert.Equal(t, int64(42), seq)

	vref, err := ParseVersionKey(VersionKey(model.RelationRef(8).Version(3)))
	require.NoError(t, err)
	assert.Equal(t, model.RelationRef(8).Version(3), vref)

	ref, err := ParseCurrentKey(CurrentKey(model.WayRef(77)))
	require.NoError(t, err)
	assert.Equal(t, model.WayRef(77), ref)

	parent, order, err := ParseMemberKey(MemberKey(model.NodeRef(5), 123, 7))
	require.NoError(t, err)
	assert.Equal(t, int64(123), parent)
	assert.Equal(t, uint16(7), order)
	assert.True(t, bytes.HasPrefix(MemberKey(model.NodeRef(5), 123, 7), MemberPrefix(model.NodeRef(5))))

	cell := CellOf(model.Point{Lat: 48.85, Lon: 2.35})
	c, id, err := ParseCellKey(CellKey(cell, 9))
	require.NoError(t, err)
	assert.Equal(t, cell, c)
	assert.Equal(t, int64(9), id)

	k, v, tref, err := ParseTagKey(TagKey("highway", "primary", model.WayRef(4)))
	require.NoError(t, err)
	assert.Equal(t, "highway", k)
	assert.Equal(t, "primary", v)
	assert.Equal(t, model.WayRef(4), tref)

	k, v, seq, err = ParseTagHistoryKey(TagHistoryKey("name", "", 11))
	require.NoError(t, err)
	assert.Equal(t, "name", k)
	assert.Empty(t, v)
	assert.Equal(t, int64(11), seq)

	id, err = ParseChangesetIndexKey(OpenKey(5))
	require.NoError(t, err)
	assert.Equal(t, int64(5), id)

	id, err = ParseChangesetIndexKey(EmptyKey(6))
	require.NoError(t, err)
	assert.Equal(t, int64(6), id)

	_, err = ParseElementKey(OpenKey(5))
	assert.Error(t, err)
}

func TestTagPrefix(t *testing.T) {
	v := "primary"
	key := TagKey("highway", v, model.WayRef(4))

	assert.True(t, bytes.HasPrefix(key, TagPrefix(PrefixTag, "highway", nil)))
	assert.True(t, bytes.HasPrefix(key, TagPrefix(PrefixTag, "highway", &v)))
	assert.False(t, bytes.HasPrefix(key, TagPrefix(PrefixTag, "high", nil)))
}

func TestCoveringContainsPoints(t *testing.T) {
	bb := &model.BoundingBox{Top: 51.6, Left: -0.2, Bottom: 51.4, Right: 0.1}
	covering := Covering(bb)

	require.NotEmpty(t, covering)
	assert.LessOrEqual(t, len(covering), maxCoveringCells)

	for _, p := range []model.Point{
		{Lat: 51.5, Lon: -0.1},
		{Lat: 51.4, Lon: -0.2},
		{Lat: 51.6, Lon: 0.1},
	} {
		assert.True(t, covering.ContainsCellID(CellOf(p)), "%s", p)
	}
}
