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

package model_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"m4o.io/osmhistory/model"
)

func TestParseElementRef(t *testing.T) {
	test_cases := []struct {
		in       string
		expected model.ElementRef
		valid    bool
	}{
		{"n123", model.NodeRef(123), true},
		{"w5", model.WayRef(5), true},
		{"relation/7", model.RelationRef(7), true},
		{"node/1", model.NodeRef(1), true},
		{"n0", model.ElementRef{}, false},
		{"x1", model.ElementRef{}, false},
		{"n", model.ElementRef{}, false},
		{"nabc", model.ElementRef{}, false},
	}

	for _, tc := range test_cases {
		t.Run(tc.in, func(t *testing.T) {
			ref, err := model.ParseElementRef(tc.in)
			if !tc.valid {
				assert.True(t, errors.Is(err, model.ErrInvalid))
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.expected, ref)
		})
	}
}

func TestElementRefString(t *testing.T) {
	assert.Equal(t, "n123", model.NodeRef(123).String())
	assert.Equal(t, "w5v2", model.WayRef(5).Version(2).String())
	assert.Equal(t, "way", model.WAY.String())
	assert.Equal(t, "ElementType(9)", model.ElementType(9).String())
}

func TestParseVersionedElementRef(t *testing.T) {
	ref, err := model.ParseVersionedElementRef("r42v3")
	require.NoError(t, err)
	assert.Equal(t, model.RelationRef(42).Version(3), ref)

	_, err = model.ParseVersionedElementRef("n42v0")
	assert.True(t, errors.Is(err, model.ErrInvalid))

	_, err = model.ParseVersionedElementRef("n42")
	assert.True(t, errors.Is(err, model.ErrInvalid))
}

func TestElementRefLess(t *testing.T) {
	assert.True(t, model.NodeRef(9).Less(model.WayRef(1)))
	assert.True(t, model.WayRef(1).Less(model.WayRef(2)))
	assert.False(t, model.RelationRef(1).Less(model.RelationRef(1)))
}

func TestElementVersionAliveAt(t *testing.T) {
	next := int64(10)
	superseded := model.ElementVersion{SequenceID: 4, NextSequenceID: &next}
	current := model.ElementVersion{SequenceID: 10}

	assert.False(t, superseded.AliveAt(3))
	assert.True(t, superseded.AliveAt(4))
	assert.True(t, superseded.AliveAt(9))
	assert.False(t, superseded.AliveAt(10))

	assert.False(t, current.AliveAt(9))
	assert.True(t, current.AliveAt(10))
	assert.True(t, current.IsCurrent())
	assert.False(t, superseded.IsCurrent())
}

func TestErrorsMatchSentinels(t *testing.T) {
	test_cases := []struct {
		err      error
		sentinel error
	}{
		{&model.ConflictError{Ref: model.NodeRef(1), Expected: 1, Actual: 2}, model.ErrConflict},
		{&model.ReferentialError{Ref: model.WayRef(1), Member: model.NodeRef(2), Reason: "missing member"}, model.ErrReferential},
		{&model.NotFoundError{What: "changeset 5"}, model.ErrNotFound},
		{&model.AlreadyClosedError{ChangesetID: 5, ClosedAt: time.Now()}, model.ErrAlreadyClosed},
		{&model.QueryTooLargeError{Area: 1, Max: 0.25}, model.ErrQueryTooLarge},
		{&model.ImportInconsistencyError{Ref: model.NodeRef(1), Reason: "gap"}, model.ErrImportInconsistency},
		{&model.InvalidError{Reason: "bad"}, model.ErrInvalid},
		{&model.DeletedError{Ref: model.NodeRef(1), Version: 3}, model.ErrDeleted},
	}

	for _, tc := range test_cases {
		t.Run(tc.sentinel.Error(), func(t *testing.T) {
			assert.ErrorIs(t, tc.err, tc.sentinel)
			assert.ErrorIs(t, fmt.Errorf("wrapped: %w", tc.err), tc.sentinel)
			assert.NotEmpty(t, tc.err.Error())
		})
	}
}

func TestToElementVersion(t *testing.T) {
	ts := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)

	n := &model.Node{
		ID:          7,
		Tags:        map[string]string{"amenity": "bench"},
		Info:        &model.Info{Version: 2, Changeset: 11, Timestamp: ts, Visible: true},
		Lat:         1.5,
		Lon:         2.5,
		HasLocation: true,
	}

	ev := model.ToElementVersion(n)
	assert.Equal(t, model.NodeRef(7).Version(2), ev.VersionedRef())
	assert.Equal(t, &model.Point{Lat: 1.5, Lon: 2.5}, ev.Point)
	assert.Equal(t, int64(11), ev.ChangesetID)
	assert.Equal(t, ts, ev.CreatedAt)

	w := &model.Way{ID: 3, Info: &model.Info{Version: 1, Visible: true}, NodeIDs: []int64{7, 8}}
	ev = model.ToElementVersion(w)
	assert.Equal(t, model.NodeMembers(7, 8), ev.Members)

	w.Info.Visible = false
	ev = model.ToElementVersion(w)
	assert.Empty(t, ev.Members)
	assert.False(t, ev.Visible)
}
