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

package model

import (
	"maps"
	"time"
)

// Tags is the open-ended key/value mapping attached to elements and
// changesets.
type Tags map[string]string

// Clone returns a copy of the tags; nil stays nil.
func (t Tags) Clone() Tags {
	if t == nil {
		return nil
	}

	return maps.Clone(t)
}

// ElementVersion is one immutable row of an element's history.
type ElementVersion struct {
	SequenceID  int64       `json:"sequence_id"`
	ChangesetID int64       `json:"changeset_id"`
	Type        ElementType `json:"type"`
	ID          int64       `json:"id"`
	Version     int64       `json:"version"`
	Visible     bool        `json:"visible"`
	Tags        Tags        `json:"tags,omitempty"`
	Point       *Point      `json:"point,omitempty"`
	Members     []MemberRef `json:"members,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`

	// NextSequenceID is the sequence id of the version that superseded this
	// one; nil while this is the current version.
	NextSequenceID *int64 `json:"next_sequence_id,omitempty"`
}

// Ref is the element identity of the version.
func (e ElementVersion) Ref() ElementRef {
	return ElementRef{Type: e.Type, ID: e.ID}
}

// VersionedRef is the versioned identity of the row.
func (e ElementVersion) VersionedRef() VersionedElementRef {
	return VersionedElementRef{ElementRef: e.Ref(), Version: e.Version}
}

// IsCurrent is true when no later version exists.
func (e ElementVersion) IsCurrent() bool {
	return e.NextSequenceID == nil
}

// AliveAt reports whether this version is the one in effect at the sequence
// point at: sequence_id <= at < next_sequence_id.
func (e ElementVersion) AliveAt(at int64) bool {
	if e.SequenceID > at {
		return false
	}

	return e.NextSequenceID == nil || at < *e.NextSequenceID
}

// Changeset groups a batch of edits by one user.
type Changeset struct {
	ID        int64        `json:"id"`
	UserID    int64        `json:"user_id"`
	Tags      Tags         `json:"tags,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	ClosedAt  *time.Time   `json:"closed_at,omitempty"`
	Size      int64        `json:"size"`
	Bounds    *BoundingBox `json:"bounds,omitempty"`
}

// IsOpen is true until the changeset is closed.
func (c *Changeset) IsOpen() bool {
	return c.ClosedAt == nil
}
