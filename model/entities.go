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

// Package model contains the shared model of the element history store:
// references, element versions, changesets, and the entities read from
// OpenStreetMap history dumps.
package model

import (
	"time"
)

// UID is the primary key for a user.
type UID int64

// Info represents the edit metadata common to Node, Way, and Relation
// entities read from a dump.
type Info struct {
	Version   int64
	UID       UID
	Timestamp time.Time
	Changeset int64
	User      string
	Visible   bool
}

// Entity is one record of a history dump: a single version of a node, way
// or relation.
type Entity interface {
	isEntity() // prevents extensions

	GetRef() ElementRef

	GetTags() map[string]string

	GetInfo() *Info
}

// Node represents a specific point on the earth's surface defined by its
// latitude and longitude. A deleted node in a history dump has no location.
type Node struct {
	ID   int64
	Tags map[string]string
	Info *Info
	Lat  Degrees
	Lon  Degrees

	// HasLocation is false for records without coordinates.
	HasLocation bool
}

var _ Entity = (*Node)(nil)

func (n *Node) isEntity() {}

func (n *Node) GetRef() ElementRef {
	return NodeRef(n.ID)
}

func (n *Node) GetTags() map[string]string {
	return n.Tags
}

func (n *Node) GetInfo() *Info {
	return n.Info
}

// Way is an ordered list of between 2 and 2,000 nodes that define a polyline.
type Way struct {
	ID      int64
	Tags    map[string]string
	Info    *Info
	NodeIDs []int64
}

var _ Entity = (*Way)(nil)

func (w *Way) isEntity() {}

func (w *Way) GetRef() ElementRef {
	return WayRef(w.ID)
}

func (w *Way) GetTags() map[string]string {
	return w.Tags
}

func (w *Way) GetInfo() *Info {
	return w.Info
}

// Member represents an entity that is part of a relation.
type Member struct {
	ID   int64
	Type ElementType
	Role string
}

// Relation is a multipurpose data structure that documents a relationship
// between two or more data entities (nodes, ways, and/or other relations).
type Relation struct {
	ID      int64
	Tags    map[string]string
	Info    *Info
	Members []Member
}

var _ Entity = (*Relation)(nil)

func (r *Relation) isEntity() {}

func (r *Relation) GetRef() ElementRef {
	return RelationRef(r.ID)
}

func (r *Relation) GetTags() map[string]string {
	return r.Tags
}

func (r *Relation) GetInfo() *Info {
	return r.Info
}

// ToElementVersion converts a dump record into an element row without a
// sequence id. Tombstones lose their location and members.
func ToElementVersion(e Entity) ElementVersion {
	info := e.GetInfo()
	if info == nil {
		info = &Info{Visible: true}
	}

	ev := ElementVersion{
		ChangesetID: info.Changeset,
		Type:        e.GetRef().Type,
		ID:          e.GetRef().ID,
		Version:     info.Version,
		Visible:     info.Visible,
		Tags:        Tags(e.GetTags()),
		CreatedAt:   info.Timestamp.UTC(),
	}

	if !ev.Visible {
		return ev
	}

	switch v := e.(type) {
	case *Node:
		if v.HasLocation {
			ev.Point = &Point{Lat: v.Lat, Lon: v.Lon}
		}
	case *Way:
		ev.Members = NodeMembers(v.NodeIDs...)
	case *Relation:
		ev.Members = make([]MemberRef, len(v.Members))
		for i, m := range v.Members {
			ev.Members[i] = MemberRef{Order: uint16(i), Type: m.Type, ID: m.ID, Role: m.Role}
		}
	}

	return ev
}
