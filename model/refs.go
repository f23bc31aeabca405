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
	"fmt"
	"strconv"
	"strings"
)

// ElementType is an enumeration of OSM element types.
type ElementType uint8

const (
	// NODE denotes a node.
	NODE ElementType = iota

	// WAY denotes a way.
	WAY

	// RELATION denotes a relation.
	RELATION
)

// ElementTypes lists every element type in query output order.
var ElementTypes = []ElementType{NODE, WAY, RELATION}

var elementTypeNames = [...]string{"node", "way", "relation"}

func (t ElementType) String() string {
	if int(t) < len(elementTypeNames) {
		return elementTypeNames[t]
	}

	return "ElementType(" + strconv.Itoa(int(t)) + ")"
}

// Valid reports whether t is one of NODE, WAY or RELATION.
func (t ElementType) Valid() bool {
	return t <= RELATION
}

// Letter is the single letter abbreviation used in compact references.
func (t ElementType) Letter() byte {
	return elementTypeNames[t][0]
}

// ParseElementType accepts either the full type name or its first letter.
func ParseElementType(s string) (ElementType, error) {
	switch strings.ToLower(s) {
	case "n", "node":
		return NODE, nil
	case "w", "way":
		return WAY, nil
	case "r", "relation":
		return RELATION, nil
	default:
		return 0, &InvalidError{Reason: fmt.Sprintf("unknown element type %q", s)}
	}
}

// ElementRef identifies an element across all of its versions.
type ElementRef struct {
	Type ElementType `json:"type"`
	ID   int64       `json:"id"`
}

// NodeRef, WayRef and RelationRef are shorthand constructors.
func NodeRef(id int64) ElementRef     { return ElementRef{Type: NODE, ID: id} }
func WayRef(id int64) ElementRef      { return ElementRef{Type: WAY, ID: id} }
func RelationRef(id int64) ElementRef { return ElementRef{Type: RELATION, ID: id} }

func (r ElementRef) String() string {
	if !r.Type.Valid() {
		return r.Type.String() + "/" + strconv.FormatInt(r.ID, 10)
	}

	return string(r.Type.Letter()) + strconv.FormatInt(r.ID, 10)
}

// Validate rejects unknown types and non-positive ids.
func (r ElementRef) Validate() error {
	if !r.Type.Valid() {
		return &InvalidError{Reason: fmt.Sprintf("unknown element type %d", r.Type)}
	}

	if r.ID <= 0 {
		return &InvalidError{Reason: fmt.Sprintf("element id must be positive: %s", r)}
	}

	return nil
}

// Version qualifies the reference with a version.
func (r ElementRef) Version(v int64) VersionedElementRef {
	return VersionedElementRef{ElementRef: r, Version: v}
}

// Less orders references by type and then id.
func (r ElementRef) Less(o ElementRef) bool {
	if r.Type != o.Type {
		return r.Type < o.Type
	}

	return r.ID < o.ID
}

// ParseElementRef parses the compact form, e.g. "n123" or "relation/5".
func ParseElementRef(s string) (ElementRef, error) {
	var typ, id string

	if i := strings.IndexByte(s, '/'); i >= 0 {
		typ, id = s[:i], s[i+1:]
	} else if len(s) > 1 {
		typ, id = s[:1], s[1:]
	} else {
		return ElementRef{}, &InvalidError{Reason: fmt.Sprintf("malformed element reference %q", s)}
	}

	t, err := ParseElementType(typ)
	if err != nil {
		return ElementRef{}, err
	}

	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return ElementRef{}, &InvalidError{Reason: fmt.Sprintf("malformed element id %q", id)}
	}

	ref := ElementRef{Type: t, ID: n}

	return ref, ref.Validate()
}

// VersionedElementRef identifies one immutable version of an element.
type VersionedElementRef struct {
	ElementRef
	Version int64 `json:"version"`
}

func (r VersionedElementRef) String() string {
	return r.ElementRef.String() + "v" + strconv.FormatInt(r.Version, 10)
}

// Validate rejects invalid element references and versions below 1.
func (r VersionedElementRef) Validate() error {
	if err := r.ElementRef.Validate(); err != nil {
		return err
	}

	if r.Version < 1 {
		return &InvalidError{Reason: fmt.Sprintf("version must be at least 1: %s", r)}
	}

	return nil
}

// ParseVersionedElementRef parses the compact form, e.g. "n123v4".
func ParseVersionedElementRef(s string) (VersionedElementRef, error) {
	i := strings.LastIndexByte(s, 'v')
	if i <= 0 {
		return VersionedElementRef{}, &InvalidError{Reason: fmt.Sprintf("malformed versioned reference %q", s)}
	}

	ref, err := ParseElementRef(s[:i])
	if err != nil {
		return VersionedElementRef{}, err
	}

	v, err := strconv.ParseInt(s[i+1:], 10, 64)
	if err != nil {
		return VersionedElementRef{}, &InvalidError{Reason: fmt.Sprintf("malformed version %q", s[i+1:])}
	}

	vref := ref.Version(v)

	return vref, vref.Validate()
}

// MemberRef is an ordered reference from a way or relation to another
// element. Order is significant for ways but is not part of its identity.
type MemberRef struct {
	Order uint16      `json:"order"`
	Type  ElementType `json:"type"`
	ID    int64       `json:"id"`
	Role  string      `json:"role,omitempty"`
}

// Ref is the referenced element.
func (m MemberRef) Ref() ElementRef {
	return ElementRef{Type: m.Type, ID: m.ID}
}

func (m MemberRef) String() string {
	if m.Role == "" {
		return fmt.Sprintf("#%d %s", m.Order, m.Ref())
	}

	return fmt.Sprintf("#%d %s[%s]", m.Order, m.Ref(), m.Role)
}

// NodeMembers builds the member list of a way from its node ids.
func NodeMembers(ids ...int64) []MemberRef {
	members := make([]MemberRef, len(ids))
	for i, id := range ids {
		members[i] = MemberRef{Order: uint16(i), Type: NODE, ID: id}
	}

	return members
}
