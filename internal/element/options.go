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

package element

// RecreatePolicy decides whether a deleted element may become visible again.
type RecreatePolicy int

const (
	// RecreateAllow lets a visible edit follow a tombstone under the same id.
	RecreateAllow RecreatePolicy = iota

	// RecreateForbid rejects visible edits of deleted elements.
	RecreateForbid
)

func (p RecreatePolicy) String() string {
	if p == RecreateForbid {
		return "forbid"
	}

	return "allow"
}

// TombstoneTags decides what happens to the tags of a deletion edit.
type TombstoneTags int

const (
	// TombstoneDropTags stores tombstones without tags.
	TombstoneDropTags TombstoneTags = iota

	// TombstoneKeepTags stores the tags supplied with the deletion for audit.
	// They are not indexed.
	TombstoneKeepTags
)

func (t TombstoneTags) String() string {
	if t == TombstoneKeepTags {
		return "keep"
	}

	return "drop"
}

// Limits on the shape of an element.
const (
	DefaultMaxMembers  = 32000
	DefaultMaxWayNodes = 2000
	MaxTagLength       = 255
)

// options provides optional configuration parameters for Store construction.
type options struct {
	recreate      RecreatePolicy
	tombstoneTags TombstoneTags
	maxMembers    int
	maxWayNodes   int
}

// Option configures the element store.
type Option func(*options)

// WithRecreatePolicy sets the policy for edits that follow a deletion.
func WithRecreatePolicy(p RecreatePolicy) Option {
	return func(o *options) {
		o.recreate = p
	}
}

// WithTombstoneTags sets the tag policy for deletions.
func WithTombstoneTags(t TombstoneTags) Option {
	return func(o *options) {
		o.tombstoneTags = t
	}
}

// WithMaxMembers caps the number of relation members.
func WithMaxMembers(n int) Option {
	return func(o *options) {
		o.maxMembers = n
	}
}

// WithMaxWayNodes caps the number of way nodes.
func WithMaxWayNodes(n int) Option {
	return func(o *options) {
		o.maxWayNodes = n
	}
}
