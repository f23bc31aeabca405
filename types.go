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

package osmhistory

import (
	"m4o.io/osmhistory/internal/element"
	"m4o.io/osmhistory/internal/query"
	"m4o.io/osmhistory/internal/resolve"
)

type (
	// Edit is a request to create the next version of an element.
	Edit = element.Edit

	// HistoryOptions restricts a history listing to a range of versions.
	HistoryOptions = element.HistoryOptions

	RecreatePolicy = element.RecreatePolicy
	TombstoneTags  = element.TombstoneTags

	// ResolveOptions controls member resolution.
	ResolveOptions = resolve.Options

	// Resolution holds the members resolved for a set of parents.
	Resolution = resolve.Result

	ResolvedMember = resolve.Member

	BBoxQuery = query.BBoxQuery
	TagQuery  = query.TagQuery
	TagFilter = query.TagFilter
)

const (
	RecreateAllow  = element.RecreateAllow
	RecreateForbid = element.RecreateForbid

	TombstoneDropTags = element.TombstoneDropTags
	TombstoneKeepTags = element.TombstoneKeepTags
)
