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

import (
	"fmt"
	"unicode/utf8"

	"m4o.io/osmhistory/model"
)

func invalid(format string, args ...any) error {
	return &model.InvalidError{Reason: fmt.Sprintf(format, args...)}
}

// validate checks the shape of an edit in isolation, i.e. without looking
// at stored state.
func (s *Store) validate(e *Edit) error {
	if err := e.Ref.Validate(); err != nil {
		return err
	}

	if e.ChangesetID <= 0 {
		return invalid("%s: changeset id must be positive", e.Ref)
	}

	for k, v := range e.Tags {
		if k == "" {
			return invalid("%s: empty tag key", e.Ref)
		}

		if utf8.RuneCountInString(k) > MaxTagLength || utf8.RuneCountInString(v) > MaxTagLength {
			return invalid("%s: tag %q longer than %d characters", e.Ref, k, MaxTagLength)
		}
	}

	if !e.Visible {
		if e.Point != nil || len(e.Members) > 0 {
			return invalid("%s: a deletion carries no point or members", e.Ref)
		}

		return nil
	}

	switch e.Ref.Type {
	case model.NODE:
		if e.Point == nil {
			return invalid("%s: a node needs a point", e.Ref)
		}

		if !e.Point.Valid() {
			return invalid("%s: point %s out of range", e.Ref, e.Point)
		}

		if len(e.Members) > 0 {
			return invalid("%s: a node has no members", e.Ref)
		}
	case model.WAY:
		if e.Point != nil {
			return invalid("%s: a way has no point", e.Ref)
		}

		if len(e.Members) > s.opts.maxWayNodes {
			return invalid("%s: %d nodes exceed %d", e.Ref, len(e.Members), s.opts.maxWayNodes)
		}

		for _, m := range e.Members {
			if m.Type != model.NODE || m.Role != "" {
				return invalid("%s: way members must be nodes without role", e.Ref)
			}
		}
	case model.RELATION:
		if e.Point != nil {
			return invalid("%s: a relation has no point", e.Ref)
		}

		if len(e.Members) > s.opts.maxMembers {
			return invalid("%s: %d members exceed %d", e.Ref, len(e.Members), s.opts.maxMembers)
		}

		for _, m := range e.Members {
			if utf8.RuneCountInString(m.Role) > MaxTagLength {
				return invalid("%s: member role longer than %d characters", e.Ref, MaxTagLength)
			}
		}
	}

	for _, m := range e.Members {
		if err := m.Ref().Validate(); err != nil {
			return fmt.Errorf("%s: %w", e.Ref, err)
		}
	}

	return nil
}
