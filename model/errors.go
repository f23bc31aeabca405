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
	"errors"
	"fmt"
	"time"
)

var (
	ErrConflict            = errors.New("version conflict")
	ErrReferential         = errors.New("referential integrity violation")
	ErrNotFound            = errors.New("not found")
	ErrAlreadyClosed       = errors.New("changeset already closed")
	ErrQueryTooLarge       = errors.New("query area too large")
	ErrImportInconsistency = errors.New("import inconsistency")
	ErrInvalid             = errors.New("invalid argument")
	ErrDeleted             = errors.New("element is deleted")
)

// ConflictError is an optimistic lock failure: the caller's view of the
// current version is stale.
type ConflictError struct {
	Ref      ElementRef
	Expected int64
	Actual   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: expected version %d, current is %d", e.Ref, e.Expected, e.Actual)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// ReferentialError rejects an edit whose members are missing or deleted, or
// a deletion of an element that is still referenced.
type ReferentialError struct {
	Ref    ElementRef
	Member ElementRef
	Reason string
}

func (e *ReferentialError) Error() string {
	return fmt.Sprintf("%s: %s %s", e.Ref, e.Reason, e.Member)
}

func (e *ReferentialError) Is(target error) bool { return target == ErrReferential }

// NotFoundError reports an unknown element or changeset.
type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string {
	return e.What + " not found"
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// AlreadyClosedError rejects an operation on a closed changeset.
type AlreadyClosedError struct {
	ChangesetID int64
	ClosedAt    time.Time
}

func (e *AlreadyClosedError) Error() string {
	return fmt.Sprintf("changeset %d was closed at %s", e.ChangesetID, e.ClosedAt.UTC().Format(time.RFC3339))
}

func (e *AlreadyClosedError) Is(target error) bool { return target == ErrAlreadyClosed }

// QueryTooLargeError rejects a spatial query whose area exceeds the limit.
type QueryTooLargeError struct {
	Area float64
	Max  float64
}

func (e *QueryTooLargeError) Error() string {
	return fmt.Sprintf("query area %s square degrees exceeds the maximum of %s, narrow the bounding box",
		ftoa(e.Area), ftoa(e.Max))
}

func (e *QueryTooLargeError) Is(target error) bool { return target == ErrQueryTooLarge }

// ImportInconsistencyError aborts a bulk import whose version chains are
// broken.
type ImportInconsistencyError struct {
	Ref    ElementRef
	Reason string
}

func (e *ImportInconsistencyError) Error() string {
	return fmt.Sprintf("inconsistent history for %s: %s", e.Ref, e.Reason)
}

func (e *ImportInconsistencyError) Is(target error) bool { return target == ErrImportInconsistency }

// InvalidError rejects a malformed edit or argument.
type InvalidError struct {
	Reason string
}

func (e *InvalidError) Error() string {
	return e.Reason
}

func (e *InvalidError) Is(target error) bool { return target == ErrInvalid }

// DeletedError rejects the recreation of a deleted element.
type DeletedError struct {
	Ref     ElementRef
	Version int64
}

func (e *DeletedError) Error() string {
	return fmt.Sprintf("%s was deleted in version %d", e.Ref, e.Version)
}

func (e *DeletedError) Is(target error) bool { return target == ErrDeleted }
