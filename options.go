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

package osmhistory

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"m4o.io/osmhistory/internal/changeset"
	"m4o.io/osmhistory/internal/element"
	"m4o.io/osmhistory/internal/query"
)

const (
	// DefaultMaxRetries is how often a transaction that lost a commit race
	// is run again.
	DefaultMaxRetries = 5

	// DefaultGCRatio is the garbage ratio above which the reaper rewrites
	// value log files.
	DefaultGCRatio = 0.5
)

// storeOptions provides optional configuration parameters for Store construction.
type storeOptions struct {
	path          string
	inMemory      bool
	syncWrites    bool
	logger        *slog.Logger
	clock         func() time.Time
	maxQueryArea  float64
	recreate      RecreatePolicy
	tombstoneTags TombstoneTags
	maxRetries    int
	changesetSize int64
	idleTimeout   time.Duration
	openTimeout   time.Duration
	emptyTimeout  time.Duration
	registerer    prometheus.Registerer
}

// Option configures how we set up the store.
type Option func(*storeOptions)

// WithPath sets the directory of the store.
func WithPath(path string) Option {
	return func(o *storeOptions) {
		o.path = path
	}
}

// WithInMemory keeps the store in memory only.
func WithInMemory() Option {
	return func(o *storeOptions) {
		o.inMemory = true
	}
}

// WithSyncWrites makes every commit wait for the disk.
func WithSyncWrites() Option {
	return func(o *storeOptions) {
		o.syncWrites = true
	}
}

// WithLogger lets you set the logger of the store and its database.
func WithLogger(l *slog.Logger) Option {
	return func(o *storeOptions) {
		o.logger = l
	}
}

// WithClock lets you replace the clock that timestamps edits and drives
// changeset expiry.
func WithClock(clock func() time.Time) Option {
	return func(o *storeOptions) {
		o.clock = clock
	}
}

// WithMaxQueryArea sets the largest bounding box, in square degrees, a
// spatial query may cover.
func WithMaxQueryArea(area float64) Option {
	return func(o *storeOptions) {
		o.maxQueryArea = area
	}
}

// WithRecreatePolicy sets whether deleted elements may become visible again.
func WithRecreatePolicy(p RecreatePolicy) Option {
	return func(o *storeOptions) {
		o.recreate = p
	}
}

// WithTombstoneTags sets what happens to the tags of a deletion.
func WithTombstoneTags(t TombstoneTags) Option {
	return func(o *storeOptions) {
		o.tombstoneTags = t
	}
}

// WithMaxRetries sets how often a transaction that lost a commit race is
// run again.
func WithMaxRetries(n int) Option {
	return func(o *storeOptions) {
		o.maxRetries = n
	}
}

// WithChangesetMaxSize sets the number of edits after which a changeset
// closes on its own.
func WithChangesetMaxSize(n int64) Option {
	return func(o *storeOptions) {
		o.changesetSize = n
	}
}

// WithIdleTimeout sets how long an open changeset may go without edits.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *storeOptions) {
		o.idleTimeout = d
	}
}

// WithOpenTimeout sets how long a changeset may stay open.
func WithOpenTimeout(d time.Duration) Option {
	return func(o *storeOptions) {
		o.openTimeout = d
	}
}

// WithEmptyTimeout sets how long a closed changeset without edits is kept.
func WithEmptyTimeout(d time.Duration) Option {
	return func(o *storeOptions) {
		o.emptyTimeout = d
	}
}

// WithRegisterer registers the store metrics with r. Without it the
// metrics are collected but not registered.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *storeOptions) {
		o.registerer = r
	}
}

// defaultStoreConfig provides a default configuration for stores.
func defaultStoreConfig() storeOptions {
	return storeOptions{
		logger:        slog.Default(),
		clock:         time.Now,
		maxQueryArea:  query.DefaultMaxArea,
		recreate:      RecreateAllow,
		tombstoneTags: TombstoneDropTags,
		maxRetries:    DefaultMaxRetries,
		changesetSize: changeset.DefaultMaxSize,
		idleTimeout:   changeset.DefaultIdleTimeout,
		openTimeout:   changeset.DefaultOpenTimeout,
		emptyTimeout:  changeset.DefaultEmptyTimeout,
	}
}

func (o *storeOptions) elementOptions() []element.Option {
	return []element.Option{
		element.WithRecreatePolicy(o.recreate),
		element.WithTombstoneTags(o.tombstoneTags),
	}
}
