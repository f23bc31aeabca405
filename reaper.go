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
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"

	"m4o.io/osmhistory/internal/core"
)

// Reap closes the changesets that stayed idle or open for too long and
// deletes closed changesets that never received an edit.
func (s *Store) Reap(ctx context.Context) (closed, deleted []int64, err error) {
	now := s.opts.clock()

	err = s.update(ctx, func(txn *badger.Txn) (err error) {
		closed, err = s.changesets.CloseInactive(txn, now, s.opts.idleTimeout, s.opts.openTimeout)
		if err != nil {
			return err
		}

		deleted, err = s.changesets.DeleteEmpty(txn, now, s.opts.emptyTimeout)

		return err
	})
	if err != nil {
		return nil, nil, err
	}

	if len(closed) > 0 || len(deleted) > 0 {
		s.logger.Info("reaped changesets", "closed", len(closed), "deleted", len(deleted))
	}

	return closed, deleted, nil
}

// RunReaper reaps changesets and collects value log garbage every interval
// until ctx is done.
func (s *Store) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if _, _, err := s.Reap(ctx); err != nil {
			s.logger.Error("unable to reap changesets", "error", err)
		}

		if err := core.CollectGarbage(s.db, DefaultGCRatio); err != nil {
			s.logger.Error("unable to collect garbage", "error", err)
		}
	}
}
