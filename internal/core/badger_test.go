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

package core

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBadger(t *testing.T) {
	var logs bytes.Buffer

	path := filepath.Join(t.TempDir(), "db")
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	db, err := OpenBadger(BadgerConfig{Path: path, Logger: logger})
	require.NoError(t, err)

	require.NoError(t, db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("k"), []byte("v"))
	}))
	require.NoError(t, CollectGarbage(db, 0.5))
	require.NoError(t, db.Close())

	assert.Contains(t, logs.String(), "component=badger")

	db, err = OpenBadger(BadgerConfig{Path: path})
	require.NoError(t, err)

	defer db.Close()

	require.NoError(t, db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("k"))
		require.NoError(t, err)

		v, err := item.ValueCopy(nil)
		assert.Equal(t, []byte("v"), v)

		return err
	}))
}

func TestOpenBadgerInMemory(t *testing.T) {
	db, err := OpenBadger(BadgerConfig{InMemory: true})
	require.NoError(t, err)

	defer db.Close()

	assert.NoError(t, CollectGarbage(db, 0.5))
}

func TestOpenBadgerWithoutPath(t *testing.T) {
	_, err := OpenBadger(BadgerConfig{})
	assert.Error(t, err)
}
