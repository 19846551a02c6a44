// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"context"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyIntegrity_DetectsCorruption(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "corruptible.sqlite")

	db, err := Open(dbPath, DefaultConfig())
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE test (id INTEGER PRIMARY KEY, data TEXT);")
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		_, err = db.Exec("INSERT INTO test (data) VALUES (hex(randomblob(100)));")
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	issues, err := VerifyIntegrity(ctx, dbPath, "quick")
	require.NoError(t, err)
	require.Nil(t, issues)

	// overwrite part of the second page
	f, err := os.OpenFile(dbPath, os.O_RDWR, 0o644)
	require.NoError(t, err)
	garbage := make([]byte, 100)
	_, _ = rand.Read(garbage)
	_, err = f.WriteAt(garbage, 4096)
	require.NoError(t, f.Close())
	require.NoError(t, err)

	issues, err = VerifyIntegrity(ctx, dbPath, "full")
	require.NoError(t, err, "corruption is a diagnostic, not a failure")
	assert.NotEmpty(t, issues)
}

func TestVerifyIntegrity_ReportsUnreadableFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "garbage.sqlite")
	garbage := make([]byte, 8192)
	_, _ = rand.Read(garbage)
	require.NoError(t, os.WriteFile(dbPath, garbage, 0o644))

	issues, err := VerifyIntegrity(context.Background(), dbPath, "quick")
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0], "not a database")
}

func TestCorruption(t *testing.T) {
	msg, ok := corruption(errors.New("database disk image is malformed (11)"))
	assert.True(t, ok)
	assert.Contains(t, msg, "malformed")

	_, ok = corruption(errors.New("unable to open database file"))
	assert.False(t, ok)
}

func TestMigrate_AppliesPendingSteps(t *testing.T) {
	ctx := context.Background()
	db, err := Open(filepath.Join(t.TempDir(), "m.sqlite"), DefaultConfig())
	require.NoError(t, err)
	defer db.Close()

	steps := []string{
		"CREATE TABLE a (id INTEGER PRIMARY KEY);",
		"CREATE TABLE b (id INTEGER PRIMARY KEY);",
	}
	v, err := Migrate(ctx, db, steps[:1])
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = Migrate(ctx, db, steps)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	var version int
	require.NoError(t, db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, 2, version)

	_, err = Migrate(ctx, db, steps[:1])
	assert.Error(t, err, "older binary must refuse a newer schema")
}

func TestMigrate_FailedStepRollsBack(t *testing.T) {
	ctx := context.Background()
	db, err := Open(filepath.Join(t.TempDir(), "m.sqlite"), DefaultConfig())
	require.NoError(t, err)
	defer db.Close()

	v, err := Migrate(ctx, db, []string{
		"CREATE TABLE a (id INTEGER PRIMARY KEY);",
		"CREATE TABLE a (id INTEGER PRIMARY KEY);",
	})
	require.Error(t, err)
	assert.Equal(t, 1, v)

	var version int
	require.NoError(t, db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, 1, version)
}
