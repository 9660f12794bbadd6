package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDB_CreatesOwnerOnlyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokenwarden.db")

	db, err := NewDB(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	var mode string
	require.NoError(t, db.Reader.QueryRowContext(context.Background(), "PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestNewDB_RestrictsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokenwarden.db")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	require.NoError(t, os.Chmod(path, 0o644))

	db, err := NewDB(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db, err := NewDB(context.Background(), filepath.Join(t.TempDir(), "tokenwarden.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	version, err := RunMigrations(db.Writer)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	version, err = RunMigrations(db.Writer)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
}

func TestCredentialDSN(t *testing.T) {
	assert.Equal(t,
		"file:creds.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-16000)",
		credentialDSN("creds.db", "journal_mode(WAL)"))
	assert.Equal(t,
		"file:mem?mode=memory&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-16000)",
		credentialDSN("mem?mode=memory"))
}
