package sqlite

import (
	"bytes"
	"context"
	"net/url"
	"testing"
)

// setupTestDB creates a named shared in-memory SQLite database for testing.
// Writer and reader connections share the same in-memory database via cache=shared.
// A unique name derived from t.Name() ensures isolation between parallel tests.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	// Percent-encode the test name so it's a safe SQLite URI filename component
	// and cannot be misinterpreted as query parameters in the DSN.
	// WAL mode is not applicable to in-memory databases.
	dsn := credentialDSN(url.PathEscape(t.Name()) + "?mode=memory&cache=shared")

	db, err := openPair(context.Background(), dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	if _, err := RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		t.Fatalf("run migrations: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	return db
}

// setupTestRepo returns a CredentialRepo over a fresh in-memory database with a fixed key.
func setupTestRepo(t *testing.T) *CredentialRepo {
	t.Helper()

	sealer, err := NewSealer(bytes.Repeat([]byte{0x42}, KeySize))
	if err != nil {
		t.Fatalf("create sealer: %v", err)
	}
	return NewCredentialRepo(setupTestDB(t), sealer)
}
