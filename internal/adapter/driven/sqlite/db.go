package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	_ "modernc.org/sqlite"
)

// credentialFileMode keeps the credential database readable by its owner only.
// SQLite gives the -wal and -shm files the same mode.
const credentialFileMode = 0o600

// connPragmas apply to every connection of the credential store.
var connPragmas = []string{
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"foreign_keys(ON)",
	"cache_size(-16000)",
}

// DB is the credential store's connection pair. Writer holds a single
// connection, so the supersede-then-upsert transaction of a Put is the only
// writer at any time. Reader serves Get and ListByOwner concurrently.
type DB struct {
	Writer *sql.DB
	Reader *sql.DB
}

// NewDB opens the credential database at dbPath in WAL mode, creating the
// file with owner-only permissions when it does not exist.
func NewDB(ctx context.Context, dbPath string) (*DB, error) {
	if err := ensureCredentialFile(dbPath); err != nil {
		return nil, err
	}
	return openPair(ctx, credentialDSN(dbPath, "journal_mode(WAL)"))
}

func credentialDSN(name string, extra ...string) string {
	params := make([]string, 0, len(connPragmas)+len(extra))
	for _, p := range append(extra, connPragmas...) {
		params = append(params, "_pragma="+p)
	}
	sep := "?"
	if strings.Contains(name, "?") {
		sep = "&"
	}
	return "file:" + name + sep + strings.Join(params, "&")
}

func ensureCredentialFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE|os.O_EXCL, credentialFileMode)
	switch {
	case err == nil:
		return f.Close()
	case errors.Is(err, fs.ErrExist):
		info, statErr := os.Stat(path)
		if statErr != nil {
			return fmt.Errorf("stat credential database: %w", statErr)
		}
		if info.Mode().Perm()&0o077 != 0 {
			if err := os.Chmod(path, credentialFileMode); err != nil {
				return fmt.Errorf("restrict credential database permissions: %w", err)
			}
		}
		return nil
	default:
		return fmt.Errorf("create credential database: %w", err)
	}
}

func openPair(ctx context.Context, dsn string) (*DB, error) {
	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)
	if err := writer.PingContext(ctx); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("ping writer: %w", err)
	}

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}
	reader.SetMaxOpenConns(4)
	if err := reader.PingContext(ctx); err != nil {
		_ = reader.Close()
		_ = writer.Close()
		return nil, fmt.Errorf("ping reader: %w", err)
	}

	return &DB{Writer: writer, Reader: reader}, nil
}

// Close closes both connection pools and returns the first error.
func (db *DB) Close() error {
	return errors.Join(
		wrapClose("reader", db.Reader.Close()),
		wrapClose("writer", db.Writer.Close()),
	)
}

func wrapClose(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("close %s: %w", name, err)
}
