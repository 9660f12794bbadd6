package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ericfisherdev/tokenwarden/internal/domain/model"
	"github.com/ericfisherdev/tokenwarden/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

// timeLayout is fixed width so text comparison in ORDER BY matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const credentialColumns = `id, owner, provider, kind, secret, refresh_secret, expires_at, scopes, status, metadata, created_at, updated_at`

// CredentialRepo is the SQLite implementation of the CredentialStore port interface.
// Secret and refresh secret columns are sealed before write and opened after read.
type CredentialRepo struct {
	db     *DB
	sealer *Sealer
}

// NewCredentialRepo creates a new CredentialRepo.
func NewCredentialRepo(db *DB, sealer *Sealer) *CredentialRepo {
	return &CredentialRepo{db: db, sealer: sealer}
}

// Get returns the live credential for the pair, or the most recently updated
// terminal one when none is live.
func (r *CredentialRepo) Get(ctx context.Context, owner string, provider model.Provider) (*model.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials
		WHERE owner = ? AND provider = ?
		ORDER BY CASE WHEN status IN (` + liveStatusList() + `) THEN 0 ELSE 1 END, updated_at DESC
		LIMIT 1`

	cred, err := r.scanCredential(r.db.Reader.QueryRowContext(ctx, query, owner, string(provider)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("sqlite.Get", provider, fmt.Errorf("get credential %s/%s: %w", owner, provider, err))
	}
	return cred, nil
}

// GetByID returns the credential with the given id.
func (r *CredentialRepo) GetByID(ctx context.Context, id string) (*model.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE id = ?`

	cred, err := r.scanCredential(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("sqlite.GetByID", "", fmt.Errorf("get credential %q: %w", id, err))
	}
	return cred, nil
}

// Put supersedes any other live credential of the pair and replaces the full
// record for cred.ID, in one transaction.
func (r *CredentialRepo) Put(ctx context.Context, cred *model.Credential) error {
	if cred == nil || cred.ID == "" || cred.Owner == "" || cred.Provider == "" {
		return storageError("sqlite.Put", "", errors.New("credential id, owner and provider are required"))
	}

	args, err := r.encodeRow(cred)
	if err != nil {
		return storageError("sqlite.Put", cred.Provider, err)
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return storageError("sqlite.Put", cred.Provider, fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if !cred.Status.Terminal() {
		supersede := `UPDATE credentials SET status = ?, updated_at = ?
			WHERE owner = ? AND provider = ? AND id <> ? AND status IN (` + liveStatusList() + `)`
		_, err = tx.ExecContext(ctx, supersede,
			string(model.StatusInvalid), formatTime(cred.UpdatedAt),
			cred.Owner, string(cred.Provider), cred.ID,
		)
		if err != nil {
			return storageError("sqlite.Put", cred.Provider, fmt.Errorf("supersede credentials %s/%s: %w", cred.Owner, cred.Provider, err))
		}
	}

	const upsert = `INSERT INTO credentials (` + credentialColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner = excluded.owner,
			provider = excluded.provider,
			kind = excluded.kind,
			secret = excluded.secret,
			refresh_secret = excluded.refresh_secret,
			expires_at = excluded.expires_at,
			scopes = excluded.scopes,
			status = excluded.status,
			metadata = excluded.metadata,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`
	if _, err := tx.ExecContext(ctx, upsert, args...); err != nil {
		return storageError("sqlite.Put", cred.Provider, fmt.Errorf("upsert credential %q: %w", cred.ID, err))
	}

	if err := tx.Commit(); err != nil {
		return storageError("sqlite.Put", cred.Provider, fmt.Errorf("commit credential %q: %w", cred.ID, err))
	}
	return nil
}

// Delete removes the credential with the given id.
func (r *CredentialRepo) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM credentials WHERE id = ?`
	if _, err := r.db.Writer.ExecContext(ctx, query, id); err != nil {
		return storageError("sqlite.Delete", "", fmt.Errorf("delete credential %q: %w", id, err))
	}
	return nil
}

// ListByOwner returns all credentials of the owner ordered by provider, newest first.
func (r *CredentialRepo) ListByOwner(ctx context.Context, owner string) ([]*model.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE owner = ? ORDER BY provider, updated_at DESC`

	rows, err := r.db.Reader.QueryContext(ctx, query, owner)
	if err != nil {
		return nil, storageError("sqlite.ListByOwner", "", fmt.Errorf("list credentials for %q: %w", owner, err))
	}
	defer rows.Close()

	creds := []*model.Credential{}
	for rows.Next() {
		cred, err := r.scanCredential(rows)
		if err != nil {
			return nil, storageError("sqlite.ListByOwner", "", fmt.Errorf("scan credential: %w", err))
		}
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("sqlite.ListByOwner", "", fmt.Errorf("iterate credentials: %w", err))
	}
	return creds, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *CredentialRepo) scanCredential(row rowScanner) (*model.Credential, error) {
	var (
		cred                     model.Credential
		provider, kind, status   string
		secret                   string
		refreshSecret, expiresAt sql.NullString
		scopes, metadata         string
		createdAt, updatedAt     string
	)
	if err := row.Scan(
		&cred.ID, &cred.Owner, &provider, &kind, &secret, &refreshSecret, &expiresAt,
		&scopes, &status, &metadata, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	cred.Provider = model.Provider(provider)
	cred.Kind = model.Kind(kind)
	cred.Status = model.Status(status)

	plain, err := r.sealer.Open(secret, cred.ID)
	if err != nil {
		return nil, fmt.Errorf("decrypt secret of %q: %w", cred.ID, err)
	}
	cred.Secret = model.Secret(plain)

	if refreshSecret.Valid {
		plain, err := r.sealer.Open(refreshSecret.String, cred.ID)
		if err != nil {
			return nil, fmt.Errorf("decrypt refresh secret of %q: %w", cred.ID, err)
		}
		cred.RefreshSecret = model.Secret(plain)
	}

	if expiresAt.Valid {
		t, err := parseTime(expiresAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse expires_at of %q: %w", cred.ID, err)
		}
		cred.ExpiresAt = &t
	}

	if err := json.Unmarshal([]byte(scopes), &cred.Scopes); err != nil {
		return nil, fmt.Errorf("decode scopes of %q: %w", cred.ID, err)
	}
	if err := json.Unmarshal([]byte(metadata), &cred.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata of %q: %w", cred.ID, err)
	}

	if cred.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at of %q: %w", cred.ID, err)
	}
	if cred.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at of %q: %w", cred.ID, err)
	}

	return &cred, nil
}

// encodeRow returns the insert arguments for cred in credentialColumns order.
func (r *CredentialRepo) encodeRow(cred *model.Credential) ([]any, error) {
	secret, err := r.sealer.Seal(cred.Secret.Reveal(), cred.ID)
	if err != nil {
		return nil, fmt.Errorf("encrypt secret: %w", err)
	}

	var refreshSecret sql.NullString
	if cred.HasRefreshCapability() {
		sealed, err := r.sealer.Seal(cred.RefreshSecret.Reveal(), cred.ID)
		if err != nil {
			return nil, fmt.Errorf("encrypt refresh secret: %w", err)
		}
		refreshSecret = sql.NullString{String: sealed, Valid: true}
	}

	var expiresAt sql.NullString
	if cred.ExpiresAt != nil {
		expiresAt = sql.NullString{String: formatTime(*cred.ExpiresAt), Valid: true}
	}

	scopes := cred.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	scopesJSON, err := json.Marshal(scopes)
	if err != nil {
		return nil, fmt.Errorf("encode scopes: %w", err)
	}

	metadata := cred.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	return []any{
		cred.ID, cred.Owner, string(cred.Provider), string(cred.Kind),
		secret, refreshSecret, expiresAt,
		string(scopesJSON), string(cred.Status), string(metadataJSON),
		formatTime(cred.CreatedAt), formatTime(cred.UpdatedAt),
	}, nil
}

func liveStatusList() string {
	quoted := make([]string, 0, len(model.NonTerminalStatuses))
	for _, s := range model.NonTerminalStatuses {
		quoted = append(quoted, "'"+string(s)+"'")
	}
	return strings.Join(quoted, ", ")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func storageError(op string, provider model.Provider, err error) error {
	return model.NewTokenError(model.ErrKindStorage, op, provider, err)
}
