package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS credentials (
	user_id         TEXT NOT NULL,
	provider        TEXT NOT NULL,
	access_token    TEXT NOT NULL,
	refresh_token   TEXT NOT NULL,
	expires_at      TEXT NOT NULL,
	subject_id      TEXT NOT NULL DEFAULT '',
	revoked         INTEGER NOT NULL DEFAULT 0,
	updated_at      TEXT NOT NULL,
	PRIMARY KEY (user_id, provider)
);`

// SQLiteStore persists credentials in a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the database at path, creating parent
// directories as needed.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, userID string, provider Provider) (*Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, expires_at, subject_id, revoked, updated_at
		FROM credentials WHERE user_id = ? AND provider = ?`, userID, string(provider))

	var (
		c                = Credential{UserID: userID, Provider: provider}
		expires, updated string
		revoked          int
	)
	err := row.Scan(&c.EncryptedAccessToken, &c.EncryptedRefreshToken, &expires, &c.ProviderSubjectID, &revoked, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query credential: %w", err)
	}
	if c.ExpiresAt, err = time.Parse(time.RFC3339Nano, expires); err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	if c.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	c.Revoked = revoked != 0
	return &c, nil
}

// Put upserts the full record in one statement.
func (s *SQLiteStore) Put(ctx context.Context, cred *Credential) error {
	if err := cred.validate(); err != nil {
		return err
	}
	revoked := 0
	if cred.Revoked {
		revoked = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (user_id, provider, access_token, refresh_token, expires_at, subject_id, revoked, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			subject_id = excluded.subject_id,
			revoked = excluded.revoked,
			updated_at = excluded.updated_at`,
		cred.UserID, string(cred.Provider),
		cred.EncryptedAccessToken, cred.EncryptedRefreshToken,
		cred.ExpiresAt.UTC().Format(time.RFC3339Nano),
		cred.ProviderSubjectID, revoked,
		cred.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, userID string, provider Provider) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE user_id = ? AND provider = ?`, userID, string(provider))
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
