package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore persists sessions in Postgres so they survive server
// restarts. Selected when DATABASE_URL is set.
type PostgresStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id            TEXT PRIMARY KEY,
	access_token  TEXT NOT NULL DEFAULT '',
	refresh_token TEXT NOT NULL DEFAULT '',
	expires_at    TIMESTAMPTZ,
	pkce_verifier TEXT NOT NULL DEFAULT '',
	oauth_state   TEXT NOT NULL DEFAULT '',
	email         TEXT NOT NULL DEFAULT '',
	name          TEXT NOT NULL DEFAULT '',
	picture       TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL,
	last_seen     TIMESTAMPTZ NOT NULL
)`

// NewPostgresStore opens the database and ensures the schema exists.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create sessions table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Close closes the underlying database handle.
func (p *PostgresStore) Close() error {
	return p.db.Close()
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Session, error) {
	s := &Session{ID: id}
	var expiresAt sql.NullTime
	err := p.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expires_at, pkce_verifier, oauth_state,
		        email, name, picture, created_at, last_seen
		 FROM sessions WHERE id = $1`, id).
		Scan(&s.Token.AccessToken, &s.Token.RefreshToken, &expiresAt,
			&s.PKCEVerifier, &s.OAuthState,
			&s.Email, &s.Name, &s.Picture, &s.CreatedAt, &s.LastSeen)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if expiresAt.Valid {
		s.Token.ExpiresAt = expiresAt.Time
	}
	return s, nil
}

func (p *PostgresStore) Save(ctx context.Context, s *Session) error {
	var expiresAt sql.NullTime
	if !s.Token.ExpiresAt.IsZero() {
		expiresAt = sql.NullTime{Time: s.Token.ExpiresAt, Valid: true}
	}
	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO sessions (id, access_token, refresh_token, expires_at, pkce_verifier,
		                       oauth_state, email, name, picture, created_at, last_seen)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		 ON CONFLICT (id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			pkce_verifier = EXCLUDED.pkce_verifier,
			oauth_state = EXCLUDED.oauth_state,
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			picture = EXCLUDED.picture,
			last_seen = NOW()`,
		s.ID, s.Token.AccessToken, s.Token.RefreshToken, expiresAt,
		s.PKCEVerifier, s.OAuthState, s.Email, s.Name, s.Picture, createdAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (p *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

func (p *PostgresStore) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	res, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE last_seen < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup sessions: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
