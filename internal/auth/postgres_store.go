package auth

import (
	"context"
	"database/sql"
)

// PostgresStore persists users and tokens in PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL-backed auth store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateUser stores a new user
func (p *PostgresStore) CreateUser(ctx context.Context, u *User) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, whatsapp, is_admin, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, u.ID, u.Username, u.Email, u.WhatsApp, u.IsAdmin, u.PasswordHash, u.CreatedAt)
	return err
}

// GetUser retrieves a user by ID
func (p *PostgresStore) GetUser(ctx context.Context, id string) (*User, error) {
	return p.scanUser(p.db.QueryRowContext(ctx, `
		SELECT id, username, email, whatsapp, is_admin, password_hash, created_at
		FROM users WHERE id = $1
	`, id))
}

// GetUserByEmail retrieves a user by email (case-insensitive)
func (p *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return p.scanUser(p.db.QueryRowContext(ctx, `
		SELECT id, username, email, whatsapp, is_admin, password_hash, created_at
		FROM users WHERE LOWER(email) = LOWER($1)
	`, email))
}

// GetUserByUsername retrieves a user by username (case-insensitive)
func (p *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return p.scanUser(p.db.QueryRowContext(ctx, `
		SELECT id, username, email, whatsapp, is_admin, password_hash, created_at
		FROM users WHERE LOWER(username) = LOWER($1)
	`, username))
}

func (p *PostgresStore) scanUser(row *sql.Row) (*User, error) {
	u := &User{}
	var whatsapp sql.NullString
	err := row.Scan(&u.ID, &u.Username, &u.Email, &whatsapp, &u.IsAdmin, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if whatsapp.Valid {
		u.WhatsApp = whatsapp.String
	}
	return u, nil
}

// CreateToken stores a new token
func (p *PostgresStore) CreateToken(ctx context.Context, t *Token) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO auth_tokens (id, hash, user_id, created_at, expires_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.Hash, t.UserID, t.CreatedAt, t.ExpiresAt, t.Revoked)
	return err
}

// GetTokenByHash retrieves a live token by its hash
func (p *PostgresStore) GetTokenByHash(ctx context.Context, hash string) (*Token, error) {
	t := &Token{}
	var lastUsed, expiresAt sql.NullTime

	err := p.db.QueryRowContext(ctx, `
		SELECT id, hash, user_id, created_at, last_used, expires_at, revoked
		FROM auth_tokens WHERE hash = $1
		  AND revoked = FALSE
		  AND (expires_at IS NULL OR expires_at > NOW())
	`, hash).Scan(&t.ID, &t.Hash, &t.UserID, &t.CreatedAt, &lastUsed, &expiresAt, &t.Revoked)
	if err == sql.ErrNoRows {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}

	if lastUsed.Valid {
		t.LastUsed = lastUsed.Time
	}
	if expiresAt.Valid {
		t.ExpiresAt = &expiresAt.Time
	}
	return t, nil
}

// UpdateToken updates a token's last_used and revoked fields
func (p *PostgresStore) UpdateToken(ctx context.Context, t *Token) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE auth_tokens SET last_used = $1, revoked = $2 WHERE id = $3
	`, t.LastUsed, t.Revoked, t.ID)
	return err
}

// DeleteToken removes a token
func (p *PostgresStore) DeleteToken(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM auth_tokens WHERE id = $1`, id)
	return err
}
