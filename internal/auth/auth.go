// Package auth provides account and token authentication for Trueque.
//
// Authentication model:
// - Public endpoints (browse listings): No auth required
// - Everything else requires a bearer token issued at login
// - Tokens are random, stored hashed, and revocable
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/trueque-app/trueque/internal/idgen"
)

// Errors
var (
	ErrNoToken            = errors.New("authentication token required")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserExists         = errors.New("username or email already taken")
	ErrUserNotFound       = errors.New("user not found")
	ErrTokenNotFound      = errors.New("token not found")
)

// User represents a registered account
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	WhatsApp     string    `json:"whatsapp,omitempty"`
	IsAdmin      bool      `json:"isAdmin"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Token represents an issued bearer token
type Token struct {
	ID        string     `json:"id"`
	Hash      string     `json:"-"` // SHA256 hash of token (stored)
	UserID    string     `json:"userId"`
	CreatedAt time.Time  `json:"createdAt"`
	LastUsed  time.Time  `json:"lastUsed,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Revoked   bool       `json:"revoked"`
}

// Store persists users and tokens
type Store interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	CreateToken(ctx context.Context, t *Token) error
	GetTokenByHash(ctx context.Context, hash string) (*Token, error)
	UpdateToken(ctx context.Context, t *Token) error
	DeleteToken(ctx context.Context, id string) error
}

// TokenTTL is how long an issued token stays valid.
const TokenTTL = 30 * 24 * time.Hour

// Manager handles registration, login, and token validation
type Manager struct {
	store Store
}

// NewManager creates a new auth manager
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Register creates a new account. The password is bcrypt-hashed before storage.
func (m *Manager) Register(ctx context.Context, username, email, whatsapp, password string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	username = strings.TrimSpace(username)

	if _, err := m.store.GetUserByEmail(ctx, email); err == nil {
		return nil, ErrUserExists
	}
	if _, err := m.store.GetUserByUsername(ctx, username); err == nil {
		return nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	u := &User{
		ID:           idgen.WithPrefix("usr_"),
		Username:     username,
		Email:        email,
		WhatsApp:     strings.TrimSpace(whatsapp),
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := m.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Login verifies credentials and issues a new token.
// Returns the raw token (shown once) along with the user.
func (m *Manager) Login(ctx context.Context, email, password string) (rawToken string, user *User, err error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err = m.store.GetUserByEmail(ctx, email)
	if err != nil {
		return "", nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	rawToken = "tk_" + idgen.Hex(32)
	expires := time.Now().UTC().Add(TokenTTL)
	t := &Token{
		ID:        idgen.WithPrefix("tok_"),
		Hash:      hashToken(rawToken),
		UserID:    user.ID,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: &expires,
	}
	if err := m.store.CreateToken(ctx, t); err != nil {
		return "", nil, err
	}
	return rawToken, user, nil
}

// ValidateToken validates a raw bearer token and returns the owning user.
func (m *Manager) ValidateToken(ctx context.Context, rawToken string) (*User, *Token, error) {
	if rawToken == "" {
		return nil, nil, ErrNoToken
	}

	rawToken = strings.TrimPrefix(rawToken, "Bearer ")
	rawToken = strings.TrimSpace(rawToken)

	if !strings.HasPrefix(rawToken, "tk_") {
		return nil, nil, ErrInvalidToken
	}

	token, err := m.store.GetTokenByHash(ctx, hashToken(rawToken))
	if err != nil {
		return nil, nil, ErrInvalidToken
	}

	if token.Revoked {
		return nil, nil, ErrInvalidToken
	}
	if token.ExpiresAt != nil && time.Now().After(*token.ExpiresAt) {
		return nil, nil, ErrInvalidToken
	}

	user, err := m.store.GetUser(ctx, token.UserID)
	if err != nil {
		return nil, nil, ErrInvalidToken
	}

	// Update last used (fire and forget)
	go func() {
		token.LastUsed = time.Now().UTC()
		_ = m.store.UpdateToken(context.Background(), token)
	}()

	return user, token, nil
}

// Logout revokes the given token.
func (m *Manager) Logout(ctx context.Context, token *Token) error {
	token.Revoked = true
	return m.store.UpdateToken(ctx, token)
}

func hashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// MemoryStore is an in-memory implementation of Store
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[string]*User  // by ID
	tokens map[string]*Token // by ID
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[string]*User),
		tokens: make(map[string]*Token),
	}
}

func (s *MemoryStore) CreateUser(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *MemoryStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			return u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *MemoryStore) CreateToken(ctx context.Context, t *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[t.ID] = t
	return nil
}

func (s *MemoryStore) GetTokenByHash(ctx context.Context, hash string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tokens {
		if t.Hash == hash {
			return t, nil
		}
	}
	return nil, ErrTokenNotFound
}

func (s *MemoryStore) UpdateToken(ctx context.Context, t *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[t.ID] = t
	return nil
}

func (s *MemoryStore) DeleteToken(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, id)
	return nil
}
