package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provider identifies a calendar backend.
type Provider string

const (
	ProviderGoogle    Provider = "google"
	ProviderMicrosoft Provider = "microsoft"
)

// Valid reports whether p is a supported provider.
func (p Provider) Valid() bool {
	return p == ProviderGoogle || p == ProviderMicrosoft
}

// ParseProvider converts a request value into a Provider.
func ParseProvider(s string) (Provider, error) {
	p := Provider(s)
	if !p.Valid() {
		return "", fmt.Errorf("unsupported provider %q", s)
	}
	return p, nil
}

// ErrNotFound is returned when no credential exists for a key.
var ErrNotFound = errors.New("credential not found")

// Credential is the stored OAuth grant for one user and provider.
type Credential struct {
	UserID                string    `json:"user_id"`
	Provider              Provider  `json:"provider"`
	EncryptedAccessToken  string    `json:"encrypted_access_token"`
	EncryptedRefreshToken string    `json:"encrypted_refresh_token"`
	ExpiresAt             time.Time `json:"expires_at"`
	ProviderSubjectID     string    `json:"provider_subject_id,omitempty"`
	Revoked               bool      `json:"revoked"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Clone returns a copy safe to hand to another goroutine.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

func (c *Credential) validate() error {
	if c == nil {
		return errors.New("credential cannot be nil")
	}
	if c.UserID == "" {
		return errors.New("credential user id cannot be empty")
	}
	if !c.Provider.Valid() {
		return fmt.Errorf("unsupported provider %q", c.Provider)
	}
	return nil
}

// Store is the key-value persistence contract for credentials. Put must be
// atomic per (user, provider).
type Store interface {
	Get(ctx context.Context, userID string, provider Provider) (*Credential, error)
	Put(ctx context.Context, cred *Credential) error
	Delete(ctx context.Context, userID string, provider Provider) error
	Ping(ctx context.Context) error
	Close() error
}
