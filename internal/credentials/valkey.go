package credentials

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/valkey-io/valkey-go"
)

// ValkeyConfig configures the Valkey credential backend.
type ValkeyConfig struct {
	// URL is the server address, e.g. "valkey.namespace.svc:6379".
	URL        string
	Password   string
	TLSEnabled bool
	// KeyPrefix namespaces every key (default "calagent:").
	KeyPrefix string
	DB        int
}

// ValkeyStore keeps one JSON document per (user, provider) key.
type ValkeyStore struct {
	client valkey.Client
	prefix string
}

// NewValkeyStore connects to Valkey.
func NewValkeyStore(cfg ValkeyConfig) (*ValkeyStore, error) {
	if cfg.URL == "" {
		return nil, errors.New("valkey url is required")
	}
	opt := valkey.ClientOption{
		InitAddress: []string{cfg.URL},
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	}
	if cfg.TLSEnabled {
		opt.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client, err := valkey.NewClient(opt)
	if err != nil {
		return nil, fmt.Errorf("connect to valkey: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "calagent:"
	}
	return &ValkeyStore{client: client, prefix: prefix}, nil
}

func (s *ValkeyStore) key(userID string, provider Provider) string {
	return s.prefix + "cred:" + string(provider) + ":" + userID
}

func (s *ValkeyStore) Get(ctx context.Context, userID string, provider Provider) (*Credential, error) {
	raw, err := s.client.Do(ctx, s.client.B().Get().Key(s.key(userID, provider)).Build()).ToString()
	if valkey.IsValkeyNil(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("valkey get: %w", err)
	}
	var c Credential
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("decode credential: %w", err)
	}
	return &c, nil
}

// Put writes the whole document with a single SET.
func (s *ValkeyStore) Put(ctx context.Context, cred *Credential) error {
	if err := cred.validate(); err != nil {
		return err
	}
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	cmd := s.client.B().Set().Key(s.key(cred.UserID, cred.Provider)).Value(string(data)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("valkey set: %w", err)
	}
	return nil
}

func (s *ValkeyStore) Delete(ctx context.Context, userID string, provider Provider) error {
	n, err := s.client.Do(ctx, s.client.B().Del().Key(s.key(userID, provider)).Build()).AsInt64()
	if err != nil {
		return fmt.Errorf("valkey del: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *ValkeyStore) Ping(ctx context.Context) error {
	return s.client.Do(ctx, s.client.B().Ping().Build()).Error()
}

func (s *ValkeyStore) Close() error {
	s.client.Close()
	return nil
}
