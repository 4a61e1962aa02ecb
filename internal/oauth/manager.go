package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/teemow/calagent/internal/credentials"
	"github.com/teemow/calagent/internal/instrumentation"
	"github.com/teemow/calagent/internal/logging"
)

// State is the lifecycle position of one (user, provider) credential.
type State string

const (
	StateAbsent       State = "absent"
	StateActive       State = "active"
	StateExpiringSoon State = "expiring_soon"
	StateRefreshing   State = "refreshing"
	StateRevoked      State = "revoked"
)

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics records refresh outcomes.
func WithMetrics(metrics *instrumentation.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithHTTPClient sets the client used for token endpoint requests.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) { m.httpClient = client }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager issues valid access tokens and keeps stored credentials current.
type Manager struct {
	store   credentials.Store
	cipher  *credentials.Cipher
	configs map[credentials.Provider]*oauth2.Config
	cfg     Config
	states  *StateStore

	httpClient *http.Client
	metrics    *instrumentation.Metrics
	logger     *slog.Logger
	now        func() time.Time

	group    singleflight.Group
	inflight sync.Map
}

// NewManager creates a Manager over store. Token fields are sealed and
// opened with cipher.
func NewManager(cfg Config, store credentials.Store, cipher *credentials.Cipher, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("credential store is required")
	}
	if cipher == nil {
		return nil, errors.New("credential cipher is required")
	}
	cfg.applyDefaults()

	m := &Manager{
		store:   store,
		cipher:  cipher,
		configs: make(map[credentials.Provider]*oauth2.Config),
		cfg:     cfg,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.states = newStateStore(cfg.StateTTL, m.now)

	if cfg.Google.Enabled() {
		m.configs[credentials.ProviderGoogle] = cfg.Google.oauth2Config(credentials.ProviderGoogle)
	}
	if cfg.Microsoft.Enabled() {
		m.configs[credentials.ProviderMicrosoft] = cfg.Microsoft.oauth2Config(credentials.ProviderMicrosoft)
	}
	return m, nil
}

// Providers lists the configured providers.
func (m *Manager) Providers() []credentials.Provider {
	var out []credentials.Provider
	for _, p := range []credentials.Provider{credentials.ProviderGoogle, credentials.ProviderMicrosoft} {
		if _, ok := m.configs[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

func flightKey(userID string, provider credentials.Provider) string {
	return userID + "|" + string(provider)
}

func (m *Manager) fresh(cred *credentials.Credential) bool {
	return m.now().Before(cred.ExpiresAt.Add(-m.cfg.Skew))
}

func (m *Manager) load(ctx context.Context, userID string, provider credentials.Provider) (*credentials.Credential, error) {
	cred, err := m.store.Get(ctx, userID, provider)
	if errors.Is(err, credentials.ErrNotFound) {
		return nil, newError(ErrCodeNotConnected, provider, "no calendar connected for this user", nil)
	}
	if err != nil {
		return nil, newError(ErrCodeStorage, provider, "failed to load credential", err)
	}
	if cred.Revoked {
		return nil, newError(ErrCodeRevoked, provider, "access was revoked, reconnect the calendar", nil)
	}
	return cred, nil
}

// ValidToken returns an access token that stays valid for at least the
// configured skew. Unexpired tokens are served straight from the store.
func (m *Manager) ValidToken(ctx context.Context, userID string, provider credentials.Provider) (string, error) {
	cred, err := m.load(ctx, userID, provider)
	if err != nil {
		return "", err
	}
	if m.fresh(cred) {
		return m.openAccess(cred)
	}
	return m.refreshShared(ctx, userID, provider, "")
}

// ForceRefresh refreshes after the provider rejected the token. If another
// caller already replaced the rejected token, the stored one is returned.
func (m *Manager) ForceRefresh(ctx context.Context, userID string, provider credentials.Provider, rejected string) (string, error) {
	return m.refreshShared(ctx, userID, provider, rejected)
}

// Status reports the lifecycle state of a credential.
func (m *Manager) Status(ctx context.Context, userID string, provider credentials.Provider) (State, error) {
	if _, ok := m.inflight.Load(flightKey(userID, provider)); ok {
		return StateRefreshing, nil
	}
	cred, err := m.store.Get(ctx, userID, provider)
	if errors.Is(err, credentials.ErrNotFound) {
		return StateAbsent, nil
	}
	if err != nil {
		return "", err
	}
	switch {
	case cred.Revoked:
		return StateRevoked, nil
	case m.fresh(cred):
		return StateActive, nil
	default:
		return StateExpiringSoon, nil
	}
}

func (m *Manager) openAccess(cred *credentials.Credential) (string, error) {
	token, err := m.cipher.Decrypt(cred.EncryptedAccessToken)
	if err != nil {
		return "", newError(ErrCodeStorage, cred.Provider, "failed to decrypt access token", err)
	}
	return token, nil
}

// refreshShared joins or starts the single refresh for the key. The flight
// runs on a detached context so one caller cancelling does not fail the
// others; each caller still stops waiting when its own ctx ends.
func (m *Manager) refreshShared(ctx context.Context, userID string, provider credentials.Provider, rejected string) (string, error) {
	key := flightKey(userID, provider)
	ch := m.group.DoChan(key, func() (any, error) {
		m.inflight.Store(key, struct{}{})
		defer m.inflight.Delete(key)

		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.RefreshTimeout)
		defer cancel()
		return m.refresh(rctx, userID, provider, rejected)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (m *Manager) refresh(ctx context.Context, userID string, provider credentials.Provider, rejected string) (string, error) {
	logger := logging.WithOperation(logging.WithProvider(m.logger, string(provider)), "token_refresh")

	cred, err := m.load(ctx, userID, provider)
	if err != nil {
		return "", err
	}
	// Another flight may have rotated the token since the caller looked.
	if m.fresh(cred) {
		current, err := m.openAccess(cred)
		if err != nil {
			return "", err
		}
		if rejected == "" || current != rejected {
			return current, nil
		}
	}

	conf, ok := m.configs[provider]
	if !ok {
		return "", newError(ErrCodeProviderNotConfigured, provider, "no OAuth client configured", nil)
	}
	refreshToken, err := m.cipher.Decrypt(cred.EncryptedRefreshToken)
	if err != nil {
		return "", newError(ErrCodeStorage, provider, "failed to decrypt refresh token", err)
	}
	if refreshToken == "" {
		return "", newError(ErrCodeNoRefreshToken, provider, "credential has no refresh token, reconnect the calendar", nil)
	}

	if m.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	}
	start := m.now()
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var rErr *oauth2.RetrieveError
		if errors.As(err, &rErr) && rErr.ErrorCode == "invalid_grant" {
			m.markRevoked(ctx, cred, logger)
			m.metrics.RecordTokenRefresh(ctx, string(provider), instrumentation.RefreshResultRevoked)
			return "", newError(ErrCodeRevoked, provider, "refresh token was rejected, reconnect the calendar", err)
		}
		m.metrics.RecordTokenRefresh(ctx, string(provider), instrumentation.RefreshResultFailure)
		logger.Warn("Token refresh failed", logging.UserHash(userID), logging.Err(err))
		return "", newError(ErrCodeRefreshFailed, provider, "token endpoint request failed", err)
	}

	next, err := m.sealToken(cred, tok)
	if err != nil {
		return "", err
	}
	if err := m.store.Put(ctx, next); err != nil {
		m.metrics.RecordTokenRefresh(ctx, string(provider), instrumentation.RefreshResultFailure)
		return "", newError(ErrCodeStorage, provider, "failed to persist refreshed credential", err)
	}
	m.metrics.RecordTokenRefresh(ctx, string(provider), instrumentation.RefreshResultSuccess)
	logger.Info("Token refreshed",
		logging.UserHash(userID),
		slog.Time("expires_at", next.ExpiresAt),
		slog.Duration(logging.KeyDuration, m.now().Sub(start)),
	)
	return tok.AccessToken, nil
}

// sealToken builds the rotated credential. Providers that do not rotate
// refresh tokens omit it from the response; the previous one is kept.
func (m *Manager) sealToken(prev *credentials.Credential, tok *oauth2.Token) (*credentials.Credential, error) {
	next := prev.Clone()
	access, err := m.cipher.Encrypt(tok.AccessToken)
	if err != nil {
		return nil, newError(ErrCodeStorage, prev.Provider, "failed to encrypt access token", err)
	}
	next.EncryptedAccessToken = access
	if tok.RefreshToken != "" {
		refresh, err := m.cipher.Encrypt(tok.RefreshToken)
		if err != nil {
			return nil, newError(ErrCodeStorage, prev.Provider, "failed to encrypt refresh token", err)
		}
		next.EncryptedRefreshToken = refresh
	}
	next.ExpiresAt = tok.Expiry
	if next.ExpiresAt.IsZero() {
		next.ExpiresAt = m.now().Add(time.Hour)
	}
	next.Revoked = false
	next.UpdatedAt = m.now()
	return next, nil
}

func (m *Manager) markRevoked(ctx context.Context, cred *credentials.Credential, logger *slog.Logger) {
	revoked := cred.Clone()
	revoked.Revoked = true
	revoked.UpdatedAt = m.now()
	if err := m.store.Put(ctx, revoked); err != nil {
		logger.Error("Failed to mark credential revoked", logging.UserHash(cred.UserID), logging.Err(err))
		return
	}
	logger.Warn("Credential revoked by provider", logging.UserHash(cred.UserID))
}

// Import stores a token pair obtained outside the connect flow.
func (m *Manager) Import(ctx context.Context, userID string, provider credentials.Provider, accessToken, refreshToken string, expiresAt time.Time) error {
	if !provider.Valid() {
		return fmt.Errorf("unsupported provider %q", provider)
	}
	cred := &credentials.Credential{UserID: userID, Provider: provider}
	next, err := m.sealToken(cred, &oauth2.Token{AccessToken: accessToken, RefreshToken: refreshToken, Expiry: expiresAt})
	if err != nil {
		return err
	}
	return m.store.Put(ctx, next)
}

// Revoke deletes the stored credential.
func (m *Manager) Revoke(ctx context.Context, userID string, provider credentials.Provider) error {
	if err := m.store.Delete(ctx, userID, provider); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	m.logger.Info("Credential deleted", logging.Provider(string(provider)), logging.UserHash(userID))
	return nil
}
