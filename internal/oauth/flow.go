package oauth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/teemow/calagent/internal/credentials"
	"github.com/teemow/calagent/internal/logging"
)

type pendingState struct {
	userID    string
	provider  credentials.Provider
	expiresAt time.Time
}

// StateStore tracks in-progress connect flows. States are single use.
type StateStore struct {
	mu     sync.Mutex
	states map[string]pendingState
	ttl    time.Duration
	now    func() time.Time
}

func newStateStore(ttl time.Duration, now func() time.Time) *StateStore {
	return &StateStore{
		states: make(map[string]pendingState),
		ttl:    ttl,
		now:    now,
	}
}

// Issue creates a state value bound to the user and provider.
func (s *StateStore) Issue(userID string, provider credentials.Provider) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, st := range s.states {
		if now.After(st.expiresAt) {
			delete(s.states, k)
		}
	}
	state := uuid.NewString()
	s.states[state] = pendingState{userID: userID, provider: provider, expiresAt: now.Add(s.ttl)}
	return state
}

// Consume returns and forgets the flow for state.
func (s *StateStore) Consume(state string) (string, credentials.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[state]
	if !ok {
		return "", "", errors.New("unknown or already used state")
	}
	delete(s.states, state)
	if s.now().After(st.expiresAt) {
		return "", "", errors.New("state expired")
	}
	return st.userID, st.provider, nil
}

// AuthCodeURL starts a connect flow and returns the consent URL.
func (m *Manager) AuthCodeURL(userID string, provider credentials.Provider) (string, error) {
	conf, ok := m.configs[provider]
	if !ok {
		return "", newError(ErrCodeProviderNotConfigured, provider, "no OAuth client configured", nil)
	}
	state := m.states.Issue(userID, provider)
	return conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// Exchange completes a connect flow: it validates state, trades the code
// for tokens, and stores the encrypted credential.
func (m *Manager) Exchange(ctx context.Context, provider credentials.Provider, state, code string) (*credentials.Credential, error) {
	userID, stateProvider, err := m.states.Consume(state)
	if err != nil {
		return nil, newError(ErrCodeInvalidState, provider, err.Error(), nil)
	}
	if stateProvider != provider {
		return nil, newError(ErrCodeInvalidState, provider, "state was issued for another provider", nil)
	}
	conf, ok := m.configs[provider]
	if !ok {
		return nil, newError(ErrCodeProviderNotConfigured, provider, "no OAuth client configured", nil)
	}
	if code == "" {
		return nil, newError(ErrCodeExchangeFailed, provider, "missing authorization code", nil)
	}

	if m.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	}
	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, newError(ErrCodeExchangeFailed, provider, "failed to exchange authorization code", err)
	}

	cred := &credentials.Credential{
		UserID:            userID,
		Provider:          provider,
		ProviderSubjectID: subjectFromIDToken(tok),
	}
	next, err := m.sealToken(cred, tok)
	if err != nil {
		return nil, err
	}
	if err := m.store.Put(ctx, next); err != nil {
		return nil, newError(ErrCodeStorage, provider, "failed to persist credential", err)
	}
	m.logger.Info("Calendar connected", logging.Provider(string(provider)), logging.UserHash(userID))
	return next, nil
}

// subjectFromIDToken reads the stable account id from the id_token returned
// alongside the access token. The token came straight from the provider's
// token endpoint over TLS, so its signature is not re-verified here.
func subjectFromIDToken(tok *oauth2.Token) string {
	raw, _ := tok.Extra("id_token").(string)
	if raw == "" {
		return ""
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return ""
	}
	// Microsoft's oid is stable across apps; sub is pairwise.
	if oid, ok := claims["oid"].(string); ok && oid != "" {
		return oid
	}
	sub, _ := claims.GetSubject()
	return sub
}
