package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/calagent/internal/credentials"
	"github.com/teemow/calagent/internal/oauth"
)

func TestValidateHTTPSRequirement(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{name: "valid HTTPS URL", baseURL: "https://calendar.example.com", wantErr: false},
		{name: "valid HTTP localhost", baseURL: "http://localhost:8080", wantErr: false},
		{name: "valid HTTP 127.0.0.1", baseURL: "http://127.0.0.1:8080", wantErr: false},
		{name: "valid HTTP ::1 (IPv6 loopback)", baseURL: "http://[::1]:8080", wantErr: false},
		{name: "invalid HTTP non-localhost", baseURL: "http://calendar.example.com", wantErr: true},
		{name: "invalid HTTP with localhost substring", baseURL: "http://localhost.example.com", wantErr: true},
		{name: "empty URL", baseURL: "", wantErr: true},
		{name: "invalid scheme", baseURL: "ftp://example.com", wantErr: true},
		{name: "HTTPS with path", baseURL: "https://calendar.example.com/api", wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateHTTPSRequirement(tt.baseURL)
			assert.Equal(t, tt.wantErr, err != nil, "validateHTTPSRequirement() error = %v", err)
		})
	}
}

func authedGet(t *testing.T, target string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "user-1", testSecret))
	return req
}

func TestOAuthLogin(t *testing.T) {
	connector := &fakeConnector{authURL: "https://accounts.example.com/auth?state=abc"}
	srv := newTestServer(t, &fakeRunner{}, connector)

	t.Run("redirects to consent", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, authedGet(t, "/oauth/google/login"))

		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, connector.authURL, rec.Header().Get("Location"))
		assert.Equal(t, "user-1", connector.lastUser)
	})

	t.Run("returns json when asked", func(t *testing.T) {
		req := authedGet(t, "/oauth/google/login")
		req.Header.Set("Accept", "application/json")
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var body oauthLoginResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "google", body.Provider)
		assert.Equal(t, connector.authURL, body.AuthURL)
	})

	t.Run("requires authentication", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/google/login", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unconfigured provider", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, authedGet(t, "/oauth/microsoft/login"))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown provider", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, authedGet(t, "/oauth/yahoo/login"))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestOAuthCallback(t *testing.T) {
	tests := []struct {
		name        string
		query       string
		exchangeErr error
		wantStatus  int
		wantCode    string
	}{
		{name: "connected", query: "?state=s&code=c", wantStatus: http.StatusOK},
		{name: "consent denied", query: "?error=access_denied", wantStatus: http.StatusBadRequest, wantCode: "consent_denied"},
		{
			name:        "invalid state",
			query:       "?state=bad&code=c",
			exchangeErr: &oauth.Error{Code: oauth.ErrCodeInvalidState, Provider: credentials.ProviderGoogle, Description: "unknown or already used state"},
			wantStatus:  http.StatusBadRequest,
			wantCode:    oauth.ErrCodeInvalidState,
		},
		{
			name:        "storage failure",
			query:       "?state=s&code=c",
			exchangeErr: &oauth.Error{Code: oauth.ErrCodeStorage, Provider: credentials.ProviderGoogle, Description: "failed to persist credential"},
			wantStatus:  http.StatusBadGateway,
			wantCode:    oauth.ErrCodeStorage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeRunner{}, &fakeConnector{exchangeErr: tt.exchangeErr})

			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/google/callback"+tt.query, nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantCode == "" {
				assert.JSONEq(t, `{"status":"connected","provider":"google"}`, rec.Body.String())
				return
			}
			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Error)
		})
	}
}

func TestOAuthStatusAndRevoke(t *testing.T) {
	connector := &fakeConnector{state: oauth.StateActive}
	srv := newTestServer(t, &fakeRunner{}, connector)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, authedGet(t, "/oauth/microsoft/status"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"provider":"microsoft","state":"active"}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodDelete, "/oauth/google", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "user-1", testSecret))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []credentials.Provider{credentials.ProviderGoogle}, connector.revoked)
	assert.Equal(t, "user-1", connector.lastUser)
}
