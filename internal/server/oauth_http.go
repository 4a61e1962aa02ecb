package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/teemow/calagent/internal/credentials"
	"github.com/teemow/calagent/internal/logging"
	"github.com/teemow/calagent/internal/oauth"
)

type oauthLoginResponse struct {
	Provider string `json:"provider"`
	AuthURL  string `json:"auth_url"`
}

type oauthStatusResponse struct {
	Provider string `json:"provider"`
	State    string `json:"state"`
}

type oauthConnectedResponse struct {
	Status   string `json:"status"`
	Provider string `json:"provider"`
}

// mountOAuth registers the calendar connect endpoints. The callback is
// public: the state parameter identifies the user.
func mountOAuth(r chi.Router, sc *ServerContext, auth func(http.Handler) http.Handler) {
	r.Route("/oauth/{provider}", func(r chi.Router) {
		r.Get("/callback", handleOAuthCallback(sc))
		r.Group(func(r chi.Router) {
			r.Use(auth)
			r.Get("/login", handleOAuthLogin(sc))
			r.Get("/status", handleOAuthStatus(sc))
			r.Delete("/", handleOAuthRevoke(sc))
		})
	})
}

func providerParam(w http.ResponseWriter, r *http.Request) (credentials.Provider, bool) {
	provider, err := credentials.ParseProvider(strings.ToLower(chi.URLParam(r, "provider")))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_provider", err.Error())
		return "", false
	}
	return provider, true
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// writeOAuthError maps connect flow failures to a JSON response.
func writeOAuthError(w http.ResponseWriter, sc *ServerContext, err error) {
	var oerr *oauth.Error
	if errors.As(err, &oerr) {
		if oerr.HTTPStatus() >= http.StatusInternalServerError {
			sc.Logger().Error("OAuth request failed", logging.Err(err))
		}
		writeError(w, oerr.HTTPStatus(), oerr.Code, oerr.Description)
		return
	}
	sc.Logger().Error("OAuth request failed", logging.Err(err))
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}

func handleOAuthLogin(sc *ServerContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, ok := providerParam(w, r)
		if !ok {
			return
		}
		userID, _ := UserFromContext(r.Context())

		authURL, err := sc.Connector().AuthCodeURL(userID, provider)
		if err != nil {
			writeOAuthError(w, sc, err)
			return
		}
		if wantsJSON(r) {
			writeJSON(w, http.StatusOK, oauthLoginResponse{Provider: string(provider), AuthURL: authURL})
			return
		}
		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

func handleOAuthCallback(sc *ServerContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, ok := providerParam(w, r)
		if !ok {
			return
		}
		q := r.URL.Query()
		if errCode := q.Get("error"); errCode != "" {
			msg := errCode
			if desc := q.Get("error_description"); desc != "" {
				msg = fmt.Sprintf("%s: %s", errCode, desc)
			}
			writeError(w, http.StatusBadRequest, "consent_denied", msg)
			return
		}

		if _, err := sc.Connector().Exchange(r.Context(), provider, q.Get("state"), q.Get("code")); err != nil {
			writeOAuthError(w, sc, err)
			return
		}
		writeJSON(w, http.StatusOK, oauthConnectedResponse{Status: "connected", Provider: string(provider)})
	}
}

func handleOAuthStatus(sc *ServerContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, ok := providerParam(w, r)
		if !ok {
			return
		}
		userID, _ := UserFromContext(r.Context())

		state, err := sc.Connector().Status(r.Context(), userID, provider)
		if err != nil {
			writeOAuthError(w, sc, err)
			return
		}
		writeJSON(w, http.StatusOK, oauthStatusResponse{Provider: string(provider), State: string(state)})
	}
}

func handleOAuthRevoke(sc *ServerContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, ok := providerParam(w, r)
		if !ok {
			return
		}
		userID, _ := UserFromContext(r.Context())

		if err := sc.Connector().Revoke(r.Context(), userID, provider); err != nil {
			writeOAuthError(w, sc, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// validateHTTPSRequirement checks a public URL used for OAuth redirects.
// Plain HTTP is allowed only for loopback hosts.
func validateHTTPSRequirement(baseURL string) error {
	if baseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	if u.Scheme == "http" {
		host := u.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			return fmt.Errorf("OAuth redirects require HTTPS (got: %s). Use HTTPS or localhost for development", baseURL)
		}
	} else if u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %s. Must be http (localhost only) or https", u.Scheme)
	}

	return nil
}
