// Package oauth owns the lifecycle of calendar provider credentials.
//
// Manager hands out access tokens that are valid for at least the configured
// skew, refreshing them through golang.org/x/oauth2 when they are about to
// expire. Refreshes are deduplicated per (user, provider) so that concurrent
// callers share one token endpoint request. A refresh rejected with
// invalid_grant marks the credential revoked; the user must reconnect.
//
// The connect flow (AuthCodeURL, Exchange) creates credentials from an
// authorization code and stores them encrypted.
package oauth
