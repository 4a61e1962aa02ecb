// Package credentials persists per-user calendar provider credentials.
//
// A Credential holds the OAuth access and refresh tokens for one
// (user, provider) pair. Token fields are always ciphertext produced by a
// Cipher; stores never see plaintext. Three Store implementations exist:
//
//   - MemoryStore: process-local map, for development and tests
//   - SQLiteStore: single-file database through modernc.org/sqlite
//   - ValkeyStore: shared key-value store for multi-replica deployments
//
// Put replaces the whole record for a key in one write, so a refreshed
// access token, refresh token and expiry are never observed partially.
package credentials
