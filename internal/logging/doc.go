// Package logging provides structured logging helpers for calagent.
//
// All components log through log/slog. This package keeps attribute names
// consistent and makes it easy to log user identifiers and credentials
// without leaking them.
//
// # Usage Patterns
//
//	logger := logging.WithProvider(slog.Default(), "google")
//	logger.Info("listing events", logging.UserHash(userID), logging.Err(err))
//
// # Security Considerations
//
//   - User identifiers are hashed before they reach log output
//   - Tokens are never logged, only their length via SanitizeToken
package logging
