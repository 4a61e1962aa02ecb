// Package cmd implements the command-line interface for calagent.
//
// This package provides the following commands:
//   - serve: Start the calendar agent HTTP server
//   - credentials: Import, revoke and generate keys for stored calendar credentials
//   - version: Display version information
package cmd
