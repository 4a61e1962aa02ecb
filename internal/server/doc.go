// Package server exposes the calendar agent over HTTP.
//
// # Endpoints
//
//   - POST /agent/calendar streams an agent run as Server-Sent Events
//   - GET /agent/health reports {"status":"healthy"}
//   - GET /oauth/{provider}/login starts the calendar connect flow
//   - GET /oauth/{provider}/callback completes it
//   - GET /oauth/{provider}/status and DELETE /oauth/{provider} inspect and
//     remove a connection
//   - GET /healthz, /readyz and /healthz/detailed serve Kubernetes probes
//
// Agent and connect endpoints require a bearer JWT (HS256) whose subject is
// the user id. The OAuth callback is authenticated by its single-use state.
//
// MetricsServer serves Prometheus metrics on a separate listener so
// operational data is not exposed on the public port.
package server
