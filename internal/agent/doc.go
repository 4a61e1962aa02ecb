// Package agent runs one calendar request end to end and streams its
// progress.
//
// An Orchestrator run moves through classify, dispatch and synthesize,
// sending one Frame per step on a channel before it proceeds. A
// StreamWriter drains that channel into Server-Sent Events, one
// "data: <json>" event per frame, flushed as soon as it is written. A run
// ends with exactly one result or error frame, unless the caller went away,
// in which case nothing more is sent.
package agent
