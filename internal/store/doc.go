// ABOUTME: Durable host-side state: chat session continuity and a run audit log.
// ABOUTME: Backed by SQLite via database/sql and modernc.org/sqlite.

// Package store persists the host's cross-restart state. Sessions map each
// chat to the agent session id carried between requests; runs record every
// dispatched request and its outcome.
package store
