// Package wire defines the on-disk protocol between warren-host and
// warren-worker: request/response/heartbeat/status payloads, the derived
// filename scheme that correlates them, and the atomic temp-write+rename
// publish primitive both sides use.
package wire
