// Package worker implements the sandboxed execution side of the boundary:
// a single-request executor shared by the persistent poll loop and the
// one-shot stdin mode, plus heartbeat upkeep and the cancellation sentinel.
package worker
