// Package supervisor is the host side of the execution boundary: it
// publishes requests, correlates responses by derived filename, watches the
// worker heartbeat, restarts and redelivers on failure, and tails the
// best-effort status event stream for the chat pipeline.
package supervisor
