// ABOUTME: Protocol types shared by host and worker: Request, Response, Heartbeat, StatusEvent.
// ABOUTME: Filenames are derived from a timestamp+nonce id so correlation needs no side table.

package wire

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// File naming constants. Request filenames must sort lexicographically into
// arrival order, hence the zero-padded millisecond timestamp.
const (
	RequestPrefix  = "req-"
	ResponsePrefix = "res-"
	StatusPrefix   = "evt-"
	JSONSuffix     = ".json"
	TmpSuffix      = ".tmp"
)

// Response status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Request is the unit of work the host hands to a worker. The correlation id
// lives in the filename, not the body; the body is exactly the wire format
// the worker consumes.
type Request struct {
	Prompt          string `json:"prompt"`
	SessionID       string `json:"sessionId,omitempty"`
	GroupFolder     string `json:"groupFolder"`
	ChatJID         string `json:"chatJid"`
	IsMain          bool   `json:"isMain"`
	IsScheduledTask bool   `json:"isScheduledTask,omitempty"`
	Provider        string `json:"provider,omitempty"`
	Model           string `json:"model,omitempty"`
}

// Response is written exactly once per request, under a filename derived from
// the request id. Result is a pointer so error responses serialize it as an
// explicit null.
type Response struct {
	Status       string  `json:"status"`
	Result       *string `json:"result"`
	NewSessionID string  `json:"newSessionId,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// SuccessResponse builds a success Response carrying the final result text.
func SuccessResponse(result, newSessionID string) *Response {
	return &Response{
		Status:       StatusSuccess,
		Result:       &result,
		NewSessionID: newSessionID,
	}
}

// ErrorResponse builds an error Response with a null result.
func ErrorResponse(msg string) *Response {
	return &Response{Status: StatusError, Error: msg}
}

// Heartbeat is the worker's sole liveness signal. It is overwritten in place
// on a fixed period and after each processed request.
type Heartbeat struct {
	PID       int    `json:"pid"`
	Timestamp int64  `json:"timestamp"`
	ISO       string `json:"iso"`
}

// NewHeartbeat returns a heartbeat for the current process at now.
func NewHeartbeat(now time.Time) *Heartbeat {
	return &Heartbeat{
		PID:       os.Getpid(),
		Timestamp: now.UnixMilli(),
		ISO:       now.UTC().Format(time.RFC3339),
	}
}

// Age returns how old the heartbeat is relative to now.
func (h *Heartbeat) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(h.Timestamp))
}

// StatusKind enumerates the best-effort progress events a worker emits while
// executing a request.
type StatusKind string

const (
	StatusThinking      StatusKind = "thinking"
	StatusToolStart     StatusKind = "tool_start"
	StatusToolProgress  StatusKind = "tool_progress"
	StatusResponseDelta StatusKind = "response_delta"
	StatusStderr        StatusKind = "adapter_stderr"
)

// StatusEvent is an append-only progress notification. Absence never blocks
// correctness, only degrades the chat surface.
type StatusEvent struct {
	Type    StatusKind    `json:"type"`
	Payload StatusPayload `json:"payload"`
	// RequestID ties the event to the request being executed, so the host
	// can route a burst to the right chat when several are queued.
	RequestID string `json:"requestId,omitempty"`
}

// StatusPayload carries the event-specific fields. Only the fields relevant
// to the Type are populated.
type StatusPayload struct {
	Text   string `json:"text,omitempty"`
	Tool   string `json:"tool,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// NewID returns a correlation id: zero-padded unix milliseconds plus a short
// nonce so two requests in the same millisecond still get distinct files.
func NewID(now time.Time) string {
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")[:4]
	return fmt.Sprintf("%013d-%s", now.UnixMilli(), nonce)
}

// RequestFilename returns the request filename for an id.
func RequestFilename(id string) string {
	return RequestPrefix + id + JSONSuffix
}

// ResponseFilename returns the response filename matching a request id.
func ResponseFilename(id string) string {
	return ResponsePrefix + id + JSONSuffix
}

// statusSeq disambiguates status events emitted within one millisecond. The
// worker is the only writer, so a per-process counter is enough.
var statusSeq atomic.Uint64

// StatusFilename returns a fresh status event filename. The zero-padded
// sequence keeps filenames sorting in emission order even inside a single
// millisecond.
func StatusFilename(now time.Time) string {
	return fmt.Sprintf("%s%013d-%06d%s", StatusPrefix, now.UnixMilli(), statusSeq.Add(1), JSONSuffix)
}

// IDFromFilename extracts the correlation id from a request or response
// filename. Returns false if the name does not match the scheme.
func IDFromFilename(name string) (string, bool) {
	for _, prefix := range []string{RequestPrefix, ResponsePrefix} {
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, JSONSuffix) {
			id := strings.TrimSuffix(strings.TrimPrefix(name, prefix), JSONSuffix)
			if id != "" {
				return id, true
			}
		}
	}
	return "", false
}
