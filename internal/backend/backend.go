// ABOUTME: Backend interface and the typed event sequence a single execution yields.
// ABOUTME: One case per event kind so handlers switch exhaustively, no tagged maps.

package backend

import (
	"context"
	"errors"
)

// ErrUnknownProvider indicates the requested provider has no registered backend.
var ErrUnknownProvider = errors.New("unknown provider")

// Job is one execution request against a backend.
type Job struct {
	Prompt    string
	SessionID string // resume an existing backend session when set
	WorkDir   string
	Model     string
}

// Backend turns a Job into a stream of events. Implementations must be safe
// for serial reuse but are not required to support concurrent Runs; the
// worker loop executes strictly one job at a time.
type Backend interface {
	Run(ctx context.Context, job Job) (*Stream, error)
	Health() error
}

// EventKind discriminates the event union.
type EventKind int

const (
	// KindSessionInit reports the backend session id for this run.
	KindSessionInit EventKind = iota
	// KindThinking is incremental reasoning text, not part of the answer.
	KindThinking
	// KindResponseDelta is incremental final-answer text.
	KindResponseDelta
	// KindToolStart reports a tool invocation beginning.
	KindToolStart
	// KindToolProgress reports progress on a running tool.
	KindToolProgress
	// KindResult carries the complete final answer. Terminal.
	KindResult
	// KindStderr is backend diagnostic output. Never user-visible.
	KindStderr
)

// Event is one element of the execution event sequence. Only the fields for
// its Kind are populated.
type Event struct {
	Kind      EventKind
	SessionID string // KindSessionInit
	Text      string // KindThinking, KindResponseDelta, KindResult, KindStderr
	Tool      string // KindToolStart
	Detail    string // KindToolStart, KindToolProgress
}

// String returns the wire name of an event kind.
func (k EventKind) String() string {
	switch k {
	case KindSessionInit:
		return "session_init"
	case KindThinking:
		return "thinking"
	case KindResponseDelta:
		return "response_delta"
	case KindToolStart:
		return "tool_start"
	case KindToolProgress:
		return "tool_progress"
	case KindResult:
		return "result"
	case KindStderr:
		return "adapter_stderr"
	default:
		return "unknown"
	}
}
