// ABOUTME: Single-request executor: drives the backend event stream to completion.
// ABOUTME: Folds events into a Response, emits status files, honors the cancel sentinel.

package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/2389/warren/internal/backend"
	"github.com/2389/warren/internal/wire"
)

// Runner executes one request at a time against a backend registry. All
// failures are converted to error Responses at this boundary; the loop above
// never crashes on a bad request.
type Runner struct {
	Channel  wire.Channel
	Registry *backend.Registry
	Logger   *slog.Logger
}

// Execute runs one request to completion and returns its Response. id is
// the request's correlation id; status events carry it so the host can route
// them. The
// cancellation sentinel is cleared on entry and observed between events;
// cancellation yields the best partial result, not an error.
func (r *Runner) Execute(ctx context.Context, id string, req *wire.Request) *wire.Response {
	// Stale sentinel from a previous run must not abort this one.
	os.Remove(r.Channel.CancelPath())

	be, err := r.Registry.Resolve(req.Provider)
	if err != nil {
		return wire.ErrorResponse(err.Error())
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := be.Run(runCtx, backend.Job{
		Prompt:    req.Prompt,
		SessionID: req.SessionID,
		WorkDir:   req.GroupFolder,
		Model:     req.Model,
	})
	if err != nil {
		return wire.ErrorResponse(err.Error())
	}

	var (
		sessionID string
		result    string
		partial   strings.Builder
		cancelled bool
	)

	for {
		ev, ok := stream.Next()
		if !ok {
			break
		}

		switch ev.Kind {
		case backend.KindSessionInit:
			sessionID = ev.SessionID
			r.Logger.Debug("session established", "session_id", sessionID)

		case backend.KindThinking:
			r.emitStatus(id, wire.StatusThinking, wire.StatusPayload{Text: ev.Text})

		case backend.KindResponseDelta:
			partial.WriteString(ev.Text)
			r.emitStatus(id, wire.StatusResponseDelta, wire.StatusPayload{Text: ev.Text})

		case backend.KindToolStart:
			r.emitStatus(id, wire.StatusToolStart, wire.StatusPayload{Tool: ev.Tool, Detail: ev.Detail})

		case backend.KindToolProgress:
			r.emitStatus(id, wire.StatusToolProgress, wire.StatusPayload{Tool: ev.Tool, Detail: ev.Detail})

		case backend.KindResult:
			result = ev.Text
			if ev.SessionID != "" {
				sessionID = ev.SessionID
			}

		case backend.KindStderr:
			r.Logger.Debug("backend stderr", "line", ev.Text)
			r.emitStatus(id, wire.StatusStderr, wire.StatusPayload{Text: ev.Text})
		}

		if !cancelled && r.cancelRequested() {
			cancelled = true
			cancel()
		}
	}

	if cancelled {
		// Best partial result rather than an error.
		text := result
		if text == "" {
			text = partial.String()
		}
		return wire.SuccessResponse(text, sessionID)
	}

	if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return wire.ErrorResponse(err.Error())
	}

	if result == "" {
		result = partial.String()
	}
	return wire.SuccessResponse(result, sessionID)
}

// cancelRequested reports whether the cancellation sentinel is present.
func (r *Runner) cancelRequested() bool {
	_, err := os.Stat(r.Channel.CancelPath())
	return err == nil
}

// emitStatus publishes a best-effort status file. Failure only degrades the
// chat surface, so it is logged and dropped.
func (r *Runner) emitStatus(id string, kind wire.StatusKind, payload wire.StatusPayload) {
	path := filepath.Join(r.Channel.StatusDir(), wire.StatusFilename(time.Now()))
	if err := wire.WriteJSON(path, &wire.StatusEvent{Type: kind, Payload: payload, RequestID: id}); err != nil {
		r.Logger.Debug("status emit failed", "kind", kind, "error", err)
	}
}
