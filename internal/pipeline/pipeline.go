// ABOUTME: Per-invocation state machine: idle → thinking → {tool_active ⇄ thinking} → responding → done.
// ABOUTME: One Run per dispatch, owned by the caller, discarded at Finish.

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/2389/warren/internal/wire"
)

// State is the pipeline phase for one invocation.
type State int

const (
	StateIdle State = iota
	StateThinking
	StateToolActive
	StateResponding
	StateDone
)

// Defaults for the two platform ceilings the pipeline exists to respect.
const (
	DefaultEditInterval = 2500 * time.Millisecond
	DefaultMaxMessage   = 4000
)

// hiddenTools are the agent's own reply mechanism; surfacing them as tool
// activity would just echo the message the user is about to receive.
var hiddenTools = map[string]bool{
	"send_message": true,
	"reply":        true,
	"send_reply":   true,
	"message_user": true,
}

// Options configures one Run.
type Options struct {
	ChatID string
	// ShowThinking enables the status message. When false no status message
	// is ever sent for this conversation.
	ShowThinking bool
	// Verbose additionally mirrors tool activity as plain messages.
	Verbose      bool
	EditInterval time.Duration
	MaxMessage   int
}

// Run renders one invocation's status events onto the chat surface. Not safe
// for concurrent use; the event stream is consumed serially.
type Run struct {
	delivery Delivery
	logger   *slog.Logger
	opts     Options
	state    State

	statusID    string
	overflowIDs []string
	streamID    string
	photoID     string
	verboseIDs  []string

	thinking    strings.Builder
	toolHistory []string
	response    strings.Builder

	lastStatusRender string
	lastStreamRender string

	statusLimiter *rate.Limiter
	streamLimiter *rate.Limiter
}

// NewRun creates a pipeline run. Concurrent invocations get independent Runs;
// there is no shared per-conversation state to interfere through.
func NewRun(delivery Delivery, logger *slog.Logger, opts Options) *Run {
	if opts.EditInterval == 0 {
		opts.EditInterval = DefaultEditInterval
	}
	if opts.MaxMessage == 0 {
		opts.MaxMessage = DefaultMaxMessage
	}
	return &Run{
		delivery:      delivery,
		logger:        logger.With("component", "pipeline", "chat_id", opts.ChatID),
		opts:          opts,
		state:         StateIdle,
		statusLimiter: rate.NewLimiter(rate.Every(opts.EditInterval), 1),
		streamLimiter: rate.NewLimiter(rate.Every(opts.EditInterval), 1),
	}
}

// State returns the current phase.
func (r *Run) State() State { return r.state }

// Start posts the initial placeholder status message. Skipped entirely when
// thinking display is disabled for the conversation.
func (r *Run) Start(ctx context.Context) {
	if !r.opts.ShowThinking {
		return
	}
	id, err := r.delivery.SendStatus(ctx, r.opts.ChatID, "🤔 Thinking…")
	if err != nil {
		r.logger.Warn("status placeholder failed", "error", err)
		return
	}
	r.statusID = id
}

// HandleEvent advances the state machine by one status event.
func (r *Run) HandleEvent(ctx context.Context, ev *wire.StatusEvent) {
	if r.state == StateDone {
		return
	}

	switch ev.Type {
	case wire.StatusThinking:
		if r.state == StateIdle || r.state == StateToolActive {
			r.state = StateThinking
		}
		r.thinking.WriteString(ev.Payload.Text)
		r.updateStatus(ctx, false)

	case wire.StatusToolStart:
		if !hiddenTools[ev.Payload.Tool] {
			r.state = StateToolActive
			r.toolHistory = append(r.toolHistory, describeTool(ev.Payload.Tool, ev.Payload.Detail))
			r.updateStatus(ctx, false)
		}
		r.mirrorVerbose(ctx, fmt.Sprintf("⚙️ %s", describeTool(ev.Payload.Tool, ev.Payload.Detail)))

	case wire.StatusToolProgress:
		r.mirrorVerbose(ctx, fmt.Sprintf("… %s", ev.Payload.Detail))

	case wire.StatusResponseDelta:
		r.state = StateResponding
		r.response.WriteString(ev.Payload.Text)
		r.updateStream(ctx)

	case wire.StatusStderr:
		// Diagnostics only; never surfaced to the chat.
		r.logger.Debug("adapter stderr", "line", ev.Payload.Text)
	}
}

// Consume drains events until the channel closes or ctx is cancelled.
func (r *Run) Consume(ctx context.Context, events <-chan *wire.StatusEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.HandleEvent(ctx, ev)
		}
	}
}

// PostScreenshot posts (or updates in place) the run's screenshot message.
// Transient: deleted at Finish.
func (r *Run) PostScreenshot(ctx context.Context, image []byte, caption string) {
	if r.photoID != "" {
		if err := r.delivery.EditPhoto(ctx, r.opts.ChatID, r.photoID, image, caption); err == nil {
			return
		}
		// Stale id: fall through and send a fresh message.
		r.photoID = ""
	}
	id, err := r.delivery.SendPhoto(ctx, r.opts.ChatID, image, caption)
	if err != nil {
		r.logger.Warn("screenshot send failed", "error", err)
		return
	}
	r.photoID = id
}

// Finish tears the run down. The streaming message is always deleted — its
// content is re-delivered through the authoritative final-send path. The
// status message survives only when it accumulated real thinking content and
// thinking display is enabled.
func (r *Run) Finish(ctx context.Context) {
	r.state = StateDone

	if r.streamID != "" {
		r.deleteQuiet(ctx, r.streamID)
		r.streamID = ""
	}

	keepStatus := r.opts.ShowThinking && r.thinking.Len() > 0
	if r.statusID != "" {
		if keepStatus {
			// Leave the artifact complete, bypassing the limiter.
			r.updateStatus(ctx, true)
		} else {
			r.deleteQuiet(ctx, r.statusID)
			r.statusID = ""
			for _, id := range r.overflowIDs {
				r.deleteQuiet(ctx, id)
			}
			r.overflowIDs = nil
		}
	}

	if r.photoID != "" {
		r.deleteQuiet(ctx, r.photoID)
		r.photoID = ""
	}
	for _, id := range r.verboseIDs {
		r.deleteQuiet(ctx, id)
	}
	r.verboseIDs = nil
}

// updateStatus re-renders the status message from the full cumulative state.
// Edits are skipped when nothing changed or the rate limit disallows, unless
// force is set.
func (r *Run) updateStatus(ctx context.Context, force bool) {
	if !r.opts.ShowThinking {
		return
	}

	rendered := r.renderStatus()
	if rendered == r.lastStatusRender || rendered == "" {
		return
	}
	if !force && !r.statusLimiter.Allow() {
		return
	}

	chunks := SplitChunks(rendered, r.opts.MaxMessage)

	if r.statusID == "" {
		id, err := r.delivery.SendStatus(ctx, r.opts.ChatID, chunks[0])
		if err != nil {
			r.logger.Warn("status send failed", "error", err)
			return
		}
		r.statusID = id
	} else if err := r.delivery.EditStatus(ctx, r.opts.ChatID, r.statusID, chunks[0]); err != nil {
		// Stale id (deleted by user, etc.): discard and send fresh.
		r.logger.Debug("status edit failed, resending", "error", err)
		id, serr := r.delivery.SendStatus(ctx, r.opts.ChatID, chunks[0])
		if serr != nil {
			r.logger.Warn("status resend failed", "error", serr)
			return
		}
		r.statusID = id
	}

	// Overflow chunks are never edited: previous ones are deleted and fresh
	// ones sent, bounding accumulation under rapid updates.
	for _, id := range r.overflowIDs {
		r.deleteQuiet(ctx, id)
	}
	r.overflowIDs = nil
	for _, chunk := range chunks[1:] {
		id, err := r.delivery.Send(ctx, r.opts.ChatID, chunk)
		if err != nil {
			r.logger.Warn("overflow send failed", "error", err)
			continue
		}
		r.overflowIDs = append(r.overflowIDs, id)
	}

	r.lastStatusRender = rendered
}

// updateStream maintains the streaming response message: created on the
// first delta, edited thereafter, tail-truncated at the size ceiling.
func (r *Run) updateStream(ctx context.Context) {
	rendered := TailTruncate(r.response.String(), r.opts.MaxMessage)
	if rendered == r.lastStreamRender || rendered == "" {
		return
	}
	if !r.streamLimiter.Allow() {
		return
	}

	if r.streamID == "" {
		id, err := r.delivery.Send(ctx, r.opts.ChatID, rendered)
		if err != nil {
			r.logger.Warn("stream send failed", "error", err)
			return
		}
		r.streamID = id
	} else if err := r.delivery.EditText(ctx, r.opts.ChatID, r.streamID, rendered); err != nil {
		r.logger.Debug("stream edit failed, resending", "error", err)
		id, serr := r.delivery.Send(ctx, r.opts.ChatID, rendered)
		if serr != nil {
			r.logger.Warn("stream resend failed", "error", serr)
			return
		}
		r.streamID = id
	}

	r.lastStreamRender = rendered
}

// renderStatus builds the status message from accumulated thinking plus the
// full tool history.
func (r *Run) renderStatus() string {
	var b strings.Builder
	if r.thinking.Len() > 0 {
		b.WriteString("🤔 ")
		b.WriteString(strings.TrimSpace(r.thinking.String()))
	}
	for _, entry := range r.toolHistory {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("⚙️ ")
		b.WriteString(entry)
	}
	return b.String()
}

// mirrorVerbose sends a fire-and-forget plain message in verbose mode.
func (r *Run) mirrorVerbose(ctx context.Context, text string) {
	if !r.opts.Verbose {
		return
	}
	id, err := r.delivery.Send(ctx, r.opts.ChatID, text)
	if err != nil {
		r.logger.Debug("verbose mirror failed", "error", err)
		return
	}
	r.verboseIDs = append(r.verboseIDs, id)
}

func (r *Run) deleteQuiet(ctx context.Context, msgID string) {
	if err := r.delivery.Delete(ctx, r.opts.ChatID, msgID); err != nil {
		r.logger.Debug("message delete failed", "msg_id", msgID, "error", err)
	}
}

// describeTool renders a tool invocation for humans. Detail is raw input
// JSON; it is clipped rather than parsed.
func describeTool(tool, detail string) string {
	const maxDetail = 80
	detail = strings.TrimSpace(detail)
	if detail == "" || detail == "{}" {
		return tool
	}
	if len(detail) > maxDetail {
		detail = detail[:runeAlignedCut(detail, maxDetail)] + "…"
	}
	return tool + " " + detail
}
