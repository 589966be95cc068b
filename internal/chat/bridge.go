// ABOUTME: Inbound Matrix bridge: room messages become dispatched prompts.
// ABOUTME: Allowed-room filter, command prefix, one in-flight prompt per room.

package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// typingTimeout is how long a single typing indicator stays lit.
const typingTimeout = 30 * time.Second

// networkTimeout bounds Matrix API calls made outside a request context.
const networkTimeout = 10 * time.Second

// PromptHandler runs one prompt to completion and returns the final reply
// text. It owns all intermediate chat traffic (status, streaming) for the
// room; the bridge only posts the final reply and error fallbacks.
type PromptHandler func(ctx context.Context, roomID, sender, prompt string) (string, error)

// BridgeOptions configures inbound message handling.
type BridgeOptions struct {
	UserID          string
	AllowedRooms    []string
	CommandPrefix   string
	TypingIndicator bool
}

// Bridge syncs with the homeserver and routes room messages to a
// PromptHandler, at most one in flight per room.
type Bridge struct {
	client  *mautrix.Client
	handler PromptHandler
	opts    BridgeOptions
	logger  *slog.Logger

	// Rooms with a prompt currently in flight.
	processing sync.Map

	ctx    context.Context
	cancel context.CancelFunc
}

// NewBridge wraps an already-authenticated mautrix client.
func NewBridge(client *mautrix.Client, handler PromptHandler, opts BridgeOptions, logger *slog.Logger) *Bridge {
	return &Bridge{
		client:  client,
		handler: handler,
		opts:    opts,
		logger:  logger.With("component", "bridge"),
	}
}

// Run starts syncing and blocks until ctx is cancelled or sync fails.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("starting matrix bridge",
		"user_id", b.opts.UserID,
		"allowed_rooms", len(b.opts.AllowedRooms),
	)

	b.ctx, b.cancel = context.WithCancel(ctx)
	defer b.cancel()

	syncer, ok := b.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, b.handleMessageEvent)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.client.SyncWithContext(b.ctx)
	}()

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix bridge")
		b.cancel()
		return nil
	case err := <-syncErr:
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// handleMessageEvent filters an incoming event down to a prompt and hands it
// to a goroutine so the sync loop never blocks.
func (b *Bridge) handleMessageEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(b.opts.UserID) {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}

	roomID := evt.RoomID.String()
	if !roomAllowed(b.opts.AllowedRooms, roomID) {
		b.logger.Debug("ignoring message from non-allowed room", "room", roomID)
		return
	}

	prompt, ok := extractPrompt(content.Body, b.opts.CommandPrefix)
	if !ok {
		return
	}

	b.logger.Info("received prompt",
		"room", roomID,
		"sender", evt.Sender.String(),
		"content", clip(prompt, 50),
	)

	go b.processPrompt(b.ctx, evt.RoomID, evt.Sender, prompt)
}

func (b *Bridge) processPrompt(ctx context.Context, roomID id.RoomID, sender id.UserID, prompt string) {
	roomStr := roomID.String()

	if _, loaded := b.processing.LoadOrStore(roomStr, true); loaded {
		b.logger.Debug("prompt already in flight for room, dropping", "room", roomStr)
		return
	}
	defer b.processing.Delete(roomStr)

	if b.opts.TypingIndicator {
		b.setTyping(roomID, true)
		defer b.setTyping(roomID, false)
	}

	reply, err := b.handler(ctx, roomStr, sender.String(), prompt)
	if err != nil {
		b.logger.Error("prompt failed", "room", roomStr, "error", err)
		b.sendPlain(roomID, fmt.Sprintf("Error: %v", err))
		return
	}
	if reply == "" {
		b.logger.Warn("empty reply", "room", roomStr)
		return
	}
	b.sendPlain(roomID, reply)
}

// setTyping is fire-and-forget; a failed indicator never blocks a prompt.
func (b *Bridge) setTyping(roomID id.RoomID, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if _, err := b.client.UserTyping(ctx, roomID, typing, timeout); err != nil {
		b.logger.Debug("typing indicator failed", "room", roomID.String(), "error", err)
	}
}

func (b *Bridge) sendPlain(roomID id.RoomID, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	content := textContent(event.MsgText, text)
	if _, err := b.client.SendMessageEvent(ctx, roomID, event.EventMessage, &content); err != nil {
		b.logger.Error("failed to send reply", "room", roomID.String(), "error", err)
	}
}

// roomAllowed reports whether roomID passes the allow list. An empty list
// allows every room.
func roomAllowed(allowed []string, roomID string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, room := range allowed {
		if room == roomID {
			return true
		}
	}
	return false
}

// extractPrompt strips the command prefix and reports whether the body is a
// prompt at all. With no prefix configured every message is a prompt.
func extractPrompt(body, prefix string) (string, bool) {
	if prefix != "" {
		if !strings.HasPrefix(body, prefix) {
			return "", false
		}
		body = strings.TrimPrefix(body, prefix)
	}
	body = strings.TrimSpace(body)
	return body, body != ""
}

// clip shortens a string to maxLen runes for log lines.
func clip(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
