// ABOUTME: Persistent worker loop: poll agent-input in filename order, execute, publish.
// ABOUTME: Heartbeat refreshes on a timer and after every request; SIGTERM deletes it.

package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/2389/warren/internal/wire"
)

// Loop defaults. The request poll is short because "file present" is the only
// wakeup signal; the heartbeat period bounds how fast the host detects death.
const (
	DefaultPollInterval      = 200 * time.Millisecond
	DefaultHeartbeatInterval = 10 * time.Second
)

// Loop is the persistent consumption mode: one request in flight at a time,
// strictly in arrival order.
type Loop struct {
	Runner            *Runner
	Logger            *slog.Logger
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
}

// Run consumes requests until ctx is cancelled. On shutdown the heartbeat
// file is deleted so the host sees death immediately instead of waiting for
// staleness.
func (l *Loop) Run(ctx context.Context) error {
	if l.PollInterval == 0 {
		l.PollInterval = DefaultPollInterval
	}
	if l.HeartbeatInterval == 0 {
		l.HeartbeatInterval = DefaultHeartbeatInterval
	}

	ch := l.Runner.Channel
	if err := ch.EnsureDirs(); err != nil {
		return err
	}
	if err := l.writeHeartbeat(); err != nil {
		return err
	}

	l.Logger.Info("worker loop started",
		"root", ch.Root,
		"pid", os.Getpid(),
		"poll_interval", l.PollInterval,
	)

	poll := time.NewTicker(l.PollInterval)
	defer poll.Stop()
	heartbeat := time.NewTicker(l.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			// Immediate "I am gone" signal.
			os.Remove(ch.HeartbeatPath())
			l.Logger.Info("worker loop stopped")
			return nil

		case <-heartbeat.C:
			if err := l.writeHeartbeat(); err != nil {
				l.Logger.Error("heartbeat write failed", "error", err)
			}

		case <-poll.C:
			if err := l.drain(ctx); err != nil {
				l.Logger.Error("request scan failed", "error", err)
			}
		}
	}
}

// drain processes every pending request in arrival order, then returns to
// the poll sleep.
func (l *Loop) drain(ctx context.Context) error {
	ch := l.Runner.Channel
	names, err := wire.ListReady(ch.InputDir(), wire.RequestPrefix)
	if err != nil {
		return err
	}

	for _, name := range names {
		if ctx.Err() != nil {
			return nil
		}
		l.processOne(ctx, name)
		if err := l.writeHeartbeat(); err != nil {
			l.Logger.Error("heartbeat write failed", "error", err)
		}
	}
	return nil
}

// processOne consumes a single request file. The file is deleted right after
// the parse attempt — before execution — so a crash mid-execution redelivers
// the host's original file, never a half-consumed artifact. Malformed files
// still produce a synthetic error Response keyed by the derived id, so the
// host is never left waiting.
func (l *Loop) processOne(ctx context.Context, name string) {
	ch := l.Runner.Channel
	path := filepath.Join(ch.InputDir(), name)

	id, ok := wire.IDFromFilename(name)
	if !ok {
		l.Logger.Warn("removing unrecognized input file", "name", name)
		os.Remove(path)
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		// Likely already consumed by a racing restart; the rescan self-heals.
		l.Logger.Warn("request vanished before read", "name", name, "error", err)
		return
	}

	var req wire.Request
	parseErr := json.Unmarshal(data, &req)
	os.Remove(path)

	var resp *wire.Response
	if parseErr != nil {
		l.Logger.Error("malformed request", "id", id, "error", parseErr)
		resp = wire.ErrorResponse(fmt.Sprintf("malformed request: %v", parseErr))
	} else {
		l.Logger.Info("executing request", "id", id, "chat_jid", req.ChatJID)
		started := time.Now()
		resp = l.Runner.Execute(ctx, id, &req)
		l.Logger.Info("request finished",
			"id", id,
			"status", resp.Status,
			"duration", time.Since(started).Round(time.Millisecond),
		)
	}

	out := filepath.Join(ch.OutputDir(), wire.ResponseFilename(id))
	if err := wire.WriteJSON(out, resp); err != nil {
		l.Logger.Error("response write failed", "id", id, "error", err)
	}
}

func (l *Loop) writeHeartbeat() error {
	hb := wire.NewHeartbeat(time.Now())
	if err := wire.WriteJSON(l.Runner.Channel.HeartbeatPath(), hb); err != nil {
		return fmt.Errorf("writing heartbeat: %w", err)
	}
	return nil
}
