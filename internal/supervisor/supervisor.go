// ABOUTME: Request dispatch with filename-derived correlation and retry policy.
// ABOUTME: At-least-once delivery plus a first-response-wins ledger gives effectively-once.

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/2389/warren/internal/dedupe"
	"github.com/2389/warren/internal/wire"
)

// Dispatch errors.
var (
	// ErrQueueFull rejects new work while too many requests are pending.
	// Backpressure is an explicit reject, not silent unbounded accumulation.
	ErrQueueFull = errors.New("request queue full")
	// ErrResponseTimeout means no response appeared within the deadline.
	ErrResponseTimeout = errors.New("response timeout")
	// ErrWorkerDead means the heartbeat went stale during an in-flight request.
	ErrWorkerDead = errors.New("worker heartbeat stale")
	// ErrRetriesExhausted is terminal: restarts and the one-shot fallback all failed.
	ErrRetriesExhausted = errors.New("worker retries exhausted")
)

// Supervision defaults.
const (
	DefaultResponsePoll    = 250 * time.Millisecond
	DefaultResponseTimeout = 5 * time.Minute
	DefaultMaxRestarts     = 2
	DefaultQueueCap        = 32
	ledgerTTL              = time.Hour
)

// Launcher abstracts worker process control so the supervisor can restart a
// dead worker or fall back to one-shot execution.
type Launcher interface {
	// Start (re)spawns the persistent worker.
	Start(ctx context.Context) error
	// RunOnce executes a single request in a fresh one-shot worker process.
	// id carries the request's correlation id through to status events.
	RunOnce(ctx context.Context, id string, req *wire.Request) (*wire.Response, error)
}

// Supervisor dispatches requests over one channel and supervises its worker.
type Supervisor struct {
	Channel  wire.Channel
	Launcher Launcher
	Monitor  *Monitor
	Logger   *slog.Logger

	ResponsePoll    time.Duration
	ResponseTimeout time.Duration
	MaxRestarts     int
	QueueCap        int

	ledger *dedupe.Ledger
}

// New creates a supervisor with default timings.
func New(ch wire.Channel, launcher Launcher, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		Channel:         ch,
		Launcher:        launcher,
		Monitor:         NewMonitor(ch, logger),
		Logger:          logger,
		ResponsePoll:    DefaultResponsePoll,
		ResponseTimeout: DefaultResponseTimeout,
		MaxRestarts:     DefaultMaxRestarts,
		QueueCap:        DefaultQueueCap,
		ledger:          dedupe.NewLedger(ledgerTTL),
	}
}

// Close releases supervisor resources.
func (s *Supervisor) Close() {
	if s.ledger != nil {
		s.ledger.Close()
	}
}

// Dispatch publishes req under id, waits for its correlated response, and
// applies the retry policy on worker death or timeout. An empty id gets a
// fresh one minted; callers that subscribe to status events for the request
// mint the id themselves so the subscription can precede the publish.
// Returns the first honored response for the id.
func (s *Supervisor) Dispatch(ctx context.Context, id string, req *wire.Request) (*wire.Response, error) {
	if err := s.checkQueueDepth(); err != nil {
		return nil, err
	}
	if err := s.Channel.EnsureDirs(); err != nil {
		return nil, err
	}
	s.sweepStaleResponses()

	if id == "" {
		id = wire.NewID(time.Now())
	}
	reqPath := filepath.Join(s.Channel.InputDir(), wire.RequestFilename(id))
	if err := wire.WriteJSON(reqPath, req); err != nil {
		return nil, fmt.Errorf("publishing request: %w", err)
	}
	s.Logger.Info("request dispatched", "id", id, "chat_jid", req.ChatJID)

	for attempt := 0; ; attempt++ {
		resp, err := s.await(ctx, id)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrWorkerDead) && !errors.Is(err, ErrResponseTimeout) {
			return nil, err
		}

		if attempt < s.MaxRestarts {
			s.Logger.Warn("retrying request after worker failure",
				"id", id, "attempt", attempt+1, "cause", err)
			// Redeliver the same request. Safe: request files are deleted
			// only by the consumer, and the response ledger makes duplicate
			// responses harmless.
			if werr := wire.WriteJSON(reqPath, req); werr != nil {
				return nil, fmt.Errorf("redelivering request: %w", werr)
			}
			if serr := s.Launcher.Start(ctx); serr != nil {
				s.Logger.Error("worker restart failed", "id", id, "error", serr)
			}
			continue
		}

		// Restarts exhausted: leave the persistent channel alone and run the
		// request in a fresh one-shot process.
		os.Remove(reqPath)
		s.Logger.Warn("falling back to one-shot execution", "id", id)
		resp, oerr := s.Launcher.RunOnce(ctx, id, req)
		if oerr != nil {
			return nil, fmt.Errorf("%w: %v", ErrRetriesExhausted, oerr)
		}
		return resp, nil
	}
}

// Cancel drops the cancellation sentinel for the in-flight request. The
// worker observes it between backend events and answers with its best
// partial result.
func (s *Supervisor) Cancel() error {
	return os.WriteFile(s.Channel.CancelPath(), nil, 0644)
}

// await polls for the correlated response until it appears, the worker dies,
// or the deadline passes. The expected filename is computed directly from the
// request id; no side table exists.
func (s *Supervisor) await(ctx context.Context, id string) (*wire.Response, error) {
	resPath := filepath.Join(s.Channel.OutputDir(), wire.ResponseFilename(id))
	deadline := time.Now().Add(s.ResponseTimeout)

	watcher := wire.WatchDir(s.Channel.OutputDir(), s.Logger)
	defer watcher.Close()

	ticker := time.NewTicker(s.ResponsePoll)
	defer ticker.Stop()

	// Grace period before heartbeat absence counts as death: the worker may
	// still be starting up.
	graceUntil := time.Now().Add(s.Monitor.StaleAfter)

	for {
		var resp wire.Response
		err := wire.ReadJSON(resPath, &resp)
		switch {
		case err == nil:
			os.Remove(resPath)
			if !s.ledger.Remember(id) {
				// A response for this id was already honored; this one is a
				// redelivery artifact.
				s.Logger.Debug("ignoring duplicate response", "id", id)
				return nil, fmt.Errorf("duplicate response for %s", id)
			}
			return &resp, nil
		case !os.IsNotExist(err):
			s.Logger.Warn("unreadable response file", "id", id, "error", err)
		}

		now := time.Now()
		if now.After(deadline) {
			return nil, ErrResponseTimeout
		}
		if now.After(graceUntil) && !s.Monitor.Alive(now) {
			return nil, ErrWorkerDead
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-watcher.Wake():
		case <-ticker.C:
		}
	}
}

// checkQueueDepth enforces the pending-request cap.
func (s *Supervisor) checkQueueDepth() error {
	if s.QueueCap <= 0 {
		return nil
	}
	names, err := wire.ListReady(s.Channel.InputDir(), wire.RequestPrefix)
	if err != nil {
		return err
	}
	if len(names) >= s.QueueCap {
		return fmt.Errorf("%w: %d pending", ErrQueueFull, len(names))
	}
	return nil
}

// sweepStaleResponses removes response files whose id the ledger has already
// honored. A worker killed mid-retry can still flush its response after the
// replacement's answer was consumed; without the sweep that straggler sits
// in the output directory forever.
func (s *Supervisor) sweepStaleResponses() {
	names, err := wire.ListReady(s.Channel.OutputDir(), wire.ResponsePrefix)
	if err != nil {
		return
	}
	for _, name := range names {
		id, ok := wire.IDFromFilename(name)
		if !ok || !s.ledger.Seen(id) {
			continue
		}
		path := filepath.Join(s.Channel.OutputDir(), name)
		if err := os.Remove(path); err == nil {
			s.Logger.Info("removed stale response", "id", id)
		}
	}
}
