// ABOUTME: Tails the status/ directory and fans decoded events out to subscribers.
// ABOUTME: Consumed event files are deleted by the host, the owning side per protocol.

package supervisor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/warren/internal/wire"
)

const (
	// subscriberBufferSize matches the backend stream buffer; status events
	// are best-effort, so a full subscriber just drops.
	subscriberBufferSize = 64

	defaultTailInterval = 200 * time.Millisecond
)

// StatusTailer polls the status directory, decodes events in arrival order,
// and publishes them to all subscribers. Undecodable files are discarded;
// status delivery degrades UX, never correctness.
type StatusTailer struct {
	Channel  wire.Channel
	Interval time.Duration
	Logger   *slog.Logger

	mu          sync.RWMutex
	subscribers map[string]*subscriber
}

// subscriber pairs a delivery channel with the request id it cares about.
// An empty filter receives everything.
type subscriber struct {
	ch     chan *wire.StatusEvent
	filter string
}

// NewStatusTailer creates a tailer for the channel's status directory.
func NewStatusTailer(ch wire.Channel, logger *slog.Logger) *StatusTailer {
	return &StatusTailer{
		Channel:     ch,
		Interval:    defaultTailInterval,
		Logger:      logger.With("component", "status-tailer"),
		subscribers: make(map[string]*subscriber),
	}
}

// Subscribe registers a subscriber for events carrying requestID. An empty
// requestID receives every event. The returned channel receives events until
// ctx is cancelled; the subscription cleans itself up.
func (t *StatusTailer) Subscribe(ctx context.Context, requestID string) (<-chan *wire.StatusEvent, string) {
	subID := uuid.New().String()
	ch := make(chan *wire.StatusEvent, subscriberBufferSize)

	t.mu.Lock()
	t.subscribers[subID] = &subscriber{ch: ch, filter: requestID}
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		t.Unsubscribe(subID)
	}()

	return ch, subID
}

// Unsubscribe removes a subscriber and closes its channel.
func (t *StatusTailer) Unsubscribe(subID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sub, ok := t.subscribers[subID]; ok {
		delete(t.subscribers, subID)
		close(sub.ch)
	}
}

// Run tails the status directory until ctx is cancelled.
func (t *StatusTailer) Run(ctx context.Context) {
	if t.Interval == 0 {
		t.Interval = defaultTailInterval
	}

	watcher := wire.WatchDir(t.Channel.StatusDir(), t.Logger)
	defer watcher.Close()

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-watcher.Wake():
		case <-ticker.C:
		}
		t.drain()
	}
}

// drain consumes every published status file in arrival order.
func (t *StatusTailer) drain() {
	names, err := wire.ListReady(t.Channel.StatusDir(), wire.StatusPrefix)
	if err != nil {
		t.Logger.Warn("status scan failed", "error", err)
		return
	}

	for _, name := range names {
		path := filepath.Join(t.Channel.StatusDir(), name)
		var ev wire.StatusEvent
		err := wire.ReadJSON(path, &ev)
		os.Remove(path)
		if err != nil {
			t.Logger.Debug("discarding undecodable status file", "name", name, "error", err)
			continue
		}
		t.publish(&ev)
	}
}

// publish fans an event out non-blockingly; slow subscribers lose events.
// Events without a request id predate correlation tagging (an older worker
// binary) and go to everyone rather than nobody.
func (t *StatusTailer) publish(ev *wire.StatusEvent) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for subID, sub := range t.subscribers {
		if sub.filter != "" && ev.RequestID != "" && ev.RequestID != sub.filter {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			t.Logger.Debug("dropping status event for slow subscriber", "sub_id", subID, "type", ev.Type)
		}
	}
}
