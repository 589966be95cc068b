// ABOUTME: Heartbeat liveness monitor. Staleness is the only death signal;
// ABOUTME: no RPC health check exists across the filesystem boundary.

package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/2389/warren/internal/wire"
)

// Monitor defaults. A worker is declared dead when its heartbeat is older
// than StaleMultiplier heartbeat periods, or the file is missing entirely.
const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultStaleMultiplier   = 3
)

// Monitor polls the heartbeat file and reports worker liveness.
type Monitor struct {
	Channel    wire.Channel
	Interval   time.Duration
	StaleAfter time.Duration
	Logger     *slog.Logger
}

// NewMonitor creates a monitor with the default intervals.
func NewMonitor(ch wire.Channel, logger *slog.Logger) *Monitor {
	return &Monitor{
		Channel:    ch,
		Interval:   DefaultHeartbeatInterval,
		StaleAfter: DefaultStaleMultiplier * DefaultHeartbeatInterval,
		Logger:     logger,
	}
}

// Alive reports whether the heartbeat exists and is fresh at now.
func (m *Monitor) Alive(now time.Time) bool {
	var hb wire.Heartbeat
	if err := wire.ReadJSON(m.Channel.HeartbeatPath(), &hb); err != nil {
		return false
	}
	return hb.Age(now) < m.StaleAfter
}

// Run polls liveness until ctx is cancelled, invoking onDead on each
// alive→dead transition. The callback runs on the monitor goroutine.
func (m *Monitor) Run(ctx context.Context, onDead func()) {
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	wasAlive := m.Alive(time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			alive := m.Alive(time.Now())
			if wasAlive && !alive {
				m.Logger.Warn("worker heartbeat lost", "stale_after", m.StaleAfter)
				if onDead != nil {
					onDead()
				}
			}
			wasAlive = alive
		}
	}
}
