// ABOUTME: Thread-safe TTL ledger for first-response-wins correlation.
// ABOUTME: Remember is atomic: exactly one caller per id within the TTL gets true.

package dedupe

import (
	"sync"
	"time"
)

const sweepEvery = time.Minute

// Ledger tracks which correlation ids have already been honored. Entries
// expire after a TTL so long-running hosts do not grow without bound; the TTL
// only needs to exceed the response-redelivery window.
type Ledger struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	ttl    time.Duration
	done   chan struct{}
	closed bool
}

// NewLedger creates a ledger whose entries expire after ttl. A background
// goroutine sweeps expired entries until Close is called.
func NewLedger(ttl time.Duration) *Ledger {
	l := &Ledger{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		done: make(chan struct{}),
	}
	go l.sweep()
	return l
}

// Remember records id and reports whether this call was the first within the
// TTL. The check-and-record is atomic, so two racing responses for the same
// id resolve to exactly one winner.
func (l *Ledger) Remember(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if at, ok := l.seen[id]; ok && time.Since(at) < l.ttl {
		return false
	}
	l.seen[id] = time.Now()
	return true
}

// Seen reports whether id has been remembered and is not expired.
func (l *Ledger) Seen(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	at, ok := l.seen[id]
	return ok && time.Since(at) < l.ttl
}

// Close stops the sweeper. Idempotent.
func (l *Ledger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.done)
	}
}

func (l *Ledger) sweep() {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.mu.Lock()
			for id, at := range l.seen {
				if time.Since(at) >= l.ttl {
					delete(l.seen, id)
				}
			}
			l.mu.Unlock()
		}
	}
}
