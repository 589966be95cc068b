// ABOUTME: Scripted backend replaying a fixed event sequence, for tests.
// ABOUTME: Supports injected start errors, stream errors, and per-event delays.

package backend

import (
	"context"
	"time"
)

// Scripted replays Events in order. Zero value is a backend that immediately
// closes its stream with no events.
type Scripted struct {
	Events []Event
	// StartErr makes Run fail before producing a stream.
	StartErr error
	// StreamErr closes the stream with an error after all events are sent.
	StreamErr error
	// Delay is inserted before each event, to exercise cancellation windows.
	Delay time.Duration

	// Runs counts Run invocations, for restart/retry tests.
	Runs int
}

// Health always succeeds.
func (s *Scripted) Health() error { return nil }

// Run replays the script.
func (s *Scripted) Run(ctx context.Context, job Job) (*Stream, error) {
	s.Runs++
	if s.StartErr != nil {
		return nil, s.StartErr
	}

	stream := NewStream(ctx)
	events := append([]Event(nil), s.Events...)
	go func() {
		for _, ev := range events {
			if s.Delay > 0 {
				select {
				case <-time.After(s.Delay):
				case <-ctx.Done():
					stream.Close(ctx.Err())
					return
				}
			}
			stream.Send(ev)
		}
		stream.Close(s.StreamErr)
	}()
	return stream, nil
}
