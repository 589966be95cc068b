// ABOUTME: Channel-backed event stream returned by Backend.Run.
// ABOUTME: The consumer pulls with Next; the producer closes with the terminal error.

package backend

import "context"

const streamBuffer = 64

// Stream is a pull-based sequence of events from one execution.
type Stream struct {
	ctx context.Context
	ch  chan Event
	err error
}

// NewStream creates a stream bound to ctx. Producers use Send/Close;
// consumers use Next/Err.
func NewStream(ctx context.Context) *Stream {
	return &Stream{ctx: ctx, ch: make(chan Event, streamBuffer)}
}

// Send delivers an event unless the context is done.
func (s *Stream) Send(ev Event) {
	select {
	case s.ch <- ev:
	case <-s.ctx.Done():
	}
}

// Close ends the stream. err, if non-nil, is surfaced by Err after the
// consumer drains remaining events.
func (s *Stream) Close(err error) {
	s.err = err
	close(s.ch)
}

// Next returns the next event, or ok=false when the stream has ended.
func (s *Stream) Next() (Event, bool) {
	ev, ok := <-s.ch
	return ev, ok
}

// Err reports the terminal error, valid once Next has returned ok=false.
func (s *Stream) Err() error {
	return s.err
}
