// ABOUTME: Tests for the status event tailer: ordering, fan-out, file consumption.
// ABOUTME: Undecodable files must be discarded without disturbing the stream.

package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/warren/internal/wire"
)

func TestStatusTailer_DeliversInArrivalOrder(t *testing.T) {
	ch := wire.Channel{Root: t.TempDir()}
	require.NoError(t, ch.EnsureDirs())

	tailer := NewStatusTailer(ch, testLogger())
	tailer.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, _ := tailer.Subscribe(ctx, "")
	go tailer.Run(ctx)

	base := time.Now()
	script := []wire.StatusEvent{
		{Type: wire.StatusThinking, Payload: wire.StatusPayload{Text: "hmm"}},
		{Type: wire.StatusToolStart, Payload: wire.StatusPayload{Tool: "Bash"}},
		{Type: wire.StatusResponseDelta, Payload: wire.StatusPayload{Text: "4"}},
	}
	for i, ev := range script {
		name := wire.StatusFilename(base.Add(time.Duration(i) * time.Millisecond))
		require.NoError(t, wire.WriteJSON(filepath.Join(ch.StatusDir(), name), &ev))
	}

	for i, want := range script {
		select {
		case got := <-events:
			assert.Equal(t, want.Type, got.Type, "event %d", i)
			assert.Equal(t, want.Payload, got.Payload, "event %d", i)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}

	// Consumed files are removed by the host.
	require.Eventually(t, func() bool {
		names, err := wire.ListReady(ch.StatusDir(), wire.StatusPrefix)
		return err == nil && len(names) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStatusTailer_DiscardsUndecodableFiles(t *testing.T) {
	ch := wire.Channel{Root: t.TempDir()}
	require.NoError(t, ch.EnsureDirs())

	tailer := NewStatusTailer(ch, testLogger())
	tailer.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, _ := tailer.Subscribe(ctx, "")
	go tailer.Run(ctx)

	bad := filepath.Join(ch.StatusDir(), wire.StatusFilename(time.Now()))
	require.NoError(t, os.WriteFile(bad, []byte("{broken"), 0644))
	good := filepath.Join(ch.StatusDir(), wire.StatusFilename(time.Now().Add(time.Millisecond)))
	require.NoError(t, wire.WriteJSON(good, &wire.StatusEvent{Type: wire.StatusThinking}))

	select {
	case got := <-events:
		assert.Equal(t, wire.StatusThinking, got.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("good event never arrived")
	}
}

func TestStatusTailer_FiltersByRequestID(t *testing.T) {
	ch := wire.Channel{Root: t.TempDir()}
	require.NoError(t, ch.EnsureDirs())

	tailer := NewStatusTailer(ch, testLogger())
	tailer.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Two concurrent prompts, each subscribed to its own request.
	eventsA, _ := tailer.Subscribe(ctx, "req-a")
	eventsB, _ := tailer.Subscribe(ctx, "req-b")
	go tailer.Run(ctx)

	base := time.Now()
	script := []wire.StatusEvent{
		{Type: wire.StatusThinking, Payload: wire.StatusPayload{Text: "a1"}, RequestID: "req-a"},
		{Type: wire.StatusToolStart, Payload: wire.StatusPayload{Tool: "Bash"}, RequestID: "req-a"},
		{Type: wire.StatusThinking, Payload: wire.StatusPayload{Text: "b1"}, RequestID: "req-b"},
		{Type: wire.StatusResponseDelta, Payload: wire.StatusPayload{Text: "a2"}, RequestID: "req-a"},
	}
	for i, ev := range script {
		name := wire.StatusFilename(base.Add(time.Duration(i) * time.Millisecond))
		require.NoError(t, wire.WriteJSON(filepath.Join(ch.StatusDir(), name), &ev))
	}

	for _, wantText := range []string{"a1", "", "a2"} {
		select {
		case got := <-eventsA:
			assert.Equal(t, "req-a", got.RequestID)
			assert.Equal(t, wantText, got.Payload.Text)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for req-a event")
		}
	}

	select {
	case got := <-eventsB:
		assert.Equal(t, "req-b", got.RequestID)
		assert.Equal(t, "b1", got.Payload.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for req-b event")
	}

	// Neither subscriber saw the other request's events.
	select {
	case got := <-eventsA:
		t.Fatalf("unexpected extra event for req-a: %+v", got)
	case got := <-eventsB:
		t.Fatalf("unexpected extra event for req-b: %+v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStatusTailer_UntaggedEventReachesAllSubscribers(t *testing.T) {
	ch := wire.Channel{Root: t.TempDir()}
	require.NoError(t, ch.EnsureDirs())

	tailer := NewStatusTailer(ch, testLogger())
	tailer.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventsA, _ := tailer.Subscribe(ctx, "req-a")
	go tailer.Run(ctx)

	name := wire.StatusFilename(time.Now())
	ev := wire.StatusEvent{Type: wire.StatusThinking, Payload: wire.StatusPayload{Text: "legacy"}}
	require.NoError(t, wire.WriteJSON(filepath.Join(ch.StatusDir(), name), &ev))

	select {
	case got := <-eventsA:
		assert.Equal(t, "legacy", got.Payload.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("untagged event never arrived")
	}
}

func TestStatusTailer_UnsubscribeClosesChannel(t *testing.T) {
	ch := wire.Channel{Root: t.TempDir()}
	require.NoError(t, ch.EnsureDirs())
	tailer := NewStatusTailer(ch, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	events, subID := tailer.Subscribe(ctx, "")
	tailer.Unsubscribe(subID)
	cancel()

	_, open := <-events
	assert.False(t, open)
}
