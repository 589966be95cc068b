// ABOUTME: Tests for the persistent poll loop: delivery, ordering, heartbeat lifecycle.
// ABOUTME: Covers crash-safe consumption of malformed files and shutdown cleanup.

package worker

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/warren/internal/backend"
	"github.com/2389/warren/internal/wire"
)

func startTestLoop(t *testing.T, be backend.Backend) (*Loop, context.CancelFunc, chan error) {
	t.Helper()
	r := newTestRunner(t, be)
	loop := &Loop{
		Runner:            r,
		Logger:            slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
		PollInterval:      10 * time.Millisecond,
		HeartbeatInterval: 25 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()
	t.Cleanup(cancel)
	return loop, cancel, done
}

func awaitResponse(t *testing.T, ch wire.Channel, id string) *wire.Response {
	t.Helper()
	path := filepath.Join(ch.OutputDir(), wire.ResponseFilename(id))

	var resp wire.Response
	require.Eventually(t, func() bool {
		return wire.ReadJSON(path, &resp) == nil
	}, 2*time.Second, 5*time.Millisecond, "no response for %s", id)
	return &resp
}

func TestLoop_DeliversExactlyOneResponse(t *testing.T) {
	scripted := &backend.Scripted{Events: []backend.Event{
		{Kind: backend.KindSessionInit, SessionID: "sess-a"},
		{Kind: backend.KindResult, Text: "4"},
	}}
	loop, cancel, done := startTestLoop(t, scripted)
	ch := loop.Runner.Channel

	id := wire.NewID(time.Now())
	reqPath := filepath.Join(ch.InputDir(), wire.RequestFilename(id))
	require.NoError(t, wire.WriteJSON(reqPath, &wire.Request{
		Prompt: "2+2?", GroupFolder: "main", ChatJID: "tg:1", IsMain: true,
	}))

	resp := awaitResponse(t, ch, id)
	assert.Equal(t, wire.StatusSuccess, resp.Status)
	require.NotNil(t, resp.Result)
	assert.Equal(t, "4", *resp.Result)
	assert.Equal(t, "sess-a", resp.NewSessionID)

	// The request file was consumed, and exactly one response exists.
	_, err := os.Stat(reqPath)
	assert.True(t, os.IsNotExist(err))
	names, err := wire.ListReady(ch.OutputDir(), wire.ResponsePrefix)
	require.NoError(t, err)
	assert.Len(t, names, 1)

	cancel()
	require.NoError(t, <-done)
}

func TestLoop_ProcessesInArrivalOrder(t *testing.T) {
	scripted := &backend.Scripted{Events: []backend.Event{
		{Kind: backend.KindResult, Text: "ok"},
	}}
	loop, cancel, done := startTestLoop(t, scripted)
	ch := loop.Runner.Channel

	base := time.Now()
	first := wire.NewID(base)
	second := wire.NewID(base.Add(time.Millisecond))
	for _, id := range []string{second, first} { // written out of order on purpose
		require.NoError(t, wire.WriteJSON(
			filepath.Join(ch.InputDir(), wire.RequestFilename(id)),
			&wire.Request{Prompt: "p", GroupFolder: "main", ChatJID: "tg:1"},
		))
	}

	awaitResponse(t, ch, first)
	awaitResponse(t, ch, second)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 2, scripted.Runs)
}

func TestLoop_MalformedRequestStillAnswered(t *testing.T) {
	loop, cancel, done := startTestLoop(t, &backend.Scripted{})
	ch := loop.Runner.Channel

	id := wire.NewID(time.Now())
	reqPath := filepath.Join(ch.InputDir(), wire.RequestFilename(id))
	require.NoError(t, wire.WriteAtomic(reqPath, []byte("{not json")))

	resp := awaitResponse(t, ch, id)
	assert.Equal(t, wire.StatusError, resp.Status)
	assert.Nil(t, resp.Result)
	assert.Contains(t, resp.Error, "malformed request")

	// No corrupt artifact remains in the input directory.
	names, err := wire.ListReady(ch.InputDir(), wire.RequestPrefix)
	require.NoError(t, err)
	assert.Empty(t, names)

	cancel()
	require.NoError(t, <-done)
}

func TestLoop_HeartbeatLifecycle(t *testing.T) {
	loop, cancel, done := startTestLoop(t, &backend.Scripted{})
	ch := loop.Runner.Channel

	// Heartbeat appears and its timestamp advances while alive.
	var first wire.Heartbeat
	require.Eventually(t, func() bool {
		return wire.ReadJSON(ch.HeartbeatPath(), &first) == nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, os.Getpid(), first.PID)

	var second wire.Heartbeat
	require.Eventually(t, func() bool {
		if wire.ReadJSON(ch.HeartbeatPath(), &second) != nil {
			return false
		}
		return second.Timestamp > first.Timestamp
	}, 2*time.Second, 5*time.Millisecond, "heartbeat must advance")

	// Shutdown deletes the heartbeat file outright.
	cancel()
	require.NoError(t, <-done)
	_, err := os.Stat(ch.HeartbeatPath())
	assert.True(t, os.IsNotExist(err))
}

func TestLoop_RedeliverySurvivesRestart(t *testing.T) {
	// First incarnation dies before producing a response; the host-side file
	// is redelivered to a fresh loop, which must answer with the same id.
	scripted := &backend.Scripted{Events: []backend.Event{
		{Kind: backend.KindResult, Text: "recovered"},
	}}
	r := newTestRunner(t, scripted)
	ch := r.Channel

	id := wire.NewID(time.Now())
	req := &wire.Request{Prompt: "p", GroupFolder: "main", ChatJID: "tg:1"}
	reqPath := filepath.Join(ch.InputDir(), wire.RequestFilename(id))
	require.NoError(t, wire.WriteJSON(reqPath, req))

	// Simulated crash between delete-request and write-response.
	require.NoError(t, os.Remove(reqPath))

	// Host redelivers the same request file, worker restarts.
	require.NoError(t, wire.WriteJSON(reqPath, req))
	loop := &Loop{
		Runner:       r,
		Logger:       slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
		PollInterval: 10 * time.Millisecond,
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	resp := awaitResponse(t, ch, id)
	assert.Equal(t, wire.StatusSuccess, resp.Status)
	require.NotNil(t, resp.Result)
	assert.Equal(t, "recovered", *resp.Result)

	cancel()
	require.NoError(t, <-done)
}
