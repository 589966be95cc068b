// ABOUTME: Channel maps a group folder to the fixed file layout both sides agree on.
// ABOUTME: agent-input/, agent-output/, status/, agent-heartbeat, agent-cancel.

package wire

import (
	"fmt"
	"os"
	"path/filepath"
)

// Channel is the filesystem layout of one host↔worker conversation. Every
// shared file under it has exactly one designated writer.
type Channel struct {
	Root string
}

// InputDir holds pending Request files (written by the host, deleted by the
// worker).
func (c Channel) InputDir() string { return filepath.Join(c.Root, "agent-input") }

// OutputDir holds Response files (written by the worker, aged out by the
// host).
func (c Channel) OutputDir() string { return filepath.Join(c.Root, "agent-output") }

// StatusDir holds best-effort StatusEvent files (written by the worker,
// removed by the host after consumption).
func (c Channel) StatusDir() string { return filepath.Join(c.Root, "status") }

// HeartbeatPath is the worker liveness file.
func (c Channel) HeartbeatPath() string { return filepath.Join(c.Root, "agent-heartbeat") }

// CancelPath is the cancellation sentinel. Its presence between backend
// events aborts the in-flight request with the best partial result.
func (c Channel) CancelPath() string { return filepath.Join(c.Root, "agent-cancel") }

// EnsureDirs creates the channel directories if they do not exist.
func (c Channel) EnsureDirs() error {
	for _, dir := range []string{c.InputDir(), c.OutputDir(), c.StatusDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}
