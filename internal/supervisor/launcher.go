// ABOUTME: Process launcher spawning warren-worker in persistent or one-shot mode.
// ABOUTME: One-shot output is recovered from the framed stdout protocol.

package supervisor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"

	"github.com/2389/warren/internal/wire"
	"github.com/2389/warren/internal/worker"
)

// ProcessLauncher runs the worker binary as a child process.
type ProcessLauncher struct {
	// Binary is the warren-worker executable path.
	Binary string
	// Root is the channel root passed to the worker.
	Root string
	// ConfigPath, when set, is forwarded so the worker uses the same agent
	// configuration in every mode.
	ConfigPath string
	Logger     *slog.Logger

	mu  sync.Mutex
	cmd *exec.Cmd
}

func (p *ProcessLauncher) args(mode string) []string {
	args := []string{mode, "--root", p.Root}
	if p.ConfigPath != "" {
		args = append(args, "--config", p.ConfigPath)
	}
	return args
}

// Start spawns (or respawns) the persistent worker. An existing child gets
// SIGTERM first so it deletes its heartbeat on the way out.
func (p *ProcessLauncher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil && p.cmd.Process != nil {
		p.cmd.Process.Signal(syscall.SIGTERM)
	}

	cmd := exec.Command(p.Binary, p.args("run")...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}
	p.cmd = cmd
	p.Logger.Info("worker started", "pid", cmd.Process.Pid, "root", p.Root)

	go func() {
		if err := cmd.Wait(); err != nil {
			p.Logger.Warn("worker exited", "pid", cmd.Process.Pid, "error", err)
		}
	}()
	return nil
}

// Stop terminates the persistent worker if running.
func (p *ProcessLauncher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil && p.cmd.Process != nil {
		p.cmd.Process.Signal(syscall.SIGTERM)
		p.cmd = nil
	}
}

// RunOnce executes req in a fresh one-shot worker process and parses the
// framed response from stdout. The process exit code mirrors the response
// status, so a non-zero exit with a parseable frame is not a launch failure.
func (p *ProcessLauncher) RunOnce(ctx context.Context, id string, req *wire.Request) (*wire.Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	args := p.args("once")
	if id != "" {
		args = append(args, "--id", id)
	}
	cmd := exec.CommandContext(ctx, p.Binary, args...)
	cmd.Stdin = bytes.NewReader(payload)
	out, err := cmd.Output()

	resp, perr := ParseFramedResponse(out)
	if perr == nil {
		return resp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("one-shot worker: %w", err)
	}
	return nil, perr
}

// ParseFramedResponse extracts the Response line between the one-shot stdout
// markers.
func ParseFramedResponse(out []byte) (*wire.Response, error) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	inFrame := false
	for scanner.Scan() {
		line := scanner.Text()
		if line == worker.ResultStartMarker {
			inFrame = true
			continue
		}
		if !inFrame {
			continue
		}
		if line == worker.ResultEndMarker {
			break
		}
		var resp wire.Response
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			return nil, fmt.Errorf("parsing framed response: %w", err)
		}
		return &resp, nil
	}
	return nil, fmt.Errorf("no framed response in output")
}
