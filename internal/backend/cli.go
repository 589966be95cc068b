// ABOUTME: CLIBackend drives a provider CLI (claude by default) in stream-json mode.
// ABOUTME: Parses the line protocol on stdout into events; stderr becomes diagnostic events.

package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
)

// scanBuffer bounds a single stream-json line. Tool results can be large.
const scanBuffer = 1024 * 1024

// CLIBackend executes an agent CLI as a subprocess per job.
type CLIBackend struct {
	// Binary is the executable name, e.g. "claude".
	Binary string
	// ExtraArgs are appended after the standard streaming flags.
	ExtraArgs []string
	// DefaultModel is used when the job does not name one.
	DefaultModel string
	// DefaultWorkDir is used when the job does not name one.
	DefaultWorkDir string
}

// NewCLIBackend returns a backend for the given binary.
func NewCLIBackend(binary string) *CLIBackend {
	return &CLIBackend{Binary: binary}
}

// Health verifies the binary is runnable.
func (b *CLIBackend) Health() error {
	if err := exec.Command(b.Binary, "--version").Run(); err != nil {
		return fmt.Errorf("%s health check failed: %w", b.Binary, err)
	}
	return nil
}

// Run starts the CLI and streams its output as events until the process
// exits. The final result event is emitted before the stream closes.
func (b *CLIBackend) Run(ctx context.Context, job Job) (*Stream, error) {
	model := job.Model
	if model == "" {
		model = b.DefaultModel
	}
	workDir := job.WorkDir
	if workDir == "" {
		workDir = b.DefaultWorkDir
	}

	args := []string{"-p", job.Prompt, "--output-format", "stream-json", "--verbose"}
	if job.SessionID != "" {
		args = append(args, "--resume", job.SessionID)
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	args = append(args, b.ExtraArgs...)

	cmd := exec.CommandContext(ctx, b.Binary, args...)
	if workDir != "" {
		cmd.Dir = workDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", b.Binary, err)
	}

	stream := NewStream(ctx)

	// The stderr goroutine sends on the same stream, so Close must wait for
	// it; closing underneath a blocked Send would panic.
	var producers sync.WaitGroup
	producers.Add(1)
	go func() {
		defer producers.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, scanBuffer), scanBuffer)
		for scanner.Scan() {
			stream.Send(Event{Kind: KindStderr, Text: scanner.Text()})
		}
	}()

	go func() {
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, scanBuffer), scanBuffer)
		for scanner.Scan() {
			for _, ev := range parseLine(scanner.Bytes()) {
				stream.Send(ev)
			}
		}
		producers.Wait()
		err := cmd.Wait()
		if scanErr := scanner.Err(); scanErr != nil && err == nil {
			err = scanErr
		}
		stream.Close(err)
	}()

	return stream, nil
}

// streamLine is the subset of the stream-json line protocol we consume.
type streamLine struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Result    string `json:"result,omitempty"`
	Message   *struct {
		Content []contentBlock `json:"content"`
	} `json:"message,omitempty"`
	Delta *struct {
		Type     string `json:"type"`
		Text     string `json:"text,omitempty"`
		Thinking string `json:"thinking,omitempty"`
	} `json:"delta,omitempty"`
}

type contentBlock struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	Thinking string          `json:"thinking,omitempty"`
	Name     string          `json:"name,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
}

// parseLine maps one protocol line to zero or more events. Unparseable lines
// are dropped: the protocol interleaves non-JSON noise on some providers.
func parseLine(line []byte) []Event {
	var msg streamLine
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil
	}

	switch msg.Type {
	case "system":
		if msg.Subtype == "init" && msg.SessionID != "" {
			return []Event{{Kind: KindSessionInit, SessionID: msg.SessionID}}
		}

	case "assistant":
		if msg.Message == nil {
			return nil
		}
		var events []Event
		for _, block := range msg.Message.Content {
			switch block.Type {
			case "thinking":
				if block.Thinking != "" {
					events = append(events, Event{Kind: KindThinking, Text: block.Thinking})
				}
			case "text":
				if block.Text != "" {
					events = append(events, Event{Kind: KindResponseDelta, Text: block.Text})
				}
			case "tool_use":
				events = append(events, Event{
					Kind:   KindToolStart,
					Tool:   block.Name,
					Detail: string(block.Input),
				})
			}
		}
		return events

	case "content_block_delta":
		if msg.Delta == nil {
			return nil
		}
		switch msg.Delta.Type {
		case "text_delta":
			if msg.Delta.Text != "" {
				return []Event{{Kind: KindResponseDelta, Text: msg.Delta.Text}}
			}
		case "thinking_delta":
			if msg.Delta.Thinking != "" {
				return []Event{{Kind: KindThinking, Text: msg.Delta.Thinking}}
			}
		}

	case "result":
		ev := Event{Kind: KindResult, Text: msg.Result}
		if msg.SessionID != "" {
			ev.SessionID = msg.SessionID
		}
		return []Event{ev}
	}

	return nil
}
