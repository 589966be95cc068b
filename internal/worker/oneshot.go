// ABOUTME: One-shot mode: one request on stdin, one framed Response on stdout.
// ABOUTME: Markers bracket the JSON line so callers can extract it from mixed output.

package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/2389/warren/internal/wire"
)

// Stdout framing for one-shot mode. The exit code mirrors the status field.
const (
	ResultStartMarker = "---WARREN-RESULT---"
	ResultEndMarker   = "---WARREN-END---"
)

// OneShot reads a single Request from stdin, executes it, and prints the
// framed Response. id, when non-empty, is stamped on status events so the
// supervisor can correlate them. Returns the process exit code: 0 for
// success, 1 for error. No queue semantics: input files, heartbeat, and
// ordering do not apply.
func OneShot(ctx context.Context, r *Runner, id string, stdin io.Reader, stdout io.Writer) int {
	data, err := io.ReadAll(stdin)
	if err != nil {
		return writeFramed(stdout, wire.ErrorResponse(fmt.Sprintf("reading stdin: %v", err)))
	}

	var req wire.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return writeFramed(stdout, wire.ErrorResponse(fmt.Sprintf("malformed request: %v", err)))
	}

	return writeFramed(stdout, r.Execute(ctx, id, &req))
}

func writeFramed(w io.Writer, resp *wire.Response) int {
	line, err := json.Marshal(resp)
	if err != nil {
		// Marshaling a Response cannot realistically fail; degrade to a
		// hand-built error line rather than emitting nothing.
		line = []byte(`{"status":"error","result":null,"error":"response marshal failed"}`)
		resp = &wire.Response{Status: wire.StatusError}
	}

	fmt.Fprintln(w, ResultStartMarker)
	fmt.Fprintln(w, string(line))
	fmt.Fprintln(w, ResultEndMarker)

	if resp.Status == wire.StatusSuccess {
		return 0
	}
	return 1
}
