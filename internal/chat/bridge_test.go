// ABOUTME: Tests for inbound message filtering and markdown rendering.
// ABOUTME: Covers prefix extraction, room allow list, and HTML conversion.

package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractPrompt(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		prefix string
		want   string
		ok     bool
	}{
		{"no prefix passes everything", "hello there", "", "hello there", true},
		{"prefix stripped", "!warren do the thing", "!warren", "do the thing", true},
		{"missing prefix rejected", "do the thing", "!warren", "", false},
		{"prefix only is empty", "!warren   ", "!warren", "", false},
		{"whitespace trimmed", "  spaced  ", "", "spaced", true},
		{"empty body rejected", "", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractPrompt(tt.body, tt.prefix)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoomAllowed(t *testing.T) {
	assert.True(t, roomAllowed(nil, "!any:server"), "empty list allows all")
	assert.True(t, roomAllowed([]string{"!a:s", "!b:s"}, "!b:s"))
	assert.False(t, roomAllowed([]string{"!a:s"}, "!b:s"))
}

func TestRenderHTML(t *testing.T) {
	html := renderHTML("**bold** and `code`")
	assert.Contains(t, html, "<strong>bold</strong>")
	assert.Contains(t, html, "<code>code</code>")
	assert.False(t, strings.HasSuffix(html, "\n"))
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", clip("short", 10))
	assert.Equal(t, "lo...", clip("longer", 2))
	assert.Equal(t, "héllo", clip("héllo", 5), "counts runes, not bytes")
}
