// ABOUTME: Markdown rendering for outbound Matrix messages.
// ABOUTME: Plain body keeps the source; formatted_body carries the HTML.

package chat

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
)

// renderHTML converts markdown to the HTML Matrix clients display as
// formatted_body. On render failure the raw markdown is returned so the
// message still goes out.
func renderHTML(markdown string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return markdown
	}
	return strings.TrimRight(buf.String(), "\n")
}
