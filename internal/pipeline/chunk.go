// ABOUTME: Message chunking against the platform size ceiling.
// ABOUTME: Splits at line boundaries; only pathological single lines are hard-split.

package pipeline

import "strings"

// SplitChunks breaks text into pieces of at most max bytes, preferring line
// boundaries. Joining the chunks with "\n" reconstructs the original text,
// except where a single line exceeded max and had to be hard-split (those
// splits inject a newline).
func SplitChunks(text string, max int) []string {
	if max <= 0 || len(text) <= max {
		return []string{text}
	}

	var chunks []string
	var cur strings.Builder

	flush := func() {
		chunks = append(chunks, cur.String())
		cur.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		for len(line) > max {
			if cur.Len() > 0 {
				flush()
			}
			cut := runeAlignedCut(line, max)
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}

		need := len(line)
		if cur.Len() > 0 {
			need++ // joining newline
		}
		if cur.Len()+need > max {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 || len(chunks) == 0 {
		flush()
	}

	return chunks
}

// TailTruncate keeps the last max bytes of text, aligned to a rune start.
// Used for the streaming response message, where the newest content matters.
func TailTruncate(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	start := len(text) - max
	for start < len(text) && !isRuneStart(text[start]) {
		start++
	}
	return text[start:]
}

// runeAlignedCut returns the largest cut point ≤ max that does not split a
// UTF-8 sequence.
func runeAlignedCut(s string, max int) int {
	cut := max
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		return max // not valid UTF-8, give up on alignment
	}
	return cut
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
