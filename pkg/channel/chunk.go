package channel

// Chunk splits text into pieces of at most maxLen runes, preferring to cut
// at the last newline inside each window. The newline at a cut, and any
// newlines directly after it, are dropped.
func Chunk(text string, maxLen int) []string {
	runes := []rune(text)
	if maxLen < 1 || len(runes) <= maxLen {
		return []string{text}
	}

	var chunks []string
	remaining := runes
	for len(remaining) > 0 {
		if len(remaining) <= maxLen {
			chunks = append(chunks, string(remaining))
			break
		}

		cut := lastNewline(remaining[:maxLen])
		if cut <= 0 {
			cut = maxLen
		}

		chunks = append(chunks, string(remaining[:cut]))
		remaining = trimLeadingNewlines(remaining[cut:])
	}

	return chunks
}

func lastNewline(window []rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == '\n' {
			return i
		}
	}

	return -1
}

func trimLeadingNewlines(runes []rune) []rune {
	for len(runes) > 0 && runes[0] == '\n' {
		runes = runes[1:]
	}

	return runes
}
