package service

import (
	"strings"
	"unicode"

	"github.com/florianilch/notion-clipper/internal/clipping"
)

const maxSummary = 300

// LeadSummary returns the leading sentences of text that fit in a short
// summary, or a prefix of the first sentence when it alone is too long.
func LeadSummary(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return ""
	}

	var b strings.Builder
	rest := text
	for rest != "" {
		end := sentenceEnd(rest)
		sentence := strings.TrimSpace(rest[:end])
		rest = rest[end:]

		if b.Len() > 0 && len([]rune(b.String()))+1+len([]rune(sentence)) > maxSummary {
			break
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(sentence)
	}

	return clipping.Truncate(b.String(), maxSummary)
}

// sentenceEnd returns the byte offset just past the first sentence
// terminator that is followed by whitespace, or len(s).
func sentenceEnd(s string) int {
	runes := []rune(s)
	offset := 0
	for i, r := range runes {
		offset += len(string(r))
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
			return offset
		}
	}
	return len(s)
}
