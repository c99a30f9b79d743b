// Package sentence splits selected text into the sentences that are
// synthesized and played one at a time.
package sentence

import (
	"regexp"
	"strings"
)

// Terminators are the characters that end a sentence, in ASCII and
// full-width CJK forms.
const Terminators = ".!?。！？"

// A sentence is a run of non-terminators closed by one or more terminators.
// Unterminated text after the last terminator is dropped; text with no
// terminator at all is read whole.
var sentencePattern = regexp.MustCompile(`[^` + Terminators + `]+[` + Terminators + `]+`)

// Normalize trims the text and collapses every whitespace run to one space.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Split returns the ordered, non-empty sentences of text. Empty or
// whitespace-only input yields an empty slice.
func Split(text string) []string {
	normalized := Normalize(text)
	if normalized == "" {
		return []string{}
	}

	matches := sentencePattern.FindAllString(normalized, -1)
	if len(matches) == 0 {
		return []string{normalized}
	}

	sentences := make([]string, 0, len(matches))
	for _, m := range matches {
		if s := strings.TrimSpace(m); s != "" {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) == 0 {
		return []string{normalized}
	}
	return sentences
}
