package search

import (
	"strings"
	"unicode/utf8"
)

// MaxContextChars caps the combined snippet text handed to the model.
const MaxContextChars = 1500

// SnippetSet is an ordered list of short text excerpts from one lookup.
type SnippetSet struct {
	Snippets []string `json:"snippets"`
}

func (s SnippetSet) Empty() bool {
	return len(s.Snippets) == 0
}

// Text joins the snippets with newlines and truncates to MaxContextChars.
func (s SnippetSet) Text() string {
	joined := strings.Join(s.Snippets, "\n")
	if utf8.RuneCountInString(joined) <= MaxContextChars {
		return joined
	}
	return string([]rune(joined)[:MaxContextChars])
}

func (s *SnippetSet) add(text string) {
	text = strings.TrimSpace(text)
	if text != "" {
		s.Snippets = append(s.Snippets, text)
	}
}
