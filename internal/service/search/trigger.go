package search

import (
	"strings"
	"unicode/utf8"
)

// TriggerRule decides whether a user turn is worth a web lookup.
type TriggerRule struct {
	Keywords    []string
	MinLength   int
	QuerySuffix string
}

// DefaultTrigger fires for diet and health topics longer than ten characters.
var DefaultTrigger = TriggerRule{
	Keywords: []string{
		"diet", "nutrition", "calories", "protein", "vitamins",
		"weight loss", "weight gain", "muscle", "diabetes", "pcos",
		"thyroid", "fever", "skin", "acne", "glowing", "hair",
		"food", "recipe", "meal", "breakfast", "lunch", "dinner",
	},
	MinLength:   10,
	QuerySuffix: " nutrition benefits foods",
}

// Query returns the search query for text and whether a search should run.
func (r TriggerRule) Query(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) <= r.MinLength {
		return "", false
	}
	lowered := strings.ToLower(trimmed)
	for _, keyword := range r.Keywords {
		if strings.Contains(lowered, keyword) {
			return trimmed + r.QuerySuffix, true
		}
	}
	return "", false
}

// ShouldSearch applies DefaultTrigger.
func ShouldSearch(text string) (string, bool) {
	return DefaultTrigger.Query(text)
}
