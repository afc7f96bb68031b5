// Package classify sorts assistant replies into the shapes the client
// renders differently: full plans, batches of questions, and everything else.
package classify

import "strings"

type Kind string

const (
	KindPlan          Kind = "plan"
	KindQuestionBatch Kind = "question_batch"
	KindFreeform      Kind = "freeform"
)

// Rule matches when every AllOf marker and, if any are listed, at least one
// AnyOf marker occur in the lowercased reply.
type Rule struct {
	Name  string
	Kind  Kind
	AllOf []string
	AnyOf []string
}

// Rules are evaluated in order; the first match wins.
var Rules = []Rule{
	{Name: "three-meals", Kind: KindPlan, AllOf: []string{"breakfast", "lunch", "dinner"}},
	{Name: "plan-heading", Kind: KindPlan, AnyOf: []string{"meal plan", "diet plan:"}},
	{Name: "numbered-questions", Kind: KindQuestionBatch, AllOf: []string{"?"}, AnyOf: []string{"1.", "1)", "please", "need to know"}},
}

// Matches reports whether the rule fires for already lowercased text.
func (r Rule) Matches(lowered string) bool {
	for _, marker := range r.AllOf {
		if !strings.Contains(lowered, marker) {
			return false
		}
	}
	if len(r.AnyOf) == 0 {
		return true
	}
	for _, marker := range r.AnyOf {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

// Match returns the first rule that fires for text.
func Match(text string) (Rule, bool) {
	lowered := strings.ToLower(text)
	for _, rule := range Rules {
		if rule.Matches(lowered) {
			return rule, true
		}
	}
	return Rule{}, false
}

// Classify is deterministic and side-effect free.
func Classify(text string) Kind {
	if rule, ok := Match(text); ok {
		return rule.Kind
	}
	return KindFreeform
}
