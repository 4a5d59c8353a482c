// Package splitter provides the default goal decomposition strategy:
// a goal is cut on common Chinese/English separators into an ordered
// list of sub-goals, capped so one verbose goal cannot flood the
// queue. Real deployments swap in an LLM-backed splitter behind the
// same interface.
package splitter

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Separator splits goals on a fixed set of separator substrings.
type Separator struct {
	Separators []string
	MaxSteps   int
}

// NewSeparator returns a splitter with the default separator set and
// a five-step cap.
func NewSeparator() *Separator {
	return &Separator{
		Separators: []string{"。", "；", ";", "，", ",", "then", "and", "->"},
		MaxSteps:   5,
	}
}

// Split cuts the goal on every separator, trims the pieces and drops
// fragments too short to mean anything. An empty result is returned
// for blank input; the queue treats that as a failure and enqueues
// the goal whole.
func (s *Separator) Split(_ context.Context, goal string) ([]string, error) {
	if strings.TrimSpace(goal) == "" {
		return nil, nil
	}

	parts := []string{goal}
	for _, sep := range s.Separators {
		var next []string
		for _, part := range parts {
			next = append(next, strings.Split(part, sep)...)
		}
		parts = next
	}

	var steps []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || !meaningful(p) {
			continue
		}
		steps = append(steps, p)
	}

	if s.MaxSteps > 0 && len(steps) > s.MaxSteps {
		steps = steps[:s.MaxSteps]
	}
	return steps, nil
}

// meaningful drops fragments left behind by separator splitting.
func meaningful(s string) bool {
	if strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}) >= 0 {
		return true
	}
	return utf8.RuneCountInString(s) >= 2
}
