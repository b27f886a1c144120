// Package policy holds the per-session turn policy: a two-state machine that
// tracks how many consecutive assistant replies ended in a question, and the
// prompt templates used in each state.
//
// The state machine is pure. It never calls the oracle and never touches a
// session; the chat service feeds it the reply text and stores the result.
//
//	Normal{n}           + reply ending in "?"  -> Normal{n+1}, or
//	                                              ForcedSuggestion{n+1} once n+1 >= budget
//	Normal{n}           + any other reply      -> Normal{n}
//	ForcedSuggestion{n} + any reply            -> Normal{0}
package policy

import "strings"

// DefaultQuestionBudget is the number of question-ending replies after which
// the next turn is served in forced-suggestion mode.
const DefaultQuestionBudget = 3

// Kind is the mode that governs the next reply of a session.
type Kind int

const (
	// Normal replies use the persona prompt with the full conversation.
	Normal Kind = iota

	// ForcedSuggestion replies use the advice-only prompt built from the
	// latest message alone.
	ForcedSuggestion
)

// String returns the wire name of the mode.
func (k Kind) String() string {
	switch k {
	case Normal:
		return "normal"
	case ForcedSuggestion:
		return "forced_suggestion"
	default:
		return "unknown"
	}
}

// State is the tagged turn-policy state of one session. The zero value is
// Normal{0}.
type State struct {
	Kind      Kind
	Questions int
}

// Initial returns the state of a fresh session.
func Initial() State { return State{Kind: Normal} }

// StateFor derives the state for a question counter under budget.
func StateFor(questions, budget int) State {
	if questions < 0 {
		questions = 0
	}
	if questions >= budget {
		return State{Kind: ForcedSuggestion, Questions: questions}
	}
	return State{Kind: Normal, Questions: questions}
}

// Advance returns the state that follows s once reply has been produced in
// mode s.Kind.
func Advance(s State, reply string, budget int) State {
	if s.Kind == ForcedSuggestion {
		return Initial()
	}
	if !EndsWithQuestion(reply) {
		return s
	}
	return StateFor(s.Questions+1, budget)
}

// EndsWithQuestion reports whether the trimmed reply ends with a question
// mark.
func EndsWithQuestion(reply string) bool {
	return strings.HasSuffix(strings.TrimSpace(reply), "?")
}
