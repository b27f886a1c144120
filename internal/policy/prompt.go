package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Roles recorded in a conversation log.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a conversation log. The JSON shape is part of the
// normal-mode prompt and of the history endpoint.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// DefaultPersona is the style preamble of every normal-mode prompt.
const DefaultPersona = `You are a warm, supportive CBT-inspired friend.
Guidelines:
- Sound like a caring, close friend texting back: casual, empathetic, human.
- Write naturally in 1-3 short sentences. No lists, no reports, no formal tone.
- Use CBT gently: reframe negative thoughts, suggest small doable actions (walk, journaling, breaks).
- Ask at most 2-3 thoughtful questions early on to show interest, then shift to encouragement and advice.
- Avoid constant probing. Stressed people may not want to answer many questions.
- After 3 questions, stop asking and focus on gentle, practical suggestions, encouragement, or sharing coping tips.
- End replies with warmth and reassurance, so the user feels safe to return.
- If user says "thank you," respond kindly and close naturally.
- If user hints at serious harm or suicidal thoughts, encourage urgent real-life help in a compassionate way (e.g., "I care about you. Please talk to a trusted person right now or call a helpline. You don't have to go through this alone.").
- Subtly nudge towards real human connection when possible (e.g., "It might help to share this with a close friend or counselor too.").
- Goal: make the user feel heard, lighter, and encouraged to come back whenever they need a safe space.`

// defaultDirective is the advice-only instruction. %d is the question budget.
const defaultDirective = `The user has already answered %d questions.
Now, stop asking more.
Reply like a caring friend giving advice, NOT a therapist or report.
Keep it short and natural. Example style:
"Sounds like you're carrying a lot. Maybe try breaking things into small steps, like writing your thoughts down or taking a quick walk. Even a few deep breaths can help calm things. You're doing better than you think, and talking to someone you trust could really help too."`

// Prompter renders the prompt for each mode. A Prompter is immutable and
// safe for concurrent use.
type Prompter struct {
	persona   string
	directive string
}

// NewPrompter returns a Prompter. An empty persona or directive selects the
// built-in text; the built-in directive mentions budget.
func NewPrompter(persona, directive string, budget int) *Prompter {
	persona = strings.TrimSpace(persona)
	if persona == "" {
		persona = DefaultPersona
	}
	directive = strings.TrimSpace(directive)
	if directive == "" {
		directive = fmt.Sprintf(defaultDirective, budget)
	}
	return &Prompter{persona: persona, directive: directive}
}

// Prompt renders the prompt for mode k.
func (p *Prompter) Prompt(k Kind, history []Message, message string) (string, error) {
	if k == ForcedSuggestion {
		return p.ForcedPrompt(message), nil
	}
	return p.NormalPrompt(history, message)
}

// NormalPrompt renders the persona preamble, the full conversation so far as
// a JSON array, and the new user message.
func (p *Prompter) NormalPrompt(history []Message, message string) (string, error) {
	if history == nil {
		history = []Message{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(history); err != nil {
		return "", fmt.Errorf("policy: encode history: %w", err)
	}

	var b strings.Builder
	b.WriteString(p.persona)
	b.WriteString("\n\nConversation so far: ")
	b.Write(bytes.TrimRight(buf.Bytes(), "\n"))
	b.WriteString("\nUser: ")
	b.WriteString(quoted(message))
	b.WriteString("\nFriend:")
	return b.String(), nil
}

// ForcedPrompt renders the advice-only prompt. Only the latest message is
// included.
func (p *Prompter) ForcedPrompt(message string) string {
	return p.directive + "\n\nUser: " + quoted(message)
}

// quoted wraps message in double quotes verbatim. Line breaks and inner
// quotes reach the oracle as typed.
func quoted(message string) string {
	return `"` + message + `"`
}
