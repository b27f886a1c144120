// Package chat runs one conversational turn end to end: session lookup,
// crisis screening, prompt selection, the oracle call, state update and the
// hand-off to the storage relay.
//
// A turn holds its session for its whole duration, so two messages on the
// same session id are answered strictly one after the other. The crisis
// check runs first on every message and always bypasses the oracle.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/serene/internal/config"
	"github.com/MrWong99/serene/internal/incident"
	"github.com/MrWong99/serene/internal/observe"
	"github.com/MrWong99/serene/internal/policy"
	"github.com/MrWong99/serene/internal/relay"
	"github.com/MrWong99/serene/internal/safety"
	"github.com/MrWong99/serene/internal/session"
	"github.com/MrWong99/serene/pkg/provider/llm"
)

var (
	// ErrEmptyMessage is returned for a blank inbound message.
	ErrEmptyMessage = errors.New("chat: message is empty")

	// ErrMessageTooLong is returned when a message exceeds the configured
	// character limit.
	ErrMessageTooLong = errors.New("chat: message too long")

	// ErrOracle wraps every failure of the completion call. The turn is not
	// committed.
	ErrOracle = errors.New("chat: oracle failed")
)

// Mode names the path that produced a reply.
type Mode string

const (
	ModeNormal           Mode = "normal"
	ModeForcedSuggestion Mode = "forced_suggestion"
	ModeEscalation       Mode = "escalation"
)

// incidentTimeout bounds the audit-log write of one escalation.
const incidentTimeout = 5 * time.Second

func modeOf(k policy.Kind) Mode {
	if k == policy.ForcedSuggestion {
		return ModeForcedSuggestion
	}
	return ModeNormal
}

// Turn is one inbound message.
type Turn struct {
	// SessionID selects the conversation. Empty selects the configured
	// default session.
	SessionID string

	// Message is the user's text.
	Message string

	// Participant identifies the human on the other side, used as the
	// recipient of forwarded replies. Empty falls back to SessionID.
	Participant string
}

// Reply is the outcome of a successful turn.
type Reply struct {
	SessionID string
	Text      string
	Mode      Mode
}

// settings is the hot-reloadable part of the service configuration.
type settings struct {
	prompter        *policy.Prompter
	budget          int
	temperature     float64
	maxOutputTokens int
	maxMessageChars int
	oracleTimeout   time.Duration
	defaultSession  string
	botIdentity     string
	apology         string
}

func newSettings(cfg config.ChatConfig) *settings {
	budget := cfg.QuestionBudget
	if budget <= 0 {
		budget = policy.DefaultQuestionBudget
	}
	s := &settings{
		prompter:        policy.NewPrompter(cfg.Persona, cfg.ForcedDirective, budget),
		budget:          budget,
		temperature:     cfg.Temperature,
		maxOutputTokens: cfg.MaxOutputTokens,
		maxMessageChars: cfg.MaxMessageChars,
		oracleTimeout:   cfg.OracleTimeout,
		defaultSession:  cfg.DefaultSessionID,
		botIdentity:     cfg.BotIdentity,
		apology:         cfg.ApologyReply,
	}
	if s.defaultSession == "" {
		s.defaultSession = "default"
	}
	return s
}

// Config wires a [Service].
type Config struct {
	Chat   config.ChatConfig
	Safety config.SafetyConfig

	Sessions  *session.Store
	Oracle    llm.Provider
	Relay     relay.Sink
	Incidents incident.Store
	Metrics   *observe.Metrics
}

// Service handles chat turns.
//
// All methods are safe for concurrent use.
type Service struct {
	sessions  *session.Store
	oracle    llm.Provider
	relay     relay.Sink
	incidents incident.Store
	metrics   *observe.Metrics

	settings atomic.Pointer[settings]
	detector atomic.Pointer[safety.Detector]
}

// New returns a [Service]. Sessions and Oracle are required; a nil Relay
// discards forwarded replies and nil Incidents keeps an in-memory log.
func New(cfg Config) (*Service, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("chat: session store is required")
	}
	if cfg.Oracle == nil {
		return nil, errors.New("chat: oracle is required")
	}
	s := &Service{
		sessions:  cfg.Sessions,
		oracle:    cfg.Oracle,
		relay:     cfg.Relay,
		incidents: cfg.Incidents,
		metrics:   cfg.Metrics,
	}
	if s.relay == nil {
		s.relay = relay.Discard{}
	}
	if s.incidents == nil {
		s.incidents = incident.NewMemoryStore(0)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.ApplyChat(cfg.Chat)
	if err := s.ApplySafety(cfg.Safety); err != nil {
		return nil, err
	}
	return s, nil
}

// ApplyChat swaps in new chat tuning. Turns already in flight finish with
// the previous values.
func (s *Service) ApplyChat(cfg config.ChatConfig) {
	s.settings.Store(newSettings(cfg))
}

// ApplySafety rebuilds the crisis detector. On error the current detector
// stays active.
func (s *Service) ApplySafety(cfg config.SafetyConfig) error {
	d, err := safety.New(cfg)
	if err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	s.detector.Store(d)
	return nil
}

// DefaultSessionID returns the session id used for turns that carry none.
func (s *Service) DefaultSessionID() string { return s.settings.Load().defaultSession }

// ApologyReply returns the text shown to the user when a turn fails.
func (s *Service) ApologyReply() string { return s.settings.Load().apology }

// Handle runs one turn.
//
// Validation errors ([ErrEmptyMessage], [ErrMessageTooLong]) are returned
// before any side effect. An oracle failure returns an error wrapping
// [ErrOracle] and leaves the session untouched, so the client may resubmit
// the same message.
func (s *Service) Handle(ctx context.Context, turn Turn) (Reply, error) {
	cfg := s.settings.Load()

	if strings.TrimSpace(turn.Message) == "" {
		return Reply{}, ErrEmptyMessage
	}
	if cfg.maxMessageChars > 0 && utf8.RuneCountInString(turn.Message) > cfg.maxMessageChars {
		return Reply{}, fmt.Errorf("%w: more than %d characters", ErrMessageTooLong, cfg.maxMessageChars)
	}
	if turn.SessionID == "" {
		turn.SessionID = cfg.defaultSession
	}
	owner := turn.Participant
	if turn.Participant == "" {
		turn.Participant = turn.SessionID
	}

	ctx = observe.WithSession(ctx, turn.SessionID)
	ctx, span := observe.StartSpan(ctx, "chat.turn")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", turn.SessionID))

	sess, release, err := s.sessions.Acquire(ctx, turn.SessionID)
	if err != nil {
		return Reply{}, fmt.Errorf("chat: acquire session: %w", err)
	}
	defer release()
	sess.Claim(owner)

	detector := s.detector.Load()
	if phrase, ok := detector.Match(turn.Message); ok {
		reply := s.escalate(ctx, cfg, sess, turn, detector.CrisisReply())
		release()
		s.recordIncident(ctx, incident.New(turn.SessionID, turn.Participant, phrase))
		observe.Logger(ctx).Warn("chat: crisis language detected, oracle bypassed", "phrase", phrase)
		return reply, nil
	}

	state := policy.StateFor(sess.State().Questions, cfg.budget)
	mode := modeOf(state.Kind)
	span.SetAttributes(attribute.String("chat.mode", string(mode)))

	prompt, err := cfg.prompter.Prompt(state.Kind, sess.Messages(), turn.Message)
	if err != nil {
		return Reply{}, fmt.Errorf("chat: build prompt: %w", err)
	}

	text, err := s.complete(ctx, cfg, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "oracle failed")
		observe.Logger(ctx).Warn("chat: oracle call failed",
			"mode", mode,
			"err", err,
		)
		return Reply{}, err
	}

	next := policy.Advance(state, text, cfg.budget)
	sess.Commit(turn.Message, text, next)
	s.metrics.RecordTurn(ctx, string(mode))
	s.forward(ctx, cfg, turn, text)

	observe.Logger(ctx).Debug("chat: turn complete",
		"mode", mode,
		"questions", next.Questions,
	)
	return Reply{SessionID: turn.SessionID, Text: text, Mode: mode}, nil
}

// escalate answers a crisis-flagged message with the fixed crisis reply.
// The oracle is never called and the policy state is left as it was.
func (s *Service) escalate(ctx context.Context, cfg *settings, sess *session.Session, turn Turn, reply string) Reply {
	sess.Commit(turn.Message, reply, sess.State())

	s.metrics.RecordEscalation(ctx)
	s.metrics.RecordTurn(ctx, string(ModeEscalation))
	s.forward(ctx, cfg, turn, reply)
	return Reply{SessionID: turn.SessionID, Text: reply, Mode: ModeEscalation}
}

// recordIncident writes inc to the audit log. It runs after the session is
// released and outlives a cancelled request.
func (s *Service) recordIncident(ctx context.Context, inc incident.Incident) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), incidentTimeout)
	defer cancel()
	if err := s.incidents.Record(ctx, inc); err != nil {
		observe.Logger(ctx).Warn("chat: record incident", "err", err)
	}
}

// complete calls the oracle under the configured timeout.
func (s *Service) complete(ctx context.Context, cfg *settings, prompt string) (string, error) {
	if cfg.oracleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.oracleTimeout)
		defer cancel()
	}

	resp, err := s.oracle.Complete(ctx, llm.CompletionRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: cfg.temperature,
		MaxTokens:   cfg.maxOutputTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrOracle, err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("%w: empty completion", ErrOracle)
	}
	return resp.Content, nil
}

// forward hands the assistant reply to the storage relay. Failures are
// logged and never reach the caller.
func (s *Service) forward(ctx context.Context, cfg *settings, turn Turn, text string) {
	err := s.relay.Enqueue(relay.Record{
		ConversationID: turn.SessionID,
		Sender:         cfg.botIdentity,
		Recipient:      turn.Participant,
		Text:           text,
	})
	if err != nil {
		observe.Logger(ctx).Warn("chat: storage forward not queued", "err", err)
	}
}
