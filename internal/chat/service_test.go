package chat

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/serene/internal/config"
	"github.com/MrWong99/serene/internal/incident"
	"github.com/MrWong99/serene/internal/policy"
	"github.com/MrWong99/serene/internal/relay"
	"github.com/MrWong99/serene/internal/session"
	"github.com/MrWong99/serene/pkg/provider/llm"
	"github.com/MrWong99/serene/pkg/provider/llm/mock"
)

// recordingSink captures forwarded records.
type recordingSink struct {
	mu   sync.Mutex
	recs []relay.Record
	err  error
}

func (r *recordingSink) Enqueue(rec relay.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.recs = append(r.recs, rec)
	return nil
}

func (r *recordingSink) Records() []relay.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]relay.Record(nil), r.recs...)
}

// hookStore is an incident store that hands every Record call to record.
type hookStore struct {
	record func(context.Context, incident.Incident) error
}

func (h *hookStore) Record(ctx context.Context, inc incident.Incident) error {
	return h.record(ctx, inc)
}

func (h *hookStore) Recent(context.Context, int) ([]incident.Incident, error) { return nil, nil }
func (h *hookStore) Ping(context.Context) error { return nil }
func (h *hookStore) Close() error { return nil }

type fixture struct {
	svc       *Service
	oracle    *mock.Provider
	sessions  *session.Store
	sink      *recordingSink
	incidents *incident.MemoryStore
}

// scripted returns a CompleteFunc that answers with replies in order and
// repeats the last one once exhausted.
func scripted(replies ...string) func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var (
		mu sync.Mutex
		i  int
	)
	return func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		mu.Lock()
		defer mu.Unlock()
		r := replies[min(i, len(replies)-1)]
		i++
		return &llm.CompletionResponse{Content: r}, nil
	}
}

func newFixture(t *testing.T, oracle *mock.Provider) *fixture {
	t.Helper()
	cfg := config.Default()
	f := &fixture{
		oracle:    oracle,
		sessions:  session.NewStore(session.StoreConfig{}),
		sink:      &recordingSink{},
		incidents: incident.NewMemoryStore(10),
	}
	svc, err := New(Config{
		Chat:      cfg.Chat,
		Safety:    cfg.Safety,
		Sessions:  f.sessions,
		Oracle:    oracle,
		Relay:     f.sink,
		Incidents: f.incidents,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.svc = svc
	return f
}

func (f *fixture) snapshot(t *testing.T, id string) session.Snapshot {
	t.Helper()
	snap, ok := f.sessions.Snapshot(id)
	if !ok {
		t.Fatalf("session %q not found", id)
	}
	return snap
}

func lastPrompt(t *testing.T, p *mock.Provider) string {
	t.Helper()
	calls := p.Calls()
	if len(calls) == 0 {
		t.Fatal("oracle was never called")
	}
	msgs := calls[len(calls)-1].Req.Messages
	if len(msgs) != 1 || msgs[0].Role != llm.RoleUser {
		t.Fatalf("request messages = %+v, want one user message", msgs)
	}
	return msgs[0].Content
}

func TestHandle_StatementKeepsCounter(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "That sounds tough. Try a short walk."},
	})

	reply, err := f.svc.Handle(context.Background(), Turn{SessionID: "s1", Message: "I'm stressed about exams"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if reply.Mode != ModeNormal {
		t.Errorf("Mode = %q, want %q", reply.Mode, ModeNormal)
	}
	if reply.Text != "That sounds tough. Try a short walk." {
		t.Errorf("Text = %q", reply.Text)
	}

	snap := f.snapshot(t, "s1")
	if snap.State.Questions != 0 {
		t.Errorf("Questions = %d, want 0", snap.State.Questions)
	}
	want := []policy.Message{
		{Role: policy.RoleUser, Text: "I'm stressed about exams"},
		{Role: policy.RoleAssistant, Text: "That sounds tough. Try a short walk."},
	}
	if len(snap.Messages) != len(want) {
		t.Fatalf("Messages = %+v, want %+v", snap.Messages, want)
	}
	for i := range want {
		if snap.Messages[i] != want[i] {
			t.Errorf("Messages[%d] = %+v, want %+v", i, snap.Messages[i], want[i])
		}
	}

	req := f.oracle.Calls()[0].Req
	if req.Temperature != 0.6 || req.MaxTokens != 300 {
		t.Errorf("request tuning = (%v, %d), want (0.6, 300)", req.Temperature, req.MaxTokens)
	}
	prompt := lastPrompt(t, f.oracle)
	if !strings.HasPrefix(prompt, policy.DefaultPersona) {
		t.Error("normal prompt does not start with the persona")
	}
	if !strings.HasSuffix(prompt, "Conversation so far: []\nUser: \"I'm stressed about exams\"\nFriend:") {
		t.Errorf("normal prompt tail = %q", prompt[len(policy.DefaultPersona):])
	}
}

func TestHandle_QuestionBudgetForcesSuggestion(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &mock.Provider{CompleteFunc: scripted(
		"What's been on your mind?",
		"How long has that been going on?",
		"Have you talked to anyone about it?",
		"Try writing three worries down tonight, then close the notebook.",
	)})
	ctx := context.Background()

	for i, want := range []int{1, 2, 3} {
		reply, err := f.svc.Handle(ctx, Turn{SessionID: "s1", Message: "hm"})
		if err != nil {
			t.Fatalf("turn %d: %v", i+1, err)
		}
		if reply.Mode != ModeNormal {
			t.Errorf("turn %d: Mode = %q, want normal", i+1, reply.Mode)
		}
		if got := f.snapshot(t, "s1").State.Questions; got != want {
			t.Errorf("turn %d: Questions = %d, want %d", i+1, got, want)
		}
	}

	reply, err := f.svc.Handle(ctx, Turn{SessionID: "s1", Message: "I don't know what to do"})
	if err != nil {
		t.Fatalf("turn 4: %v", err)
	}
	if reply.Mode != ModeForcedSuggestion {
		t.Errorf("turn 4: Mode = %q, want forced_suggestion", reply.Mode)
	}
	prompt := lastPrompt(t, f.oracle)
	if !strings.HasPrefix(prompt, "The user has already answered 3 questions.") {
		t.Errorf("forced prompt = %q", prompt)
	}
	if strings.Contains(prompt, "Conversation so far") {
		t.Error("forced prompt must not carry the history")
	}
	if !strings.HasSuffix(prompt, "User: \"I don't know what to do\"") {
		t.Errorf("forced prompt tail = %q", prompt)
	}

	snap := f.snapshot(t, "s1")
	if snap.State.Kind != policy.Normal || snap.State.Questions != 0 {
		t.Errorf("state after forced turn = %+v, want Normal{0}", snap.State)
	}
	if len(snap.Messages) != 8 {
		t.Errorf("len(Messages) = %d, want 8", len(snap.Messages))
	}
}

func TestHandle_Escalation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &mock.Provider{CompleteFunc: scripted("Why is that?")})
	ctx := context.Background()

	// One question first so the counter is non-zero.
	if _, err := f.svc.Handle(ctx, Turn{SessionID: "s1", Message: "bad day"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	f.oracle.Reset()

	reply, err := f.svc.Handle(ctx, Turn{
		SessionID:   "s1",
		Message:     "I want to kill myself",
		Participant: "student@example.edu",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if reply.Mode != ModeEscalation {
		t.Errorf("Mode = %q, want escalation", reply.Mode)
	}
	if !strings.Contains(reply.Text, "141116") {
		t.Errorf("crisis reply %q lacks the helpline", reply.Text)
	}
	if n := len(f.oracle.Calls()); n != 0 {
		t.Errorf("oracle called %d times during escalation", n)
	}

	snap := f.snapshot(t, "s1")
	if len(snap.Messages) != 4 {
		t.Fatalf("len(Messages) = %d, want 4", len(snap.Messages))
	}
	if snap.Messages[2].Text != "I want to kill myself" || snap.Messages[3].Text != reply.Text {
		t.Errorf("escalation entries = %+v", snap.Messages[2:])
	}
	if snap.State.Questions != 1 {
		t.Errorf("Questions = %d, want 1 (unchanged)", snap.State.Questions)
	}

	incs, err := f.incidents.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(incs) != 1 {
		t.Fatalf("len(incidents) = %d, want 1", len(incs))
	}
	if incs[0].SessionID != "s1" || incs[0].Participant != "student@example.edu" || incs[0].Phrase != "kill myself" {
		t.Errorf("incident = %+v", incs[0])
	}

	recs := f.sink.Records()
	last := recs[len(recs)-1]
	if last.Text != reply.Text || last.Recipient != "student@example.edu" {
		t.Errorf("forwarded record = %+v", last)
	}
}

func TestHandle_EscalationBeatsForcedMode(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &mock.Provider{CompleteFunc: scripted("Really?")})
	ctx := context.Background()
	for range 3 {
		if _, err := f.svc.Handle(ctx, Turn{SessionID: "s1", Message: "meh"}); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}
	calls := len(f.oracle.Calls())

	reply, err := f.svc.Handle(ctx, Turn{SessionID: "s1", Message: "i keep thinking about suicide"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if reply.Mode != ModeEscalation {
		t.Errorf("Mode = %q, want escalation", reply.Mode)
	}
	if got := len(f.oracle.Calls()); got != calls {
		t.Errorf("oracle calls = %d, want %d", got, calls)
	}
	if got := f.snapshot(t, "s1").State.Questions; got != 3 {
		t.Errorf("Questions = %d, want 3", got)
	}
}

func TestHandle_OracleFailureCommitsNothing(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		oracle *mock.Provider
	}{
		{"error", &mock.Provider{CompleteErr: errors.New("upstream 503")}},
		{"nil response", &mock.Provider{}},
		{"blank content", &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "  \n"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, tt.oracle)

			_, err := f.svc.Handle(context.Background(), Turn{SessionID: "s1", Message: "hello"})
			if !errors.Is(err, ErrOracle) {
				t.Fatalf("err = %v, want ErrOracle", err)
			}
			snap := f.snapshot(t, "s1")
			if len(snap.Messages) != 0 {
				t.Errorf("Messages = %+v, want none", snap.Messages)
			}
			if len(f.sink.Records()) != 0 {
				t.Error("failed turn was forwarded")
			}
		})
	}
}

func TestHandle_OracleTimeout(t *testing.T) {
	t.Parallel()
	oracle := &mock.Provider{
		CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	f := newFixture(t, oracle)
	chat := config.Default().Chat
	chat.OracleTimeout = 20 * time.Millisecond
	f.svc.ApplyChat(chat)

	_, err := f.svc.Handle(context.Background(), Turn{SessionID: "s1", Message: "hello"})
	if !errors.Is(err, ErrOracle) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want ErrOracle wrapping DeadlineExceeded", err)
	}
}

func TestHandle_Validation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		message string
		want    error
	}{
		{"empty", "", ErrEmptyMessage},
		{"blank", " \t\n", ErrEmptyMessage},
		{"too long", strings.Repeat("a", 4001), ErrMessageTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, &mock.Provider{CompleteFunc: scripted("ok")})
			_, err := f.svc.Handle(context.Background(), Turn{SessionID: "s1", Message: tt.message})
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if f.sessions.Len() != 0 {
				t.Error("rejected message created a session")
			}
			if len(f.oracle.Calls()) != 0 {
				t.Error("rejected message reached the oracle")
			}
		})
	}
}

func TestHandle_MessageAtLimitAccepted(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &mock.Provider{CompleteFunc: scripted("ok")})
	// 4000 runes, more than 4000 bytes.
	msg := strings.Repeat("ü", 4000)
	if _, err := f.svc.Handle(context.Background(), Turn{SessionID: "s1", Message: msg}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
}

func TestHandle_DefaultSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &mock.Provider{CompleteFunc: scripted("ok")})

	reply, err := f.svc.Handle(context.Background(), Turn{Message: "hi"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if reply.SessionID != "default" {
		t.Errorf("SessionID = %q, want default", reply.SessionID)
	}
	if _, ok := f.sessions.Snapshot("default"); !ok {
		t.Error("default session not created")
	}
}

func TestHandle_ForwardsReply(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &mock.Provider{CompleteFunc: scripted("Take a breath.")})

	if _, err := f.svc.Handle(context.Background(), Turn{SessionID: "s1", Message: "hi", Participant: "a@b.c"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if _, err := f.svc.Handle(context.Background(), Turn{SessionID: "s2", Message: "hi"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	recs := f.sink.Records()
	if len(recs) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(recs))
	}
	want := relay.Record{ConversationID: "s1", Sender: "serene_bot", Recipient: "a@b.c", Text: "Take a breath."}
	if recs[0] != want {
		t.Errorf("records[0] = %+v, want %+v", recs[0], want)
	}
	if recs[1].Recipient != "s2" {
		t.Errorf("records[1].Recipient = %q, want the session id", recs[1].Recipient)
	}
}

func TestHandle_ForwardFailureIgnored(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &mock.Provider{CompleteFunc: scripted("ok")})
	f.sink.err = relay.ErrQueueFull

	reply, err := f.svc.Handle(context.Background(), Turn{SessionID: "s1", Message: "hi"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if reply.Text != "ok" {
		t.Errorf("Text = %q", reply.Text)
	}
}

func TestHandle_SameSessionSerialised(t *testing.T) {
	t.Parallel()
	var (
		mu       sync.Mutex
		inFlight int
		overlap  bool
	)
	oracle := &mock.Provider{
		CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
			mu.Lock()
			inFlight++
			if inFlight > 1 {
				overlap = true
			}
			mu.Unlock()

			time.Sleep(2 * time.Millisecond)

			mu.Lock()
			inFlight--
			mu.Unlock()
			return &llm.CompletionResponse{Content: "Tell me more?"}, nil
		},
	}
	f := newFixture(t, oracle)

	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			if _, err := f.svc.Handle(context.Background(), Turn{SessionID: "s1", Message: "hey"}); err != nil {
				t.Errorf("Handle: %v", err)
			}
		})
	}
	wg.Wait()

	if overlap {
		t.Error("turns on one session overlapped")
	}
	snap := f.snapshot(t, "s1")
	if len(snap.Messages) != 20 {
		t.Errorf("len(Messages) = %d, want 20", len(snap.Messages))
	}
	for i, m := range snap.Messages {
		wantRole := policy.RoleUser
		if i%2 == 1 {
			wantRole = policy.RoleAssistant
		}
		if m.Role != wantRole {
			t.Fatalf("Messages[%d].Role = %q, want %q", i, m.Role, wantRole)
		}
	}
}

func TestHandle_CancelledWhileWaiting(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &mock.Provider{CompleteFunc: scripted("ok")})

	_, release, err := f.sessions.Acquire(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.svc.Handle(ctx, Turn{SessionID: "s1", Message: "hi"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestApplyChat_ChangesBudget(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &mock.Provider{CompleteFunc: scripted("Why?")})
	chat := config.Default().Chat
	chat.QuestionBudget = 1
	chat.ApologyReply = "oops"
	f.svc.ApplyChat(chat)

	ctx := context.Background()
	if _, err := f.svc.Handle(ctx, Turn{SessionID: "s1", Message: "a"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	reply, err := f.svc.Handle(ctx, Turn{SessionID: "s1", Message: "b"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if reply.Mode != ModeForcedSuggestion {
		t.Errorf("Mode = %q, want forced_suggestion", reply.Mode)
	}
	if !strings.HasPrefix(lastPrompt(t, f.oracle), "The user has already answered 1 questions.") {
		t.Errorf("forced prompt does not carry the new budget")
	}
	if f.svc.ApologyReply() != "oops" {
		t.Errorf("ApologyReply = %q", f.svc.ApologyReply())
	}
}

func TestApplySafety(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &mock.Provider{CompleteFunc: scripted("ok")})
	ctx := context.Background()

	reply, err := f.svc.Handle(ctx, Turn{SessionID: "s1", Message: "I feel hopeless tonight"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if reply.Mode != ModeNormal {
		t.Fatalf("Mode = %q before reload, want normal", reply.Mode)
	}

	safetyCfg := config.Default().Safety
	safetyCfg.ExtraPhrases = []string{"feel hopeless"}
	safetyCfg.HelplineNumber = "988"
	if err := f.svc.ApplySafety(safetyCfg); err != nil {
		t.Fatalf("ApplySafety: %v", err)
	}

	reply, err = f.svc.Handle(ctx, Turn{SessionID: "s1", Message: "I feel hopeless tonight"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if reply.Mode != ModeEscalation || !strings.Contains(reply.Text, "988") {
		t.Errorf("reply after reload = %+v", reply)
	}

	bad := config.Default().Safety
	bad.CrisisReply = "no number here"
	if err := f.svc.ApplySafety(bad); err == nil {
		t.Fatal("ApplySafety accepted a reply without the helpline")
	}
	reply, _ = f.svc.Handle(ctx, Turn{SessionID: "s1", Message: "I feel hopeless tonight"})
	if !strings.Contains(reply.Text, "988") {
		t.Error("failed reload replaced the active detector")
	}
}

func TestEscalation_IncidentOutlivesRequest(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	sessions := session.NewStore(session.StoreConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		called      bool
		recordErr   error
		hasDeadline bool
		unlocked    bool
	)
	store := &hookStore{record: func(rctx context.Context, inc incident.Incident) error {
		called = true
		cancel()
		recordErr = rctx.Err()
		_, hasDeadline = rctx.Deadline()

		actx, acancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer acancel()
		if _, release, err := sessions.Acquire(actx, inc.SessionID); err == nil {
			release()
			unlocked = true
		}
		return errors.New("disk full")
	}}
	svc, err := New(Config{
		Chat:      cfg.Chat,
		Safety:    cfg.Safety,
		Sessions:  sessions,
		Oracle:    &mock.Provider{},
		Relay:     &recordingSink{},
		Incidents: store,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	reply, err := svc.Handle(ctx, Turn{SessionID: "s1", Message: "I want to die"})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if reply.Mode != ModeEscalation {
		t.Fatalf("Mode = %q, want escalation", reply.Mode)
	}
	if !called {
		t.Fatal("incident was not recorded")
	}
	if recordErr != nil {
		t.Errorf("record context ended with the request: %v", recordErr)
	}
	if !hasDeadline {
		t.Error("record context has no deadline")
	}
	if !unlocked {
		t.Error("session was still locked while the incident was recorded")
	}
}

func TestEscalation_MatchAndReplyFromSameDetector(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &mock.Provider{CompleteFunc: scripted("ok")})

	withPhrase := config.Default().Safety
	withPhrase.ExtraPhrases = []string{"no way out"}
	withPhrase.HelplineNumber = "988"
	without := config.Default().Safety

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Go(func() {
		for i := 0; ctx.Err() == nil; i++ {
			next := without
			if i%2 == 0 {
				next = withPhrase
			}
			if err := f.svc.ApplySafety(next); err != nil {
				t.Errorf("ApplySafety: %v", err)
				return
			}
		}
	})

	for i := range 200 {
		reply, err := f.svc.Handle(context.Background(), Turn{
			SessionID: "s" + strconv.Itoa(i),
			Message:   "there is no way out",
		})
		if err != nil {
			t.Errorf("Handle: %v", err)
			break
		}
		if reply.Mode == ModeEscalation && !strings.Contains(reply.Text, "988") {
			t.Errorf("turn %d: escalation reply %q comes from a detector without the phrase", i, reply.Text)
			break
		}
	}
	cancel()
	wg.Wait()
}

func TestHandle_ClaimsSessionForParticipant(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &mock.Provider{CompleteFunc: scripted("ok")})
	ctx := context.Background()

	for _, turn := range []Turn{
		{SessionID: "s1", Message: "hi", Participant: "alice@example.edu"},
		{SessionID: "s1", Message: "hi again", Participant: "bob@example.edu"},
		{SessionID: "s2", Message: "anonymous"},
	} {
		if _, err := f.svc.Handle(ctx, turn); err != nil {
			t.Fatalf("Handle(%+v): %v", turn, err)
		}
	}

	if owner := f.snapshot(t, "s1").Owner; owner != "alice@example.edu" {
		t.Errorf("s1 owner = %q, want alice@example.edu", owner)
	}
	if owner := f.snapshot(t, "s2").Owner; owner != "" {
		t.Errorf("s2 owner = %q, want none", owner)
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Oracle: &mock.Provider{}}); err == nil {
		t.Error("New without sessions succeeded")
	}
	if _, err := New(Config{Sessions: session.NewStore(session.StoreConfig{})}); err == nil {
		t.Error("New without oracle succeeded")
	}
}
