package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MrWong99/serene/internal/resilience"
)

func TestClient_SendPostsRecord(t *testing.T) {
	var (
		gotPath, gotEmail, gotKey, gotType string
		gotBody                            map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotEmail = r.Header.Get("X-User-Email")
		gotKey = r.Header.Get("Idempotency-Key")
		gotType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{BaseURL: srv.URL + "/", ServiceEmail: "bot@serene.local"})
	require.NoError(t, err)

	err = c.Send(context.Background(), Record{
		ConversationID: "s1",
		Sender:         "serene_bot",
		Recipient:      "student@example.edu",
		Text:           "hello there",
		Key:            "key-1",
	})
	require.NoError(t, err)

	require.Equal(t, "/chat/send", gotPath)
	require.Equal(t, "bot@serene.local", gotEmail)
	require.Equal(t, "key-1", gotKey)
	require.Equal(t, "application/json", gotType)
	require.Equal(t, map[string]string{
		"conversationId": "s1",
		"sender":         "serene_bot",
		"recipient":      "student@example.edu",
		"text":           "hello there",
	}, gotBody)
}

func TestClient_OmitsOptionalHeaders(t *testing.T) {
	var hadEmail, hadKey atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, e := r.Header["X-User-Email"]
		_, k := r.Header["Idempotency-Key"]
		hadEmail.Store(e)
		hadKey.Store(k)
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{BaseURL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, c.Send(context.Background(), Record{ConversationID: "s1", Text: "x"}))
	require.False(t, hadEmail.Load())
	require.False(t, hadKey.Load())
}

func TestClient_StatusErrors(t *testing.T) {
	tests := []struct {
		code      int
		retryable bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
		{http.StatusRequestTimeout, true},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.code)
			}))
			defer srv.Close()

			c, err := NewClient(ClientConfig{BaseURL: srv.URL})
			require.NoError(t, err)

			err = c.Send(context.Background(), Record{ConversationID: "s1"})
			var se *StatusError
			require.ErrorAs(t, err, &se)
			require.Equal(t, tt.code, se.Code)
			require.Equal(t, "nope", se.Body)
			require.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	require.False(t, IsRetryable(nil))
	require.False(t, IsRetryable(context.Canceled))
	require.True(t, IsRetryable(context.DeadlineExceeded))
	require.True(t, IsRetryable(errors.New("connection refused")))
	require.True(t, IsRetryable(resilience.ErrCircuitOpen))
}

func TestClient_TimeoutPerAttempt(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewClient(ClientConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	err = c.Send(context.Background(), Record{ConversationID: "s1"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, IsRetryable(err))
}

func TestClient_BreakerOpensOnRetryableFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	for range 5 {
		_ = c.Send(context.Background(), Record{ConversationID: "s1"})
	}
	require.False(t, c.Healthy())

	err = c.Send(context.Background(), Record{ConversationID: "s1"})
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	require.Equal(t, int32(5), calls.Load())
}

func TestClient_BreakerIgnoresClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	for range 10 {
		_ = c.Send(context.Background(), Record{ConversationID: "s1"})
	}
	require.True(t, c.Healthy())
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(ClientConfig{BaseURL: "  "})
	require.Error(t, err)
}
