package responder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"handoff/internal/chat"
)

func TestSimulatedEchoes(t *testing.T) {
	reply, err := Simulated{}.Respond(context.Background(), Request{Text: "hello"})
	require.NoError(t, err)
	require.Equal(t, "This is a simulated response to: hello", reply)
}

func TestBoundedReturnsFallbackOnTimeout(t *testing.T) {
	slow := Func(func(ctx context.Context, _ Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	b := Bounded{Next: slow, Timeout: 20 * time.Millisecond, Fallback: "Sorry, please try again."}

	start := time.Now()
	reply, err := b.Respond(context.Background(), Request{RoomID: "r1", Text: "hi"})
	require.ErrorIs(t, err, chat.ErrResponderTimeout)
	require.Equal(t, "Sorry, please try again.", reply)
	require.Less(t, time.Since(start), time.Second)
}

func TestBoundedDoesNotWaitForStuckResponder(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stuck := Func(func(context.Context, Request) (string, error) {
		<-release
		return "too late", nil
	})
	b := Bounded{Next: stuck, Timeout: 20 * time.Millisecond}

	reply, err := b.Respond(context.Background(), Request{Text: "hi"})
	require.ErrorIs(t, err, chat.ErrResponderTimeout)
	require.Empty(t, reply)
}

func TestBoundedPassesThroughErrors(t *testing.T) {
	failing := Func(func(context.Context, Request) (string, error) {
		return "", errors.New("model offline")
	})
	b := Bounded{Next: failing, Timeout: time.Second, Fallback: "fallback"}

	reply, err := b.Respond(context.Background(), Request{Text: "hi"})
	require.Error(t, err)
	require.False(t, errors.Is(err, chat.ErrResponderTimeout))
	require.Equal(t, "fallback", reply)
}

func TestGuardInterceptsSensitiveTopics(t *testing.T) {
	var called atomic.Bool
	next := Func(func(context.Context, Request) (string, error) {
		called.Store(true)
		return "generated", nil
	})
	g := Guard{Next: next}

	reply, err := g.Respond(context.Background(), Request{Text: "What was last quarter's REVENUE?"})
	require.NoError(t, err)
	require.Equal(t, SensitiveReply, reply)
	require.False(t, called.Load())

	reply, err = g.Respond(context.Background(), Request{Text: "What are your opening hours?"})
	require.NoError(t, err)
	require.Equal(t, "generated", reply)
}

func TestDetectSensitiveCategory(t *testing.T) {
	cat, ok := DetectSensitive("I think my account was hacked")
	require.True(t, ok)
	require.Equal(t, "Security & Data Breach", cat)

	_, ok = DetectSensitive("hello there")
	require.False(t, ok)
}

func TestOllamaRespondsAndCaches(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, "/api/generate", r.URL.Path)
		var body struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
			Stream bool   `json:"stream"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "llama3.2", body.Model)
		require.False(t, body.Stream)
		require.True(t, strings.HasSuffix(body.Prompt, "Assistant:"))
		_ = json.NewEncoder(w).Encode(map[string]string{"response": "  We open at 9am.  "})
	}))
	defer srv.Close()

	o := NewOllama(srv.URL+"/", "llama3.2", time.Minute)
	req := Request{Text: "When do you open?", History: []chat.Message{{Sender: chat.SenderVisitor, Body: "When do you open?"}}}

	reply, err := o.Respond(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "We open at 9am.", reply)

	reply, err = o.Respond(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "We open at 9am.", reply)
	require.Equal(t, int32(1), calls.Load())
}

func TestOllamaEvictsExpiredReplies(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{"response": "ok"})
	}))
	defer srv.Close()

	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	o := NewOllama(srv.URL, "llama3.2", time.Minute)
	o.now = func() time.Time { return now }
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		_, err := o.Respond(ctx, Request{Text: text})
		require.NoError(t, err)
	}
	require.Equal(t, 3, o.cached())

	now = now.Add(2 * time.Minute)
	_, err := o.Respond(ctx, Request{Text: "four"})
	require.NoError(t, err)
	require.Equal(t, 1, o.cached(), "expired replies are dropped on the next write")

	_, err = o.Respond(ctx, Request{Text: "four"})
	require.NoError(t, err)
	require.Equal(t, int32(4), calls.Load())
}

func TestOllamaSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllama(srv.URL, "missing", time.Minute).Respond(context.Background(), Request{Text: "hi"})
	require.Error(t, err)
}

func TestBuildPromptKeepsRecentWindow(t *testing.T) {
	var history []chat.Message
	for i := 0; i < 15; i++ {
		history = append(history, chat.Message{Sender: chat.SenderVisitor, Body: "old"})
	}
	history = append(history, chat.Message{Sender: chat.SenderSystem, Body: "Human agent requested"})
	history = append(history, chat.Message{Sender: chat.SenderVisitor, Body: "latest"})

	prompt := buildPrompt(Request{Text: "latest", History: history})
	require.NotContains(t, prompt, "Human agent requested")
	require.Equal(t, 1, strings.Count(prompt, "Customer: latest"))
	require.Equal(t, historyWindow-2, strings.Count(prompt, "Customer: old"))
}
