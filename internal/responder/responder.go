// Package responder provides the automated reply capability consulted while a
// room is bot-served.
package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"handoff/internal/chat"
)

// Request is what a responder sees: the visitor's message and the room's
// transcript so far.
type Request struct {
	RoomID  string
	Text    string
	History []chat.Message
}

type Responder interface {
	Respond(ctx context.Context, req Request) (string, error)
}

// Func adapts a plain function to Responder.
type Func func(ctx context.Context, req Request) (string, error)

func (f Func) Respond(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Simulated echoes the visitor. It is the default when no model is configured.
type Simulated struct{}

func (Simulated) Respond(_ context.Context, req Request) (string, error) {
	return fmt.Sprintf("This is a simulated response to: %s", req.Text), nil
}

// Bounded caps how long the wrapped responder may take. On timeout it
// returns Fallback (when set) together with chat.ErrResponderTimeout so the
// caller can both reply and record the failure.
type Bounded struct {
	Next     Responder
	Timeout  time.Duration
	Fallback string
}

func (b Bounded) Respond(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()

	type result struct {
		reply string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		reply, err := b.Next.Respond(ctx, req)
		done <- result{reply, err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) {
			return b.timedOut(req)
		}
		if res.err != nil {
			return b.Fallback, fmt.Errorf("responder: %w", res.err)
		}
		return res.reply, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return b.timedOut(req)
		}
		return "", ctx.Err()
	}
}

func (b Bounded) timedOut(req Request) (string, error) {
	slog.Warn("responder timed out", "room", req.RoomID, "timeout", b.Timeout)
	return b.Fallback, fmt.Errorf("after %s: %w", b.Timeout, chat.ErrResponderTimeout)
}
