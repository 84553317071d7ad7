// Package notify sends out-of-band alerts when a visitor asks for a human,
// so staff who are not watching the agent console still hear about it.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"handoff/internal/chat"
)

type Notifier interface {
	HumanRequested(ctx context.Context, req chat.PendingRequest) error
}

// Log writes the alert to the structured log.
type Log struct{}

func (Log) HumanRequested(_ context.Context, req chat.PendingRequest) error {
	slog.Info("new support request",
		"room", req.RoomID,
		"user", req.VisitorName,
		"email", req.VisitorEmail,
		"issue", req.Issue,
		"priority", req.Priority,
	)
	return nil
}

// Multi fans an alert out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) HumanRequested(ctx context.Context, req chat.PendingRequest) error {
	var errs []error
	for _, n := range m {
		if err := n.HumanRequested(ctx, req); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatcher delivers alerts in the background with a per-alert timeout,
// keeping the request path free of notifier latency.
type Dispatcher struct {
	n       Notifier
	timeout time.Duration
}

func NewDispatcher(n Notifier, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{n: n, timeout: timeout}
}

// Send returns immediately; the returned channel is closed once delivery
// finished, which tests use to wait for it.
func (d *Dispatcher) Send(req chat.PendingRequest) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.n.HumanRequested(ctx, req); err != nil {
			slog.Error("failed to send human request alert", "room", req.RoomID, "error", err)
		}
	}()
	return done
}
