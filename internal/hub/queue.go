package hub

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"handoff/internal/chat"
)

const defaultIssue = "No issue specified"

// Submit files a human request for a room and moves it to pending-human.
// A room holds at most one outstanding request; a second submit fails with
// ErrAlreadyPending until the first is claimed or canceled.
func (h *Hub) Submit(ctx context.Context, roomID, visitorName, visitorEmail, issue string, priority chat.Priority) (chat.PendingRequest, error) {
	if priority == "" {
		priority = chat.PriorityMedium
	}
	issue = strings.TrimSpace(issue)
	if issue == "" {
		issue = defaultIssue
	}

	h.qmu.Lock()
	if _, dup := h.pending[roomID]; dup {
		h.qmu.Unlock()
		return chat.PendingRequest{}, fmt.Errorf("%s: %w", roomID, chat.ErrAlreadyPending)
	}
	e, err := h.lockRoom(roomID)
	if err != nil {
		h.qmu.Unlock()
		return chat.PendingRequest{}, err
	}
	switch e.room.Status {
	case chat.StatusClosed:
		err = fmt.Errorf("%s: %w", roomID, chat.ErrRoomClosed)
	case chat.StatusHumanServed:
		err = fmt.Errorf("%s is served by %s: %w", roomID, e.room.AgentName, chat.ErrAlreadyClaimed)
	}
	if err != nil {
		e.mu.Unlock()
		h.qmu.Unlock()
		return chat.PendingRequest{}, err
	}

	now := h.now()
	req := chat.PendingRequest{
		RoomID:       roomID,
		VisitorName:  firstNonEmpty(strings.TrimSpace(visitorName), e.room.VisitorName),
		VisitorEmail: firstNonEmpty(strings.TrimSpace(visitorEmail), e.room.VisitorEmail),
		Issue:        issue,
		Priority:     priority,
		RequestedAt:  now,
	}
	next := e.room
	next.Status = chat.StatusPendingHuman
	if now.After(next.LastActivity) {
		next.LastActivity = now
	}
	if err := h.saveRequest(ctx, req); err != nil {
		e.mu.Unlock()
		h.qmu.Unlock()
		return chat.PendingRequest{}, err
	}
	if err := h.saveRoom(ctx, next); err != nil {
		e.mu.Unlock()
		h.qmu.Unlock()
		return chat.PendingRequest{}, err
	}
	e.room = next
	h.pending[roomID] = req
	h.requests[roomID] = req
	e.mu.Unlock()
	h.qmu.Unlock()

	slog.Info("human requested", "room", roomID, "priority", priority)
	if h.listener != nil {
		h.listener.RequestSubmitted(req)
	}
	h.notifyRoom(next)
	return req, nil
}

// ListPending returns outstanding requests oldest first, ties by room id.
func (h *Hub) ListPending(filter chat.RequestFilter) []chat.PendingRequest {
	h.qmu.Lock()
	reqs := make([]chat.PendingRequest, 0, len(h.pending))
	for _, req := range h.pending {
		if filter.Match(req) {
			reqs = append(reqs, req)
		}
	}
	h.qmu.Unlock()

	sort.Slice(reqs, func(i, j int) bool {
		if !reqs[i].RequestedAt.Equal(reqs[j].RequestedAt) {
			return reqs[i].RequestedAt.Before(reqs[j].RequestedAt)
		}
		return reqs[i].RoomID < reqs[j].RoomID
	})
	return reqs
}

// Claim hands a pending room to agent. Exactly one of several concurrent
// claimers wins; the rest get ErrAlreadyClaimed.
func (h *Hub) Claim(ctx context.Context, roomID string, agent chat.Agent) (chat.Room, error) {
	if strings.TrimSpace(agent.ID) == "" {
		return chat.Room{}, fmt.Errorf("agent identity is required: %w", chat.ErrInvalidInput)
	}

	h.qmu.Lock()
	e, err := h.lockRoom(roomID)
	if err != nil {
		h.qmu.Unlock()
		return chat.Room{}, err
	}
	_, queued := h.pending[roomID]
	switch {
	case e.room.AgentID != "" && e.room.Status == chat.StatusHumanServed:
		err = fmt.Errorf("%s claimed by %s: %w", roomID, e.room.AgentName, chat.ErrAlreadyClaimed)
	case e.room.Status != chat.StatusPendingHuman:
		err = fmt.Errorf("%s is %s: %w", roomID, e.room.Status, chat.ErrAlreadyClaimed)
	case !queued:
		err = fmt.Errorf("no pending request for %s: %w", roomID, chat.ErrNotFound)
	}
	if err != nil {
		e.mu.Unlock()
		h.qmu.Unlock()
		return chat.Room{}, err
	}

	next := e.room
	next.Status = chat.StatusHumanServed
	next.AgentID = agent.ID
	next.AgentName = agent.Name
	if now := h.now(); now.After(next.LastActivity) {
		next.LastActivity = now
	}
	if err := h.saveRoom(ctx, next); err != nil {
		e.mu.Unlock()
		h.qmu.Unlock()
		return chat.Room{}, err
	}
	if err := h.deleteRequest(ctx, roomID); err != nil {
		slog.Error("failed to delete claimed request", "room", roomID, "error", err)
	}
	delete(h.pending, roomID)
	e.room = next
	e.mu.Unlock()
	h.qmu.Unlock()

	slog.Info("request claimed", "room", roomID, "agent", agent.Name)
	h.notifyRoom(next)
	return next, nil
}

// Cancel withdraws a pending request. The room status is left untouched;
// callers decide whether the room goes back to the bot.
func (h *Hub) Cancel(ctx context.Context, roomID string) (chat.PendingRequest, error) {
	h.qmu.Lock()
	req, ok := h.pending[roomID]
	if !ok {
		h.qmu.Unlock()
		return chat.PendingRequest{}, fmt.Errorf("no pending request for %s: %w", roomID, chat.ErrNotFound)
	}
	if err := h.deleteRequest(ctx, roomID); err != nil {
		h.qmu.Unlock()
		return chat.PendingRequest{}, err
	}
	delete(h.pending, roomID)
	h.qmu.Unlock()

	slog.Info("request canceled", "room", roomID)
	h.notifyCanceled(roomID)
	return req, nil
}

// ReturnToBot puts a pending-human room without an outstanding request back
// in the automated responder's hands.
func (h *Hub) ReturnToBot(ctx context.Context, roomID string) (chat.Room, error) {
	h.qmu.Lock()
	if _, ok := h.pending[roomID]; ok {
		h.qmu.Unlock()
		return chat.Room{}, fmt.Errorf("%s: %w", roomID, chat.ErrAlreadyPending)
	}
	e, err := h.lockRoom(roomID)
	if err != nil {
		h.qmu.Unlock()
		return chat.Room{}, err
	}
	if e.room.Status != chat.StatusPendingHuman {
		room := e.room
		e.mu.Unlock()
		h.qmu.Unlock()
		if room.Status == chat.StatusBotServed {
			return room, nil
		}
		return chat.Room{}, fmt.Errorf("%s is %s: %w", roomID, room.Status, chat.ErrInvalidInput)
	}
	next := e.room
	next.Status = chat.StatusBotServed
	if err := h.saveRoom(ctx, next); err != nil {
		e.mu.Unlock()
		h.qmu.Unlock()
		return chat.Room{}, err
	}
	e.room = next
	e.mu.Unlock()
	h.qmu.Unlock()

	h.notifyRoom(next)
	return next, nil
}

// Release takes a room away from its agent and puts it back in the queue
// with the request it was claimed from. It is used both for an explicit
// leave and for an agent whose connection dropped.
func (h *Hub) Release(ctx context.Context, roomID, agentID string) (chat.PendingRequest, error) {
	h.qmu.Lock()
	e, err := h.lockRoom(roomID)
	if err != nil {
		h.qmu.Unlock()
		return chat.PendingRequest{}, err
	}
	if e.room.Status != chat.StatusHumanServed || e.room.AgentID != agentID {
		e.mu.Unlock()
		h.qmu.Unlock()
		return chat.PendingRequest{}, fmt.Errorf("%s: %w", roomID, chat.ErrNotAssigned)
	}

	req, ok := h.requests[roomID]
	if !ok {
		req = chat.PendingRequest{
			RoomID:       roomID,
			VisitorName:  e.room.VisitorName,
			VisitorEmail: e.room.VisitorEmail,
			Issue:        defaultIssue,
			Priority:     chat.PriorityMedium,
			RequestedAt:  h.now(),
		}
	}
	next := e.room
	next.Status = chat.StatusPendingHuman
	next.AgentID = ""
	next.AgentName = ""
	if err := h.saveRequest(ctx, req); err != nil {
		e.mu.Unlock()
		h.qmu.Unlock()
		return chat.PendingRequest{}, err
	}
	if err := h.saveRoom(ctx, next); err != nil {
		e.mu.Unlock()
		h.qmu.Unlock()
		return chat.PendingRequest{}, err
	}
	e.room = next
	h.pending[roomID] = req
	h.requests[roomID] = req
	e.mu.Unlock()
	h.qmu.Unlock()

	slog.Info("room released", "room", roomID, "agent", agentID)
	if h.listener != nil {
		h.listener.RequestSubmitted(req)
	}
	h.notifyRoom(next)
	return req, nil
}

// PendingCount reports the queue length.
func (h *Hub) PendingCount() int {
	h.qmu.Lock()
	defer h.qmu.Unlock()
	return len(h.pending)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
