package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"handoff/internal/chat"
	"handoff/internal/hub"
	"handoff/internal/responder"
)

// visitorJoin opens a new room, or resumes an existing one when the event
// names a room that is still open.
func (r *Router) visitorJoin(ctx context.Context, c *conn, ev inbound) {
	if c.room() != "" {
		r.reject(c, ev.Type, c.room(), fmt.Errorf("connection already joined a room: %w", chat.ErrInvalidInput))
		return
	}
	if ev.RoomID != "" {
		r.visitorResume(ctx, c, ev)
		return
	}

	room, err := r.hub.CreateRoom(ctx, ev.UserName, ev.UserEmail)
	if err != nil {
		r.reject(c, ev.Type, "", err)
		return
	}
	c.bind(room.ID)
	r.setVisitor(room.ID, c)
	r.metrics.RoomsCreated.Inc()
	c.log.Info("visitor joined", "room", room.ID, "user", room.VisitorName)

	c.emit(RoomEvent{Type: "room_created", RoomID: room.ID})
	r.toAdmins(ChatEvent{Type: "new_chat_room", Chat: room})
}

func (r *Router) visitorResume(ctx context.Context, c *conn, ev inbound) {
	room, err := r.hub.GetRoom(ev.RoomID)
	if err != nil {
		r.reject(c, ev.Type, ev.RoomID, err)
		return
	}
	if room.Status == chat.StatusClosed {
		r.reject(c, ev.Type, ev.RoomID, fmt.Errorf("%s: %w", ev.RoomID, chat.ErrRoomClosed))
		return
	}
	c.bind(room.ID)
	if prev := r.setVisitor(room.ID, c); prev != nil && prev != c {
		prev.unbind(room.ID)
	}
	if _, err := r.hub.SetActive(ctx, room.ID, true); err != nil {
		r.reject(c, ev.Type, room.ID, err)
		return
	}
	if err := r.hub.Touch(ctx, room.ID); err != nil {
		r.reject(c, ev.Type, room.ID, err)
		return
	}
	history, err := r.hub.History(room.ID, 0, 0)
	if err != nil {
		r.reject(c, ev.Type, room.ID, err)
		return
	}
	c.log.Info("visitor resumed", "room", room.ID, "status", room.Status)

	c.emit(RoomEvent{Type: "room_created", RoomID: room.ID})
	c.emit(HistoryEvent{Type: "chat_history", RoomID: room.ID, Messages: history})
	if room.Status == chat.StatusHumanServed {
		c.emit(AgentEvent{Type: "human_joined", RoomID: room.ID, AgentName: room.AgentName})
	}
}

// ownRoom resolves the room a visitor event refers to. Visitors may only
// act on the room their connection is bound to.
func (r *Router) ownRoom(c *conn, ev inbound) (string, error) {
	bound := c.room()
	if bound == "" {
		return "", fmt.Errorf("join a room first: %w", chat.ErrInvalidInput)
	}
	if ev.RoomID != "" && ev.RoomID != bound {
		return "", fmt.Errorf("%s is not this connection's room: %w", ev.RoomID, chat.ErrNotAssigned)
	}
	return bound, nil
}

func (r *Router) visitorMessage(ctx context.Context, c *conn, ev inbound) {
	roomID, err := r.ownRoom(c, ev)
	if err != nil {
		r.reject(c, ev.Type, ev.RoomID, err)
		return
	}
	if !r.allow(c, roomID) {
		return
	}

	msg, room, err := r.hub.Append(ctx, hub.Post{
		RoomID: roomID,
		Sender: chat.SenderVisitor,
		Body:   ev.Message,
	})
	if err != nil {
		r.reject(c, ev.Type, roomID, err)
		return
	}
	r.metrics.Messages.WithLabelValues(string(chat.SenderVisitor)).Inc()
	if r.typing.Set(roomID, chat.SenderVisitor, false) {
		r.typingToCounterpart(roomID, chat.SenderVisitor, false)
	}

	// The room snapshot comes from the same critical section as the append,
	// so exactly one of these branches sees the message.
	switch room.Status {
	case chat.StatusBotServed:
		r.startReply(ctx, c, msg)
	case chat.StatusHumanServed:
		if a := r.agentOf(roomID); a != nil {
			a.emit(MessageEvent{Type: "message", Message: msg})
		}
	}
}

// startReply hands msg to the automated responder in the background. It
// reports false when the room vanished after the append.
func (r *Router) startReply(ctx context.Context, c *conn, msg chat.Message) bool {
	history, err := r.hub.History(msg.RoomID, 0, 0)
	if err != nil {
		c.log.Info("skipping automated reply", "room", msg.RoomID, "error", err)
		return false
	}
	bg := context.WithoutCancel(ctx)
	r.wg.Go(func() { r.respond(bg, c, msg, history) })
	return true
}

// respond asks the automated responder for a reply and appends it, unless
// a human has taken the room over in the meantime.
func (r *Router) respond(ctx context.Context, c *conn, msg chat.Message, history []chat.Message) {
	start := time.Now()
	reply, err := r.responder.Respond(ctx, responder.Request{
		RoomID:  msg.RoomID,
		Text:    msg.Body,
		History: history,
	})
	outcome := "ok"
	switch {
	case errors.Is(err, chat.ErrResponderTimeout):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	case reply == responder.SensitiveReply:
		outcome = "sensitive"
	}
	r.metrics.ObserveResponder(outcome, start)

	log := logger(ctx)
	if err != nil {
		log.Warn("responder failed", "room", msg.RoomID, "error", err)
	}
	if strings.TrimSpace(reply) == "" {
		if err != nil {
			r.reject(c, "message", msg.RoomID, err)
		}
		return
	}

	out, _, appendErr := r.hub.Append(ctx, hub.Post{
		RoomID:        msg.RoomID,
		Sender:        chat.SenderResponder,
		Body:          reply,
		RequireStatus: chat.StatusBotServed,
	})
	if appendErr != nil {
		if errors.Is(appendErr, hub.ErrStatusChanged) || errors.Is(appendErr, chat.ErrNotFound) {
			log.Info("discarding automated reply", "room", msg.RoomID, "reason", appendErr)
			return
		}
		log.Error("failed to append automated reply", "room", msg.RoomID, "error", appendErr)
		return
	}
	r.metrics.Messages.WithLabelValues(string(chat.SenderResponder)).Inc()
	if v := r.visitorOf(msg.RoomID); v != nil {
		v.emit(MessageEvent{Type: "message", Message: out})
	}
}

func (r *Router) visitorTyping(_ context.Context, c *conn, ev inbound) {
	roomID, err := r.ownRoom(c, ev)
	if err != nil {
		r.reject(c, ev.Type, ev.RoomID, err)
		return
	}
	if r.typing.Set(roomID, chat.SenderVisitor, ev.IsTyping) {
		r.typingToCounterpart(roomID, chat.SenderVisitor, ev.IsTyping)
	}
}

// typingToCounterpart shows a typing signal to the other side of a
// human-served conversation. The sender never gets its own signal back.
func (r *Router) typingToCounterpart(roomID string, from chat.SenderRole, typing bool) {
	ev := TypingEvent{Type: "typing", RoomID: roomID, IsTyping: typing, Sender: from}
	switch hub.Counterpart(from) {
	case chat.SenderAgent:
		if a := r.agentOf(roomID); a != nil {
			a.emit(ev)
		}
	case chat.SenderVisitor:
		if v := r.visitorOf(roomID); v != nil {
			v.emit(ev)
		}
	}
}

func (r *Router) visitorRequestHuman(ctx context.Context, c *conn, ev inbound) {
	roomID, err := r.ownRoom(c, ev)
	if err != nil {
		r.reject(c, ev.Type, ev.RoomID, err)
		return
	}
	priority, ok := chat.ParsePriority(ev.Priority)
	if !ok {
		r.reject(c, ev.Type, roomID, fmt.Errorf("priority %q: %w", ev.Priority, chat.ErrInvalidInput))
		return
	}

	req, err := r.hub.Submit(ctx, roomID, ev.UserName, ev.UserEmail, ev.Issue, priority)
	if err != nil {
		r.reject(c, ev.Type, roomID, err)
		return
	}
	r.metrics.HumanRequests.Inc()
	c.emit(RoomEvent{Type: "human_requested", RoomID: roomID})
	r.system(ctx, roomID, "Human agent requested")
	r.notifier.Send(req)
}

// visitorCancelRequest withdraws the visitor's request and hands the room
// back to the automated responder.
func (r *Router) visitorCancelRequest(ctx context.Context, c *conn, ev inbound) {
	roomID, err := r.ownRoom(c, ev)
	if err != nil {
		r.reject(c, ev.Type, ev.RoomID, err)
		return
	}
	if _, err := r.hub.Cancel(ctx, roomID); err != nil {
		r.reject(c, ev.Type, roomID, err)
		return
	}
	if _, err := r.hub.ReturnToBot(ctx, roomID); err != nil {
		r.reject(c, ev.Type, roomID, err)
		return
	}
	c.emit(RoomEvent{Type: "request_canceled", RoomID: roomID})
	r.system(ctx, roomID, "Human agent request canceled")
}

func (r *Router) visitorHistory(_ context.Context, c *conn, ev inbound) {
	roomID, err := r.ownRoom(c, ev)
	if err != nil {
		r.reject(c, ev.Type, ev.RoomID, err)
		return
	}
	r.sendHistory(c, ev.Type, roomID)
}

func (r *Router) sendHistory(c *conn, request, roomID string) {
	history, err := r.hub.History(roomID, 0, 0)
	if err != nil {
		r.reject(c, request, roomID, err)
		return
	}
	c.emit(HistoryEvent{Type: "chat_history", RoomID: roomID, Messages: history})
}

// visitorGone withdraws any outstanding request and marks the room
// inactive. The room stays pending-human without a request until the
// visitor comes back or an admin acts on it.
func (r *Router) visitorGone(ctx context.Context, c *conn) {
	roomID := c.room()
	if roomID == "" {
		return
	}
	r.dropVisitor(roomID, c)
	if r.visitorOf(roomID) != nil {
		// a newer connection resumed the room
		return
	}
	if _, err := r.hub.Cancel(ctx, roomID); err != nil && !errors.Is(err, chat.ErrNotFound) {
		c.log.Error("failed to cancel request on disconnect", "room", roomID, "error", err)
	}
	if r.typing.Set(roomID, chat.SenderVisitor, false) {
		r.typingToCounterpart(roomID, chat.SenderVisitor, false)
	}
	if _, err := r.hub.SetActive(ctx, roomID, false); err != nil && !errors.Is(err, chat.ErrNotFound) {
		c.log.Error("failed to mark room inactive", "room", roomID, "error", err)
	}
}
