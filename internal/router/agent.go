package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"handoff/internal/auth"
	"handoff/internal/chat"
	"handoff/internal/hub"
)

func (r *Router) agentAuth(ctx context.Context, c *conn, ev inbound) {
	id, err := r.auth.Authenticate(ctx, ev.Token)
	if err != nil {
		r.reject(c, ev.Type, "", fmt.Errorf("agent authentication failed: %w", err))
		return
	}
	if !id.Allows(auth.RoleAgent) {
		r.reject(c, ev.Type, "", fmt.Errorf("role %s may not act as agent: %w", id.Role, chat.ErrUnauthorized))
		return
	}
	name := strings.TrimSpace(ev.AgentName)
	if name == "" {
		name = id.Name
	}
	c.setIdentity(id, name)
	r.addAgent(c)
	c.log.Info("agent authenticated", "subject", id.Subject, "name", name)

	c.emit(AuthenticatedEvent{Type: "authenticated", Role: string(auth.RoleAgent), Name: name})
	c.emit(PendingRequestsEvent{Type: "pending_requests", Requests: r.hub.ListPending(chat.RequestFilter{})})
}

func (r *Router) requireAgent(next handlerFunc) handlerFunc {
	return func(ctx context.Context, c *conn, ev inbound) {
		if id, ok := c.authenticated(); !ok || !id.Allows(auth.RoleAgent) {
			r.reject(c, ev.Type, ev.RoomID, fmt.Errorf("send agent_auth first: %w", chat.ErrUnauthorized))
			return
		}
		next(ctx, c, ev)
	}
}

func (r *Router) agentPending(_ context.Context, c *conn, ev inbound) {
	filter := chat.RequestFilter{Query: ev.Query}
	if ev.Priority != "" {
		p, ok := chat.ParsePriority(ev.Priority)
		if !ok {
			r.reject(c, ev.Type, "", fmt.Errorf("priority %q: %w", ev.Priority, chat.ErrInvalidInput))
			return
		}
		filter.Priority = p
	}
	c.emit(PendingRequestsEvent{Type: "pending_requests", Requests: r.hub.ListPending(filter)})
}

// holding reports the room the agent still actually serves, clearing a
// binding the hub no longer agrees with (e.g. an admin deleted the room).
func (r *Router) holding(c *conn) string {
	roomID := c.room()
	if roomID == "" {
		return ""
	}
	room, err := r.hub.GetRoom(roomID)
	if err == nil && room.Status == chat.StatusHumanServed && room.AgentID == c.agentID() {
		return roomID
	}
	c.unbind(roomID)
	r.dropAssigned(roomID, c)
	return ""
}

func (r *Router) agentJoin(ctx context.Context, c *conn, ev inbound) {
	if held := r.holding(c); held != "" {
		r.reject(c, ev.Type, ev.RoomID, fmt.Errorf("leave %s before claiming another room: %w", held, chat.ErrAgentBusy))
		return
	}
	if name := strings.TrimSpace(ev.AgentName); name != "" && c.displayName() == "" {
		id, _ := c.authenticated()
		c.setIdentity(id, name)
	}
	agent := c.agent()

	room, err := r.hub.Claim(ctx, ev.RoomID, agent)
	if err != nil {
		r.metrics.Claims.WithLabelValues(chat.Code(err)).Inc()
		r.reject(c, ev.Type, ev.RoomID, err)
		return
	}
	r.metrics.Claims.WithLabelValues("success").Inc()
	c.bind(room.ID)
	r.setAssigned(room.ID, c)
	c.log.Info("agent joined room", "room", room.ID)

	c.emit(RoomEvent{Type: "room_joined", RoomID: room.ID})
	r.toAgents(RoomEvent{Type: "request_canceled", RoomID: room.ID}, c)
	r.toAgents(AgentEvent{Type: "request_taken", RoomID: room.ID, AgentName: agent.Name}, c)
	if v := r.visitorOf(room.ID); v != nil {
		v.emit(AgentEvent{Type: "human_joined", RoomID: room.ID, AgentName: agent.Name})
	}
	r.system(ctx, room.ID, "%s joined the chat", agent.Name)
	r.sendHistory(c, ev.Type, room.ID)
}

// assignedRoom checks that the event targets the room this agent holds.
func (r *Router) assignedRoom(c *conn, ev inbound) (string, error) {
	held := c.room()
	if held == "" || (ev.RoomID != "" && ev.RoomID != held) {
		return "", fmt.Errorf("%s: %w", ev.RoomID, chat.ErrNotAssigned)
	}
	return held, nil
}

// agentLeave gives the room back to the queue so another agent can take it.
func (r *Router) agentLeave(ctx context.Context, c *conn, ev inbound) {
	roomID, err := r.assignedRoom(c, ev)
	if err != nil {
		r.reject(c, ev.Type, ev.RoomID, err)
		return
	}
	if err := r.release(ctx, c, roomID, "%s left the chat"); err != nil {
		r.reject(c, ev.Type, roomID, err)
		return
	}
	c.emit(RoomEvent{Type: "room_left", RoomID: roomID})
}

func (r *Router) release(ctx context.Context, c *conn, roomID, notice string) error {
	agent := c.agent()
	_, err := r.hub.Release(ctx, roomID, agent.ID)
	c.unbind(roomID)
	r.dropAssigned(roomID, c)
	if err != nil {
		return err
	}
	r.metrics.Releases.Inc()
	if r.typing.Set(roomID, chat.SenderAgent, false) {
		r.typingToCounterpart(roomID, chat.SenderAgent, false)
	}
	if v := r.visitorOf(roomID); v != nil {
		v.emit(AgentEvent{Type: "human_left", RoomID: roomID, AgentName: agent.Name})
	}
	r.system(ctx, roomID, notice, agent.Name)
	return nil
}

func (r *Router) agentMessage(ctx context.Context, c *conn, ev inbound) {
	roomID := ev.RoomID
	if roomID == "" {
		roomID = c.room()
	}
	if !r.allow(c, roomID) {
		return
	}
	agent := c.agent()
	msg, _, err := r.hub.Append(ctx, hub.Post{
		RoomID: roomID,
		Sender: chat.SenderAgent,
		Body:   ev.Message,
		Agent:  &agent,
	})
	if err != nil {
		r.reject(c, ev.Type, roomID, err)
		return
	}
	r.metrics.Messages.WithLabelValues(string(chat.SenderAgent)).Inc()
	if r.typing.Set(roomID, chat.SenderAgent, false) {
		r.typingToCounterpart(roomID, chat.SenderAgent, false)
	}
	if v := r.visitorOf(roomID); v != nil {
		v.emit(MessageEvent{Type: "message", Message: msg})
	}
}

func (r *Router) agentTyping(_ context.Context, c *conn, ev inbound) {
	roomID, err := r.assignedRoom(c, ev)
	if err != nil {
		r.reject(c, ev.Type, ev.RoomID, err)
		return
	}
	if r.typing.Set(roomID, chat.SenderAgent, ev.IsTyping) {
		r.typingToCounterpart(roomID, chat.SenderAgent, ev.IsTyping)
	}
}

// agentHistory lets an agent read any room, so a request can be reviewed
// before it is claimed.
func (r *Router) agentHistory(_ context.Context, c *conn, ev inbound) {
	r.sendHistory(c, ev.Type, ev.RoomID)
}

func (r *Router) agentEndChat(ctx context.Context, c *conn, ev inbound) {
	roomID, err := r.assignedRoom(c, ev)
	if err != nil {
		r.reject(c, ev.Type, ev.RoomID, err)
		return
	}
	agent := c.agent()
	room, err := r.hub.GetRoom(roomID)
	if err != nil {
		r.reject(c, ev.Type, roomID, err)
		return
	}
	if room.Status != chat.StatusHumanServed || room.AgentID != agent.ID {
		r.reject(c, ev.Type, roomID, fmt.Errorf("%s: %w", roomID, chat.ErrNotAssigned))
		return
	}

	r.system(ctx, roomID, "Chat ended by %s", agent.Name)
	if _, err := r.hub.CloseRoom(ctx, roomID); err != nil {
		r.reject(c, ev.Type, roomID, err)
		return
	}
	r.metrics.RoomsClosed.Inc()
	r.typing.Clear(roomID)
	c.unbind(roomID)
	r.dropAssigned(roomID, c)
	c.log.Info("chat ended", "room", roomID)

	ended := ChatEndedEvent{Type: "chat_ended", RoomID: roomID, AgentName: agent.Name, Reason: "ended_by_agent"}
	c.emit(ended)
	if v := r.visitorOf(roomID); v != nil {
		v.emit(ended)
	}
}

// agentGone releases a claimed room automatically so the visitor goes back
// to the queue without having to ask again.
func (r *Router) agentGone(ctx context.Context, c *conn) {
	roomID := c.room()
	if roomID == "" {
		return
	}
	if err := r.release(ctx, c, roomID, "%s disconnected"); err != nil {
		if !errors.Is(err, chat.ErrNotAssigned) && !errors.Is(err, chat.ErrNotFound) {
			c.log.Error("failed to release room on disconnect", "room", roomID, "error", err)
		}
		return
	}
	c.log.Info("released room of disconnected agent", "room", roomID)
}
