package router

import (
	"context"
	"fmt"

	"handoff/internal/auth"
	"handoff/internal/chat"
	"handoff/internal/hub"
)

func (r *Router) adminAuth(ctx context.Context, c *conn, ev inbound) {
	id, err := r.authenticateAdmin(ctx, ev.Token)
	if err != nil {
		r.reject(c, ev.Type, "", err)
		return
	}
	c.setIdentity(id, id.Name)
	r.addAdmin(c)
	c.log.Info("admin authenticated", "subject", id.Subject)

	c.emit(AuthenticatedEvent{Type: "authenticated", Role: string(auth.RoleAdmin), Name: id.Name})
	c.emit(ChatListEvent{Type: "chat_list", Chats: r.hub.ListRooms(chat.RoomFilter{})})
}

func (r *Router) authenticateAdmin(ctx context.Context, token string) (auth.Identity, error) {
	id, err := r.auth.Authenticate(ctx, token)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("admin authentication failed: %w", err)
	}
	if id.Role != auth.RoleAdmin {
		return auth.Identity{}, fmt.Errorf("role %s is not admin: %w", id.Role, chat.ErrUnauthorized)
	}
	return id, nil
}

// requireAdmin accepts an authenticated admin connection, or a valid admin
// token carried on the event itself.
func (r *Router) requireAdmin(next handlerFunc) handlerFunc {
	return func(ctx context.Context, c *conn, ev inbound) {
		if id, ok := c.authenticated(); !ok || id.Role != auth.RoleAdmin {
			if _, err := r.authenticateAdmin(ctx, ev.Token); err != nil {
				r.reject(c, ev.Type, ev.RoomID, err)
				return
			}
		}
		next(ctx, c, ev)
	}
}

func (r *Router) adminListChats(_ context.Context, c *conn, ev inbound) {
	status, ok := chat.ParseRoomStatus(ev.Status)
	if !ok {
		r.reject(c, ev.Type, "", fmt.Errorf("status %q: %w", ev.Status, chat.ErrInvalidInput))
		return
	}
	rooms := r.hub.ListRooms(chat.RoomFilter{Status: status, Query: ev.Query})
	c.emit(ChatListEvent{Type: "chat_list", Chats: rooms})
}

func (r *Router) adminTranscript(_ context.Context, c *conn, ev inbound) {
	t, err := r.hub.Transcript(ev.RoomID)
	if err != nil {
		r.reject(c, ev.Type, ev.RoomID, err)
		return
	}
	c.emit(TranscriptEvent{Type: "chat_transcript", Transcript: t})
}

func (r *Router) adminDownload(_ context.Context, c *conn, ev inbound) {
	format := hub.ExportFormat(ev.Format)
	data, err := r.hub.Export(ev.RoomID, format)
	if err != nil {
		r.reject(c, ev.Type, ev.RoomID, err)
		return
	}
	c.emit(DownloadEvent{
		Type:     "transcript_download",
		RoomID:   ev.RoomID,
		Filename: hub.ExportFilename(ev.RoomID, format),
		Content:  string(data),
	})
}

func (r *Router) adminDelete(ctx context.Context, c *conn, ev inbound) {
	if err := r.deleteRoom(ctx, ev.RoomID); err != nil {
		r.reject(c, ev.Type, ev.RoomID, err)
		return
	}
	// Connections that authenticated with a per-event token are not in the
	// admin broadcast set, so they get their own confirmation.
	if !r.isAdmin(c) {
		c.emit(RoomEvent{Type: "chat_deleted", RoomID: ev.RoomID})
	}
}

func (r *Router) isAdmin(c *conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.admins[c]
	return ok
}

// deleteRoom removes a room for good and tells whoever was still in it.
func (r *Router) deleteRoom(ctx context.Context, roomID string) error {
	if err := r.hub.DeleteRoom(ctx, roomID); err != nil {
		return err
	}
	r.typing.Clear(roomID)
	ended := ChatEndedEvent{Type: "chat_ended", RoomID: roomID, Reason: "deleted"}

	r.mu.Lock()
	visitor, agent := r.visitors[roomID], r.assigned[roomID]
	delete(r.visitors, roomID)
	delete(r.assigned, roomID)
	r.mu.Unlock()

	if visitor != nil {
		visitor.unbind(roomID)
		visitor.emit(ended)
	}
	if agent != nil {
		agent.unbind(roomID)
		agent.emit(ended)
	}
	logger(ctx).Info("room deleted by admin", "room", roomID)
	return nil
}
