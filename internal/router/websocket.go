package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"handoff/internal/chat"
)

type loggerKey struct{}

func withLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

func logger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

type handlerFunc func(ctx context.Context, c *conn, ev inbound)

func (r *Router) handleWebSocket(role connRole) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ws, err := websocket.Accept(w, req, &websocket.AcceptOptions{
			OriginPatterns: r.opts.AllowedOrigins,
		})
		if err != nil {
			slog.Error("websocket accept error", "error", err)
			return
		}
		defer ws.Close(websocket.StatusNormalClosure, "")

		c := newConn(ws, role)
		ctx, cancel := context.WithCancel(withLogger(req.Context(), c.log))
		defer cancel()

		if !r.register(c) {
			c.log.Info("refusing connection during shutdown")
			return
		}
		go c.writeLoop(ctx)

		handlers := r.handlersFor(role)
		for {
			_, data, err := ws.Read(ctx)
			if err != nil {
				if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
					websocket.CloseStatus(err) == websocket.StatusGoingAway {
					c.log.Info("client disconnected")
				} else {
					c.log.Info("client disconnected", "error", err)
				}
				break
			}

			var ev inbound
			if err := json.Unmarshal(data, &ev); err != nil {
				c.log.Warn("invalid json", "error", err)
				r.reject(c, "", "", fmt.Errorf("invalid json: %w", chat.ErrInvalidInput))
				continue
			}
			h, ok := handlers[ev.Type]
			if !ok {
				r.reject(c, ev.Type, ev.RoomID, fmt.Errorf("unknown event %q: %w", ev.Type, chat.ErrInvalidInput))
				continue
			}
			h(ctx, c, ev)
		}

		// The connection context is gone; cleanup still has to reach the
		// store and the other participants.
		r.disconnect(context.WithoutCancel(ctx), c)
	}
}

func (r *Router) handlersFor(role connRole) map[string]handlerFunc {
	switch role {
	case roleVisitor:
		return map[string]handlerFunc{
			"join_room":        r.visitorJoin,
			"message":          r.visitorMessage,
			"typing":           r.visitorTyping,
			"request_human":    r.visitorRequestHuman,
			"cancel_request":   r.visitorCancelRequest,
			"get_chat_history": r.visitorHistory,
		}
	case roleAgent:
		return map[string]handlerFunc{
			"agent_auth":           r.agentAuth,
			"get_pending_requests": r.requireAgent(r.agentPending),
			"join_room_agent":      r.requireAgent(r.agentJoin),
			"leave_room":           r.requireAgent(r.agentLeave),
			"message":              r.requireAgent(r.agentMessage),
			"typing":               r.requireAgent(r.agentTyping),
			"get_chat_history":     r.requireAgent(r.agentHistory),
			"end_chat":             r.requireAgent(r.agentEndChat),
		}
	case roleAdmin:
		return map[string]handlerFunc{
			"admin_auth":          r.adminAuth,
			"list_chats":          r.requireAdmin(r.adminListChats),
			"get_transcript":      r.requireAdmin(r.adminTranscript),
			"download_transcript": r.requireAdmin(r.adminDownload),
			"delete_chat":         r.requireAdmin(r.adminDelete),
		}
	}
	return nil
}

func (r *Router) disconnect(ctx context.Context, c *conn) {
	switch c.role {
	case roleVisitor:
		r.visitorGone(ctx, c)
	case roleAgent:
		r.agentGone(ctx, c)
	}
	r.unregister(c)
}

// allow applies the per-connection message rate limit.
func (r *Router) allow(c *conn, roomID string) bool {
	if r.limiter.Allow(c.id) {
		return true
	}
	r.reject(c, "message", roomID, fmt.Errorf("too many messages: %w", chat.ErrRateLimited))
	return false
}
