package router

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"handoff/internal/auth"
	"handoff/internal/chat"
	"handoff/internal/hub"
)

// Handler returns the HTTP surface: the three websocket endpoints, the
// bearer-authenticated REST API, health, and optionally metrics and static
// files.
func (r *Router) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", r.handleHealth)
	mux.HandleFunc("/ws", r.handleWebSocket(roleVisitor))
	mux.HandleFunc("/agent", r.handleWebSocket(roleAgent))
	mux.HandleFunc("/admin", r.handleWebSocket(roleAdmin))

	mux.Handle("GET /api/rooms", r.withRole(auth.RoleAdmin, r.handleListRooms))
	mux.Handle("GET /api/rooms/{id}", r.withRole(auth.RoleAdmin, r.handleGetRoom))
	mux.Handle("GET /api/rooms/{id}/transcript", r.withRole(auth.RoleAdmin, r.handleTranscript))
	mux.Handle("DELETE /api/rooms/{id}", r.withRole(auth.RoleAdmin, r.handleDeleteRoom))
	mux.Handle("GET /api/requests", r.withRole(auth.RoleAgent, r.handleListRequests))

	if r.opts.MetricsPath != "" {
		mux.Handle("GET "+r.opts.MetricsPath, r.metrics.Handler())
	}
	if r.opts.StaticDir != "" {
		mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(r.opts.StaticDir))))
	}
	return mux
}

func (r *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"rooms":       len(r.hub.ListRooms(chat.RoomFilter{})),
		"pending":     r.hub.PendingCount(),
		"connections": r.Connections(),
	})
}

// withRole checks the bearer token before calling next.
func (r *Router) withRole(role auth.Role, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		token := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			writeError(w, fmt.Errorf("token required: %w", chat.ErrUnauthorized))
			return
		}
		id, err := r.auth.Authenticate(req.Context(), token)
		if err != nil {
			writeError(w, fmt.Errorf("invalid token: %w", err))
			return
		}
		if !id.Allows(role) {
			writeError(w, fmt.Errorf("%s access required: %w", role, chat.ErrUnauthorized))
			return
		}
		next(w, req)
	})
}

func (r *Router) handleListRooms(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	status, ok := chat.ParseRoomStatus(q.Get("status"))
	if !ok {
		writeError(w, fmt.Errorf("status %q: %w", q.Get("status"), chat.ErrInvalidInput))
		return
	}
	writeJSON(w, http.StatusOK, r.hub.ListRooms(chat.RoomFilter{Status: status, Query: q.Get("q")}))
}

func (r *Router) handleGetRoom(w http.ResponseWriter, req *http.Request) {
	room, err := r.hub.GetRoom(req.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (r *Router) handleTranscript(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	format := hub.ExportFormat(req.URL.Query().Get("format"))
	data, err := r.hub.Export(id, format)
	if err != nil {
		writeError(w, err)
		return
	}
	if format == hub.FormatJSON {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", hub.ExportFilename(id, format)))
	_, _ = w.Write(data)
}

func (r *Router) handleDeleteRoom(w http.ResponseWriter, req *http.Request) {
	if err := r.deleteRoom(req.Context(), req.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleListRequests(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	filter := chat.RequestFilter{Query: q.Get("q")}
	if p := q.Get("priority"); p != "" {
		priority, ok := chat.ParsePriority(p)
		if !ok {
			writeError(w, fmt.Errorf("priority %q: %w", p, chat.ErrInvalidInput))
			return
		}
		filter.Priority = priority
	}
	writeJSON(w, http.StatusOK, r.hub.ListPending(filter))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := chat.Code(err)
	status := http.StatusInternalServerError
	switch code {
	case "not_found":
		status = http.StatusNotFound
	case "already_pending", "already_claimed", "room_closed", "agent_busy":
		status = http.StatusConflict
	case "not_assigned":
		status = http.StatusForbidden
	case "invalid_input":
		status = http.StatusBadRequest
	case "unauthorized":
		status = http.StatusUnauthorized
	case "rate_limited":
		status = http.StatusTooManyRequests
	case "responder_timeout":
		status = http.StatusGatewayTimeout
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"code": code, "message": err.Error()})
}
