package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"handoff/internal/chat"
)

// ErrStatusChanged is returned by Append when Post.RequireStatus no longer
// holds, e.g. a bot reply arriving after an agent took over.
var ErrStatusChanged = errors.New("room status changed")

// Post describes a message to append to a room's transcript.
type Post struct {
	RoomID string
	Sender chat.SenderRole
	Body   string
	// Agent must be the room's assigned agent when Sender is SenderAgent.
	Agent *chat.Agent
	// RequireStatus, when set, makes the append conditional on the room
	// still being in that status.
	RequireStatus chat.RoomStatus
}

// Append adds a message to the room's transcript and returns it together
// with the room as it stood at that instant, so callers can route the
// message without a second lookup racing a status change.
func (h *Hub) Append(ctx context.Context, p Post) (chat.Message, chat.Room, error) {
	body := strings.TrimSpace(p.Body)
	if body == "" {
		return chat.Message{}, chat.Room{}, fmt.Errorf("message body is required: %w", chat.ErrInvalidInput)
	}

	e, err := h.lockRoom(p.RoomID)
	if err != nil {
		return chat.Message{}, chat.Room{}, err
	}
	defer e.mu.Unlock()

	if err := checkPost(e.room, p); err != nil {
		return chat.Message{}, e.room, err
	}

	now := h.now()
	msg := chat.Message{
		Seq:       len(e.messages) + 1,
		RoomID:    p.RoomID,
		Sender:    p.Sender,
		Body:      body,
		Timestamp: e.nextTimestampLocked(now),
	}
	if p.Agent != nil {
		msg.AgentName = p.Agent.Name
	}
	next := e.room
	next.MessageCount++
	if msg.Timestamp.After(next.LastActivity) {
		next.LastActivity = msg.Timestamp
	}

	if h.store != nil {
		if err := h.store.AppendMessage(ctx, msg); err != nil {
			return chat.Message{}, e.room, err
		}
		if err := h.store.SaveRoom(ctx, next); err != nil {
			return chat.Message{}, e.room, err
		}
	}
	e.messages = append(e.messages, msg)
	e.room = next
	return msg, next, nil
}

func checkPost(r chat.Room, p Post) error {
	if p.RequireStatus != "" && r.Status != p.RequireStatus {
		return fmt.Errorf("%s is %s: %w", r.ID, r.Status, ErrStatusChanged)
	}
	switch p.Sender {
	case chat.SenderAgent:
		if p.Agent == nil || r.Status != chat.StatusHumanServed || r.AgentID != p.Agent.ID {
			return fmt.Errorf("%s: %w", r.ID, chat.ErrNotAssigned)
		}
	case chat.SenderVisitor, chat.SenderResponder:
		if r.Status == chat.StatusClosed {
			return fmt.Errorf("%s: %w", r.ID, chat.ErrRoomClosed)
		}
	case chat.SenderSystem:
	default:
		return fmt.Errorf("unknown sender %q: %w", p.Sender, chat.ErrInvalidInput)
	}
	return nil
}

// History returns messages starting at offset. A non-positive limit means
// everything after offset.
func (h *Hub) History(roomID string, offset, limit int) ([]chat.Message, error) {
	e, err := h.lockRoom(roomID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	if offset < 0 {
		offset = 0
	}
	if offset >= len(e.messages) {
		return []chat.Message{}, nil
	}
	end := len(e.messages)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return append([]chat.Message(nil), e.messages[offset:end]...), nil
}

// Transcript is the structured rendering of a room used by admins.
type Transcript struct {
	RoomID       string          `json:"roomId"`
	VisitorName  string          `json:"userName"`
	VisitorEmail string          `json:"userEmail,omitempty"`
	Status       chat.RoomStatus `json:"status"`
	AgentName    string          `json:"agentName,omitempty"`
	StartedAt    time.Time       `json:"startedAt"`
	Messages     []chat.Message  `json:"messages"`
}

func (h *Hub) Transcript(roomID string) (Transcript, error) {
	e, err := h.lockRoom(roomID)
	if err != nil {
		return Transcript{}, err
	}
	defer e.mu.Unlock()
	return Transcript{
		RoomID:       e.room.ID,
		VisitorName:  e.room.VisitorName,
		VisitorEmail: e.room.VisitorEmail,
		Status:       e.room.Status,
		AgentName:    e.room.AgentName,
		StartedAt:    e.room.CreatedAt,
		Messages:     append([]chat.Message{}, e.messages...),
	}, nil
}

type ExportFormat string

const (
	FormatText ExportFormat = "text"
	FormatJSON ExportFormat = "json"
)

// Export renders a room's transcript for download. The output depends only
// on the stored data, so exporting twice yields identical bytes.
func (h *Hub) Export(roomID string, format ExportFormat) ([]byte, error) {
	t, err := h.Transcript(roomID)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatJSON:
		return json.MarshalIndent(t, "", "  ")
	case FormatText, "":
		return renderText(t), nil
	}
	return nil, fmt.Errorf("export format %q: %w", format, chat.ErrInvalidInput)
}

func renderText(t Transcript) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "Chat Transcript - %s\n", t.RoomID)
	if t.VisitorEmail != "" {
		fmt.Fprintf(&b, "User: %s <%s>\n", t.VisitorName, t.VisitorEmail)
	} else {
		fmt.Fprintf(&b, "User: %s\n", t.VisitorName)
	}
	fmt.Fprintf(&b, "Started: %s\n", t.StartedAt.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "Status: %s\n\n", t.Status)
	for _, m := range t.Messages {
		who := string(m.Sender)
		if m.Sender == chat.SenderVisitor && t.VisitorName != "" {
			who = t.VisitorName
		} else if m.AgentName != "" {
			who += " (" + m.AgentName + ")"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.Timestamp.UTC().Format(time.RFC3339Nano), who, m.Body)
	}
	return b.Bytes()
}

// ExportFilename is the suggested download name for a transcript.
func ExportFilename(roomID string, format ExportFormat) string {
	if format == FormatJSON {
		return "chat_" + roomID + ".json"
	}
	return "chat_" + roomID + ".txt"
}
