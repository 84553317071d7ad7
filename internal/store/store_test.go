package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"handoff/internal/chat"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	room := chat.Room{
		ID: "room_a1", VisitorName: "Ana", VisitorEmail: "ana@example.com",
		Status: chat.StatusBotServed, Active: true, CreatedAt: base, LastActivity: base,
	}
	require.NoError(t, s.SaveRoom(ctx, room))

	room.Status = chat.StatusPendingHuman
	room.MessageCount = 2
	require.NoError(t, s.SaveRoom(ctx, room))

	require.NoError(t, s.AppendMessage(ctx, chat.Message{Seq: 1, RoomID: "room_a1", Sender: chat.SenderVisitor, Body: "hello", Timestamp: base}))
	require.NoError(t, s.AppendMessage(ctx, chat.Message{Seq: 2, RoomID: "room_a1", Sender: chat.SenderResponder, Body: "hi", Timestamp: base.Add(time.Nanosecond)}))
	require.NoError(t, s.SaveRequest(ctx, chat.PendingRequest{RoomID: "room_a1", VisitorName: "Ana", Issue: "billing", Priority: chat.PriorityMedium, RequestedAt: base}))

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Rooms, 1)
	require.Equal(t, chat.StatusPendingHuman, snap.Rooms[0].Status)
	require.True(t, snap.Rooms[0].Active)
	require.True(t, snap.Rooms[0].CreatedAt.Equal(base))
	require.Len(t, snap.Messages["room_a1"], 2)
	require.True(t, snap.Messages["room_a1"][1].Timestamp.Equal(base.Add(time.Nanosecond)))
	require.Len(t, snap.Requests, 1)
	require.Equal(t, "billing", snap.Requests[0].Issue)

	require.NoError(t, s.DeleteRequest(ctx, "room_a1"))
	snap, err = s.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, snap.Requests)

	require.NoError(t, s.DeleteRoom(ctx, "room_a1"))
	snap, err = s.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, snap.Rooms)
	require.Empty(t, snap.Messages["room_a1"])
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "handoff.db"))
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "handoff.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, s.SaveRoom(context.Background(), chat.Room{ID: "room_x", VisitorName: "Sam", Status: chat.StatusClosed, CreatedAt: now, LastActivity: now}))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	snap, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Rooms, 1)
	require.Equal(t, chat.StatusClosed, snap.Rooms[0].Status)
}
