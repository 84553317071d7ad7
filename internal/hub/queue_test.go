package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"handoff/internal/chat"
)

func TestSubmitMovesRoomToPendingHuman(t *testing.T) {
	h := New()
	l := &recordingListener{}
	h.SetListener(l)
	ctx := context.Background()
	room, _ := h.CreateRoom(ctx, "Ana", "ana@example.com")

	req, err := h.Submit(ctx, room.ID, "Ana", "ana@example.com", "billing", "")
	require.NoError(t, err)
	require.Equal(t, chat.PriorityMedium, req.Priority)
	require.Equal(t, "billing", req.Issue)

	got, _ := h.GetRoom(room.ID)
	require.Equal(t, chat.StatusPendingHuman, got.Status)
	require.Len(t, l.submitted, 1)
	require.Equal(t, room.ID, l.submitted[0].RoomID)
}

func TestSubmitDefaultsIssueAndVisitor(t *testing.T) {
	h := New()
	ctx := context.Background()
	room, _ := h.CreateRoom(ctx, "Ana", "ana@example.com")

	req, err := h.Submit(ctx, room.ID, "", "", "", "")
	require.NoError(t, err)
	require.Equal(t, "Ana", req.VisitorName)
	require.Equal(t, "ana@example.com", req.VisitorEmail)
	require.Equal(t, defaultIssue, req.Issue)
}

func TestSubmitRejectsDuplicate(t *testing.T) {
	h := New()
	ctx := context.Background()
	room, _ := h.CreateRoom(ctx, "Ana", "")

	_, err := h.Submit(ctx, room.ID, "", "", "billing", "")
	require.NoError(t, err)
	_, err = h.Submit(ctx, room.ID, "", "", "again", "")
	require.ErrorIs(t, err, chat.ErrAlreadyPending)
}

func TestSubmitRejectsClosedAndUnknownRooms(t *testing.T) {
	h := New()
	ctx := context.Background()
	room, _ := h.CreateRoom(ctx, "Ana", "")
	_, _ = h.CloseRoom(ctx, room.ID)

	_, err := h.Submit(ctx, room.ID, "", "", "billing", "")
	require.ErrorIs(t, err, chat.ErrRoomClosed)
	_, err = h.Submit(ctx, "room_nope", "", "", "billing", "")
	require.ErrorIs(t, err, chat.ErrNotFound)
}

func TestConcurrentSubmitLeavesOneRequest(t *testing.T) {
	h := New()
	ctx := context.Background()
	room, _ := h.CreateRoom(ctx, "Ana", "")

	const callers = 16
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.Submit(ctx, room.ID, "", "", "billing", "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, dup int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, chat.ErrAlreadyPending):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, callers-1, dup)
	require.Len(t, h.ListPending(chat.RequestFilter{}), 1)
}

func TestListPendingIsFIFOWithRoomIDTieBreak(t *testing.T) {
	clock := newFakeClock()
	ids := []string{"room_c", "room_b", "room_a"}
	var n int
	h := New(WithClock(clock.Now), WithIDGenerator(func() string { n++; return ids[n-1] }))
	ctx := context.Background()

	for range ids {
		_, err := h.CreateRoom(ctx, "v", "")
		require.NoError(t, err)
	}
	_, err := h.Submit(ctx, "room_c", "", "", "first", "")
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = h.Submit(ctx, "room_b", "", "", "tie", "")
	require.NoError(t, err)
	_, err = h.Submit(ctx, "room_a", "", "", "tie", chat.PriorityHigh)
	require.NoError(t, err)

	pending := h.ListPending(chat.RequestFilter{})
	require.Len(t, pending, 3)
	require.Equal(t, "room_c", pending[0].RoomID)
	require.Equal(t, "room_a", pending[1].RoomID)
	require.Equal(t, "room_b", pending[2].RoomID)

	high := h.ListPending(chat.RequestFilter{Priority: chat.PriorityHigh})
	require.Len(t, high, 1)
	require.Equal(t, "room_a", high[0].RoomID)

	byText := h.ListPending(chat.RequestFilter{Query: "FIRST"})
	require.Len(t, byText, 1)
	require.Equal(t, "room_c", byText[0].RoomID)
}

func TestClaimAssignsAgent(t *testing.T) {
	h := New()
	ctx := context.Background()
	room, _ := h.CreateRoom(ctx, "Ana", "")
	_, _ = h.Submit(ctx, room.ID, "", "", "billing", "")

	got, err := h.Claim(ctx, room.ID, chat.Agent{ID: "a1", Name: "Sam"})
	require.NoError(t, err)
	require.Equal(t, chat.StatusHumanServed, got.Status)
	require.Equal(t, "Sam", got.AgentName)
	require.Empty(t, h.ListPending(chat.RequestFilter{}))
}

func TestClaimErrors(t *testing.T) {
	h := New()
	ctx := context.Background()
	room, _ := h.CreateRoom(ctx, "Ana", "")

	_, err := h.Claim(ctx, "room_nope", chat.Agent{ID: "a1"})
	require.ErrorIs(t, err, chat.ErrNotFound)

	_, err = h.Claim(ctx, room.ID, chat.Agent{ID: "a1"})
	require.ErrorIs(t, err, chat.ErrAlreadyClaimed, "bot-served room is not claimable")

	_, err = h.Claim(ctx, room.ID, chat.Agent{})
	require.ErrorIs(t, err, chat.ErrInvalidInput)

	_, _ = h.Submit(ctx, room.ID, "", "", "billing", "")
	_, err = h.Claim(ctx, room.ID, chat.Agent{ID: "a1", Name: "Sam"})
	require.NoError(t, err)
	_, err = h.Claim(ctx, room.ID, chat.Agent{ID: "a2", Name: "Kim"})
	require.ErrorIs(t, err, chat.ErrAlreadyClaimed)
}

func TestConcurrentClaimHasSingleWinner(t *testing.T) {
	for round := 0; round < 20; round++ {
		h := New()
		ctx := context.Background()
		room, _ := h.CreateRoom(ctx, "Ana", "")
		_, err := h.Submit(ctx, room.ID, "", "", "billing", "")
		require.NoError(t, err)

		start := make(chan struct{})
		results := make([]error, 2)
		var wg sync.WaitGroup
		for i, agent := range []chat.Agent{{ID: "a1", Name: "Sam"}, {ID: "a2", Name: "Kim"}} {
			wg.Add(1)
			go func(i int, agent chat.Agent) {
				defer wg.Done()
				<-start
				_, results[i] = h.Claim(ctx, room.ID, agent)
			}(i, agent)
		}
		close(start)
		wg.Wait()

		var wins, lost int
		for _, err := range results {
			if err == nil {
				wins++
			} else if errors.Is(err, chat.ErrAlreadyClaimed) {
				lost++
			}
		}
		require.Equal(t, 1, wins)
		require.Equal(t, 1, lost)
	}
}

func TestSubmitCancelSubmitRoundTrip(t *testing.T) {
	h := New()
	l := &recordingListener{}
	h.SetListener(l)
	ctx := context.Background()
	room, _ := h.CreateRoom(ctx, "Ana", "")

	_, err := h.Submit(ctx, room.ID, "", "", "billing", "")
	require.NoError(t, err)
	_, err = h.Cancel(ctx, room.ID)
	require.NoError(t, err)
	require.Equal(t, []string{room.ID}, l.canceled)

	got, _ := h.GetRoom(room.ID)
	require.Equal(t, chat.StatusPendingHuman, got.Status, "cancel leaves status alone")

	_, err = h.Submit(ctx, room.ID, "", "", "billing again", "")
	require.NoError(t, err)
}

func TestCancelThenReturnToBot(t *testing.T) {
	h := New()
	ctx := context.Background()
	room, _ := h.CreateRoom(ctx, "Ana", "")
	_, _ = h.Submit(ctx, room.ID, "", "", "billing", "")

	_, err := h.ReturnToBot(ctx, room.ID)
	require.ErrorIs(t, err, chat.ErrAlreadyPending, "request must be canceled first")

	_, err = h.Cancel(ctx, room.ID)
	require.NoError(t, err)
	got, err := h.ReturnToBot(ctx, room.ID)
	require.NoError(t, err)
	require.Equal(t, chat.StatusBotServed, got.Status)

	_, err = h.Cancel(ctx, room.ID)
	require.ErrorIs(t, err, chat.ErrNotFound)
}

func TestReleaseRequeuesOriginalRequest(t *testing.T) {
	clock := newFakeClock()
	h := New(WithClock(clock.Now))
	l := &recordingListener{}
	h.SetListener(l)
	ctx := context.Background()
	room, _ := h.CreateRoom(ctx, "Ana", "")
	orig, _ := h.Submit(ctx, room.ID, "", "", "billing", chat.PriorityHigh)
	_, err := h.Claim(ctx, room.ID, chat.Agent{ID: "a1", Name: "Sam"})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = h.Release(ctx, room.ID, "a2")
	require.ErrorIs(t, err, chat.ErrNotAssigned)

	req, err := h.Release(ctx, room.ID, "a1")
	require.NoError(t, err)
	require.Equal(t, orig, req)

	got, _ := h.GetRoom(room.ID)
	require.Equal(t, chat.StatusPendingHuman, got.Status)
	require.Empty(t, got.AgentID)
	require.Len(t, h.ListPending(chat.RequestFilter{}), 1)
	require.Len(t, l.submitted, 2)

	_, err = h.Claim(ctx, room.ID, chat.Agent{ID: "a2", Name: "Kim"})
	require.NoError(t, err)
}
