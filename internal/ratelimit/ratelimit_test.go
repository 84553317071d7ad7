package ratelimit

import (
	"testing"
	"time"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newLimiter(max int, window time.Duration) (*RateLimiter, *clock) {
	c := &clock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	l := NewRateLimiter(max, window)
	l.now = c.Now
	return l, c
}

func TestSlidingWindowFreesOldestSlotFirst(t *testing.T) {
	l, c := newLimiter(2, time.Minute)

	steps := []struct {
		advance time.Duration
		want    bool
	}{
		{0, true},                 // t=0
		{30 * time.Second, true},  // t=30s
		{10 * time.Second, false}, // t=40s, window full
		{21 * time.Second, true},  // t=61s, the t=0 message has aged out
		{5 * time.Second, false},  // t=66s, t=30s and t=61s still count
		{25 * time.Second, true},  // t=91s, t=30s aged out
	}
	for i, s := range steps {
		c.Advance(s.advance)
		if got := l.Allow("conn1"); got != s.want {
			t.Fatalf("step %d at %s: Allow = %v, want %v", i, c.now.Format(time.TimeOnly), got, s.want)
		}
	}
}

func TestRejectedMessagesDoNotExtendTheWindow(t *testing.T) {
	l, c := newLimiter(1, time.Minute)
	l.Allow("conn1")

	for i := 0; i < 5; i++ {
		c.Advance(10 * time.Second)
		if l.Allow("conn1") {
			t.Fatalf("expected rejection at +%ds", (i+1)*10)
		}
	}
	c.Advance(11 * time.Second)
	if !l.Allow("conn1") {
		t.Fatal("expected the slot back once the only accepted message aged out")
	}
}

func TestForgetResetsOnlyThatConnection(t *testing.T) {
	l, _ := newLimiter(1, time.Minute)
	l.Allow("conn1")
	l.Allow("conn2")

	l.Forget("conn1")

	if l.Len() != 1 {
		t.Fatalf("expected one tracked connection, got %d", l.Len())
	}
	if !l.Allow("conn1") {
		t.Fatal("expected a forgotten connection to start fresh")
	}
	if l.Allow("conn2") {
		t.Fatal("expected conn2 to keep its history")
	}
}

func TestNonPositiveLimitDisablesLimiting(t *testing.T) {
	for _, max := range []int{0, -1} {
		l, _ := newLimiter(max, time.Minute)
		for i := 0; i < 50; i++ {
			if !l.Allow("conn1") {
				t.Fatalf("max=%d: message %d rejected", max, i+1)
			}
		}
		if l.Len() != 0 {
			t.Fatalf("max=%d: disabled limiter tracked %d connections", max, l.Len())
		}
	}
}
