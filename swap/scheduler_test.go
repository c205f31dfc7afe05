package swap

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/htlcswap/eventchain"
)

func TestScheduler_FiresInDeadlineOrder(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var mu sync.Mutex
	var fired []eventchain.TradeID
	done := make(chan struct{}, 3)
	record := func(id eventchain.TradeID) func() {
		return func() {
			mu.Lock()
			fired = append(fired, id)
			mu.Unlock()
			done <- struct{}{}
		}
	}

	now := time.Now()
	s.Schedule("c", now.Add(150*time.Millisecond), record("c"))
	s.Schedule("a", now.Add(50*time.Millisecond), record("a"))
	s.Schedule("b", now.Add(100*time.Millisecond), record("b"))
	require.Equal(t, 3, s.Len())

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("deadline did not fire")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []eventchain.TradeID{"a", "b", "c"}, fired)
	require.Equal(t, 0, s.Len())
}

func TestScheduler_Cancel(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	fired := make(chan struct{}, 1)
	s.Schedule("a", time.Now().Add(50*time.Millisecond), func() { fired <- struct{}{} })

	at, ok := s.Pending("a")
	require.True(t, ok)
	require.False(t, at.IsZero())

	require.True(t, s.Cancel("a"))
	require.False(t, s.Cancel("a"))
	_, ok = s.Pending("a")
	require.False(t, ok)

	select {
	case <-fired:
		t.Fatal("cancelled deadline fired")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestScheduler_ScheduleReplaces(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	fired := make(chan string, 2)
	s.Schedule("a", time.Now().Add(time.Hour), func() { fired <- "old" })
	s.Schedule("a", time.Now().Add(20*time.Millisecond), func() { fired <- "new" })
	require.Equal(t, 1, s.Len())

	select {
	case v := <-fired:
		require.Equal(t, "new", v)
	case <-time.After(time.Second):
		t.Fatal("replaced deadline did not fire")
	}

	select {
	case v := <-fired:
		t.Fatalf("unexpected %s", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestScheduler_PastDeadlineFiresImmediately(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	fired := make(chan struct{})
	s.Schedule("a", time.Now().Add(-time.Minute), func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("past deadline did not fire")
	}
}

func TestScheduler_StopDropsPending(t *testing.T) {
	s := NewScheduler()

	fired := make(chan struct{}, 1)
	s.Schedule("a", time.Now().Add(50*time.Millisecond), func() { fired <- struct{}{} })
	s.Stop()
	// idempotent
	s.Stop()

	select {
	case <-fired:
		t.Fatal("deadline fired after stop")
	case <-time.After(100 * time.Millisecond):
	}
}
