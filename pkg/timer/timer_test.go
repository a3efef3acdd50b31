package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedule_FiresAfterDelay(t *testing.T) {
	s := New()
	var fired atomic.Bool
	done := make(chan struct{})

	s.Schedule(20*time.Millisecond, func() {
		fired.Store(true)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.True(t, fired.Load())
}

func TestCancel_BeforeFire_PreventsCallback(t *testing.T) {
	s := New()
	var fired atomic.Bool

	h := s.Schedule(200*time.Millisecond, func() {
		fired.Store(true)
	})

	ok := s.Cancel(h)
	require.True(t, ok)

	time.Sleep(300 * time.Millisecond)
	assert.False(t, fired.Load(), "cancelled timer must not have fired")
}

func TestCancel_AfterFire_ReturnsFalse(t *testing.T) {
	s := New()
	done := make(chan struct{})

	h := s.Schedule(10*time.Millisecond, func() {
		close(done)
	})

	<-done
	// No wait is needed: the fire goroutine flips `fired` before invoking
	// fn, so it is already true once done is closed.
	ok := s.Cancel(h)
	assert.False(t, ok, "cancel after fire must return false")
}

func TestCancel_Idempotent(t *testing.T) {
	s := New()
	h := s.Schedule(time.Minute, func() {})

	assert.True(t, s.Cancel(h))
	assert.False(t, s.Cancel(h), "second cancel must return false")
}

func TestEvery_TicksRepeatedly(t *testing.T) {
	s := New()
	var count atomic.Int32

	th := s.Every(10*time.Millisecond, func() {
		count.Add(1)
	})
	time.Sleep(55 * time.Millisecond)
	th.Stop()

	got := count.Load()
	assert.GreaterOrEqual(t, got, int32(3))

	// Stopping must halt further ticks.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, got, count.Load())
}

func TestEvery_StopIdempotent(t *testing.T) {
	s := New()
	th := s.Every(time.Hour, func() {})
	th.Stop()
	require.NotPanics(t, th.Stop)
}

func TestPending_TracksOutstandingTimers(t *testing.T) {
	s := New()
	assert.Equal(t, 0, s.Pending())

	h1 := s.Schedule(time.Hour, func() {})
	h2 := s.Schedule(time.Hour, func() {})
	assert.Equal(t, 2, s.Pending())

	s.Cancel(h1)
	assert.Equal(t, 1, s.Pending())
	s.Cancel(h2)
	assert.Equal(t, 0, s.Pending())
}
