package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Keeeeeeeks/opencode-dashboard/pkg/bus"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/models"
)

// syncRecorder wraps httptest.ResponseRecorder with a mutex so the test
// goroutine can snapshot the body while ServeHTTP's goroutine is still
// writing to it, without racing.
type syncRecorder struct {
	mu  sync.Mutex
	rec *httptest.ResponseRecorder
}

func newSyncRecorder() *syncRecorder {
	return &syncRecorder{rec: httptest.NewRecorder()}
}

func (s *syncRecorder) Header() http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Header()
}

func (s *syncRecorder) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Write(b)
}

func (s *syncRecorder) WriteHeader(statusCode int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.WriteHeader(statusCode)
}

func (s *syncRecorder) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.Flush()
}

func (s *syncRecorder) body() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Body.String()
}

func (s *syncRecorder) header(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Header().Get(key)
}

var _ http.Flusher = (*syncRecorder)(nil)

func TestServeHTTP_SendsConnectedEventOnConnect(t *testing.T) {
	b := bus.New()
	gw := New(b)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/stream", nil).WithContext(ctx)
	rec := newSyncRecorder()

	done := make(chan struct{})
	go func() {
		gw.ServeHTTP(rec, req)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(rec.body(), "event:connected\n")
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	require.Equal(t, "text/event-stream", rec.header("Content-Type"))
	require.Contains(t, rec.body(), `"status":"connected"`)
}

func TestServeHTTP_ForwardsPublishedEvent(t *testing.T) {
	b := bus.New()
	gw := New(b)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/stream", nil).WithContext(ctx)
	rec := newSyncRecorder()

	done := make(chan struct{})
	go func() {
		gw.ServeHTTP(rec, req)
		close(done)
	}()

	// Wait for subscription to register before publishing.
	require.Eventually(t, func() bool { return b.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	b.Publish(models.DashboardEvent{Type: models.EventAgentStatus, Payload: map[string]string{"action": "task_assigned"}})

	require.Eventually(t, func() bool {
		return strings.Contains(rec.body(), "event:agent:status\n")
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	require.Contains(t, rec.body(), `"action":"task_assigned"`)
}

func TestServeHTTP_EmitsResyncWhenEnvelopeReportsDropped(t *testing.T) {
	b := bus.New()
	gw := New(b)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/stream", nil).WithContext(ctx)
	rec := newSyncRecorder()

	done := make(chan struct{})
	go func() {
		gw.ServeHTTP(rec, req)
		close(done)
	}()

	require.Eventually(t, func() bool { return b.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	// Overflow the gateway's subscriber queue so the next delivered
	// envelope carries a nonzero Dropped count.
	for i := 0; i < bus.QueueCapacity+2; i++ {
		b.Publish(models.DashboardEvent{Type: models.EventAgentStatus})
	}

	require.Eventually(t, func() bool {
		return strings.Contains(rec.body(), "event:resync\n")
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestServeHTTP_ReturnsWhenClientDisconnects(t *testing.T) {
	b := bus.New()
	gw := New(b)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/stream", nil).WithContext(ctx)
	rec := newSyncRecorder()

	done := make(chan struct{})
	go func() {
		gw.ServeHTTP(rec, req)
		close(done)
	}()

	require.Eventually(t, func() bool { return b.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	select {
	case <-done:
		t.Fatal("handler returned before client disconnected")
	case <-time.After(20 * time.Millisecond):
	}

	cancel()
	<-done
	require.Equal(t, 0, b.SubscriberCount())
}
