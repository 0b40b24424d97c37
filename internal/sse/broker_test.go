package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(Config{})
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestNotifySendsEmptyObject(t *testing.T) {
	b := NewBroker(Config{})
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Notify("notes-updated")

	select {
	case msg := <-ch:
		if got, want := string(msg), "event: notes-updated\ndata: {}\n\n"; got != want {
			t.Errorf("message = %q, want %q", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishNoteFile(t *testing.T) {
	b := NewBroker(Config{})
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishNoteFile("change", "inbox/a.md")

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.HasPrefix(s, "event: notes-updated\n") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"file":"inbox/a.md"`) || !strings.Contains(s, `"event":"change"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishAgentChange_Throttled(t *testing.T) {
	b := NewBroker(Config{ConnectionsThrottle: 500 * time.Millisecond})
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishAgentChange()
	b.PublishAgentChange()
	b.PublishAgentChange()

	time.Sleep(50 * time.Millisecond)
	count := 0
loop:
	for {
		select {
		case msg := <-ch:
			if strings.Contains(string(msg), "connections-updated") {
				count++
			}
		default:
			break loop
		}
	}
	if count != 1 {
		t.Errorf("connections events = %d, want 1 (throttled)", count)
	}
}

// flushRecorder guards the recorder body so the test can read it while the
// handler is still streaming.
type flushRecorder struct {
	mu  sync.Mutex
	rec *httptest.ResponseRecorder
}

func (f *flushRecorder) Header() http.Header { return f.rec.Header() }

func (f *flushRecorder) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rec.Write(p)
}

func (f *flushRecorder) WriteHeader(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rec.WriteHeader(code)
}

func (f *flushRecorder) Flush() {}

func (f *flushRecorder) body() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rec.Body.String()
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(Config{Heartbeat: 30 * time.Millisecond})
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := &flushRecorder{rec: httptest.NewRecorder()}

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.Notify("mission-updated")
	time.Sleep(80 * time.Millisecond)

	cancel()
	<-done

	body := w.body()
	if !strings.HasPrefix(body, "data: connected\n\n") {
		t.Errorf("missing greeting: %q", body)
	}
	if !strings.Contains(body, "event: mission-updated") {
		t.Errorf("handler output missing event: %q", body)
	}
	if !strings.Contains(body, ":heartbeat\n\n") {
		t.Errorf("handler output missing heartbeat: %q", body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(Config{})
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Client capacity is 64; the extra events must not block.
	for i := 0; i < 70; i++ {
		b.Notify("notes-updated")
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(Config{})
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	b.Notify("notes-updated")
	b.PublishAgentChange()
}
