// Package sse implements the Server-Sent Events change notifier.
package sse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/snippets/internal/models"
)

// Event is one named broadcast. A nil Data is sent as {}.
type Event struct {
	Type string
	Data any
}

// Config tunes the broker. Zero values take the defaults.
type Config struct {
	// ConnectionsThrottle is the minimum gap between connections-updated
	// events caused by agent-directory changes.
	ConnectionsThrottle time.Duration
	// Heartbeat is the keep-alive comment interval on open streams.
	Heartbeat time.Duration
	Logger    *slog.Logger
}

// Broker fans change events out to connected SSE clients.
//
// A single internal loop owns the client set and the throttle timestamp.
// Public methods talk to it over channels.
type Broker struct {
	throttle  time.Duration
	heartbeat time.Duration
	logger    *slog.Logger

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	agentCh       chan struct{}
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker starts a broker loop.
func NewBroker(cfg Config) *Broker {
	if cfg.ConnectionsThrottle <= 0 {
		cfg.ConnectionsThrottle = 2 * time.Second
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	b := &Broker{
		throttle:      cfg.ConnectionsThrottle,
		heartbeat:     cfg.Heartbeat,
		logger:        cfg.Logger,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		agentCh:       make(chan struct{}, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var lastAgent time.Time

	broadcast := func(event Event) {
		data := event.Data
		if data == nil {
			data = struct{}{}
		}
		payload, err := json.Marshal(data)
		if err != nil {
			b.logger.Warn("sse: event not encoded", slog.String("event", event.Type), slog.String("error", err.Error()))
			return
		}
		raw := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload))

		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Slow client; drop rather than stall the loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case <-b.agentCh:
			now := time.Now()
			if now.Sub(lastAgent) >= b.throttle {
				lastAgent = now
				broadcast(Event{Type: models.EventConnectionsUpdated})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes every client channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// Notify broadcasts a data-less event.
func (b *Broker) Notify(event string) {
	b.Publish(Event{Type: event})
}

// PublishNoteFile reports an external change to a note file.
func (b *Broker) PublishNoteFile(kind, file string) {
	b.Publish(Event{Type: models.EventNotesUpdated, Data: map[string]string{"file": file, "event": kind}})
}

// PublishAgentChange reports a change in the agent directory as a
// throttled connections-updated event.
func (b *Broker) PublishAgentChange() {
	if b.closed.Load() {
		return
	}
	select {
	case b.agentCh <- struct{}{}:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	_, _ = w.Write([]byte("data: connected\n\n"))
	flusher.Flush()

	heartbeat := time.NewTicker(b.heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			_, _ = w.Write([]byte(":heartbeat\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
