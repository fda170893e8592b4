package hub

import (
	"context"
	"log"
	"sync"
	"time"

	"whiteboard/pkg/interfaces"
	"whiteboard/pkg/types"
)

// EventHandler runs the protocol handlers. The hub guarantees that at most
// one of its methods executes at any time.
type EventHandler interface {
	Dispatch(conn interfaces.Connection, env *types.Envelope)
	HandleDisconnect(conn interfaces.Connection, reason string)
	CleanupLimiters()
}

// Event is one inbound message or disconnect waiting for the hub loop.
// Envelope is nil for a disconnect.
type Event struct {
	Conn     interfaces.Connection
	Envelope *types.Envelope
	Reason   string
	Received time.Time
}

// Hub serializes every relay handler onto a single goroutine
// ARCHITECTURAL DISCOVERY: One event loop replaces locking inside handlers;
// a merge, undo or join always runs to completion before the next one starts
type Hub struct {
	// FUNCTIONAL DISCOVERY: Disconnects share the message channel so a
	// connection's join can never be processed after its disconnect
	messageChannel  chan *Event // 1000 buffer absorbs bursts of pointer moves
	shutdownChannel chan struct{}
	doneChannel     chan struct{}

	handler         EventHandler
	cleanupInterval time.Duration

	running bool
	mu      sync.RWMutex
}

// NewHub creates a new hub
func NewHub(handler EventHandler) *Hub {
	return &Hub{
		messageChannel:  make(chan *Event, 1000),
		handler:         handler,
		cleanupInterval: time.Minute,
	}
}

// SetCleanupInterval changes how often idle limiter state is dropped. It
// must be called before Start.
func (h *Hub) SetCleanupInterval(d time.Duration) {
	if d > 0 {
		h.cleanupInterval = d
	}
}

// Start begins hub processing
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdownChannel = make(chan struct{})
	h.doneChannel = make(chan struct{})
	shutdown, done := h.shutdownChannel, h.doneChannel
	h.mu.Unlock()

	log.Println("Starting relay hub...")
	go h.run(ctx, shutdown, done)
	return nil
}

// Stop shuts the loop down and waits for the handler in progress to finish
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	done := h.doneChannel
	h.mu.Unlock()

	log.Println("Stopping relay hub...")
	<-done
	return nil
}

// IsRunning reports whether the loop is accepting events
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Dispatch queues an inbound message without blocking
// TECHNICAL DISCOVERY: Non-blocking send keeps a slow hub from stalling the
// read pumps; the caller turns ErrMessageChannelFull into a busy ack
func (h *Hub) Dispatch(conn interfaces.Connection, env *types.Envelope) error {
	if conn == nil {
		return ErrNilConnection
	}

	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		return ErrHubNotRunning
	}
	if env == nil {
		return ErrNilEnvelope
	}

	select {
	case h.messageChannel <- &Event{Conn: conn, Envelope: env, Received: time.Now()}:
		return nil
	default:
		return ErrMessageChannelFull
	}
}

// Disconnect queues membership cleanup for a closed connection. Unlike
// Dispatch it waits for buffer space, since a dropped disconnect would leave
// stale presence behind.
func (h *Hub) Disconnect(conn interfaces.Connection, reason string) error {
	if conn == nil {
		return ErrNilConnection
	}

	h.mu.RLock()
	running := h.running
	shutdown, done := h.shutdownChannel, h.doneChannel
	h.mu.RUnlock()
	if !running {
		return ErrHubNotRunning
	}

	select {
	case h.messageChannel <- &Event{Conn: conn, Reason: reason, Received: time.Now()}:
		return nil
	case <-shutdown:
		return ErrHubNotRunning
	case <-done:
		return ErrHubNotRunning
	}
}

// QueueDepth returns the number of inbound messages waiting
func (h *Hub) QueueDepth() int {
	return len(h.messageChannel)
}

// run is the main hub processing loop
func (h *Hub) run(ctx context.Context, shutdown, done chan struct{}) {
	defer close(done)
	defer log.Println("Hub processing stopped")

	ticker := time.NewTicker(h.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-h.messageChannel:
			h.handle(ev)

		case <-ticker.C:
			h.safely("cleanup", h.handler.CleanupLimiters)

		case <-shutdown:
			log.Println("Hub shutdown requested")
			h.drainDisconnects()
			return

		case <-ctx.Done():
			log.Println("Hub context cancelled")
			h.mu.Lock()
			if h.running && h.shutdownChannel == shutdown {
				h.running = false
				close(h.shutdownChannel)
			}
			h.mu.Unlock()
			h.drainDisconnects()
			return
		}
	}
}

func (h *Hub) handle(ev *Event) {
	if ev.Envelope == nil {
		h.safely("disconnect", func() { h.handler.HandleDisconnect(ev.Conn, ev.Reason) })
		return
	}
	h.safely("dispatch", func() { h.handler.Dispatch(ev.Conn, ev.Envelope) })
}

// drainDisconnects applies membership cleanup already queued before
// shutdown; queued messages are dropped
func (h *Hub) drainDisconnects() {
	for {
		select {
		case ev := <-h.messageChannel:
			if ev.Envelope == nil {
				h.handle(ev)
			}
		default:
			return
		}
	}
}

// safely runs one handler and keeps the loop alive if it panics
func (h *Hub) safely(what string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("Hub %s handler fault: %v", what, rec)
		}
	}()
	fn()
}
