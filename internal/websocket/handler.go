package websocket

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"whiteboard/internal/hub"
	"whiteboard/pkg/interfaces"
	"whiteboard/pkg/types"
)

// Options configures the transport
type Options struct {
	PingInterval    time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	BufferSize      int
	MaxMessageBytes int64
	// AllowedOrigin restricts the Origin header when set
	AllowedOrigin string
}

// DefaultOptions returns the transport defaults
func DefaultOptions() Options {
	return Options{
		PingInterval:    30 * time.Second,
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    5 * time.Second,
		BufferSize:      256,
		MaxMessageBytes: 1 << 20,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PingInterval <= 0 {
		o.PingInterval = d.PingInterval
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = d.ReadTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.BufferSize <= 0 {
		o.BufferSize = d.BufferSize
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = d.MaxMessageBytes
	}
	return o
}

// Dispatcher hands inbound events to the hub loop
type Dispatcher interface {
	Dispatch(conn interfaces.Connection, env *types.Envelope) error
	Disconnect(conn interfaces.Connection, reason string) error
}

// Handler upgrades HTTP requests and runs the per-connection read pump
// ARCHITECTURAL DISCOVERY: Clean separation of WebSocket handling from protocol logic;
// every decoded frame goes to the hub, nothing is handled here
type Handler struct {
	registry *Registry
	hub      Dispatcher
	opts     Options
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket handler with dependency injection
func NewHandler(registry *Registry, dispatcher Dispatcher, opts Options) *Handler {
	h := &Handler{
		registry: registry,
		hub:      dispatcher,
		opts:     opts.withDefaults(),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

// checkOrigin allows any origin unless one is configured. Requests without
// an Origin header (non-browser clients) are always allowed.
func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.opts.AllowedOrigin == "" {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return strings.TrimSuffix(origin, "/") == strings.TrimSuffix(h.opts.AllowedOrigin, "/")
}

// HandleWebSocket upgrades the request and starts the connection. Query
// parameters room, token, name and color issue a join-room right away.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	wsConn := NewConnection(conn, uuid.NewString(), h.opts)
	if err := h.registry.RegisterConnection(wsConn); err != nil {
		log.Printf("Failed to register connection: %v", err)
		_ = wsConn.Close()
		return
	}
	log.Printf("Connection opened: conn=%s remote=%s", wsConn.GetID(), r.RemoteAddr)

	if env := autoJoin(r); env != nil {
		h.dispatch(wsConn, env)
	}

	go h.handleConnection(wsConn)
}

// autoJoin builds a join-room envelope from the query string
func autoJoin(r *http.Request) *types.Envelope {
	q := r.URL.Query()
	if q.Get("room") == "" {
		return nil
	}
	data, err := json.Marshal(types.JoinRequest{
		RoomID: q.Get("room"),
		Token:  q.Get("token"),
		Name:   q.Get("name"),
		Color:  q.Get("color"),
	})
	if err != nil {
		return nil
	}
	return &types.Envelope{Type: types.MessageTypeJoinRoom, Data: data}
}

// handleConnection runs heartbeat and the read pump until the socket dies
// ARCHITECTURAL DISCOVERY: Single goroutine per connection handles
// message reading; a ticker goroutine handles heartbeat
func (h *Handler) handleConnection(conn *Connection) {
	reason := "transport close"
	defer func() {
		// FUNCTIONAL DISCOVERY: Deferred cleanup ensures membership is
		// released even if the read pump exits unexpectedly
		_ = conn.Close()
		h.registry.UnregisterConnection(conn)
		if err := h.hub.Disconnect(conn, reason); err != nil {
			log.Printf("Failed to queue disconnect: conn=%s err=%v", conn.GetID(), err)
		}
		log.Printf("Connection closed: conn=%s reason=%s", conn.GetID(), reason)
	}()

	conn.conn.SetReadLimit(h.opts.MaxMessageBytes)
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(h.opts.WriteTimeout)); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error: conn=%s err=%v", conn.GetID(), err)
				reason = "transport error"
			}
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		env, err := types.DecodeEnvelope(data)
		if err != nil {
			_ = conn.WriteJSON(types.NewMessage(types.MessageTypeError, types.ErrorPayload{Message: err.Error()}))
			continue
		}
		h.dispatch(conn, env)
	}
}

// dispatch forwards one envelope. A draw or join the hub cannot accept is
// answered here so the sender still gets its single reply.
func (h *Handler) dispatch(conn *Connection, env *types.Envelope) {
	err := h.hub.Dispatch(conn, env)
	if err == nil {
		return
	}

	log.Printf("Dropped %s: conn=%s err=%v", env.Type, conn.GetID(), err)
	busy := errors.Is(err, hub.ErrMessageChannelFull)

	switch env.Type {
	case types.MessageTypeDraw:
		if env.AckID == "" {
			return
		}
		reason := types.AckReasonServerError
		if busy {
			reason = types.AckReasonBusy
		}
		_ = conn.WriteJSON(types.NewMessage(types.MessageTypeOpAck, types.Ack{
			AckID:  env.AckID,
			OK:     false,
			Reason: reason,
		}))

	case types.MessageTypeJoinRoom:
		// FUNCTIONAL DISCOVERY: A joiner waits for init-state or join-error,
		// so a dropped join must still produce one of them
		message := joinErrorUnavailable
		if busy {
			message = joinErrorBusy
		}
		_ = conn.WriteJSON(types.NewMessage(types.MessageTypeJoinError, types.JoinError{Message: message}))
	}
}
