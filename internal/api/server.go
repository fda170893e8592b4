package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"whiteboard/internal/drawing"
	"whiteboard/internal/export"
	"whiteboard/pkg/interfaces"
	"whiteboard/pkg/types"
)

// Rooms is the slice of the room registry the HTTP layer needs
type Rooms interface {
	CreatePrivateRoom() (string, string, error)
	Meta(roomID string) (types.RoomMeta, bool)
	Authorize(roomID, token string) error
	Members(roomID string) []types.User
	RoomCount() int
}

// Drawing is the read side of the drawing log
type Drawing interface {
	Snapshot(roomID string) []types.StrokeOperation
	Stats(roomID string) drawing.Stats
	TotalOperations() int
}

// Connections reports live websocket connections
type Connections interface {
	Count() int
}

// ActivityLog is the journal as seen by the API: it records room creation
// and serves the activity endpoint
type ActivityLog interface {
	interfaces.Journal
	Recent(ctx context.Context, roomID string, limit int) ([]types.ActivityEvent, error)
}

// Options configures the HTTP surface
type Options struct {
	// FrontendOrigin is the single allowed CORS origin and the base of
	// invite URLs; empty allows any origin
	FrontendOrigin string
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no relay logic, only HTTP handling and JSON serialization
type Server struct {
	rooms       Rooms
	drawing     Drawing
	connections Connections
	activity    ActivityLog
	websocket   http.Handler
	opts        Options
	router      *http.ServeMux
}

// NewServer wires the routes. activity may be nil when the journal is
// disabled; ws may be nil in tests that only exercise HTTP.
// FUNCTIONAL DISCOVERY: Dependency injection pattern maintains architectural boundaries
func NewServer(rooms Rooms, drawingLog Drawing, connections Connections, activity ActivityLog, ws http.Handler, opts Options) *Server {
	s := &Server{
		rooms:       rooms,
		drawing:     drawingLog,
		connections: connections,
		activity:    activity,
		websocket:   ws,
		opts:        opts,
		router:      http.NewServeMux(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	if s.websocket != nil {
		// Upgrade responses must not carry the JSON content type
		s.router.Handle("/ws", s.websocket)
	}
	s.router.Handle("/create-room", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.createRoom))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
	s.router.Handle("/api/stats", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.stats))))
	// PDF export sets its own content type
	s.router.Handle("/api/rooms/", s.corsMiddleware(http.HandlerFunc(s.handleRoomByID)))
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Request/Response types for JSON serialization
type CreateRoomResponse struct {
	OK     bool   `json:"ok"`
	RoomID string `json:"roomId"`
	Token  string `json:"token"`
	URL    string `json:"url"`
}

type FailureResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type HealthResponse struct {
	OK bool `json:"ok"`
}

type StatsResponse struct {
	Rooms       int `json:"rooms"`
	Connections int `json:"connections"`
	Operations  int `json:"operations"`
}

type RoomResponse struct {
	RoomID     string        `json:"roomId"`
	Private    bool          `json:"private"`
	Created    *time.Time    `json:"created,omitempty"`
	Users      []types.User  `json:"users"`
	Operations drawing.Stats `json:"operations"`
}

type ActivityResponse struct {
	RoomID string                `json:"roomId"`
	Events []types.ActivityEvent `json:"events"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// createRoom mints a private room and returns its invite link
func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	roomID, token, err := s.rooms.CreatePrivateRoom()
	if err != nil {
		log.Printf("create-room failed: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(FailureResponse{OK: false, Error: "server_error"})
		return
	}

	if s.activity != nil {
		s.activity.Record(types.ActivityEvent{RoomID: roomID, Kind: types.ActivityRoomCreated, At: time.Now()})
	}

	inviteURL := s.frontendBase(r) + "/?room=" + url.QueryEscape(roomID) + "&token=" + url.QueryEscape(token)
	_ = json.NewEncoder(w).Encode(CreateRoomResponse{
		OK:     true,
		RoomID: roomID,
		Token:  token,
		URL:    inviteURL,
	})
}

// frontendBase picks the invite URL base: the configured frontend origin,
// else the caller's Origin, else this server's own scheme and host
func (s *Server) frontendBase(r *http.Request) string {
	if s.opts.FrontendOrigin != "" {
		return strings.TrimSuffix(s.opts.FrontendOrigin, "/")
	}
	if origin := r.Header.Get("Origin"); origin != "" {
		return strings.TrimSuffix(origin, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// FUNCTIONAL DISCOVERY: Liveness only; the relay has no dependency that can be unhealthy
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode(HealthResponse{OK: true})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	_ = json.NewEncoder(w).Encode(StatsResponse{
		Rooms:       s.rooms.RoomCount(),
		Connections: s.connections.Count(),
		Operations:  s.drawing.TotalOperations(),
	})
}

// handleRoomByID serves /api/rooms/{id}, /api/rooms/{id}/activity and
// /api/rooms/{id}/export.pdf. Private rooms require ?token=.
func (s *Server) handleRoomByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/rooms/")
	parts := strings.SplitN(path, "/", 2)
	roomID := parts[0]
	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}

	if sub != "export.pdf" {
		w.Header().Set("Content-Type", "application/json")
	}

	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !types.IsValidRoomID(roomID) {
		s.sendError(w, "Invalid room ID", http.StatusBadRequest)
		return
	}
	if err := s.rooms.Authorize(roomID, r.URL.Query().Get("token")); err != nil {
		s.sendError(w, "Invalid token for this private room", http.StatusForbidden)
		return
	}

	switch sub {
	case "":
		s.getRoom(w, roomID)
	case "activity":
		s.getActivity(w, r, roomID)
	case "export.pdf":
		s.exportRoom(w, roomID)
	default:
		s.sendError(w, "Not found", http.StatusNotFound)
	}
}

func (s *Server) getRoom(w http.ResponseWriter, roomID string) {
	meta, known := s.rooms.Meta(roomID)
	users := s.rooms.Members(roomID)
	stats := s.drawing.Stats(roomID)

	// FUNCTIONAL DISCOVERY: Rooms exist implicitly; one that was never
	// created, joined or drawn in is reported as missing
	if !known && len(users) == 0 && stats.Operations == 0 {
		s.sendError(w, "Room not found", http.StatusNotFound)
		return
	}

	resp := RoomResponse{
		RoomID:     roomID,
		Private:    meta.Private,
		Users:      users,
		Operations: stats,
	}
	if known {
		created := meta.Created
		resp.Created = &created
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) getActivity(w http.ResponseWriter, r *http.Request, roomID string) {
	if s.activity == nil {
		s.sendError(w, "Activity journal is disabled", http.StatusNotFound)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			s.sendError(w, "limit must be between 1 and 1000", http.StatusBadRequest)
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	events, err := s.activity.Recent(ctx, roomID, limit)
	if err != nil {
		log.Printf("Activity query failed: room=%s err=%v", roomID, err)
		s.sendError(w, "Failed to read activity", http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(ActivityResponse{RoomID: roomID, Events: events})
}

func (s *Server) exportRoom(w http.ResponseWriter, roomID string) {
	// Render into memory so a failure can still produce an error response
	var buf bytes.Buffer
	if err := export.RenderPDF(&buf, s.drawing.Snapshot(roomID)); err != nil {
		log.Printf("PDF export failed: room=%s err=%v", roomID, err)
		w.Header().Set("Content-Type", "application/json")
		s.sendError(w, "Failed to export room", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+roomID+`.pdf"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	if _, err := buf.WriteTo(w); err != nil {
		log.Printf("PDF export write failed: room=%s err=%v", roomID, err)
	}
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access
// A configured frontend origin is the only one allowed, with credentials
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.FrontendOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", strings.TrimSuffix(s.opts.FrontendOrigin, "/"))
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		// FUNCTIONAL DISCOVERY: Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// FUNCTIONAL DISCOVERY: JSON middleware ensures proper content-type headers
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
