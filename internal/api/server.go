package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"chatrelay/internal/room"
	"chatrelay/pkg/types"
)

const (
	maxBridgeBody       = 1 << 20
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// RoomRegistry is the part of room.Registry the HTTP layer needs.
type RoomRegistry interface {
	With(id string, fn func(*room.Room) error) error
	Lookup(id string) (*room.Room, bool)
	List(ctx context.Context) []room.Stats
	Stats(ctx context.Context) room.RegistryStats
	AuthorizeBridge(authorization string) (room.BridgeResult, bool)
}

// SocketHandler upgrades GET /rooms/{roomId} requests.
type SocketHandler interface {
	ServeRoom(w http.ResponseWriter, r *http.Request, roomID string)
}

// Journal is the read side of the event journal.
type Journal interface {
	History(ctx context.Context, roomID string, limit int) ([]*types.JournalEntry, error)
	HealthCheck(ctx context.Context) error
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	rooms   RoomRegistry
	sockets SocketHandler
	journal Journal
	logger  *zap.Logger
	router  *http.ServeMux
	started time.Time
}

func NewServer(rooms RoomRegistry, sockets SocketHandler, journal Journal, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		rooms:   rooms,
		sockets: sockets,
		journal: journal,
		logger:  logger.Named("api"),
		router:  http.NewServeMux(),
		started: time.Now(),
	}

	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: The socket route stays outside the JSON middleware;
// the upgrade writes its own response
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/rooms/{roomId}", s.handleSocket)
	s.router.Handle("/rooms/{roomId}/{kind}", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleBridge))))
	s.router.Handle("/api/rooms", s.corsMiddleware(s.jsonMiddleware(s.requireBearer(http.HandlerFunc(s.listRooms)))))
	s.router.Handle("/api/rooms/{roomId}", s.corsMiddleware(s.jsonMiddleware(s.requireBearer(http.HandlerFunc(s.getRoom)))))
	s.router.Handle("/api/rooms/{roomId}/messages", s.corsMiddleware(s.jsonMiddleware(s.requireBearer(http.HandlerFunc(s.roomHistory)))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.Header().Set("Content-Type", "application/json")
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.sockets.ServeRoom(w, r, r.PathValue("roomId"))
}

// FUNCTIONAL DISCOVERY: POST /rooms/{roomId}/{kind} - backend bridge. The shared
// secret is checked before a room is looked up or created
func (s *Server) handleBridge(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomId")
	kind, ok := types.ParseBridgeKind(r.PathValue("kind"))
	if !ok || !types.IsValidRoomID(roomID) {
		s.sendError(w, "Not found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	authorization := r.Header.Get("Authorization")
	if result, ok := s.rooms.AuthorizeBridge(authorization); !ok {
		s.writeJSON(w, result.Status, result.Body)
		return
	}

	// TECHNICAL DISCOVERY: An unreadable body becomes an empty one, which the
	// room rejects as an invalid payload after its own checks
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBridgeBody))
	if err != nil {
		s.logger.Debug("bridge body unreadable", zap.String("room_id", roomID), zap.Error(err))
		body = nil
	}

	var result room.BridgeResult
	err = s.rooms.With(roomID, func(rm *room.Room) error {
		var herr error
		result, herr = rm.HandleBridge(r.Context(), kind, authorization, body)
		return herr
	})
	if err != nil {
		s.roomError(w, roomID, err)
		return
	}
	s.writeJSON(w, result.Status, result.Body)
}

type RoomsResponse struct {
	Rooms []room.Stats `json:"rooms"`
}

// FUNCTIONAL DISCOVERY: GET /api/rooms - live rooms only; idle rooms already retired are absent
func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, RoomsResponse{Rooms: s.rooms.List(r.Context())})
}

func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rm, ok := s.rooms.Lookup(r.PathValue("roomId"))
	if !ok {
		s.sendError(w, "Room not found", http.StatusNotFound)
		return
	}
	stats, err := rm.Stats(r.Context())
	if err != nil {
		if errors.Is(err, room.ErrRoomClosed) {
			s.sendError(w, "Room not found", http.StatusNotFound)
			return
		}
		s.roomError(w, rm.ID(), err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

type HistoryEntry struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	UserID    string          `json:"userId,omitempty"`
	CreatedAt types.Millis    `json:"createdAt"`
	Payload   json.RawMessage `json:"payload"`
}

type HistoryResponse struct {
	RoomID   string         `json:"roomId"`
	Messages []HistoryEntry `json:"messages"`
}

// FUNCTIONAL DISCOVERY: GET /api/rooms/{roomId}/messages?limit=N - journal history,
// oldest first, newest limit entries
func (s *Server) roomHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	roomID := r.PathValue("roomId")
	if !types.IsValidRoomID(roomID) {
		s.sendError(w, "Invalid room id", http.StatusBadRequest)
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.sendError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries, err := s.journal.History(r.Context(), roomID, limit)
	if err != nil {
		s.logger.Error("history query failed", zap.String("room_id", roomID), zap.Error(err))
		s.sendError(w, "Failed to load history", http.StatusInternalServerError)
		return
	}

	out := HistoryResponse{RoomID: roomID, Messages: make([]HistoryEntry, 0, len(entries))}
	for _, e := range entries {
		out.Messages = append(out.Messages, HistoryEntry{
			ID:        e.ID,
			Type:      e.Type,
			UserID:    e.UserID,
			CreatedAt: types.MillisFrom(e.CreatedAt),
			Payload:   e.Payload,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

type HealthResponse struct {
	Status    string             `json:"status"`
	Timestamp types.Millis       `json:"timestamp"`
	Database  string             `json:"database"`
	Rooms     room.RegistryStats `json:"rooms"`
	Uptime    string             `json:"uptime"`
}

// FUNCTIONAL DISCOVERY: GET /health - Return 503 if the journal is unhealthy
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.journal.HealthCheck(ctx); err != nil {
		s.logger.Warn("health check: database unhealthy", zap.Error(err))
		status = "unhealthy"
		dbStatus = "error: " + err.Error()
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: types.MillisFrom(time.Now()),
		Database:  dbStatus,
		Rooms:     s.rooms.Stats(ctx),
		Uptime:    time.Since(s.started).Truncate(time.Second).String(),
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, response)
}

func (s *Server) roomError(w http.ResponseWriter, roomID string, err error) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.logger.Debug("request abandoned", zap.String("room_id", roomID), zap.Error(err))
		s.sendError(w, "Request canceled", http.StatusServiceUnavailable)
	case errors.Is(err, room.ErrInvalidRoomID):
		s.sendError(w, "Not found", http.StatusNotFound)
	case errors.Is(err, room.ErrRegistryClosed), errors.Is(err, room.ErrRoomClosed):
		s.sendError(w, "Server shutting down", http.StatusServiceUnavailable)
	default:
		s.logger.Error("room request failed", zap.String("room_id", roomID), zap.Error(err))
		s.sendError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// requireBearer guards read-only admin routes with the bridge secret.
func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if result, ok := s.rooms.AuthorizeBridge(r.Header.Get("Authorization")); !ok {
			s.writeJSON(w, result.Status, result.Body)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, types.ErrorReply{Error: message})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body any) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("write response", zap.Error(err))
	}
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables browser clients of the read API
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
