package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"rendezvous/internal/handoff"
	"rendezvous/internal/pairing"
	"rendezvous/pkg/interfaces"
	"rendezvous/pkg/types"
)

// PairingService is the pairing surface the API exposes
type PairingService interface {
	RequestToken(initiatorID string, loc types.Location) (string, error)
	Validate(ctx context.Context, scannerID, token string, scannerLoc types.Location) (*pairing.Outcome, error)
}

// HandoffService is the login handoff surface the API exposes
type HandoffService interface {
	Initiate() (string, error)
	Complete(ctx context.Context, sessionID, credential string) (handoff.Status, error)
}

// HistoryStore lists recent pairings for a player
type HistoryStore interface {
	ListScans(ctx context.Context, playerID string, limit int) ([]*types.PairedScanRecord, error)
}

// HealthChecker verifies a dependency is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// StatsFunc returns one component's monitoring counters
type StatsFunc func() map[string]interface{}

// Dependencies groups the collaborators of the HTTP API.
// History may be nil, which leaves the history endpoint unmounted.
type Dependencies struct {
	Resolver   interfaces.IdentityResolver
	Pairing    PairingService
	Handoff    HandoffService
	History    HistoryStore
	Store      HealthChecker
	Stats      map[string]StatsFunc
	TokenTTL   time.Duration
	HandoffTTL time.Duration
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	deps    Dependencies
	logger  *slog.Logger
	started time.Time
}

// FUNCTIONAL DISCOVERY: Dependency injection pattern maintains architectural boundaries
func NewServer(deps Dependencies, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		deps:    deps,
		logger:  logger.With(slog.String("component", "api")),
		started: time.Now(),
	}
}

// Routes mounts the API on r.
// ARCHITECTURAL DISCOVERY: CORS and JSON middleware applied to all routes for web client compatibility
func (s *Server) Routes(r *mux.Router) {
	r.Handle("/health", s.wrap(s.healthCheck)).Methods(http.MethodGet, http.MethodOptions)

	api := r.PathPrefix("/api").Subrouter()
	api.Handle("/stats", s.wrap(s.stats)).Methods(http.MethodGet, http.MethodOptions)
	api.Handle("/pairing/token", s.wrap(s.requestToken)).Methods(http.MethodPost, http.MethodOptions)
	api.Handle("/pairing/validate", s.wrap(s.validateToken)).Methods(http.MethodPost, http.MethodOptions)
	if s.deps.History != nil {
		api.Handle("/pairing/history", s.wrap(s.pairingHistory)).Methods(http.MethodGet, http.MethodOptions)
	}
	api.Handle("/login/handoff", s.wrap(s.initiateHandoff)).Methods(http.MethodPost, http.MethodOptions)
	api.Handle("/login/handoff/complete", s.wrap(s.completeHandoff)).Methods(http.MethodPost, http.MethodOptions)
}

func (s *Server) wrap(h http.HandlerFunc) http.Handler {
	return s.corsMiddleware(s.jsonMiddleware(h))
}

// Request/Response types for JSON serialization
type TokenRequest struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type TokenResponse struct {
	Token            string `json:"token"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
}

type ValidateRequest struct {
	Token string  `json:"token"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
}

type HistoryResponse struct {
	Scans []*types.PairedScanRecord `json:"scans"`
}

type HandoffResponse struct {
	SessionID        string `json:"session_id"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
}

type CompleteHandoffRequest struct {
	SessionID string `json:"session_id"`
	Token     string `json:"token,omitempty"`
}

type CompleteHandoffResponse struct {
	Status handoff.Status `json:"status"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database"`
	Uptime    string    `json:"uptime"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// FUNCTIONAL DISCOVERY: POST /api/pairing/token - issue a pairing token for the caller
func (s *Server) requestToken(w http.ResponseWriter, r *http.Request) {
	playerID, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	var req TokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	token, err := s.deps.Pairing.RequestToken(playerID, types.Location{Lat: req.Lat, Lon: req.Lon})
	if err != nil {
		if errors.Is(err, types.ErrInvalidLocation) || errors.Is(err, types.ErrInvalidPlayerID) {
			s.sendError(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Error("token issue failed", slog.String("player_id", playerID), slog.String("error", err.Error()))
		s.sendError(w, "Failed to issue token", http.StatusInternalServerError)
		return
	}

	s.sendJSON(w, http.StatusCreated, TokenResponse{
		Token:            token,
		ExpiresInSeconds: int(s.deps.TokenTTL.Seconds()),
	})
}

// FUNCTIONAL DISCOVERY: POST /api/pairing/validate - every policy outcome is a 200 with a status;
// only store failures surface as 503
func (s *Server) validateToken(w http.ResponseWriter, r *http.Request) {
	scannerID, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	var req ValidateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	outcome, err := s.deps.Pairing.Validate(r.Context(), scannerID, req.Token, types.Location{Lat: req.Lat, Lon: req.Lon})
	if err != nil {
		s.logger.Error("pairing validation failed", slog.String("scanner", scannerID), slog.String("error", err.Error()))
		s.sendError(w, "Record store unavailable", http.StatusServiceUnavailable)
		return
	}
	s.sendJSON(w, http.StatusOK, outcome)
}

// FUNCTIONAL DISCOVERY: GET /api/pairing/history - newest pairings of the caller
func (s *Server) pairingHistory(w http.ResponseWriter, r *http.Request) {
	playerID, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			s.sendError(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = n
	}

	scans, err := s.deps.History.ListScans(r.Context(), playerID, limit)
	if err != nil {
		s.logger.Error("history query failed", slog.String("player_id", playerID), slog.String("error", err.Error()))
		s.sendError(w, "Failed to load history", http.StatusInternalServerError)
		return
	}
	if scans == nil {
		scans = []*types.PairedScanRecord{}
	}
	s.sendJSON(w, http.StatusOK, HistoryResponse{Scans: scans})
}

// FUNCTIONAL DISCOVERY: POST /api/login/handoff - a device without a credential opens a session
func (s *Server) initiateHandoff(w http.ResponseWriter, r *http.Request) {
	sessionID, err := s.deps.Handoff.Initiate()
	if err != nil {
		s.logger.Error("handoff initiate failed", slog.String("error", err.Error()))
		s.sendError(w, "Failed to create handoff session", http.StatusInternalServerError)
		return
	}
	s.sendJSON(w, http.StatusCreated, HandoffResponse{
		SessionID:        sessionID,
		ExpiresInSeconds: int(s.deps.HandoffTTL.Seconds()),
	})
}

// handoffStatusCodes maps each completion outcome to its HTTP status
var handoffStatusCodes = map[handoff.Status]int{
	handoff.StatusCompleted:         http.StatusOK,
	handoff.StatusInvalidSession:    http.StatusNotFound,
	handoff.StatusExpired:           http.StatusGone,
	handoff.StatusTooManyAttempts:   http.StatusTooManyRequests,
	handoff.StatusInvalidCredential: http.StatusUnauthorized,
}

// FUNCTIONAL DISCOVERY: POST /api/login/handoff/complete - a logged-in device completes
// the session; the credential comes from the body or the bearer header
func (s *Server) completeHandoff(w http.ResponseWriter, r *http.Request) {
	var req CompleteHandoffRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		s.sendError(w, "session_id is required", http.StatusBadRequest)
		return
	}
	credential := req.Token
	if credential == "" {
		credential = bearerToken(r)
	}

	status, err := s.deps.Handoff.Complete(r.Context(), req.SessionID, credential)
	if err != nil {
		s.logger.Error("handoff completion failed", slog.String("session_id", req.SessionID), slog.String("error", err.Error()))
		s.sendError(w, "Failed to complete handoff", http.StatusInternalServerError)
		return
	}

	code, ok := handoffStatusCodes[status]
	if !ok {
		code = http.StatusInternalServerError
	}
	s.sendJSON(w, code, CompleteHandoffResponse{Status: status})
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if s.deps.Store != nil {
		if err := s.deps.Store.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			dbStatus = fmt.Sprintf("error: %v", err)
		}
	}

	code := http.StatusOK
	if status == "unhealthy" {
		// FUNCTIONAL DISCOVERY: Return 503 if any component is unhealthy
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, code, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Database:  dbStatus,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	})
}

// GET /api/stats - live counters from every registered component
func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]interface{}, len(s.deps.Stats))
	for name, fn := range s.deps.Stats {
		out[name] = fn()
	}
	s.sendJSON(w, http.StatusOK, out)
}

// authenticate resolves the bearer credential or writes a 401
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	credential := bearerToken(r)
	if credential == "" {
		s.sendError(w, "Missing bearer credential", http.StatusUnauthorized)
		return "", false
	}
	playerID, err := s.deps.Resolver.ResolveIdentity(r.Context(), credential)
	if err != nil {
		if !errors.Is(err, interfaces.ErrInvalidCredential) {
			s.logger.Error("identity resolution failed", slog.String("error", err.Error()))
		}
		s.sendError(w, "Invalid credential", http.StatusUnauthorized)
		return "", false
	}
	return playerID, true
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// decodeJSON decodes a bounded request body
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10))
	return decoder.Decode(v)
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encode failed", slog.String("error", err.Error()))
	}
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access
// Allows all origins since mobile web clients are served from other hosts
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
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
