package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"parkslot/internal/config"
	"parkslot/internal/database"
	"parkslot/internal/events"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// HTTPServer serves the parking catalog, reservation and admin endpoints.
type HTTPServer struct {
	db      *database.DB
	bus     *events.EventBus
	limiter *ipLimiter
	logger  *zerolog.Logger
	checks  map[string]ReadinessCheck
	server  *http.Server
}

// NewHTTPServer wires the routes onto a fresh mux. bus may be nil.
func NewHTTPServer(cfg *config.Config, db *database.DB, bus *events.EventBus, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if bus == nil {
		bus = events.NewEventBus(logger)
	}

	s := &HTTPServer{
		db:      db,
		bus:     bus,
		limiter: newIPLimiter(cfg.RateLimitPerMinute(), cfg.RateLimitBurst()),
		logger:  logger,
		checks:  map[string]ReadinessCheck{"database": db.PingContext},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/malls", s.handleMalls)
	mux.HandleFunc("/malls/locations", s.handleLocations)
	mux.HandleFunc("/malls/admin", s.handleAdminMalls)
	mux.HandleFunc("/malls/export", s.handleExport)
	mux.HandleFunc("/slots", s.handleSlots)
	mux.HandleFunc("/slots/batch", s.handleSlotsBatch)
	mux.HandleFunc("/slots/floors", s.handleFloors)
	mux.HandleFunc("/slots/admin", s.handleSlotOccupants)
	mux.HandleFunc("/users", s.handleUsers)
	mux.HandleFunc("/book", s.handleBook)
	mux.HandleFunc("/reserve", s.handleReserve)
	mux.Handle("/admin/login", s.limiter.limit(http.HandlerFunc(s.handleAdminLogin)))
	mux.Handle("/admin/register", s.limiter.limit(http.HandlerFunc(s.handleAdminRegister)))
	s.RegisterHealth(mux)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      requestID(logger)(mux),
		ReadTimeout:  cfg.ReadTimeout(),
		WriteTimeout: cfg.WriteTimeout(),
	}
	return s
}

// AddReadinessCheck adds a named dependency to /readyz.
func (s *HTTPServer) AddReadinessCheck(name string, check ReadinessCheck) {
	s.checks[name] = check
}

// Handler returns the root handler, for tests and embedding.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// Start listens until Shutdown is called.
func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("api server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type idResponse struct {
	ID int64 `json:"id"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps database sentinels onto HTTP statuses.
func (s *HTTPServer) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, database.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid email or password")
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, database.ErrSlotUnavailable),
		errors.Is(err, database.ErrAlreadyExists),
		errors.Is(err, database.ErrFacilityInUse):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.Canceled):
		// client went away; nothing useful to write
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// queryID reads a positive integer query parameter.
func queryID(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return id, nil
}

func (s *HTTPServer) publish(eventType string, payload any) {
	if err := s.bus.PublishJSON(eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("publish failed")
	}
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	for _, m := range allowed {
		w.Header().Add("Allow", m)
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
