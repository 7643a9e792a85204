// Package mirror implements the server-side copy of the per-device
// usage ledger: a small HTTP API the client reconciles against, plus
// the client for it.
package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/adrifthq/adrift/internal/metrics"
	"github.com/adrifthq/adrift/internal/quota"
	"github.com/adrifthq/adrift/internal/storage"
	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
)

// ServerConfig configures the usage mirror server.
type ServerConfig struct {
	Addr       string
	DailyLimit int
	CacheSize  int
	CacheTTL   time.Duration
}

// Server serves the usage mirror API.
type Server struct {
	cfg      ServerConfig
	store    storage.UsageStore
	cache    *lru.LRU[string, storage.UsageRecord]
	server   *http.Server
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
	logger   zerolog.Logger
	now      func() time.Time
}

// NewServer creates a mirror server over a usage store. Reads go
// through an expiring LRU so a fleet of polling clients does not hammer
// the store; every write refreshes the cached entry.
func NewServer(cfg ServerConfig, store storage.UsageStore, logger zerolog.Logger) *Server {
	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = storage.DefaultDailyLimit
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}

	s := &Server{
		cfg:    cfg,
		store:  store,
		cache:  lru.NewLRU[string, storage.UsageRecord](cfg.CacheSize, nil, cfg.CacheTTL),
		logger: logger.With().Str("component", "mirror").Logger(),
		now:    time.Now,
	}

	r := mux.NewRouter()
	r.HandleFunc("/usage/{deviceId}", s.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/usage/{deviceId}", s.handleDebit).Methods(http.MethodPost)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the mirror server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting usage mirror server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated mirror listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Mirror server error")
		}
	}()
	return nil
}

// Stop gracefully stops the mirror server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping usage mirror server")
	return s.server.Shutdown(ctx)
}

// handleGet returns the device's record, creating a default one on
// first access and applying the daily reset rule.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deviceID := mux.Vars(r)["deviceId"]

	if rec, ok := s.cache.Get(deviceID); ok && !quota.ShouldReset(rec.LastReset, s.now()) {
		metrics.MirrorCacheHits.Inc()
		s.respond(w, http.StatusOK, rec, "GET")
		return
	}
	metrics.MirrorCacheMisses.Inc()

	rec, err := s.store.Get(ctx, deviceID)
	if errors.Is(err, storage.ErrNotFound) {
		fresh := storage.NewUsageRecord(s.cfg.DailyLimit, s.now())
		if err := s.store.Put(ctx, deviceID, fresh); err != nil {
			s.fail(w, err, deviceID, "GET")
			return
		}
		s.cache.Add(deviceID, fresh)
		s.respond(w, http.StatusOK, fresh, "GET")
		return
	}
	if err != nil {
		s.fail(w, err, deviceID, "GET")
		return
	}

	if quota.ShouldReset(rec.LastReset, s.now()) {
		fresh := storage.NewUsageRecord(s.cfg.DailyLimit, s.now())
		if err := s.store.Reset(ctx, deviceID, fresh); err != nil {
			s.fail(w, err, deviceID, "GET")
			return
		}
		metrics.QuotaResets.Inc()
		s.logger.Info().Str("device", deviceID).Msg("Daily allowance reset")
		s.cache.Add(deviceID, fresh)
		s.respond(w, http.StatusOK, fresh, "GET")
		return
	}

	s.cache.Add(deviceID, *rec)
	s.respond(w, http.StatusOK, *rec, "GET")
}

type debitRequest struct {
	Tokens float64 `json:"tokens"`
}

// quotaError is the 400 body returned when a debit would exceed the
// limit.
type quotaError struct {
	Error   string `json:"error"`
	Current int    `json:"current"`
	Limit   int    `json:"limit"`
}

// handleDebit applies a token debit, creating a default record for an
// unseen device first.
func (s *Server) handleDebit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deviceID := mux.Vars(r)["deviceId"]

	var req debitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", "POST")
		return
	}
	if req.Tokens < 0 {
		s.writeError(w, http.StatusBadRequest, "invalid token count", "POST")
		return
	}
	tokens := quota.SanitizeTokens(req.Tokens)

	rec, err := s.store.Get(ctx, deviceID)
	if errors.Is(err, storage.ErrNotFound) {
		fresh := storage.NewUsageRecord(s.cfg.DailyLimit, s.now())
		if tokens > fresh.Limit {
			s.respond(w, http.StatusBadRequest, quotaError{
				Error: "token limit would be exceeded", Current: 0, Limit: fresh.Limit,
			}, "POST")
			return
		}
		fresh.Used = tokens
		if err := s.store.Put(ctx, deviceID, fresh); err != nil {
			s.fail(w, err, deviceID, "POST")
			return
		}
		s.cache.Add(deviceID, fresh)
		metrics.TokensConsumed.WithLabelValues(deviceID).Add(float64(tokens))
		s.respond(w, http.StatusOK, fresh, "POST")
		return
	}
	if err != nil {
		s.fail(w, err, deviceID, "POST")
		return
	}

	updated, err := s.store.Debit(ctx, deviceID, tokens)
	if errors.Is(err, storage.ErrQuotaExceeded) {
		s.respond(w, http.StatusBadRequest, quotaError{
			Error: "token limit would be exceeded", Current: rec.Used, Limit: rec.Limit,
		}, "POST")
		return
	}
	if err != nil {
		s.fail(w, err, deviceID, "POST")
		return
	}

	s.cache.Add(deviceID, *updated)
	metrics.TokensConsumed.WithLabelValues(deviceID).Add(float64(tokens))
	s.respond(w, http.StatusOK, *updated, "POST")
}

func (s *Server) respond(w http.ResponseWriter, statusCode int, data interface{}, method string) {
	metrics.MirrorRequests.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	writeJSON(w, statusCode, data)
}

func (s *Server) fail(w http.ResponseWriter, err error, deviceID, method string) {
	s.logger.Error().Err(err).Str("device", deviceID).Msg("Mirror storage failure")
	s.writeError(w, http.StatusInternalServerError, "storage failure", method)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message, method string) {
	metrics.MirrorRequests.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	writeJSON(w, statusCode, map[string]string{"error": message})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}
