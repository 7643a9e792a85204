package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Token metrics
	TokensConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adrift_tokens_consumed_total",
			Help: "Total tokens debited against device quotas",
		},
		[]string{"device"},
	)

	QuotaBlocked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adrift_quota_blocked_total",
			Help: "Operations skipped because the quota check failed",
		},
		[]string{"operation"},
	)

	QuotaResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adrift_quota_resets_total",
			Help: "Daily allowance resets applied",
		},
	)

	// Ledger integrity metrics
	IntegrityFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adrift_ledger_integrity_failures_total",
			Help: "Ledger entries rejected during decode",
		},
		[]string{"reason"},
	)

	GuardReverts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adrift_ledger_guard_reverts_total",
			Help: "Ledger states reverted by the reconciliation guard",
		},
	)

	// Gateway metrics
	GatewayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adrift_gateway_requests_total",
			Help: "Generation gateway requests by outcome",
		},
		[]string{"outcome"},
	)

	GatewayDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "adrift_gateway_request_duration_seconds",
			Help:    "Generation gateway request duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// Mirror metrics
	MirrorRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adrift_mirror_requests_total",
			Help: "Usage mirror requests by method and status",
		},
		[]string{"method", "status"},
	)

	MirrorCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adrift_mirror_cache_hits_total",
			Help: "Usage mirror record cache hits",
		},
	)

	MirrorCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adrift_mirror_cache_misses_total",
			Help: "Usage mirror record cache misses",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TokensConsumed,
		QuotaBlocked,
		QuotaResets,
		IntegrityFailures,
		GuardReverts,
		GatewayRequests,
		GatewayDuration,
		MirrorRequests,
		MirrorCacheHits,
		MirrorCacheMisses,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
