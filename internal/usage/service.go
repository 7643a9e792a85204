// Package usage reconciles the local token ledger with the remote usage
// mirror and presents a single metering surface to the rest of the client.
package usage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/adrifthq/adrift/internal/ledger"
	"github.com/adrifthq/adrift/internal/metrics"
	"github.com/adrifthq/adrift/internal/quota"
	"github.com/adrifthq/adrift/internal/storage"
)

// DefaultPollInterval is how often the background refresh loop asks the
// mirror (or ledger) for the current record.
const DefaultPollInterval = 60 * time.Second

// Remote is the subset of the mirror client the service depends on. A nil
// Remote puts the service in local-only mode, metering purely against the
// ledger.
type Remote interface {
	GetUsage(ctx context.Context, deviceID string) (*storage.UsageRecord, error)
	Debit(ctx context.Context, deviceID string, tokens int) (*storage.UsageRecord, error)
}

// Service meters token consumption for one device. All methods are safe for
// concurrent use.
type Service struct {
	deviceID string
	remote   Remote
	ledger   *ledger.Ledger
	limit    int
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	current storage.UsageRecord

	pollMu   sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
	updates  chan storage.UsageRecord
}

// Option configures a Service.
type Option func(*Service)

// WithRemote attaches a mirror client. Without it the service runs
// local-only.
func WithRemote(r Remote) Option {
	return func(s *Service) { s.remote = r }
}

// WithDailyLimit overrides the default daily token limit used when a record
// has to be created from scratch.
func WithDailyLimit(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.limit = limit
		}
	}
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds a usage service over the given ledger.
func NewService(deviceID string, led *ledger.Ledger, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		deviceID: deviceID,
		ledger:   led,
		limit:    storage.DefaultDailyLimit,
		logger:   logger.With().Str("component", "usage").Logger(),
		now:      time.Now,
		updates:  make(chan storage.UsageRecord, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.current = storage.NewUsageRecord(s.limit, s.now())
	return s
}

// GetUsage returns the current usage record, refreshing it from the mirror
// when one is configured and from the ledger otherwise. It never fails
// outward: on any error the last known record is returned so the game keeps
// running.
func (s *Service) GetUsage(ctx context.Context) storage.UsageRecord {
	if s.remote != nil {
		rec, err := s.remote.GetUsage(ctx, s.deviceID)
		if err != nil {
			s.logger.Warn().Err(err).Msg("mirror fetch failed, using last known usage")
			return s.Current()
		}
		s.setCurrent(ctx, *rec)
		return *rec
	}
	return s.refreshLocal(ctx)
}

func (s *Service) refreshLocal(ctx context.Context) storage.UsageRecord {
	now := s.now()

	rec, err := s.ledger.Load(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("ledger load failed, using last known usage")
		return s.Current()
	}
	if rec == nil {
		fresh := storage.NewUsageRecord(s.limit, now)
		if err := s.ledger.Save(ctx, fresh); err != nil {
			s.logger.Warn().Err(err).Msg("ledger save failed")
		}
		s.setCurrentLocked(fresh)
		return fresh
	}

	if quota.ShouldReset(rec.LastReset, now) {
		reset := storage.NewUsageRecord(rec.Limit, now)
		if err := s.ledger.Save(ctx, reset); err != nil {
			s.logger.Warn().Err(err).Msg("ledger save failed during reset")
		}
		metrics.QuotaResets.Inc()
		s.logger.Info().Time("previousReset", rec.LastReset).Msg("daily quota reset")
		s.setCurrentLocked(reset)
		return reset
	}

	s.setCurrentLocked(*rec)
	return *rec
}

// Debit charges the sanitized token total from the given metrics against the
// quota. It returns true when the charge was applied and tokens remain
// available afterwards. A charge that would push usage past the limit, or
// that the mirror rejects, is refused without mutating any state.
func (s *Service) Debit(ctx context.Context, m quota.TokenMetrics) bool {
	m = m.Sanitize(s.now())
	tokens := m.TotalTokens
	if tokens <= 0 {
		return s.HasTokens()
	}

	usage := s.GetUsage(ctx)
	if usage.Used+tokens > usage.Limit {
		s.logger.Warn().
			Int("requested", tokens).
			Int("used", usage.Used).
			Int("limit", usage.Limit).
			Msg("debit refused: would exceed daily limit")
		return false
	}

	if s.remote != nil {
		updated, err := s.remote.Debit(ctx, s.deviceID, tokens)
		if err != nil {
			if errors.Is(err, storage.ErrQuotaExceeded) {
				s.logger.Warn().Int("requested", tokens).Msg("debit refused by mirror")
				return false
			}
			s.logger.Warn().Err(err).Msg("mirror debit failed, charge not applied")
			return false
		}
		s.setCurrent(ctx, *updated)
		metrics.TokensConsumed.WithLabelValues(s.deviceID).Add(float64(tokens))
		return updated.Used < updated.Limit
	}

	usage.Used += tokens
	if err := s.ledger.Save(ctx, usage); err != nil {
		s.logger.Error().Err(err).Msg("ledger save failed, charge not applied")
		return false
	}
	s.setCurrentLocked(usage)
	metrics.TokensConsumed.WithLabelValues(s.deviceID).Add(float64(tokens))
	return !usage.Exhausted()
}

// DebitRaw parses provider metrics in any of the supported shapes and debits
// the result. Unparseable metrics are refused.
func (s *Service) DebitRaw(ctx context.Context, raw []byte) bool {
	m, err := quota.ParseMetrics(raw, s.now())
	if err != nil {
		s.logger.Warn().Err(err).Msg("unrecognized token metrics, charge refused")
		return false
	}
	return s.Debit(ctx, m)
}

// Affordable reports whether enough tokens remain to start the given
// operation.
func (s *Service) Affordable(op quota.Operation) bool {
	return quota.IsAffordable(s.Current(), op)
}

// HasTokens reports whether any tokens remain in the current record.
func (s *Service) HasTokens() bool {
	rec := s.Current()
	return rec.Used < rec.Limit
}

// Current returns the last known usage record without touching storage.
func (s *Service) Current() storage.UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// setCurrent updates the cached record and keeps the local ledger in sync
// with what the mirror reported.
func (s *Service) setCurrent(ctx context.Context, rec storage.UsageRecord) {
	if err := s.ledger.Save(ctx, rec); err != nil {
		s.logger.Warn().Err(err).Msg("ledger sync failed")
	}
	s.setCurrentLocked(rec)
}

func (s *Service) setCurrentLocked(rec storage.UsageRecord) {
	s.mu.Lock()
	s.current = rec
	s.mu.Unlock()
	s.publish(rec)
}

func (s *Service) publish(rec storage.UsageRecord) {
	for {
		select {
		case s.updates <- rec:
			return
		default:
			select {
			case <-s.updates:
			default:
			}
		}
	}
}

// Updates returns a channel carrying the most recent usage record. Stale
// values are dropped; receivers always observe the latest state.
func (s *Service) Updates() <-chan storage.UsageRecord {
	return s.updates
}

// StartPolling begins a background refresh loop. Zero or negative intervals
// fall back to DefaultPollInterval. Calling it twice is a no-op.
func (s *Service) StartPolling(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	if s.stopChan != nil {
		return
	}
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(interval, s.stopChan, s.done)
}

// StopPolling stops the refresh loop and waits for it to exit.
func (s *Service) StopPolling() {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	if s.stopChan == nil {
		return
	}
	close(s.stopChan)
	<-s.done
	s.stopChan = nil
	s.done = nil
}

func (s *Service) run(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			s.GetUsage(ctx)
			cancel()
		}
	}
}
