package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/adrifthq/adrift/internal/metrics"
	"github.com/adrifthq/adrift/internal/storage"
	"github.com/rs/zerolog"
)

// DivergencePolicy decides whether persisted state that differs from the
// trusted snapshot should be reverted. It is an interface so a future
// version can coordinate across writers instead of reverting blindly.
type DivergencePolicy interface {
	ShouldRevert(current, snapshot storage.UsageRecord) bool
}

// RollbackPolicy reverts divergence that looks like a rollback rather
// than forward progress: used decreased, limit changed, or lastReset
// changed. It cannot tell a concurrent legitimate writer (another
// process on the same device) from tampering and will revert it; that
// trade-off is accepted.
type RollbackPolicy struct{}

// ShouldRevert implements DivergencePolicy.
func (RollbackPolicy) ShouldRevert(current, snapshot storage.UsageRecord) bool {
	return current.Used < snapshot.Used ||
		current.Limit != snapshot.Limit ||
		!current.LastReset.Equal(snapshot.LastReset)
}

// Guard is the background reconciliation task. It periodically re-reads
// persisted state and restores the last known good snapshot when the
// policy flags the divergence.
type Guard struct {
	ledger   *Ledger
	interval time.Duration
	policy   DivergencePolicy
	logger   zerolog.Logger
	stopChan chan struct{}
	done     chan struct{}
}

func newGuard(l *Ledger, interval time.Duration, policy DivergencePolicy, logger zerolog.Logger) *Guard {
	return &Guard{
		ledger:   l,
		interval: interval,
		policy:   policy,
		logger:   logger.With().Str("component", "ledger-guard").Logger(),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (g *Guard) start() {
	go g.run()
	g.logger.Debug().Dur("interval", g.interval).Msg("Ledger guard started")
}

func (g *Guard) stop() {
	close(g.stopChan)
	<-g.done
	g.logger.Debug().Msg("Ledger guard stopped")
}

func (g *Guard) run() {
	defer close(g.done)
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.check()
		case <-g.stopChan:
			return
		}
	}
}

// check compares persisted state against the snapshot captured before
// the read, so a tampering write between ticks cannot hide behind its
// own refresh.
func (g *Guard) check() {
	ctx, cancel := context.WithTimeout(context.Background(), g.interval)
	defer cancel()

	snapshot := g.ledger.snapshot()
	if snapshot == nil {
		return
	}

	current, err := g.ledger.peek(ctx)
	if err != nil || current == nil {
		// Decode failures are healed by the next Load, not here.
		return
	}

	if !g.policy.ShouldRevert(*current, *snapshot) {
		return
	}

	g.logger.Warn().
		Int("current_used", current.Used).
		Int("snapshot_used", snapshot.Used).
		Msg("Ledger divergence detected, restoring last known good state")
	metrics.GuardReverts.Inc()

	if err := g.ledger.Save(ctx, *snapshot); err != nil {
		g.logger.Error().Err(err).Msg("Failed to restore ledger snapshot")
	}
}

// peek decodes the currently persisted entry without healing slots or
// touching the in-memory snapshot.
func (l *Ledger) peek(ctx context.Context) (*storage.UsageRecord, error) {
	first, err := l.firstReset(ctx)
	if err != nil {
		return nil, err
	}

	for _, slot := range []string{slotPrimary, slotBackup} {
		entry, err := l.slots.Get(ctx, slot)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if rec := l.codec.Decode(entry); rec != nil {
			rec.LastReset = first
			return rec, nil
		}
	}
	return nil, nil
}
