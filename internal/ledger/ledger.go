package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adrifthq/adrift/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Slot keys used by the ledger. Primary and backup hold the same
// encoded entry except during a detected-corruption recovery window.
const (
	slotPrimary    = "token-usage"
	slotBackup     = "token-usage-backup"
	slotFirstReset = "token-reset-timestamp"
	slotSalt       = "token-integrity-salt"
)

// DefaultGuardInterval is how often the reconciliation guard re-checks
// persisted state against the last known good snapshot.
const DefaultGuardInterval = time.Second

// Ledger persists the device's usage record with tamper evidence and
// self-healing across a primary and a backup slot.
type Ledger struct {
	slots  storage.SlotStore
	codec  *Codec
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.Mutex
	lastKnown *storage.UsageRecord
	guard     *Guard
	guardIvl  time.Duration
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithGuardInterval overrides the reconciliation interval.
func WithGuardInterval(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.guardIvl = d
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
		l.codec.now = now
	}
}

// New opens the ledger over a slot store, creating the per-device
// integrity salt on first use.
func New(ctx context.Context, slots storage.SlotStore, logger zerolog.Logger, opts ...Option) (*Ledger, error) {
	salt, err := loadOrCreateSalt(ctx, slots)
	if err != nil {
		return nil, fmt.Errorf("integrity salt: %w", err)
	}

	l := &Ledger{
		slots:    slots,
		codec:    NewCodec(salt, logger),
		logger:   logger.With().Str("component", "ledger").Logger(),
		now:      time.Now,
		guardIvl: DefaultGuardInterval,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func loadOrCreateSalt(ctx context.Context, slots storage.SlotStore) (string, error) {
	salt, err := slots.Get(ctx, slotSalt)
	if err == nil && salt != "" {
		return salt, nil
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}
	salt = uuid.NewString()
	if err := slots.Put(ctx, slotSalt, salt); err != nil {
		return "", err
	}
	return salt, nil
}

// firstReset returns the persisted first-seen reset timestamp, creating
// it on first access.
func (l *Ledger) firstReset(ctx context.Context) (time.Time, error) {
	stored, err := l.slots.Get(ctx, slotFirstReset)
	if err == nil {
		if ts, perr := time.Parse(time.RFC3339Nano, stored); perr == nil {
			return ts, nil
		}
		// Unparseable value: fall through and rewrite it.
	} else if !errors.Is(err, storage.ErrNotFound) {
		return time.Time{}, err
	}
	now := l.now()
	if err := l.slots.Put(ctx, slotFirstReset, now.UTC().Format(time.RFC3339Nano)); err != nil {
		return time.Time{}, err
	}
	return now, nil
}

// Save encodes the record and writes identical copies to the primary
// and backup slots. A zero LastReset is stamped from the persisted
// first-seen timestamp. The reconciliation guard is started on the
// first successful save.
func (l *Ledger) Save(ctx context.Context, rec storage.UsageRecord) error {
	if rec.LastReset.IsZero() {
		first, err := l.firstReset(ctx)
		if err != nil {
			return err
		}
		rec.LastReset = first
	}

	entry, err := l.codec.Encode(rec)
	if err != nil {
		return err
	}

	if err := l.slots.Put(ctx, slotPrimary, entry); err != nil {
		return fmt.Errorf("write primary slot: %w", err)
	}
	if err := l.slots.Put(ctx, slotBackup, entry); err != nil {
		return fmt.Errorf("write backup slot: %w", err)
	}
	if err := l.slots.Put(ctx, slotFirstReset, rec.LastReset.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("write reset timestamp: %w", err)
	}

	l.mu.Lock()
	snapshot := rec
	l.lastKnown = &snapshot
	if l.guard == nil {
		l.guard = newGuard(l, l.guardIvl, RollbackPolicy{}, l.logger)
		l.guard.start()
	}
	l.mu.Unlock()

	return nil
}

// Load recovers the current record. The primary slot is tried first; a
// good primary re-syncs a divergent backup. A bad primary falls back to
// the backup, which then restores the primary. When both fail, both
// slots are cleared and nil is returned. The returned record carries the
// persisted first-seen reset timestamp.
func (l *Ledger) Load(ctx context.Context) (*storage.UsageRecord, error) {
	first, err := l.firstReset(ctx)
	if err != nil {
		return nil, err
	}

	primary, perr := l.slots.Get(ctx, slotPrimary)
	backup, berr := l.slots.Get(ctx, slotBackup)
	if perr != nil && !errors.Is(perr, storage.ErrNotFound) {
		return nil, perr
	}
	if berr != nil && !errors.Is(berr, storage.ErrNotFound) {
		return nil, berr
	}

	if primary != "" {
		if rec := l.codec.Decode(primary); rec != nil {
			rec.LastReset = first
			if backup != primary {
				if err := l.slots.Put(ctx, slotBackup, primary); err != nil {
					l.logger.Error().Err(err).Msg("Failed to re-sync backup slot")
				}
			}
			l.setLastKnown(rec)
			return rec, nil
		}
	}

	if backup != "" {
		if rec := l.codec.Decode(backup); rec != nil {
			rec.LastReset = first
			if err := l.slots.Put(ctx, slotPrimary, backup); err != nil {
				l.logger.Error().Err(err).Msg("Failed to restore primary slot from backup")
			}
			l.logger.Info().Msg("Recovered ledger from backup slot")
			l.setLastKnown(rec)
			return rec, nil
		}
	}

	// Both slots unusable: clear them so the caller re-initializes.
	_ = l.deleteSlot(ctx, slotPrimary)
	_ = l.deleteSlot(ctx, slotBackup)
	l.setLastKnown(nil)
	return nil, nil
}

func (l *Ledger) deleteSlot(ctx context.Context, key string) error {
	err := l.slots.Delete(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

func (l *Ledger) setLastKnown(rec *storage.UsageRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec == nil {
		l.lastKnown = nil
		return
	}
	snapshot := *rec
	l.lastKnown = &snapshot
}

func (l *Ledger) snapshot() *storage.UsageRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lastKnown == nil {
		return nil
	}
	snapshot := *l.lastKnown
	return &snapshot
}

// Close stops the reconciliation guard. The slot store itself is owned
// by the caller.
func (l *Ledger) Close() {
	l.mu.Lock()
	guard := l.guard
	l.guard = nil
	l.mu.Unlock()
	if guard != nil {
		guard.stop()
	}
}
