package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/adrifthq/adrift/internal/config"
	"github.com/adrifthq/adrift/internal/storage"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	mr := miniredis.RunT(t)

	cfg := config.RedisConfig{
		Host:         mr.Addr(), // full "host:port" address
		Port:         0,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSlotStore_PutGetDelete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	slots := store.Slots()

	if _, err := slots.Get(ctx, "token-usage"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for missing slot, got %v", err)
	}

	if err := slots.Put(ctx, "token-usage", "encoded-entry"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	value, err := slots.Get(ctx, "token-usage")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if value != "encoded-entry" {
		t.Errorf("Expected %q, got %q", "encoded-entry", value)
	}

	if err := slots.Delete(ctx, "token-usage"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := slots.Get(ctx, "token-usage"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestUsageStore_PutGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	usage := store.Usage()

	rec := storage.UsageRecord{Used: 250, Limit: 5000, LastReset: time.Now().UTC()}
	if err := usage.Put(ctx, "device-1", rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := usage.Get(ctx, "device-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Used != 250 || got.Limit != 5000 {
		t.Errorf("Got %d/%d, want 250/5000", got.Used, got.Limit)
	}
	if !got.LastReset.Equal(rec.LastReset) {
		t.Errorf("LastReset = %v, want %v", got.LastReset, rec.LastReset)
	}
}

func TestUsageStore_GetMissing(t *testing.T) {
	store := setupTestStore(t)

	if _, err := store.Usage().Get(context.Background(), "unknown"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestUsageStore_DebitScript(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	usage := store.Usage()

	rec := storage.UsageRecord{Used: 4000, Limit: 5000, LastReset: time.Now().UTC()}
	if err := usage.Put(ctx, "device-1", rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	updated, err := usage.Debit(ctx, "device-1", 800)
	if err != nil {
		t.Fatalf("Debit failed: %v", err)
	}
	if updated.Used != 4800 || updated.Limit != 5000 {
		t.Errorf("Got %d/%d, want 4800/5000", updated.Used, updated.Limit)
	}
	if !updated.LastReset.Equal(rec.LastReset) {
		t.Errorf("Debit changed LastReset: %v", updated.LastReset)
	}

	// Overflowing debit fails without changing the record
	if _, err := usage.Debit(ctx, "device-1", 300); !errors.Is(err, storage.ErrQuotaExceeded) {
		t.Fatalf("Expected ErrQuotaExceeded, got %v", err)
	}

	got, err := usage.Get(ctx, "device-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Used != 4800 {
		t.Errorf("Used changed by a refused debit: %d", got.Used)
	}

	// Exact fit is allowed
	if _, err := usage.Debit(ctx, "device-1", 200); err != nil {
		t.Fatalf("Exact-fit debit failed: %v", err)
	}
}

func TestUsageStore_DebitMissingDevice(t *testing.T) {
	store := setupTestStore(t)

	if _, err := store.Usage().Debit(context.Background(), "unknown", 100); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestUsageStore_Reset(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	usage := store.Usage()

	_ = usage.Put(ctx, "device-1", storage.UsageRecord{Used: 5000, Limit: 5000, LastReset: time.Now().Add(-25 * time.Hour)})

	fresh := storage.NewUsageRecord(5000, time.Now())
	if err := usage.Reset(ctx, "device-1", fresh); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	got, err := usage.Get(ctx, "device-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Used != 0 {
		t.Errorf("Used = %d after reset, want 0", got.Used)
	}
}

func TestOpen_BadAddress(t *testing.T) {
	cfg := config.RedisConfig{
		Host:        "127.0.0.1",
		Port:        1, // nothing listens here
		DialTimeout: "100ms",
	}

	if _, err := Open(cfg); err == nil {
		t.Error("Expected Open to fail against a dead address")
	}
}
