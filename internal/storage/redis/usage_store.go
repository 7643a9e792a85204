package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adrifthq/adrift/internal/storage"
	"github.com/redis/go-redis/v9"
)

type usageStore struct {
	client *redis.Client
}

func usageKey(deviceID string) string {
	return fmt.Sprintf("adrift:usage:%s", deviceID)
}

// Get retrieves a device's usage record
func (s *usageStore) Get(ctx context.Context, deviceID string) (*storage.UsageRecord, error) {
	data, err := s.client.HGetAll(ctx, usageKey(deviceID)).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}
	return parseUsageRecord(data)
}

// Put writes a device's usage record
func (s *usageStore) Put(ctx context.Context, deviceID string, rec storage.UsageRecord) error {
	return s.client.HSet(ctx, usageKey(deviceID), map[string]interface{}{
		"used":       rec.Used,
		"limit":      rec.Limit,
		"last_reset": rec.LastReset.UTC().Format(time.RFC3339Nano),
	}).Err()
}

// Reset overwrites a device's usage record with a fresh allowance
func (s *usageStore) Reset(ctx context.Context, deviceID string, rec storage.UsageRecord) error {
	return s.Put(ctx, deviceID, rec)
}

// Debit atomically applies a token debit via a Lua script
func (s *usageStore) Debit(ctx context.Context, deviceID string, tokens int) (*storage.UsageRecord, error) {
	script := redis.NewScript(debitScript)

	result, err := script.Run(ctx, s.client, []string{usageKey(deviceID)}, tokens).Result()
	if err != nil {
		switch {
		case strings.Contains(err.Error(), "not_found"):
			return nil, storage.ErrNotFound
		case strings.Contains(err.Error(), "exceeded"):
			return nil, storage.ErrQuotaExceeded
		}
		return nil, err
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return nil, fmt.Errorf("unexpected debit script result: %v", result)
	}
	used, ok := values[0].(int64)
	if !ok {
		return nil, fmt.Errorf("unexpected debit script used value: %v", values[0])
	}
	limit, ok := values[1].(int64)
	if !ok {
		return nil, fmt.Errorf("unexpected debit script limit value: %v", values[1])
	}

	// Re-read last_reset; the script does not touch it
	lastReset, err := s.client.HGet(ctx, usageKey(deviceID), "last_reset").Result()
	if err != nil {
		return nil, err
	}
	ts, err := time.Parse(time.RFC3339Nano, lastReset)
	if err != nil {
		return nil, fmt.Errorf("invalid last_reset in store: %w", err)
	}

	return &storage.UsageRecord{Used: int(used), Limit: int(limit), LastReset: ts}, nil
}

func parseUsageRecord(data map[string]string) (*storage.UsageRecord, error) {
	used, err := strconv.Atoi(data["used"])
	if err != nil {
		return nil, fmt.Errorf("invalid used value: %w", err)
	}
	limit, err := strconv.Atoi(data["limit"])
	if err != nil {
		return nil, fmt.Errorf("invalid limit value: %w", err)
	}
	lastReset, err := time.Parse(time.RFC3339Nano, data["last_reset"])
	if err != nil {
		return nil, fmt.Errorf("invalid last_reset value: %w", err)
	}
	return &storage.UsageRecord{Used: used, Limit: limit, LastReset: lastReset}, nil
}
