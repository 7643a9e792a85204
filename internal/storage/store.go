package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// ErrQuotaExceeded is returned by Debit when the requested debit would
// push a device past its daily limit. The record is left untouched.
var ErrQuotaExceeded = errors.New("storage: quota exceeded")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Slots() SlotStore
	Usage() UsageStore
}

// SlotStore is durable string-keyed slot storage used by the client-side
// ledger: encoded ledger copies, the integrity salt, the first-seen reset
// timestamp, the device identifier and the difficulty state each occupy
// one named slot.
type SlotStore interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// UsageStore manages per-device usage records on the mirror side.
type UsageStore interface {
	Get(ctx context.Context, deviceID string) (*UsageRecord, error)
	Put(ctx context.Context, deviceID string, rec UsageRecord) error
	// Debit atomically adds tokens to a device's used count and returns
	// the updated record. ErrQuotaExceeded is returned, without any
	// mutation, when used+tokens would exceed the limit.
	Debit(ctx context.Context, deviceID string, tokens int) (*UsageRecord, error)
	Reset(ctx context.Context, deviceID string, rec UsageRecord) error
}
