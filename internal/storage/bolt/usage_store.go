package bolt

import (
	"context"
	"fmt"

	"github.com/adrifthq/adrift/internal/storage"
	"go.etcd.io/bbolt"
)

type usageStore struct {
	db *bbolt.DB
}

func (s *usageStore) Get(ctx context.Context, deviceID string) (*storage.UsageRecord, error) {
	return getBucketValue[storage.UsageRecord](ctx, s.db, bucketUsage, deviceID)
}

func (s *usageStore) Put(ctx context.Context, deviceID string, rec storage.UsageRecord) error {
	return putBucketValue(ctx, s.db, bucketUsage, deviceID, rec)
}

func (s *usageStore) Reset(ctx context.Context, deviceID string, rec storage.UsageRecord) error {
	return putBucketValue(ctx, s.db, bucketUsage, deviceID, rec)
}

// Debit adds tokens inside a single update transaction so concurrent
// debits against the same device cannot overshoot the limit.
func (s *usageStore) Debit(ctx context.Context, deviceID string, tokens int) (*storage.UsageRecord, error) {
	var updated storage.UsageRecord
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketUsage))
		if b == nil {
			return fmt.Errorf("usage bucket missing")
		}
		data := b.Get([]byte(deviceID))
		if data == nil {
			return storage.ErrNotFound
		}
		var rec storage.UsageRecord
		if err := unmarshal(data, &rec); err != nil {
			return err
		}
		if rec.Used+tokens > rec.Limit {
			return storage.ErrQuotaExceeded
		}
		rec.Used += tokens
		out, err := marshal(rec)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(deviceID), out); err != nil {
			return err
		}
		updated = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}
