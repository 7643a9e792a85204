package bolt

import (
	"context"

	"github.com/adrifthq/adrift/internal/storage"
	"go.etcd.io/bbolt"
)

type slotStore struct {
	db *bbolt.DB
}

func (s *slotStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketSlots))
		if b == nil {
			return storage.ErrNotFound
		}
		data := b.Get([]byte(key))
		if data == nil {
			return storage.ErrNotFound
		}
		value = string(data)
		return nil
	})
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *slotStore) Put(ctx context.Context, key, value string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketSlots))
		if b == nil {
			return storage.ErrNotFound
		}
		return b.Put([]byte(key), []byte(value))
	})
}

func (s *slotStore) Delete(ctx context.Context, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketSlots))
		if b == nil {
			return storage.ErrNotFound
		}
		return b.Delete([]byte(key))
	})
}
