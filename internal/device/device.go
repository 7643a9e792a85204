// Package device provides the stable per-installation identifier used
// as the partition key for both the local ledger and the remote mirror.
package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/adrifthq/adrift/internal/storage"
	"github.com/google/uuid"
)

const slotDeviceID = "device-id"

// ID returns the persisted device identifier, generating and persisting
// a new one on first use.
func ID(ctx context.Context, slots storage.SlotStore) (string, error) {
	id, err := slots.Get(ctx, slotDeviceID)
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("read device id: %w", err)
	}

	id = uuid.NewString()
	if err := slots.Put(ctx, slotDeviceID, id); err != nil {
		return "", fmt.Errorf("persist device id: %w", err)
	}
	return id, nil
}
