package storage

import (
	"time"
)

// DefaultDailyLimit is the token allowance granted to a device per day.
const DefaultDailyLimit = 5000

// UsageRecord tracks a device's token consumption against its daily
// limit. Used never exceeds Limit after a successful write, and
// LastReset only moves forward for writes from the same device.
type UsageRecord struct {
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	LastReset time.Time `json:"lastReset"`
}

// NewUsageRecord returns a fresh record with nothing consumed.
func NewUsageRecord(limit int, now time.Time) UsageRecord {
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	return UsageRecord{Used: 0, Limit: limit, LastReset: now}
}

// Remaining returns the unconsumed portion of the allowance.
func (r UsageRecord) Remaining() int {
	remaining := r.Limit - r.Used
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Exhausted reports whether the device has no allowance left.
func (r UsageRecord) Exhausted() bool {
	return r.Used >= r.Limit
}

// Valid reports whether the record satisfies its structural invariants.
func (r UsageRecord) Valid() bool {
	return r.Used >= 0 && r.Limit > 0 && r.Used <= r.Limit && !r.LastReset.IsZero()
}
