// Package ledger keeps the client-side quota record durable and tamper
// evident: a keyed codec signs every encoded record, a slot-backed store
// keeps a primary and a backup copy, and a background guard reverts
// rollback-shaped divergence.
package ledger

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adrifthq/adrift/internal/metrics"
	"github.com/adrifthq/adrift/internal/storage"
	"github.com/rs/zerolog"
)

// secret is the process-wide signing key mixed into every hash. Together
// with the per-device salt it makes casually edited ledger entries fail
// verification. The rolling hash below is NOT a cryptographic MAC: an
// attacker who reads this source can forge entries. That is a deliberate
// scope boundary; the codec deters storage-inspector tampering, nothing
// stronger.
const secret = "adrift-ledger-v1"

// maxEntryAge rejects entries whose embedded encode timestamp is older
// than a day, independent of the record's lastReset.
const maxEntryAge = 24 * time.Hour

// ErrInvalidRecord is returned by Encode for records that violate the
// usage invariants.
var ErrInvalidRecord = errors.New("ledger: invalid usage record")

// rejectReason is the loggable cause of a Decode rejection. Callers only
// ever see nil; the reason goes to the log and the integrity metric.
type rejectReason string

const (
	rejectMalformed rejectReason = "malformed"
	rejectSignature rejectReason = "signature_mismatch"
	rejectExpired   rejectReason = "expired"
	rejectStructure rejectReason = "invalid_structure"
	rejectChecksum  rejectReason = "checksum_mismatch"
	rejectIntegrity rejectReason = "integrity_mismatch"
)

// Codec turns usage records into signed, timestamped, device-bound
// strings and back.
type Codec struct {
	salt   string
	logger zerolog.Logger
	now    func() time.Time
}

// NewCodec creates a codec bound to a device's persisted integrity salt.
func NewCodec(salt string, logger zerolog.Logger) *Codec {
	return &Codec{
		salt:   salt,
		logger: logger.With().Str("component", "ledger-codec").Logger(),
		now:    time.Now,
	}
}

// Encode produces the wire form of a record:
//
//	base64(payload) . base36(ms-timestamp) . signature . checksum . integrityHash
//
// The dot delimiter appears in neither the base64 nor the base36
// alphabet, so the fields split unambiguously.
func (c *Codec) Encode(rec storage.UsageRecord) (string, error) {
	if !rec.Valid() {
		return "", ErrInvalidRecord
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(payload)
	timestamp := strconv.FormatInt(c.now().UnixMilli(), 36)
	signature := polyHash(encoded + timestamp + secret)
	checksum := polyHash(checksumInput(rec))
	integrity := polyHash(integrityInput(rec, c.salt))

	return strings.Join([]string{encoded, timestamp, signature, checksum, integrity}, "."), nil
}

// Decode verifies and recovers a record. It returns nil, never an
// error, on any verification failure; each failure mode is logged with
// its own reason.
func (c *Codec) Decode(entry string) *storage.UsageRecord {
	parts := strings.Split(entry, ".")
	if len(parts) != 5 {
		return c.reject(rejectMalformed)
	}
	encoded, timestamp, signature, checksum, integrity := parts[0], parts[1], parts[2], parts[3], parts[4]
	if encoded == "" || timestamp == "" || signature == "" || checksum == "" || integrity == "" {
		return c.reject(rejectMalformed)
	}

	if polyHash(encoded+timestamp+secret) != signature {
		return c.reject(rejectSignature)
	}

	encodedAt, err := strconv.ParseInt(timestamp, 36, 64)
	if err != nil {
		return c.reject(rejectMalformed)
	}
	if c.now().Sub(time.UnixMilli(encodedAt)) > maxEntryAge {
		return c.reject(rejectExpired)
	}

	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return c.reject(rejectMalformed)
	}

	var rec storage.UsageRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return c.reject(rejectMalformed)
	}
	if !rec.Valid() {
		return c.reject(rejectStructure)
	}

	if polyHash(checksumInput(rec)) != checksum {
		return c.reject(rejectChecksum)
	}

	// An integrity mismatch with a valid checksum means the salt differs:
	// the entry was minted on another device.
	if polyHash(integrityInput(rec, c.salt)) != integrity {
		return c.reject(rejectIntegrity)
	}

	return &rec
}

func (c *Codec) reject(reason rejectReason) *storage.UsageRecord {
	c.logger.Warn().Str("reason", string(reason)).Msg("Rejected ledger entry")
	metrics.IntegrityFailures.WithLabelValues(string(reason)).Inc()
	return nil
}

func checksumInput(rec storage.UsageRecord) string {
	return fmt.Sprintf("%d:%d:%s:%s", rec.Used, rec.Limit, formatReset(rec.LastReset), secret)
}

func integrityInput(rec storage.UsageRecord, salt string) string {
	return fmt.Sprintf("%d:%d:%s:%s:%s", rec.Used, rec.Limit, formatReset(rec.LastReset), salt, secret)
}

func formatReset(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// polyHash is an order-sensitive rolling polynomial hash with 32-bit
// wraparound, rendered in base36. Collision-weak and trivially
// forgeable; see the note on secret above.
func polyHash(s string) string {
	var h int32
	for _, c := range s {
		h = h*31 + int32(c)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return strconv.FormatInt(v, 36)
}
