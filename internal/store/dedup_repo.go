package store

import "time"

// DedupRepo is the idempotency ledger for inbound webhook events.
//
// RecordInbound atomically records the event fingerprint and reports whether
// it was fresh. A false return means an equivalent event was already recorded
// inside the dedup window and the caller must treat the event as a replay.
// The check and the insert are a single statement so that two concurrent
// deliveries of the same event cannot both observe "fresh".
type DedupRepo interface {
	RecordInbound(fingerprint, sender string, window time.Duration) (fresh bool, err error)
}
