package store

import "time"

// Outbox message statuses.
const (
	OutboxStatusQueued  = "queued"
	OutboxStatusSending = "sending"
	OutboxStatusSent    = "sent"
	OutboxStatusFailed  = "failed"
)

// OutboxMessage is one durable outbound send. Replies are enqueued in the
// same transaction scope as the state change that caused them, then delivered
// asynchronously by the OutboxSender, so a crash between state update and
// send never loses the patient-facing reply.
type OutboxMessage struct {
	ID          string
	PatientID   string
	Recipient   string
	Body        string
	DedupeKey   string
	Status      string
	Attempts    int
	NextRetryAt time.Time
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OutboxRepo persists outbound messages for at-least-once delivery.
type OutboxRepo interface {
	// EnqueueOutboxMessage inserts a queued message and returns its id. When
	// dedupeKey is non-empty and a row with the same key already exists, the
	// existing id is returned and no new row is created.
	EnqueueOutboxMessage(patientID, recipient, body, dedupeKey string) (string, error)
	// ClaimDueOutboxMessages atomically moves up to limit due queued messages
	// to sending and returns them.
	ClaimDueOutboxMessages(limit int, now time.Time) ([]OutboxMessage, error)
	// MarkOutboxMessageSent finalizes a successfully delivered message.
	MarkOutboxMessageSent(id string, at time.Time) error
	// FailOutboxMessage records a delivery failure. The message is requeued
	// with backoff until maxAttempts, then marked failed.
	FailOutboxMessage(id string, attempt int, maxAttempts int, cause string, now time.Time) error
	// RequeueStaleSendingMessages returns messages stuck in sending (for
	// longer than staleAfter) to the queue. Used on startup crash recovery.
	RequeueStaleSendingMessages(staleAfter time.Duration, now time.Time) (int, error)
}

// OutboxBackoff returns the retry delay before the given attempt number
// (1-based). Exponential with a cap.
func OutboxBackoff(attempt int) time.Duration {
	d := 30 * time.Second
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= 30*time.Minute {
			return 30 * time.Minute
		}
	}
	return d
}
