package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/RumahPulih/ObatPing/internal/util"
)

// Compile-time check that PostgresStore implements OutboxRepo.
var _ OutboxRepo = (*PostgresStore)(nil)

func (s *PostgresStore) EnqueueOutboxMessage(patientID, recipient, body, dedupeKey string) (string, error) {
	id := util.GenerateRandomID("outbox_", 32)
	now := time.Now()

	if dedupeKey != "" {
		var existingID string
		err := s.db.QueryRow(
			`SELECT id FROM outbox_messages WHERE dedupe_key = $1`, dedupeKey,
		).Scan(&existingID)
		if err == nil {
			slog.Debug("PostgresStore.EnqueueOutboxMessage: dedupe hit", "dedupeKey", dedupeKey, "existingID", existingID)
			return existingID, nil
		}
		if err != sql.ErrNoRows {
			return "", fmt.Errorf("outbox dedupe check failed: %w", err)
		}
	}

	_, err := s.db.Exec(
		`INSERT INTO outbox_messages (id, patient_id, recipient, body, dedupe_key, status, attempts, next_retry_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 'queued', 0, $6, $6, $6)`,
		id, patientID, recipient, body, dedupeKey, now,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue outbox message failed: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) ClaimDueOutboxMessages(limit int, now time.Time) ([]OutboxMessage, error) {
	// FOR UPDATE SKIP LOCKED lets multiple senders claim disjoint batches.
	rows, err := s.db.Query(
		`UPDATE outbox_messages SET status = 'sending', updated_at = $1
		 WHERE id IN (
		   SELECT id FROM outbox_messages WHERE status = 'queued' AND next_retry_at <= $1
		   ORDER BY created_at ASC LIMIT $2 FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, patient_id, recipient, body, dedupe_key, status, attempts, next_retry_at, last_error, created_at, updated_at`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due outbox messages failed: %w", err)
	}
	defer rows.Close()

	var msgs []OutboxMessage
	for rows.Next() {
		m, err := scanOutboxMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim outbox iteration failed: %w", err)
	}
	return msgs, nil
}

func (s *PostgresStore) MarkOutboxMessageSent(id string, at time.Time) error {
	_, err := s.db.Exec(
		`UPDATE outbox_messages SET status = 'sent', updated_at = $1 WHERE id = $2`,
		at, id,
	)
	if err != nil {
		return fmt.Errorf("mark outbox sent failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) FailOutboxMessage(id string, attempt int, maxAttempts int, cause string, now time.Time) error {
	status := OutboxStatusQueued
	if attempt >= maxAttempts {
		status = OutboxStatusFailed
		slog.Warn("PostgresStore.FailOutboxMessage: giving up", "id", id, "attempts", attempt, "cause", cause)
	}
	_, err := s.db.Exec(
		`UPDATE outbox_messages SET status = $1, attempts = $2, last_error = $3, next_retry_at = $4, updated_at = $5 WHERE id = $6`,
		status, attempt, cause, now.Add(OutboxBackoff(attempt)), now, id,
	)
	if err != nil {
		return fmt.Errorf("fail outbox message failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) RequeueStaleSendingMessages(staleAfter time.Duration, now time.Time) (int, error) {
	result, err := s.db.Exec(
		`UPDATE outbox_messages SET status = 'queued', updated_at = $1 WHERE status = 'sending' AND updated_at < $2`,
		now, now.Add(-staleAfter),
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale outbox messages failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info("PostgresStore.RequeueStaleSendingMessages", "requeued", n)
	}
	return int(n), nil
}
