package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/RumahPulih/ObatPing/internal/util"
)

// Compile-time check that SQLiteStore implements OutboxRepo.
var _ OutboxRepo = (*SQLiteStore)(nil)

func (s *SQLiteStore) EnqueueOutboxMessage(patientID, recipient, body, dedupeKey string) (string, error) {
	id := util.GenerateRandomID("outbox_", 32)
	now := time.Now()

	if dedupeKey != "" {
		var existingID string
		err := s.db.QueryRow(
			`SELECT id FROM outbox_messages WHERE dedupe_key = ?`, dedupeKey,
		).Scan(&existingID)
		if err == nil {
			slog.Debug("SQLiteStore.EnqueueOutboxMessage: dedupe hit", "dedupeKey", dedupeKey, "existingID", existingID)
			return existingID, nil
		}
		if err != sql.ErrNoRows {
			return "", fmt.Errorf("outbox dedupe check failed: %w", err)
		}
	}

	_, err := s.db.Exec(
		`INSERT INTO outbox_messages (id, patient_id, recipient, body, dedupe_key, status, attempts, next_retry_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 'queued', 0, ?, ?, ?)`,
		id, patientID, recipient, body, dedupeKey, now, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue outbox message failed: %w", err)
	}
	slog.Debug("SQLiteStore.EnqueueOutboxMessage", "id", id, "patientID", patientID)
	return id, nil
}

func (s *SQLiteStore) ClaimDueOutboxMessages(limit int, now time.Time) ([]OutboxMessage, error) {
	rows, err := s.db.Query(
		`SELECT id, patient_id, recipient, body, dedupe_key, status, attempts, next_retry_at, last_error, created_at, updated_at
		 FROM outbox_messages WHERE status = 'queued' AND next_retry_at <= ?
		 ORDER BY created_at ASC LIMIT ?`,
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

	var claimed []OutboxMessage
	for _, m := range msgs {
		result, err := s.db.Exec(
			`UPDATE outbox_messages SET status = 'sending', updated_at = ? WHERE id = ? AND status = 'queued'`,
			now, m.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("mark outbox sending failed: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			continue
		}
		m.Status = OutboxStatusSending
		claimed = append(claimed, m)
	}
	return claimed, nil
}

func (s *SQLiteStore) MarkOutboxMessageSent(id string, at time.Time) error {
	_, err := s.db.Exec(
		`UPDATE outbox_messages SET status = 'sent', updated_at = ? WHERE id = ?`,
		at, id,
	)
	if err != nil {
		return fmt.Errorf("mark outbox sent failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FailOutboxMessage(id string, attempt int, maxAttempts int, cause string, now time.Time) error {
	status := OutboxStatusQueued
	if attempt >= maxAttempts {
		status = OutboxStatusFailed
		slog.Warn("SQLiteStore.FailOutboxMessage: giving up", "id", id, "attempts", attempt, "cause", cause)
	}
	_, err := s.db.Exec(
		`UPDATE outbox_messages SET status = ?, attempts = ?, last_error = ?, next_retry_at = ?, updated_at = ? WHERE id = ?`,
		status, attempt, cause, now.Add(OutboxBackoff(attempt)), now, id,
	)
	if err != nil {
		return fmt.Errorf("fail outbox message failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RequeueStaleSendingMessages(staleAfter time.Duration, now time.Time) (int, error) {
	result, err := s.db.Exec(
		`UPDATE outbox_messages SET status = 'queued', updated_at = ? WHERE status = 'sending' AND updated_at < ?`,
		now, now.Add(-staleAfter),
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale outbox messages failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info("SQLiteStore.RequeueStaleSendingMessages", "requeued", n)
	}
	return int(n), nil
}
