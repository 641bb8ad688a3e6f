package store

import (
	"fmt"
	"log/slog"
	"time"
)

// Compile-time check that PostgresStore implements DedupRepo.
var _ DedupRepo = (*PostgresStore)(nil)

// RecordInbound records the fingerprint if it is not already present inside
// the dedup window. ON CONFLICT DO NOTHING plus RowsAffected makes the check
// and insert atomic under concurrent deliveries.
func (s *PostgresStore) RecordInbound(fingerprint, sender string, window time.Duration) (bool, error) {
	now := time.Now()

	if _, err := s.db.Exec(`DELETE FROM inbound_dedup WHERE expires_at <= $1`, now); err != nil {
		slog.Warn("PostgresStore dedup purge failed", "error", err)
	}

	result, err := s.db.Exec(
		`INSERT INTO inbound_dedup (fingerprint, sender, received_at, expires_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (fingerprint) DO NOTHING`,
		fingerprint, sender, now, now.Add(window),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record inbound rows affected: %w", err)
	}
	return n > 0, nil
}
