package store

import (
	"fmt"
	"log/slog"
	"time"
)

// Compile-time check that SQLiteStore implements DedupRepo.
var _ DedupRepo = (*SQLiteStore)(nil)

// RecordInbound records the fingerprint if it is not already present inside
// the dedup window. The insert is the check: INSERT OR IGNORE plus
// RowsAffected makes the operation atomic under concurrent deliveries.
func (s *SQLiteStore) RecordInbound(fingerprint, sender string, window time.Duration) (bool, error) {
	now := time.Now()

	// Opportunistic purge of expired entries keeps the table bounded and
	// lets a fingerprint be accepted again after the window passes.
	if _, err := s.db.Exec(`DELETE FROM inbound_dedup WHERE expires_at <= ?`, now); err != nil {
		slog.Warn("SQLiteStore dedup purge failed", "error", err)
	}

	result, err := s.db.Exec(
		`INSERT OR IGNORE INTO inbound_dedup (fingerprint, sender, received_at, expires_at) VALUES (?, ?, ?, ?)`,
		fingerprint, sender, now, now.Add(window),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record inbound rows affected: %w", err)
	}
	fresh := n > 0
	if !fresh {
		slog.Debug("SQLiteStore.RecordInbound duplicate", "fingerprint", fingerprint, "sender", sender)
	}
	return fresh, nil
}
