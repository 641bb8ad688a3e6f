package store

import (
	"database/sql"
	"fmt"

	"github.com/RumahPulih/ObatPing/internal/models"
)

const reminderColumns = `SELECT id, patient_id, medication_name, body, status, confirmation_status, confirmation_response, confirmation_response_at, scheduled_at, sent_at, created_at, updated_at`

// scanPatient scans a Patient from sql.Rows.
func scanPatient(rows *sql.Rows) (*models.Patient, error) {
	var p models.Patient
	err := rows.Scan(&p.ID, &p.Name, &p.PhoneNumber, &p.VerificationStatus, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan patient failed: %w", err)
	}
	return &p, nil
}

// scanPatientRow scans a Patient from a single sql.Row.
func scanPatientRow(row *sql.Row) (*models.Patient, error) {
	var p models.Patient
	err := row.Scan(&p.ID, &p.Name, &p.PhoneNumber, &p.VerificationStatus, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// scanReminderRow scans a Reminder from a single sql.Row.
func scanReminderRow(row *sql.Row) (*models.Reminder, error) {
	var r models.Reminder
	var response sql.NullString
	var responseAt, sentAt sql.NullTime
	err := row.Scan(
		&r.ID, &r.PatientID, &r.MedicationName, &r.Body, &r.Status, &r.ConfirmationStatus,
		&response, &responseAt, &r.ScheduledAt, &sentAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.ConfirmationResponse = response.String
	if responseAt.Valid {
		r.ConfirmationResponseAt = &responseAt.Time
	}
	if sentAt.Valid {
		r.SentAt = &sentAt.Time
	}
	return &r, nil
}

// scanConversationStateRow scans a ConversationState from a single sql.Row.
func scanConversationStateRow(row *sql.Row) (*models.ConversationState, error) {
	var cs models.ConversationState
	var expiresAt sql.NullTime
	err := row.Scan(
		&cs.ID, &cs.PatientID, &cs.PhoneNumber, &cs.CurrentContext, &cs.RelatedEntityType,
		&cs.RelatedEntityID, &expiresAt, &cs.MessageCount, &cs.CreatedAt, &cs.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		cs.ExpiresAt = &expiresAt.Time
	}
	return &cs, nil
}

// scanOutboxMessage scans an OutboxMessage from sql.Rows.
func scanOutboxMessage(rows *sql.Rows) (OutboxMessage, error) {
	var m OutboxMessage
	var dedupeKey, lastError sql.NullString
	err := rows.Scan(
		&m.ID, &m.PatientID, &m.Recipient, &m.Body, &dedupeKey, &m.Status,
		&m.Attempts, &m.NextRetryAt, &lastError, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return m, fmt.Errorf("scan outbox message failed: %w", err)
	}
	m.DedupeKey = dedupeKey.String
	m.LastError = lastError.String
	return m, nil
}
