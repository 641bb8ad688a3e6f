// Package store: PostgreSQL-backed implementation of the Store interface.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/RumahPulih/ObatPing/internal/models"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open PostgreSQL connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("PostgreSQL ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgreSQL migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) CreatePatient(p *models.Patient) error {
	now := time.Now()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.VerificationStatus == "" {
		p.VerificationStatus = models.VerificationPending
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	_, err := s.db.Exec(
		`INSERT INTO patients (id, name, phone_number, verification_status, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.Name, p.PhoneNumber, p.VerificationStatus, p.IsActive, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore CreatePatient failed", "error", err, "patientID", p.ID)
		return fmt.Errorf("failed to insert patient: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPatient(id string) (*models.Patient, error) {
	row := s.db.QueryRow(
		`SELECT id, name, phone_number, verification_status, is_active, created_at, updated_at
		 FROM patients WHERE id = $1`, id,
	)
	p, err := scanPatientRow(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrPatientNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetPatient failed", "error", err, "patientID", id)
		return nil, fmt.Errorf("failed to get patient %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) FindActivePatientsByPhone(phone string) ([]models.Patient, error) {
	rows, err := s.db.Query(
		`SELECT id, name, phone_number, verification_status, is_active, created_at, updated_at
		 FROM patients WHERE phone_number = $1 AND is_active = TRUE ORDER BY created_at ASC`, phone,
	)
	if err != nil {
		slog.Error("PostgresStore FindActivePatientsByPhone query failed", "error", err)
		return nil, fmt.Errorf("failed to query patients by phone: %w", err)
	}
	defer rows.Close()

	var patients []models.Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		patients = append(patients, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate patient rows: %w", err)
	}
	return patients, nil
}

func (s *PostgresStore) UpdatePatientVerification(id string, status models.VerificationStatus) error {
	if !models.IsValidVerificationStatus(status) {
		return fmt.Errorf("invalid verification status: %s", status)
	}
	result, err := s.db.Exec(
		`UPDATE patients SET verification_status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now(), id,
	)
	if err != nil {
		slog.Error("PostgresStore UpdatePatientVerification failed", "error", err, "patientID", id)
		return fmt.Errorf("failed to update verification status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return models.ErrPatientNotFound
	}
	return nil
}

func (s *PostgresStore) SetPatientActive(id string, active bool) error {
	result, err := s.db.Exec(
		`UPDATE patients SET is_active = $1, updated_at = $2 WHERE id = $3`,
		active, time.Now(), id,
	)
	if err != nil {
		slog.Error("PostgresStore SetPatientActive failed", "error", err, "patientID", id)
		return fmt.Errorf("failed to update patient activity: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return models.ErrPatientNotFound
	}
	return nil
}

func (s *PostgresStore) CreateReminder(r *models.Reminder) error {
	now := time.Now()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = models.ReminderStatusPending
	}
	if r.ConfirmationStatus == "" {
		r.ConfirmationStatus = models.ConfirmationPending
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	_, err := s.db.Exec(
		`INSERT INTO reminders (id, patient_id, medication_name, body, status, confirmation_status, confirmation_response, confirmation_response_at, scheduled_at, sent_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.PatientID, r.MedicationName, r.Body, r.Status, r.ConfirmationStatus,
		r.ConfirmationResponse, r.ConfirmationResponseAt, r.ScheduledAt, r.SentAt, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore CreateReminder failed", "error", err, "patientID", r.PatientID)
		return fmt.Errorf("failed to insert reminder: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetReminder(id string) (*models.Reminder, error) {
	row := s.db.QueryRow(reminderColumns+` FROM reminders WHERE id = $1`, id)
	r, err := scanReminderRow(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrReminderNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetReminder failed", "error", err, "reminderID", id)
		return nil, fmt.Errorf("failed to get reminder %s: %w", id, err)
	}
	return r, nil
}

func (s *PostgresStore) LatestSentReminder(patientID string) (*models.Reminder, error) {
	row := s.db.QueryRow(
		reminderColumns+` FROM reminders WHERE patient_id = $1 AND status IN ('sent', 'delivered') ORDER BY sent_at DESC LIMIT 1`,
		patientID,
	)
	r, err := scanReminderRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore LatestSentReminder failed", "error", err, "patientID", patientID)
		return nil, fmt.Errorf("failed to get latest sent reminder: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ConfirmReminder(id, response string, at time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE reminders SET confirmation_status = 'confirmed', confirmation_response = $1, confirmation_response_at = $2, updated_at = $2
		 WHERE id = $3 AND confirmation_status = 'pending'`,
		response, at, id,
	)
	if err != nil {
		slog.Error("PostgresStore ConfirmReminder failed", "error", err, "reminderID", id)
		return false, fmt.Errorf("failed to confirm reminder: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (s *PostgresStore) RecordConfirmationResponse(id, response string, at time.Time) error {
	result, err := s.db.Exec(
		`UPDATE reminders SET confirmation_response = $1, confirmation_response_at = $2, updated_at = $2 WHERE id = $3`,
		response, at, id,
	)
	if err != nil {
		slog.Error("PostgresStore RecordConfirmationResponse failed", "error", err, "reminderID", id)
		return fmt.Errorf("failed to record confirmation response: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return models.ErrReminderNotFound
	}
	return nil
}

func (s *PostgresStore) MarkReminderDelivered(patientID string, at time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE reminders SET status = 'delivered', updated_at = $1
		 WHERE id = (SELECT id FROM reminders WHERE patient_id = $2 AND status = 'sent' ORDER BY sent_at DESC LIMIT 1)`,
		at, patientID,
	)
	if err != nil {
		slog.Error("PostgresStore MarkReminderDelivered failed", "error", err, "patientID", patientID)
		return false, fmt.Errorf("failed to mark reminder delivered: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (s *PostgresStore) FailPendingReminders(patientID string) (int, error) {
	result, err := s.db.Exec(
		`UPDATE reminders SET status = 'failed', updated_at = $1 WHERE patient_id = $2 AND status = 'pending'`,
		time.Now(), patientID,
	)
	if err != nil {
		slog.Error("PostgresStore FailPendingReminders failed", "error", err, "patientID", patientID)
		return 0, fmt.Errorf("failed to fail pending reminders: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

func (s *PostgresStore) GetConversationState(patientID string) (*models.ConversationState, error) {
	row := s.db.QueryRow(
		`SELECT id, patient_id, phone_number, current_context, related_entity_type, related_entity_id, expires_at, message_count, created_at, updated_at
		 FROM conversation_states WHERE patient_id = $1`, patientID,
	)
	cs, err := scanConversationStateRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversationState failed", "error", err, "patientID", patientID)
		return nil, fmt.Errorf("failed to get conversation state: %w", err)
	}
	return cs, nil
}

func (s *PostgresStore) SaveConversationState(cs *models.ConversationState) error {
	now := time.Now()
	if cs.ID == "" {
		cs.ID = uuid.NewString()
	}
	if cs.CreatedAt.IsZero() {
		cs.CreatedAt = now
	}
	cs.UpdatedAt = now
	_, err := s.db.Exec(
		`INSERT INTO conversation_states (id, patient_id, phone_number, current_context, related_entity_type, related_entity_id, expires_at, message_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (patient_id) DO UPDATE SET
		   phone_number = EXCLUDED.phone_number,
		   current_context = EXCLUDED.current_context,
		   related_entity_type = EXCLUDED.related_entity_type,
		   related_entity_id = EXCLUDED.related_entity_id,
		   expires_at = EXCLUDED.expires_at,
		   message_count = EXCLUDED.message_count,
		   updated_at = EXCLUDED.updated_at`,
		cs.ID, cs.PatientID, cs.PhoneNumber, cs.CurrentContext, cs.RelatedEntityType,
		cs.RelatedEntityID, cs.ExpiresAt, cs.MessageCount, cs.CreatedAt, cs.UpdatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore SaveConversationState failed", "error", err, "patientID", cs.PatientID)
		return fmt.Errorf("failed to save conversation state: %w", err)
	}
	return nil
}

func (s *PostgresStore) ClearConversationContext(patientID string) error {
	_, err := s.db.Exec(
		`UPDATE conversation_states SET current_context = '', related_entity_type = '', related_entity_id = '', expires_at = NULL, updated_at = $1
		 WHERE patient_id = $2`,
		time.Now(), patientID,
	)
	if err != nil {
		slog.Error("PostgresStore ClearConversationContext failed", "error", err, "patientID", patientID)
		return fmt.Errorf("failed to clear conversation context: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddConversationMessage(m *models.ConversationMessage) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO conversation_messages (id, patient_id, direction, body, intent, confidence, processed_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.PatientID, m.Direction, m.Body, m.Intent, m.Confidence, m.ProcessedAt, m.CreatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore AddConversationMessage failed", "error", err, "patientID", m.PatientID)
		return fmt.Errorf("failed to insert conversation message: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentConversationMessages(patientID string, limit int) ([]models.ConversationMessage, error) {
	rows, err := s.db.Query(
		`SELECT id, patient_id, direction, body, intent, confidence, processed_at, created_at
		 FROM conversation_messages WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2`,
		patientID, limit,
	)
	if err != nil {
		slog.Error("PostgresStore RecentConversationMessages query failed", "error", err, "patientID", patientID)
		return nil, fmt.Errorf("failed to query conversation messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.ConversationMessage
	for rows.Next() {
		var m models.ConversationMessage
		var processedAt sql.NullTime
		if err := rows.Scan(&m.ID, &m.PatientID, &m.Direction, &m.Body, &m.Intent, &m.Confidence, &processedAt, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation message: %w", err)
		}
		if processedAt.Valid {
			m.ProcessedAt = &processedAt.Time
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversation messages: %w", err)
	}
	return msgs, nil
}

func (s *PostgresStore) AddVerificationLog(l *models.VerificationLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO verification_logs (id, patient_id, result, response_text, created_at) VALUES ($1, $2, $3, $4, $5)`,
		l.ID, l.PatientID, l.Result, l.ResponseText, l.CreatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore AddVerificationLog failed", "error", err, "patientID", l.PatientID)
		return fmt.Errorf("failed to insert verification log: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListVerificationLogs(patientID string) ([]models.VerificationLog, error) {
	rows, err := s.db.Query(
		`SELECT id, patient_id, result, response_text, created_at FROM verification_logs WHERE patient_id = $1 ORDER BY created_at ASC`,
		patientID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query verification logs: %w", err)
	}
	defer rows.Close()

	var logs []models.VerificationLog
	for rows.Next() {
		var l models.VerificationLog
		if err := rows.Scan(&l.ID, &l.PatientID, &l.Result, &l.ResponseText, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan verification log: %w", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate verification logs: %w", err)
	}
	return logs, nil
}

func (s *PostgresStore) AddVolunteerNotification(n *models.VolunteerNotification) error {
	now := time.Now()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Priority == "" {
		n.Priority = models.PriorityNormal
	}
	if n.Status == "" {
		n.Status = models.NotificationPending
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now
	_, err := s.db.Exec(
		`INSERT INTO volunteer_notifications (id, patient_id, message, priority, status, assigned_volunteer_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.PatientID, n.Message, n.Priority, n.Status, n.AssignedVolunteerID, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore AddVolunteerNotification failed", "error", err, "patientID", n.PatientID)
		return fmt.Errorf("failed to insert volunteer notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListVolunteerNotifications(status models.NotificationStatus) ([]models.VolunteerNotification, error) {
	query := `SELECT id, patient_id, message, priority, status, assigned_volunteer_id, created_at, updated_at
		 FROM volunteer_notifications`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("PostgresStore ListVolunteerNotifications query failed", "error", err)
		return nil, fmt.Errorf("failed to query volunteer notifications: %w", err)
	}
	defer rows.Close()

	var list []models.VolunteerNotification
	for rows.Next() {
		var n models.VolunteerNotification
		if err := rows.Scan(&n.ID, &n.PatientID, &n.Message, &n.Priority, &n.Status, &n.AssignedVolunteerID, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan volunteer notification: %w", err)
		}
		list = append(list, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate volunteer notifications: %w", err)
	}
	return list, nil
}

func (s *PostgresStore) AddManualConfirmation(mc *models.ManualConfirmation) error {
	if mc.ID == "" {
		mc.ID = uuid.NewString()
	}
	if mc.CreatedAt.IsZero() {
		mc.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO manual_confirmations (id, patient_id, reminder_id, notes, created_at) VALUES ($1, $2, $3, $4, $5)`,
		mc.ID, mc.PatientID, mc.ReminderID, mc.Notes, mc.CreatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore AddManualConfirmation failed", "error", err, "patientID", mc.PatientID)
		return fmt.Errorf("failed to insert manual confirmation: %w", err)
	}
	return nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	return s.db.Close()
}
