// Package store: SQLite-backed implementation of the Store interface.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/RumahPulih/ObatPing/internal/models"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreatePatient(p *models.Patient) error {
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
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.PhoneNumber, p.VerificationStatus, p.IsActive, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore CreatePatient failed", "error", err, "patientID", p.ID)
		return fmt.Errorf("failed to insert patient: %w", err)
	}
	slog.Debug("SQLiteStore CreatePatient succeeded", "patientID", p.ID)
	return nil
}

func (s *SQLiteStore) GetPatient(id string) (*models.Patient, error) {
	row := s.db.QueryRow(
		`SELECT id, name, phone_number, verification_status, is_active, created_at, updated_at
		 FROM patients WHERE id = ?`, id,
	)
	p, err := scanPatientRow(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrPatientNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetPatient failed", "error", err, "patientID", id)
		return nil, fmt.Errorf("failed to get patient %s: %w", id, err)
	}
	return p, nil
}

func (s *SQLiteStore) FindActivePatientsByPhone(phone string) ([]models.Patient, error) {
	rows, err := s.db.Query(
		`SELECT id, name, phone_number, verification_status, is_active, created_at, updated_at
		 FROM patients WHERE phone_number = ? AND is_active = 1 ORDER BY created_at ASC`, phone,
	)
	if err != nil {
		slog.Error("SQLiteStore FindActivePatientsByPhone query failed", "error", err)
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

func (s *SQLiteStore) UpdatePatientVerification(id string, status models.VerificationStatus) error {
	if !models.IsValidVerificationStatus(status) {
		return fmt.Errorf("invalid verification status: %s", status)
	}
	result, err := s.db.Exec(
		`UPDATE patients SET verification_status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now(), id,
	)
	if err != nil {
		slog.Error("SQLiteStore UpdatePatientVerification failed", "error", err, "patientID", id)
		return fmt.Errorf("failed to update verification status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return models.ErrPatientNotFound
	}
	slog.Debug("SQLiteStore UpdatePatientVerification succeeded", "patientID", id, "status", status)
	return nil
}

func (s *SQLiteStore) SetPatientActive(id string, active bool) error {
	result, err := s.db.Exec(
		`UPDATE patients SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now(), id,
	)
	if err != nil {
		slog.Error("SQLiteStore SetPatientActive failed", "error", err, "patientID", id)
		return fmt.Errorf("failed to update patient activity: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return models.ErrPatientNotFound
	}
	return nil
}

func (s *SQLiteStore) CreateReminder(r *models.Reminder) error {
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
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.PatientID, r.MedicationName, r.Body, r.Status, r.ConfirmationStatus,
		r.ConfirmationResponse, r.ConfirmationResponseAt, r.ScheduledAt, r.SentAt, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore CreateReminder failed", "error", err, "patientID", r.PatientID)
		return fmt.Errorf("failed to insert reminder: %w", err)
	}
	slog.Debug("SQLiteStore CreateReminder succeeded", "reminderID", r.ID, "patientID", r.PatientID)
	return nil
}

func (s *SQLiteStore) GetReminder(id string) (*models.Reminder, error) {
	row := s.db.QueryRow(reminderColumns+` FROM reminders WHERE id = ?`, id)
	r, err := scanReminderRow(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrReminderNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetReminder failed", "error", err, "reminderID", id)
		return nil, fmt.Errorf("failed to get reminder %s: %w", id, err)
	}
	return r, nil
}

func (s *SQLiteStore) LatestSentReminder(patientID string) (*models.Reminder, error) {
	row := s.db.QueryRow(
		reminderColumns+` FROM reminders WHERE patient_id = ? AND status IN ('sent', 'delivered') ORDER BY sent_at DESC LIMIT 1`,
		patientID,
	)
	r, err := scanReminderRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore LatestSentReminder failed", "error", err, "patientID", patientID)
		return nil, fmt.Errorf("failed to get latest sent reminder: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) ConfirmReminder(id, response string, at time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE reminders SET confirmation_status = 'confirmed', confirmation_response = ?, confirmation_response_at = ?, updated_at = ?
		 WHERE id = ? AND confirmation_status = 'pending'`,
		response, at, at, id,
	)
	if err != nil {
		slog.Error("SQLiteStore ConfirmReminder failed", "error", err, "reminderID", id)
		return false, fmt.Errorf("failed to confirm reminder: %w", err)
	}
	n, _ := result.RowsAffected()
	slog.Debug("SQLiteStore ConfirmReminder", "reminderID", id, "updated", n > 0)
	return n > 0, nil
}

func (s *SQLiteStore) RecordConfirmationResponse(id, response string, at time.Time) error {
	result, err := s.db.Exec(
		`UPDATE reminders SET confirmation_response = ?, confirmation_response_at = ?, updated_at = ? WHERE id = ?`,
		response, at, at, id,
	)
	if err != nil {
		slog.Error("SQLiteStore RecordConfirmationResponse failed", "error", err, "reminderID", id)
		return fmt.Errorf("failed to record confirmation response: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return models.ErrReminderNotFound
	}
	return nil
}

func (s *SQLiteStore) MarkReminderDelivered(patientID string, at time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE reminders SET status = 'delivered', updated_at = ?
		 WHERE id = (SELECT id FROM reminders WHERE patient_id = ? AND status = 'sent' ORDER BY sent_at DESC LIMIT 1)`,
		at, patientID,
	)
	if err != nil {
		slog.Error("SQLiteStore MarkReminderDelivered failed", "error", err, "patientID", patientID)
		return false, fmt.Errorf("failed to mark reminder delivered: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) FailPendingReminders(patientID string) (int, error) {
	result, err := s.db.Exec(
		`UPDATE reminders SET status = 'failed', updated_at = ? WHERE patient_id = ? AND status = 'pending'`,
		time.Now(), patientID,
	)
	if err != nil {
		slog.Error("SQLiteStore FailPendingReminders failed", "error", err, "patientID", patientID)
		return 0, fmt.Errorf("failed to fail pending reminders: %w", err)
	}
	n, _ := result.RowsAffected()
	slog.Debug("SQLiteStore FailPendingReminders succeeded", "patientID", patientID, "count", n)
	return int(n), nil
}

func (s *SQLiteStore) GetConversationState(patientID string) (*models.ConversationState, error) {
	row := s.db.QueryRow(
		`SELECT id, patient_id, phone_number, current_context, related_entity_type, related_entity_id, expires_at, message_count, created_at, updated_at
		 FROM conversation_states WHERE patient_id = ?`, patientID,
	)
	cs, err := scanConversationStateRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversationState failed", "error", err, "patientID", patientID)
		return nil, fmt.Errorf("failed to get conversation state: %w", err)
	}
	return cs, nil
}

func (s *SQLiteStore) SaveConversationState(cs *models.ConversationState) error {
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
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(patient_id) DO UPDATE SET
		   phone_number = excluded.phone_number,
		   current_context = excluded.current_context,
		   related_entity_type = excluded.related_entity_type,
		   related_entity_id = excluded.related_entity_id,
		   expires_at = excluded.expires_at,
		   message_count = excluded.message_count,
		   updated_at = excluded.updated_at`,
		cs.ID, cs.PatientID, cs.PhoneNumber, cs.CurrentContext, cs.RelatedEntityType,
		cs.RelatedEntityID, cs.ExpiresAt, cs.MessageCount, cs.CreatedAt, cs.UpdatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore SaveConversationState failed", "error", err, "patientID", cs.PatientID)
		return fmt.Errorf("failed to save conversation state: %w", err)
	}
	slog.Debug("SQLiteStore SaveConversationState succeeded", "patientID", cs.PatientID, "context", cs.CurrentContext)
	return nil
}

func (s *SQLiteStore) ClearConversationContext(patientID string) error {
	_, err := s.db.Exec(
		`UPDATE conversation_states SET current_context = '', related_entity_type = '', related_entity_id = '', expires_at = NULL, updated_at = ?
		 WHERE patient_id = ?`,
		time.Now(), patientID,
	)
	if err != nil {
		slog.Error("SQLiteStore ClearConversationContext failed", "error", err, "patientID", patientID)
		return fmt.Errorf("failed to clear conversation context: %w", err)
	}
	slog.Debug("SQLiteStore ClearConversationContext succeeded", "patientID", patientID)
	return nil
}

func (s *SQLiteStore) AddConversationMessage(m *models.ConversationMessage) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO conversation_messages (id, patient_id, direction, body, intent, confidence, processed_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.PatientID, m.Direction, m.Body, m.Intent, m.Confidence, m.ProcessedAt, m.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore AddConversationMessage failed", "error", err, "patientID", m.PatientID)
		return fmt.Errorf("failed to insert conversation message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecentConversationMessages(patientID string, limit int) ([]models.ConversationMessage, error) {
	rows, err := s.db.Query(
		`SELECT id, patient_id, direction, body, intent, confidence, processed_at, created_at
		 FROM conversation_messages WHERE patient_id = ? ORDER BY created_at DESC LIMIT ?`,
		patientID, limit,
	)
	if err != nil {
		slog.Error("SQLiteStore RecentConversationMessages query failed", "error", err, "patientID", patientID)
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

func (s *SQLiteStore) AddVerificationLog(l *models.VerificationLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO verification_logs (id, patient_id, result, response_text, created_at) VALUES (?, ?, ?, ?, ?)`,
		l.ID, l.PatientID, l.Result, l.ResponseText, l.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore AddVerificationLog failed", "error", err, "patientID", l.PatientID)
		return fmt.Errorf("failed to insert verification log: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListVerificationLogs(patientID string) ([]models.VerificationLog, error) {
	rows, err := s.db.Query(
		`SELECT id, patient_id, result, response_text, created_at FROM verification_logs WHERE patient_id = ? ORDER BY created_at ASC`,
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

func (s *SQLiteStore) AddVolunteerNotification(n *models.VolunteerNotification) error {
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
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.PatientID, n.Message, n.Priority, n.Status, n.AssignedVolunteerID, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore AddVolunteerNotification failed", "error", err, "patientID", n.PatientID)
		return fmt.Errorf("failed to insert volunteer notification: %w", err)
	}
	slog.Debug("SQLiteStore AddVolunteerNotification succeeded", "notificationID", n.ID, "priority", n.Priority)
	return nil
}

func (s *SQLiteStore) ListVolunteerNotifications(status models.NotificationStatus) ([]models.VolunteerNotification, error) {
	query := `SELECT id, patient_id, message, priority, status, assigned_volunteer_id, created_at, updated_at
		 FROM volunteer_notifications`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("SQLiteStore ListVolunteerNotifications query failed", "error", err)
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

func (s *SQLiteStore) AddManualConfirmation(mc *models.ManualConfirmation) error {
	if mc.ID == "" {
		mc.ID = uuid.NewString()
	}
	if mc.CreatedAt.IsZero() {
		mc.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO manual_confirmations (id, patient_id, reminder_id, notes, created_at) VALUES (?, ?, ?, ?, ?)`,
		mc.ID, mc.PatientID, mc.ReminderID, mc.Notes, mc.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore AddManualConfirmation failed", "error", err, "patientID", mc.PatientID)
		return fmt.Errorf("failed to insert manual confirmation: %w", err)
	}
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
