// Package store provides storage backends for ObatPing.
//
// It includes SQLite and PostgreSQL implementations plus an in-memory store
// for tests. All cross-request coordination goes through this package: the
// conversation state, reminder rows, the idempotency ledger and the durable
// outbound outbox.
package store

import (
	"strings"
	"time"

	"github.com/RumahPulih/ObatPing/internal/models"
)

// Opts holds configuration options for storage backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for a storage backend.
type Option func(*Opts)

// WithSQLiteDSN sets a SQLite file path as the backend DSN.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets a PostgreSQL connection string as the backend DSN.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL-style DSNs and "sqlite"
// for anything else (assumed to be a file path).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// Store defines the persistence interface shared by all backends.
type Store interface {
	// Patients
	CreatePatient(p *models.Patient) error
	GetPatient(id string) (*models.Patient, error)
	// FindActivePatientsByPhone returns active patients with the given
	// canonical phone number, oldest first.
	FindActivePatientsByPhone(phone string) ([]models.Patient, error)
	UpdatePatientVerification(id string, status models.VerificationStatus) error
	SetPatientActive(id string, active bool) error

	// Reminders
	CreateReminder(r *models.Reminder) error
	GetReminder(id string) (*models.Reminder, error)
	// LatestSentReminder returns the most recently sent reminder for the
	// patient (sent_at descending, limit 1), or nil when none exists.
	// Delivered rows are included: a delivery receipt must not hide the
	// reminder from a late confirmation reply.
	LatestSentReminder(patientID string) (*models.Reminder, error)
	// ConfirmReminder conditionally confirms the given row. It only applies
	// when the row is still awaiting confirmation, so duplicate events no-op
	// on an already-confirmed reminder. Returns whether a row was updated.
	ConfirmReminder(id, response string, at time.Time) (bool, error)
	// RecordConfirmationResponse stores the patient's reply text without
	// changing the confirmation status (the "not yet" path).
	RecordConfirmationResponse(id, response string, at time.Time) error
	// MarkReminderDelivered promotes the patient's latest sent reminder to
	// delivered. Returns whether a row was updated.
	MarkReminderDelivered(patientID string, at time.Time) (bool, error)
	// FailPendingReminders marks all not-yet-sent reminder rows for the patient as
	// failed (unsubscribe semantics). Returns the number of rows affected.
	FailPendingReminders(patientID string) (int, error)

	// Conversation state
	GetConversationState(patientID string) (*models.ConversationState, error)
	SaveConversationState(cs *models.ConversationState) error
	ClearConversationContext(patientID string) error
	AddConversationMessage(m *models.ConversationMessage) error
	RecentConversationMessages(patientID string, limit int) ([]models.ConversationMessage, error)

	// Audit and escalation
	AddVerificationLog(l *models.VerificationLog) error
	ListVerificationLogs(patientID string) ([]models.VerificationLog, error)
	AddVolunteerNotification(n *models.VolunteerNotification) error
	ListVolunteerNotifications(status models.NotificationStatus) ([]models.VolunteerNotification, error)
	AddManualConfirmation(mc *models.ManualConfirmation) error

	Close() error
}
