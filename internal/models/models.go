// Package models defines the core data structures for ObatPing.
//
// It includes patients, reminders, conversation state, verification audit
// records and volunteer notifications, which are shared across modules.
package models

import (
	"errors"
	"time"
)

// VerificationStatus tracks a patient's consent lifecycle.
type VerificationStatus string

const (
	// VerificationPending means the patient has been registered but has not replied yet.
	VerificationPending VerificationStatus = "pending"
	// VerificationVerified means the patient accepted the reminder service.
	VerificationVerified VerificationStatus = "verified"
	// VerificationDeclined means the patient declined or unsubscribed.
	VerificationDeclined VerificationStatus = "declined"
	// VerificationExpired is set by an external timeout sweep, never by this service.
	VerificationExpired VerificationStatus = "expired"
)

// IsValidVerificationStatus checks if the given verification status is supported.
func IsValidVerificationStatus(s VerificationStatus) bool {
	switch s {
	case VerificationPending, VerificationVerified, VerificationDeclined, VerificationExpired:
		return true
	default:
		return false
	}
}

// Patient represents a registered patient identity.
type Patient struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name,omitempty"`
	PhoneNumber        string             `json:"phone_number"` // canonical digit-only form
	VerificationStatus VerificationStatus `json:"verification_status"`
	IsActive           bool               `json:"is_active"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// ReminderStatus tracks delivery of a reminder message.
type ReminderStatus string

const (
	ReminderStatusPending   ReminderStatus = "pending"
	ReminderStatusSent      ReminderStatus = "sent"
	ReminderStatusDelivered ReminderStatus = "delivered"
	ReminderStatusFailed    ReminderStatus = "failed"
)

// ConfirmationStatus tracks whether the patient confirmed taking the medication.
type ConfirmationStatus string

const (
	ConfirmationPending   ConfirmationStatus = "pending"
	ConfirmationConfirmed ConfirmationStatus = "confirmed"
	ConfirmationMissed    ConfirmationStatus = "missed"
)

// Reminder unifies the schedule row and the delivery log for one medication
// reminder. Rows are created by the external scheduler (or by a follow-up
// action) and mutated only by the confirmation state machine or a volunteer.
type Reminder struct {
	ID                     string             `json:"id"`
	PatientID              string             `json:"patient_id"`
	MedicationName         string             `json:"medication_name"`
	Body                   string             `json:"body,omitempty"`
	Status                 ReminderStatus     `json:"status"`
	ConfirmationStatus     ConfirmationStatus `json:"confirmation_status"`
	ConfirmationResponse   string             `json:"confirmation_response,omitempty"`
	ConfirmationResponseAt *time.Time         `json:"confirmation_response_at,omitempty"`
	ScheduledAt            time.Time          `json:"scheduled_at"`
	SentAt                 *time.Time         `json:"sent_at,omitempty"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// AwaitingConfirmation reports whether the reminder is waiting on a patient
// reply. Delivered counts: a delivery receipt promotes sent to delivered
// without the patient having confirmed anything.
func (r *Reminder) AwaitingConfirmation() bool {
	return (r.Status == ReminderStatusSent || r.Status == ReminderStatusDelivered) &&
		r.ConfirmationStatus == ConfirmationPending
}

// ConversationContext is the kind of reply currently expected from a patient.
type ConversationContext string

const (
	ContextVerification         ConversationContext = "verification"
	ContextReminderConfirmation ConversationContext = "reminder_confirmation"
	ContextGeneralInquiry       ConversationContext = "general_inquiry"
)

// ConversationState is the per-patient record of the active expectation.
// At most one non-expired context exists per patient; an expired context is
// treated as absent at read time.
type ConversationState struct {
	ID                string              `json:"id"`
	PatientID         string              `json:"patient_id"`
	PhoneNumber       string              `json:"phone_number"`
	CurrentContext    ConversationContext `json:"current_context,omitempty"`
	RelatedEntityType string              `json:"related_entity_type,omitempty"`
	RelatedEntityID   string              `json:"related_entity_id,omitempty"`
	ExpiresAt         *time.Time          `json:"expires_at,omitempty"`
	MessageCount      int                 `json:"message_count"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// Expired reports whether the context has passed its TTL at the given instant.
func (c *ConversationState) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// MessageDirection distinguishes inbound patient messages from outbound sends.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

// ConversationMessage is an append-only log entry. It is audit data, never
// control flow, and is never mutated after insert.
type ConversationMessage struct {
	ID          string           `json:"id"`
	PatientID   string           `json:"patient_id"`
	Direction   MessageDirection `json:"direction"`
	Body        string           `json:"body"`
	Intent      string           `json:"intent,omitempty"`
	Confidence  float64          `json:"confidence,omitempty"`
	ProcessedAt *time.Time       `json:"processed_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// VerificationResult is the classification recorded for a verification reply.
type VerificationResult string

const (
	VerificationResultVerified        VerificationResult = "verified"
	VerificationResultDeclined        VerificationResult = "declined"
	VerificationResultUnsubscribed    VerificationResult = "unsubscribed"
	VerificationResultUnrecognized    VerificationResult = "unrecognized"
	VerificationResultAlreadyResolved VerificationResult = "ignored_already_resolved"
)

// VerificationLog is the immutable audit trail of verification replies.
type VerificationLog struct {
	ID           string             `json:"id"`
	PatientID    string             `json:"patient_id"`
	Result       VerificationResult `json:"result"`
	ResponseText string             `json:"response_text"`
	CreatedAt    time.Time          `json:"created_at"`
}

// NotificationPriority orders volunteer escalations.
type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityNormal NotificationPriority = "normal"
	PriorityHigh   NotificationPriority = "high"
	PriorityUrgent NotificationPriority = "urgent"
)

// NotificationStatus tracks a volunteer escalation's lifecycle.
type NotificationStatus string

const (
	NotificationPending  NotificationStatus = "pending"
	NotificationAssigned NotificationStatus = "assigned"
	NotificationResolved NotificationStatus = "resolved"
)

// VolunteerNotification is created by escalation actions and worked by the
// volunteer dashboard (external). This subsystem only creates and lists rows.
type VolunteerNotification struct {
	ID                  string               `json:"id"`
	PatientID           string               `json:"patient_id"`
	Message             string               `json:"message"`
	Priority            NotificationPriority `json:"priority"`
	Status              NotificationStatus   `json:"status"`
	AssignedVolunteerID string               `json:"assigned_volunteer_id,omitempty"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// ManualConfirmation records a volunteer-verified medication intake that did
// not come from a patient reply (home visit, phone call).
type ManualConfirmation struct {
	ID         string    `json:"id"`
	PatientID  string    `json:"patient_id"`
	ReminderID string    `json:"reminder_id,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Error variables shared across modules.
var (
	ErrPatientNotFound  = errors.New("patient not found")
	ErrReminderNotFound = errors.New("reminder not found")
	ErrEmptyRecipient   = errors.New("recipient cannot be empty")
	ErrInvalidPhone     = errors.New("invalid phone number")
)
