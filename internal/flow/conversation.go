package flow

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/RumahPulih/ObatPing/internal/models"
	"github.com/RumahPulih/ObatPing/internal/store"
)

// Context TTLs. An expired context is treated as absent at read time, so a
// stale expectation can never capture an unrelated reply.
const (
	VerificationContextTTL = 24 * time.Hour
	ReminderContextTTL     = 6 * time.Hour
	GeneralContextTTL      = 1 * time.Hour
)

// ConversationManager owns the per-patient conversation state and the
// append-only message log. All coordination goes through the store; no state
// is held in memory, so any replica can handle any event.
type ConversationManager struct {
	store store.Store
}

// NewConversationManager creates a new ConversationManager.
func NewConversationManager(st store.Store) *ConversationManager {
	return &ConversationManager{store: st}
}

// CurrentContext returns the patient's active conversation context, or nil
// when none exists or the stored one has expired. Expiry is enforced here at
// read time rather than by a background sweep; the expired row is cleared
// opportunistically.
func (m *ConversationManager) CurrentContext(patientID string, now time.Time) (*models.ConversationState, error) {
	cs, err := m.store.GetConversationState(patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation state: %w", err)
	}
	if cs == nil || cs.CurrentContext == "" {
		return nil, nil
	}
	if cs.Expired(now) {
		slog.Info("conversation context expired", "patientID", patientID, "context", cs.CurrentContext)
		if err := m.store.ClearConversationContext(patientID); err != nil {
			slog.Warn("failed to clear expired conversation context", "error", err, "patientID", patientID)
		}
		return nil, nil
	}
	return cs, nil
}

// SetContext replaces the patient's conversation context. The previous
// context, if any, is overwritten; a patient has at most one expectation.
func (m *ConversationManager) SetContext(patient *models.Patient, contextType models.ConversationContext, entityType, entityID string, ttl time.Duration) error {
	expires := time.Now().Add(ttl)
	cs := &models.ConversationState{
		PatientID:         patient.ID,
		PhoneNumber:       patient.PhoneNumber,
		CurrentContext:    contextType,
		RelatedEntityType: entityType,
		RelatedEntityID:   entityID,
		ExpiresAt:         &expires,
	}
	if err := m.store.SaveConversationState(cs); err != nil {
		return fmt.Errorf("failed to save conversation state: %w", err)
	}
	slog.Debug("conversation context set", "patientID", patient.ID, "context", contextType, "entityID", entityID, "expiresAt", expires)
	return nil
}

// ClearContext removes the patient's conversation context while keeping the
// state row and its history counters.
func (m *ConversationManager) ClearContext(patientID string) error {
	if err := m.store.ClearConversationContext(patientID); err != nil {
		return fmt.Errorf("failed to clear conversation context: %w", err)
	}
	slog.Debug("conversation context cleared", "patientID", patientID)
	return nil
}

// RecordInbound appends an inbound message to the audit log. Logging failures
// are reported but never fail the pipeline; the message log is audit data,
// not control flow.
func (m *ConversationManager) RecordInbound(patientID, body, intent string, confidence float64) {
	now := time.Now()
	msg := &models.ConversationMessage{
		PatientID:   patientID,
		Direction:   models.DirectionInbound,
		Body:        body,
		Intent:      intent,
		Confidence:  confidence,
		ProcessedAt: &now,
	}
	if err := m.store.AddConversationMessage(msg); err != nil {
		slog.Warn("failed to record inbound message", "error", err, "patientID", patientID)
	}
}

// RecordOutbound appends an outbound message to the audit log.
func (m *ConversationManager) RecordOutbound(patientID, body string) {
	msg := &models.ConversationMessage{
		PatientID: patientID,
		Direction: models.DirectionOutbound,
		Body:      body,
	}
	if err := m.store.AddConversationMessage(msg); err != nil {
		slog.Warn("failed to record outbound message", "error", err, "patientID", patientID)
	}
}

// RecentMessages returns the patient's recent conversation history, newest
// first, for use as classification context.
func (m *ConversationManager) RecentMessages(patientID string, limit int) []models.ConversationMessage {
	msgs, err := m.store.RecentConversationMessages(patientID, limit)
	if err != nil {
		slog.Warn("failed to load recent messages", "error", err, "patientID", patientID)
		return nil
	}
	return msgs
}
