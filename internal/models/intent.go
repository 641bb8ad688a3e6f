// Package models: intent classification contract with the AI gateway.
package models

import (
	"encoding/json"
	"fmt"
)

// Intent is the primary classification of a free-form patient message.
type Intent string

const (
	IntentEmergency          Intent = "emergency"
	IntentMedicationQuestion Intent = "medication_question"
	IntentSideEffectReport   Intent = "side_effect_report"
	IntentConfirmation       Intent = "confirmation"
	IntentGeneral            Intent = "general"
	IntentUnknown            Intent = "unknown"
)

// IsValidIntent checks if the given intent is one this service understands.
// Unknown values from the gateway are preserved but treated as IntentUnknown.
func IsValidIntent(i Intent) bool {
	switch i {
	case IntentEmergency, IntentMedicationQuestion, IntentSideEffectReport,
		IntentConfirmation, IntentGeneral, IntentUnknown:
		return true
	default:
		return false
	}
}

// ResponseType tells the router how to reply to the patient.
type ResponseType string

const (
	// ResponseTypeAutoReply means Message should be sent to the patient as-is.
	ResponseTypeAutoReply ResponseType = "auto_reply"
	// ResponseTypeNone means the gateway has no direct reply; the router
	// still sends its generic acknowledgement.
	ResponseTypeNone ResponseType = "none"
)

// ActionType tags one follow-up action requested by the gateway.
type ActionType string

const (
	ActionLogConfirmation          ActionType = "log_confirmation"
	ActionSendFollowup             ActionType = "send_followup"
	ActionNotifyVolunteer          ActionType = "notify_volunteer"
	ActionUpdatePatientStatus      ActionType = "update_patient_status"
	ActionCreateManualConfirmation ActionType = "create_manual_confirmation"
)

// ActionItem is one entry in the gateway's action list. Data is opaque until
// the executor parses it per type; unknown types are logged and skipped so
// the gateway can evolve independently.
type ActionItem struct {
	Type ActionType      `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IntentClassification is the gateway's full verdict on one message.
type IntentClassification struct {
	Intent       Intent       `json:"intent"`
	Confidence   float64      `json:"confidence"`
	ResponseType ResponseType `json:"response_type,omitempty"`
	Message      string       `json:"message,omitempty"`
	Actions      []ActionItem `json:"actions,omitempty"`
}

// FollowupParams is the payload of a send_followup action.
type FollowupParams struct {
	DelayMinutes   int    `json:"delay_minutes"`
	MedicationName string `json:"medication_name,omitempty"`
	Message        string `json:"message,omitempty"`
}

// Validate ensures a follow-up request is schedulable.
func (p *FollowupParams) Validate() error {
	if p.DelayMinutes <= 0 {
		return fmt.Errorf("delay_minutes must be positive, got %d", p.DelayMinutes)
	}
	if p.DelayMinutes > 7*24*60 {
		return fmt.Errorf("delay_minutes exceeds one week: %d", p.DelayMinutes)
	}
	return nil
}

// NotifyVolunteerParams is the payload of a notify_volunteer action.
type NotifyVolunteerParams struct {
	Priority NotificationPriority `json:"priority,omitempty"`
	Reason   string               `json:"reason,omitempty"`
}

// UpdatePatientStatusParams is the payload of an update_patient_status action.
// Only the activity flag is mutable through this path; verification status is
// owned by the verification state machine.
type UpdatePatientStatusParams struct {
	IsActive *bool  `json:"is_active,omitempty"`
	Note     string `json:"note,omitempty"`
}

// ManualConfirmationParams is the payload of a create_manual_confirmation action.
type ManualConfirmationParams struct {
	ReminderID string `json:"reminder_id,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// ParseFollowupParams parses and validates a send_followup action payload.
func (a *ActionItem) ParseFollowupParams() (*FollowupParams, error) {
	if a.Type != ActionSendFollowup {
		return nil, fmt.Errorf("action type %s is not send_followup", a.Type)
	}
	var p FollowupParams
	if err := json.Unmarshal(a.Data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse send_followup data: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid send_followup data: %w", err)
	}
	return &p, nil
}

// ParseNotifyVolunteerParams parses a notify_volunteer action payload.
// Missing or unknown priorities default to normal.
func (a *ActionItem) ParseNotifyVolunteerParams() (*NotifyVolunteerParams, error) {
	if a.Type != ActionNotifyVolunteer {
		return nil, fmt.Errorf("action type %s is not notify_volunteer", a.Type)
	}
	var p NotifyVolunteerParams
	if len(a.Data) > 0 {
		if err := json.Unmarshal(a.Data, &p); err != nil {
			return nil, fmt.Errorf("failed to parse notify_volunteer data: %w", err)
		}
	}
	switch p.Priority {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
	default:
		p.Priority = PriorityNormal
	}
	return &p, nil
}

// ParseUpdatePatientStatusParams parses an update_patient_status action payload.
func (a *ActionItem) ParseUpdatePatientStatusParams() (*UpdatePatientStatusParams, error) {
	if a.Type != ActionUpdatePatientStatus {
		return nil, fmt.Errorf("action type %s is not update_patient_status", a.Type)
	}
	var p UpdatePatientStatusParams
	if err := json.Unmarshal(a.Data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse update_patient_status data: %w", err)
	}
	if p.IsActive == nil {
		return nil, fmt.Errorf("update_patient_status requires is_active")
	}
	return &p, nil
}

// ParseManualConfirmationParams parses a create_manual_confirmation payload.
func (a *ActionItem) ParseManualConfirmationParams() (*ManualConfirmationParams, error) {
	if a.Type != ActionCreateManualConfirmation {
		return nil, fmt.Errorf("action type %s is not create_manual_confirmation", a.Type)
	}
	var p ManualConfirmationParams
	if len(a.Data) > 0 {
		if err := json.Unmarshal(a.Data, &p); err != nil {
			return nil, fmt.Errorf("failed to parse create_manual_confirmation data: %w", err)
		}
	}
	return &p, nil
}
