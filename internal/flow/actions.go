package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/RumahPulih/ObatPing/internal/models"
	"github.com/RumahPulih/ObatPing/internal/store"
)

// ActionExecutor applies the follow-up actions requested by the AI gateway.
// Actions run after the acknowledgement is already queued, so a failing
// action never costs the patient their reply. Each action is isolated: one
// failure is logged and the rest still run.
type ActionExecutor struct {
	store store.Store
}

// NewActionExecutor creates a new ActionExecutor.
func NewActionExecutor(st store.Store) *ActionExecutor {
	return &ActionExecutor{store: st}
}

// Execute runs all actions from a classification. It returns the number of
// actions that succeeded.
func (e *ActionExecutor) Execute(ctx context.Context, patient *models.Patient, actions []models.ActionItem) int {
	ok := 0
	for _, a := range actions {
		if err := e.executeOne(ctx, patient, a); err != nil {
			slog.Error("action execution failed", "error", err, "patientID", patient.ID, "actionType", a.Type)
			continue
		}
		ok++
	}
	return ok
}

func (e *ActionExecutor) executeOne(ctx context.Context, patient *models.Patient, a models.ActionItem) error {
	switch a.Type {
	case models.ActionLogConfirmation:
		return e.logConfirmation(patient, a)
	case models.ActionSendFollowup:
		return e.sendFollowup(patient, a)
	case models.ActionNotifyVolunteer:
		return e.notifyVolunteer(patient, a)
	case models.ActionUpdatePatientStatus:
		return e.updatePatientStatus(patient, a)
	case models.ActionCreateManualConfirmation:
		return e.createManualConfirmation(patient, a)
	default:
		// Unknown action types are skipped so the gateway contract can grow
		// without breaking older deployments.
		slog.Warn("skipping unknown action type", "actionType", a.Type, "patientID", patient.ID)
		return nil
	}
}

// logConfirmation confirms the patient's latest sent reminder. The gateway
// requests this when free text clearly states the medication was taken.
func (e *ActionExecutor) logConfirmation(patient *models.Patient, a models.ActionItem) error {
	reminder, err := e.store.LatestSentReminder(patient.ID)
	if err != nil {
		return fmt.Errorf("log_confirmation lookup failed: %w", err)
	}
	if reminder == nil || !reminder.AwaitingConfirmation() {
		slog.Info("log_confirmation: no reminder awaiting confirmation", "patientID", patient.ID)
		return nil
	}
	updated, err := e.store.ConfirmReminder(reminder.ID, "ai:log_confirmation", time.Now())
	if err != nil {
		return fmt.Errorf("log_confirmation update failed: %w", err)
	}
	if updated {
		slog.Info("log_confirmation applied", "patientID", patient.ID, "reminderID", reminder.ID)
	}
	return nil
}

// sendFollowup schedules a one-off reminder row for the external scheduler to
// deliver after the requested delay.
func (e *ActionExecutor) sendFollowup(patient *models.Patient, a models.ActionItem) error {
	params, err := a.ParseFollowupParams()
	if err != nil {
		return err
	}
	r := &models.Reminder{
		PatientID:      patient.ID,
		MedicationName: params.MedicationName,
		Body:           params.Message,
		ScheduledAt:    time.Now().Add(time.Duration(params.DelayMinutes) * time.Minute),
	}
	if err := e.store.CreateReminder(r); err != nil {
		return fmt.Errorf("send_followup create failed: %w", err)
	}
	slog.Info("send_followup scheduled", "patientID", patient.ID, "reminderID", r.ID, "delayMinutes", params.DelayMinutes)
	return nil
}

func (e *ActionExecutor) notifyVolunteer(patient *models.Patient, a models.ActionItem) error {
	params, err := a.ParseNotifyVolunteerParams()
	if err != nil {
		return err
	}
	reason := params.Reason
	if reason == "" {
		reason = "Pasien membutuhkan perhatian relawan."
	}
	n := &models.VolunteerNotification{
		PatientID: patient.ID,
		Message:   reason,
		Priority:  params.Priority,
	}
	if err := e.store.AddVolunteerNotification(n); err != nil {
		return fmt.Errorf("notify_volunteer create failed: %w", err)
	}
	slog.Info("notify_volunteer created", "patientID", patient.ID, "notificationID", n.ID, "priority", n.Priority)
	return nil
}

// updatePatientStatus only touches the activity flag. Verification status is
// owned by the verification state machine and cannot be changed here.
func (e *ActionExecutor) updatePatientStatus(patient *models.Patient, a models.ActionItem) error {
	params, err := a.ParseUpdatePatientStatusParams()
	if err != nil {
		return err
	}
	if err := e.store.SetPatientActive(patient.ID, *params.IsActive); err != nil {
		return fmt.Errorf("update_patient_status failed: %w", err)
	}
	patient.IsActive = *params.IsActive
	slog.Info("update_patient_status applied", "patientID", patient.ID, "isActive", *params.IsActive, "note", params.Note)
	return nil
}

func (e *ActionExecutor) createManualConfirmation(patient *models.Patient, a models.ActionItem) error {
	params, err := a.ParseManualConfirmationParams()
	if err != nil {
		return err
	}
	mc := &models.ManualConfirmation{
		PatientID:  patient.ID,
		ReminderID: params.ReminderID,
		Notes:      params.Notes,
	}
	if err := e.store.AddManualConfirmation(mc); err != nil {
		return fmt.Errorf("create_manual_confirmation failed: %w", err)
	}
	slog.Info("create_manual_confirmation recorded", "patientID", patient.ID, "manualConfirmationID", mc.ID)
	return nil
}
