package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/RumahPulih/ObatPing/internal/keywords"
	"github.com/RumahPulih/ObatPing/internal/models"
	"github.com/RumahPulih/ObatPing/internal/store"
)

// ConfirmationOutcome is what a reply in reminder confirmation context did.
type ConfirmationOutcome string

const (
	OutcomeConfirmed      ConfirmationOutcome = "confirmed"
	OutcomeNotYet         ConfirmationOutcome = "not_yet"
	OutcomeEscalated      ConfirmationOutcome = "escalated"
	OutcomeAlreadyHandled ConfirmationOutcome = "already_handled"
	OutcomeClarified      ConfirmationOutcome = "clarified"
	OutcomeUnmatched      ConfirmationOutcome = "unmatched"
)

// ConfirmationFlow handles patient replies while a reminder confirmation
// context is active, and the fallback path where a confirmation-looking
// reply arrives without a context.
type ConfirmationFlow struct {
	store        store.Store
	conversation *ConversationManager
	sender       ReplySender
}

// NewConfirmationFlow creates a new ConfirmationFlow.
func NewConfirmationFlow(st store.Store, cm *ConversationManager, sender ReplySender) *ConfirmationFlow {
	return &ConfirmationFlow{store: st, conversation: cm, sender: sender}
}

// HandleReply processes one reply against the reminder named by the active
// context. A reply that does not look like a confirmation gets a clarification
// re-prompt and the context stays open; the classifier is never consulted
// while the confirmation question is outstanding.
func (f *ConfirmationFlow) HandleReply(ctx context.Context, patient *models.Patient, reminderID string, ev *models.InboundEvent) (ConfirmationOutcome, error) {
	reminder, err := f.store.GetReminder(reminderID)
	if err != nil {
		return "", fmt.Errorf("failed to load reminder %s: %w", reminderID, err)
	}
	return f.apply(ctx, patient, reminder, ev, true)
}

// HandleWithoutContext is the safety net for a confirmation reply with no
// active context (context expired, or state row lost). It targets the
// patient's most recently sent reminder still awaiting confirmation.
// OutcomeUnmatched means nothing plausible was found.
func (f *ConfirmationFlow) HandleWithoutContext(ctx context.Context, patient *models.Patient, ev *models.InboundEvent) (ConfirmationOutcome, error) {
	reminder, err := f.store.LatestSentReminder(patient.ID)
	if err != nil {
		return "", fmt.Errorf("failed to find latest sent reminder: %w", err)
	}
	if reminder == nil || !reminder.AwaitingConfirmation() {
		return OutcomeUnmatched, nil
	}
	outcome, err := f.apply(ctx, patient, reminder, ev, false)
	if err == nil && outcome == OutcomeConfirmed {
		slog.Info("confirmation applied without active context", "patientID", patient.ID, "reminderID", reminder.ID)
	}
	return outcome, nil
}

func (f *ConfirmationFlow) apply(ctx context.Context, patient *models.Patient, reminder *models.Reminder, ev *models.InboundEvent, contextActive bool) (ConfirmationOutcome, error) {
	var reply keywords.ConfirmationReply
	if ev.IsPollResponse() {
		reply = keywords.MatchConfirmationPoll(ev.SelectedOption)
	} else {
		reply = keywords.MatchConfirmation(ev.Message)
	}

	switch reply {
	case keywords.ReplyTaken:
		return f.confirm(ctx, patient, reminder, ev)
	case keywords.ReplyNotYet:
		return f.notYet(ctx, patient, reminder, ev)
	case keywords.ReplyNeedHelp:
		return f.escalate(ctx, patient, reminder, ev)
	default:
		if !contextActive {
			return OutcomeUnmatched, nil
		}
		// Re-prompt and keep the context open so a later "sudah" still lands.
		f.reply(ctx, patient, replyConfirmationClarify)
		slog.Info("confirmation reply unrecognized, sent clarification", "patientID", patient.ID, "reminderID", reminder.ID)
		return OutcomeClarified, nil
	}
}

// confirm conditionally flips the reminder to confirmed. The update is scoped
// to rows still pending, so a duplicate "sudah" after the volunteer already
// logged a manual confirmation changes nothing.
func (f *ConfirmationFlow) confirm(ctx context.Context, patient *models.Patient, reminder *models.Reminder, ev *models.InboundEvent) (ConfirmationOutcome, error) {
	updated, err := f.store.ConfirmReminder(reminder.ID, ev.Text(), time.Now())
	if err != nil {
		return "", fmt.Errorf("failed to confirm reminder %s: %w", reminder.ID, err)
	}
	if err := f.conversation.ClearContext(patient.ID); err != nil {
		slog.Warn("failed to clear confirmation context", "error", err, "patientID", patient.ID)
	}
	if !updated {
		// The row was resolved by an earlier reply or a volunteer override.
		// The patient still gets an acknowledgement, never silence.
		f.reply(ctx, patient, replyConfirmationAlreadyDone)
		slog.Info("confirmation reply for already-resolved reminder acknowledged", "patientID", patient.ID, "reminderID", reminder.ID)
		return OutcomeAlreadyHandled, nil
	}
	f.reply(ctx, patient, replyConfirmationThanks)
	slog.Info("reminder confirmed", "patientID", patient.ID, "reminderID", reminder.ID)
	return OutcomeConfirmed, nil
}

// notYet records the reply but keeps the reminder pending so a later "sudah"
// or the external missed-dose sweep can still resolve it. The context is
// cleared; a later "sudah" lands via the no-context fallback.
func (f *ConfirmationFlow) notYet(ctx context.Context, patient *models.Patient, reminder *models.Reminder, ev *models.InboundEvent) (ConfirmationOutcome, error) {
	if !reminder.AwaitingConfirmation() {
		f.reply(ctx, patient, replyConfirmationAlreadyDone)
		return OutcomeAlreadyHandled, nil
	}
	if err := f.store.RecordConfirmationResponse(reminder.ID, ev.Text(), time.Now()); err != nil {
		return "", fmt.Errorf("failed to record not-yet response: %w", err)
	}
	if err := f.conversation.ClearContext(patient.ID); err != nil {
		slog.Warn("failed to clear confirmation context", "error", err, "patientID", patient.ID)
	}
	f.reply(ctx, patient, replyConfirmationNotYet)
	slog.Info("reminder not yet taken", "patientID", patient.ID, "reminderID", reminder.ID)
	return OutcomeNotYet, nil
}

// escalate creates a high-priority volunteer notification for a help request.
func (f *ConfirmationFlow) escalate(ctx context.Context, patient *models.Patient, reminder *models.Reminder, ev *models.InboundEvent) (ConfirmationOutcome, error) {
	n := &models.VolunteerNotification{
		PatientID: patient.ID,
		Message:   fmt.Sprintf("Pasien meminta bantuan saat konfirmasi obat %s: %q", reminder.MedicationName, ev.Text()),
		Priority:  models.PriorityHigh,
	}
	if err := f.store.AddVolunteerNotification(n); err != nil {
		return "", fmt.Errorf("failed to create volunteer notification: %w", err)
	}
	if err := f.conversation.ClearContext(patient.ID); err != nil {
		slog.Warn("failed to clear confirmation context", "error", err, "patientID", patient.ID)
	}
	f.reply(ctx, patient, replyNeedHelp)
	slog.Info("confirmation escalated to volunteer", "patientID", patient.ID, "reminderID", reminder.ID, "notificationID", n.ID)
	return OutcomeEscalated, nil
}

func (f *ConfirmationFlow) reply(ctx context.Context, patient *models.Patient, body string) {
	if err := f.sender.SendReply(ctx, patient.ID, patient.PhoneNumber, body); err != nil {
		slog.Error("failed to queue confirmation reply", "error", err, "patientID", patient.ID)
		return
	}
	f.conversation.RecordOutbound(patient.ID, body)
}
