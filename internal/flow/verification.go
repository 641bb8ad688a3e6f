package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/RumahPulih/ObatPing/internal/keywords"
	"github.com/RumahPulih/ObatPing/internal/models"
	"github.com/RumahPulih/ObatPing/internal/store"
)

// VerificationFlow handles patient replies while a verification context is
// active: the consent question sent after registration.
type VerificationFlow struct {
	store        store.Store
	conversation *ConversationManager
	sender       ReplySender
}

// NewVerificationFlow creates a new VerificationFlow.
func NewVerificationFlow(st store.Store, cm *ConversationManager, sender ReplySender) *VerificationFlow {
	return &VerificationFlow{store: st, conversation: cm, sender: sender}
}

// HandleReply processes one reply in verification context. It returns the
// recorded result. Every reply is appended to the verification audit log,
// including unrecognized ones.
func (f *VerificationFlow) HandleReply(ctx context.Context, patient *models.Patient, ev *models.InboundEvent) (models.VerificationResult, error) {
	var reply keywords.VerificationReply
	if ev.IsPollResponse() {
		reply = keywords.MatchVerificationPoll(ev.SelectedOption)
	} else {
		reply = keywords.MatchVerification(ev.Message)
	}

	// A patient whose status is already resolved can still have a lingering
	// verification context (duplicate gateway retries, volunteer re-sends).
	// The reply is logged but must not flip the resolved status.
	if patient.VerificationStatus != models.VerificationPending &&
		(reply == keywords.ReplyAccept || reply == keywords.ReplyDecline) {
		slog.Info("verification reply ignored, status already resolved",
			"patientID", patient.ID, "status", patient.VerificationStatus, "reply", reply)
		f.log(patient.ID, models.VerificationResultAlreadyResolved, ev.Text())
		if err := f.conversation.ClearContext(patient.ID); err != nil {
			slog.Warn("failed to clear stale verification context", "error", err, "patientID", patient.ID)
		}
		return models.VerificationResultAlreadyResolved, nil
	}

	switch reply {
	case keywords.ReplyUnsubscribe:
		return f.unsubscribe(ctx, patient, ev)
	case keywords.ReplyAccept:
		return f.accept(ctx, patient, ev)
	case keywords.ReplyDecline:
		return f.decline(ctx, patient, ev)
	default:
		// Unrecognized replies keep the context active so the patient can
		// try again; the re-prompt explains the expected answers.
		f.log(patient.ID, models.VerificationResultUnrecognized, ev.Text())
		if err := f.sender.SendReply(ctx, patient.ID, patient.PhoneNumber, replyVerificationUnrecognized); err != nil {
			slog.Error("failed to queue verification re-prompt", "error", err, "patientID", patient.ID)
		} else {
			f.conversation.RecordOutbound(patient.ID, replyVerificationUnrecognized)
		}
		return models.VerificationResultUnrecognized, nil
	}
}

func (f *VerificationFlow) accept(ctx context.Context, patient *models.Patient, ev *models.InboundEvent) (models.VerificationResult, error) {
	if err := f.store.UpdatePatientVerification(patient.ID, models.VerificationVerified); err != nil {
		return "", fmt.Errorf("failed to mark patient verified: %w", err)
	}
	patient.VerificationStatus = models.VerificationVerified
	f.log(patient.ID, models.VerificationResultVerified, ev.Text())
	if err := f.conversation.ClearContext(patient.ID); err != nil {
		slog.Warn("failed to clear verification context", "error", err, "patientID", patient.ID)
	}
	f.reply(ctx, patient, replyVerified)
	slog.Info("patient verified", "patientID", patient.ID)
	return models.VerificationResultVerified, nil
}

func (f *VerificationFlow) decline(ctx context.Context, patient *models.Patient, ev *models.InboundEvent) (models.VerificationResult, error) {
	if err := f.store.UpdatePatientVerification(patient.ID, models.VerificationDeclined); err != nil {
		return "", fmt.Errorf("failed to mark patient declined: %w", err)
	}
	patient.VerificationStatus = models.VerificationDeclined
	f.log(patient.ID, models.VerificationResultDeclined, ev.Text())
	if err := f.conversation.ClearContext(patient.ID); err != nil {
		slog.Warn("failed to clear verification context", "error", err, "patientID", patient.ID)
	}
	f.reply(ctx, patient, replyDeclined)
	slog.Info("patient declined verification", "patientID", patient.ID)
	return models.VerificationResultDeclined, nil
}

// unsubscribe deactivates the patient entirely: verification status declined,
// patient inactive, all not-yet-sent reminders failed. Works from any
// verification status, not only pending.
func (f *VerificationFlow) unsubscribe(ctx context.Context, patient *models.Patient, ev *models.InboundEvent) (models.VerificationResult, error) {
	if err := f.store.UpdatePatientVerification(patient.ID, models.VerificationDeclined); err != nil {
		return "", fmt.Errorf("failed to mark patient declined: %w", err)
	}
	if err := f.store.SetPatientActive(patient.ID, false); err != nil {
		return "", fmt.Errorf("failed to deactivate patient: %w", err)
	}
	n, err := f.store.FailPendingReminders(patient.ID)
	if err != nil {
		return "", fmt.Errorf("failed to stop pending reminders: %w", err)
	}
	patient.VerificationStatus = models.VerificationDeclined
	patient.IsActive = false
	f.log(patient.ID, models.VerificationResultUnsubscribed, ev.Text())
	if err := f.conversation.ClearContext(patient.ID); err != nil {
		slog.Warn("failed to clear verification context", "error", err, "patientID", patient.ID)
	}
	f.reply(ctx, patient, replyUnsubscribed)
	slog.Info("patient unsubscribed", "patientID", patient.ID, "stoppedReminders", n)
	return models.VerificationResultUnsubscribed, nil
}

func (f *VerificationFlow) reply(ctx context.Context, patient *models.Patient, body string) {
	if err := f.sender.SendReply(ctx, patient.ID, patient.PhoneNumber, body); err != nil {
		slog.Error("failed to queue verification reply", "error", err, "patientID", patient.ID)
		return
	}
	f.conversation.RecordOutbound(patient.ID, body)
}

func (f *VerificationFlow) log(patientID string, result models.VerificationResult, text string) {
	l := &models.VerificationLog{PatientID: patientID, Result: result, ResponseText: text}
	if err := f.store.AddVerificationLog(l); err != nil {
		slog.Warn("failed to write verification log", "error", err, "patientID", patientID, "result", result)
	}
}
