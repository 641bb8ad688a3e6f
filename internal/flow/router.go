package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/RumahPulih/ObatPing/internal/metrics"
	"github.com/RumahPulih/ObatPing/internal/models"
	"github.com/RumahPulih/ObatPing/internal/store"
)

// DefaultDedupWindow is how long an event fingerprint blocks replays.
const DefaultDedupWindow = 10 * time.Minute

// Routing outcomes, reported to the webhook handler and to metrics.
const (
	OutcomeDuplicate            = "duplicate"
	OutcomeNoPatientMatch       = "no_patient_match"
	OutcomeVerification         = "verification"
	OutcomeFallbackVerification = "fallback_verification"
	OutcomeReminderConfirmation = "reminder_confirmation"
	OutcomeFallbackConfirmation = "fallback_reminder_confirmation"
	OutcomeIntent               = "intent"
	OutcomeFallbackAck          = "fallback_ack"
)

// RouteResult is what routing one event did.
type RouteResult struct {
	Outcome   string
	Duplicate bool
	PatientID string
	Intent    models.Intent
}

// IntentClassifier is the AI gateway seam. The production implementation is
// genai.Client.
type IntentClassifier interface {
	ClassifyIntent(ctx context.Context, patient *models.Patient, text string, recentMessages []models.ConversationMessage) (*models.IntentClassification, error)
}

// Router drives the inbound pipeline in strict priority order: idempotency,
// patient resolution, active conversation context, pending-verification
// fallback, confirmation fallback, then intent classification. Earlier
// stages are deterministic and cheap; the AI gateway is the last resort.
type Router struct {
	dedup        store.DedupRepo
	resolver     *Resolver
	conversation *ConversationManager
	verification *VerificationFlow
	confirmation *ConfirmationFlow
	classifier   IntentClassifier
	executor     *ActionExecutor
	sender       ReplySender
	dedupWindow  time.Duration
}

// NewRouter creates a new Router. classifier may be nil, in which case every
// free-form message takes the fallback acknowledgement path.
func NewRouter(dedup store.DedupRepo, resolver *Resolver, cm *ConversationManager, vf *VerificationFlow, cf *ConfirmationFlow, classifier IntentClassifier, executor *ActionExecutor, sender ReplySender, dedupWindow time.Duration) *Router {
	if dedupWindow <= 0 {
		dedupWindow = DefaultDedupWindow
	}
	return &Router{
		dedup:        dedup,
		resolver:     resolver,
		conversation: cm,
		verification: vf,
		confirmation: cf,
		classifier:   classifier,
		executor:     executor,
		sender:       sender,
		dedupWindow:  dedupWindow,
	}
}

// Route processes one normalized inbound event end to end.
func (r *Router) Route(ctx context.Context, ev *models.InboundEvent) (*RouteResult, error) {
	// Idempotency ledger first. A ledger failure is logged and the event is
	// processed anyway: a rare duplicate reply beats a dropped confirmation.
	fresh, err := r.dedup.RecordInbound(ev.Fingerprint(), ev.Sender, r.dedupWindow)
	if err != nil {
		slog.Error("idempotency ledger unavailable, processing without dedup", "error", err, "sender", ev.Sender)
		fresh = true
	}
	if !fresh {
		slog.Info("duplicate event dropped", "sender", ev.Sender, "messageID", ev.MessageID)
		return r.finish(&RouteResult{Outcome: OutcomeDuplicate, Duplicate: true}), nil
	}

	patient, err := r.resolver.Resolve(ev.Sender)
	if err != nil {
		return nil, err
	}
	if patient == nil {
		return r.finish(&RouteResult{Outcome: OutcomeNoPatientMatch}), nil
	}

	cs, err := r.conversation.CurrentContext(patient.ID, time.Now())
	if err != nil {
		return nil, err
	}

	if cs != nil && cs.CurrentContext == models.ContextVerification {
		r.conversation.RecordInbound(patient.ID, ev.Text(), "", 0)
		if _, err := r.verification.HandleReply(ctx, patient, ev); err != nil {
			return nil, err
		}
		return r.finish(&RouteResult{Outcome: OutcomeVerification, PatientID: patient.ID}), nil
	}

	if cs != nil && cs.CurrentContext == models.ContextReminderConfirmation {
		// The confirmation flow answers everything here, including a
		// clarification re-prompt for unrecognized replies; the classifier is
		// never consulted while the confirmation question is outstanding.
		if _, err := r.confirmation.HandleReply(ctx, patient, cs.RelatedEntityID, ev); err != nil {
			return nil, err
		}
		r.conversation.RecordInbound(patient.ID, ev.Text(), "", 0)
		return r.finish(&RouteResult{Outcome: OutcomeReminderConfirmation, PatientID: patient.ID}), nil
	}

	if cs == nil && patient.VerificationStatus == models.VerificationPending {
		// The verification context may have expired while the patient is
		// still unverified. Consent stays with strict keyword matching, so an
		// expired TTL never strands a patient or leaks a consent reply to the
		// classifier.
		r.conversation.RecordInbound(patient.ID, ev.Text(), "", 0)
		if _, err := r.verification.HandleReply(ctx, patient, ev); err != nil {
			return nil, err
		}
		return r.finish(&RouteResult{Outcome: OutcomeFallbackVerification, PatientID: patient.ID}), nil
	}

	if cs == nil {
		outcome, err := r.confirmation.HandleWithoutContext(ctx, patient, ev)
		if err != nil {
			return nil, err
		}
		if outcome != OutcomeUnmatched {
			r.conversation.RecordInbound(patient.ID, ev.Text(), "", 0)
			return r.finish(&RouteResult{Outcome: OutcomeFallbackConfirmation, PatientID: patient.ID}), nil
		}
	}

	return r.classify(ctx, patient, ev)
}

// classify sends the message to the AI gateway. Any gateway failure degrades
// to the generic acknowledgement; the patient never waits on a broken model.
func (r *Router) classify(ctx context.Context, patient *models.Patient, ev *models.InboundEvent) (*RouteResult, error) {
	if r.classifier == nil {
		r.conversation.RecordInbound(patient.ID, ev.Text(), "", 0)
		r.ack(ctx, patient)
		return r.finish(&RouteResult{Outcome: OutcomeFallbackAck, PatientID: patient.ID}), nil
	}

	recent := r.conversation.RecentMessages(patient.ID, 10)
	cls, err := r.classifier.ClassifyIntent(ctx, patient, ev.Text(), recent)
	if err != nil {
		slog.Error("intent classification failed, sending fallback ack", "error", err, "patientID", patient.ID)
		r.conversation.RecordInbound(patient.ID, ev.Text(), string(models.IntentUnknown), 0)
		r.ack(ctx, patient)
		return r.finish(&RouteResult{Outcome: OutcomeFallbackAck, PatientID: patient.ID}), nil
	}

	metrics.IntentClassifications.WithLabelValues(string(cls.Intent)).Inc()
	r.conversation.RecordInbound(patient.ID, ev.Text(), string(cls.Intent), cls.Confidence)

	// Reply first, actions second: the acknowledgement must not depend on
	// action execution.
	if cls.ResponseType == models.ResponseTypeAutoReply && cls.Message != "" {
		r.reply(ctx, patient, cls.Message)
	} else {
		r.ack(ctx, patient)
	}

	actions := cls.Actions
	if cls.Intent == models.IntentEmergency && !hasNotifyVolunteer(actions) {
		// Emergencies always reach a volunteer even when the gateway forgot
		// to request it.
		actions = append(actions, models.ActionItem{Type: models.ActionNotifyVolunteer, Data: []byte(`{"priority":"urgent","reason":"Pesan darurat dari pasien."}`)})
	}
	r.executor.Execute(ctx, patient, actions)

	return r.finish(&RouteResult{Outcome: OutcomeIntent, PatientID: patient.ID, Intent: cls.Intent}), nil
}

func (r *Router) ack(ctx context.Context, patient *models.Patient) {
	r.reply(ctx, patient, replyFallbackAck)
}

func (r *Router) reply(ctx context.Context, patient *models.Patient, body string) {
	if err := r.sender.SendReply(ctx, patient.ID, patient.PhoneNumber, body); err != nil {
		slog.Error("failed to queue reply", "error", err, "patientID", patient.ID)
		return
	}
	r.conversation.RecordOutbound(patient.ID, body)
}

func (r *Router) finish(res *RouteResult) *RouteResult {
	metrics.WebhookEvents.WithLabelValues(res.Outcome).Inc()
	return res
}

func hasNotifyVolunteer(actions []models.ActionItem) bool {
	for _, a := range actions {
		if a.Type == models.ActionNotifyVolunteer {
			return true
		}
	}
	return false
}
