package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/RumahPulih/ObatPing/internal/models"
)

const testPhone = "6281234567890"

func TestRoute_VerificationContextBeatsClassifier(t *testing.T) {
	env := newTestEnv(t)
	env.classifier.forbidden = true
	p := seedPatient(t, env.store, testPhone, models.VerificationPending)
	setContext(t, env.manager, p, models.ContextVerification, "patient", p.ID, time.Hour)

	res, err := env.router.Route(context.Background(), textEvent("m1", "081234567890", "ya"))
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if res.Outcome != OutcomeVerification {
		t.Fatalf("expected verification outcome, got %s", res.Outcome)
	}
	got, err := env.store.GetPatient(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.VerificationStatus != models.VerificationVerified {
		t.Errorf("expected patient verified, got %s", got.VerificationStatus)
	}
	if env.sender.count() != 1 {
		t.Errorf("expected exactly one outbound reply, got %d", env.sender.count())
	}
}

func TestRoute_DuplicateEventIsDroppedBeforeSideEffects(t *testing.T) {
	env := newTestEnv(t)
	p := seedPatient(t, env.store, testPhone, models.VerificationVerified)
	rem := seedSentReminder(t, env.store, p.ID, time.Now())
	setContext(t, env.manager, p, models.ContextReminderConfirmation, "reminder", rem.ID, time.Hour)

	ev := textEvent("dup-1", testPhone, "sudah")
	if _, err := env.router.Route(context.Background(), ev); err != nil {
		t.Fatalf("first Route failed: %v", err)
	}
	res, err := env.router.Route(context.Background(), ev)
	if err != nil {
		t.Fatalf("second Route failed: %v", err)
	}
	if !res.Duplicate || res.Outcome != OutcomeDuplicate {
		t.Fatalf("expected duplicate outcome, got %+v", res)
	}
	if env.sender.count() != 1 {
		t.Errorf("replay must not queue a second reply, got %d replies", env.sender.count())
	}
	got, err := env.store.GetReminder(rem.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ConfirmationStatus != models.ConfirmationConfirmed {
		t.Errorf("expected reminder confirmed, got %s", got.ConfirmationStatus)
	}
}

func TestRoute_ConfirmationScopedToContextReminder(t *testing.T) {
	env := newTestEnv(t)
	p := seedPatient(t, env.store, testPhone, models.VerificationVerified)
	older := seedSentReminder(t, env.store, p.ID, time.Now().Add(-2*time.Hour))
	newer := seedSentReminder(t, env.store, p.ID, time.Now())
	setContext(t, env.manager, p, models.ContextReminderConfirmation, "reminder", older.ID, time.Hour)

	res, err := env.router.Route(context.Background(), textEvent("m2", testPhone, "sudah minum"))
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if res.Outcome != OutcomeReminderConfirmation {
		t.Fatalf("expected reminder_confirmation outcome, got %s", res.Outcome)
	}

	gotOlder, _ := env.store.GetReminder(older.ID)
	gotNewer, _ := env.store.GetReminder(newer.ID)
	if gotOlder.ConfirmationStatus != models.ConfirmationConfirmed {
		t.Errorf("context reminder should be confirmed, got %s", gotOlder.ConfirmationStatus)
	}
	if gotNewer.ConfirmationStatus != models.ConfirmationPending {
		t.Errorf("unrelated reminder must stay pending, got %s", gotNewer.ConfirmationStatus)
	}
}

func TestRoute_ExpiredContextFallsBackToLatestSentReminder(t *testing.T) {
	env := newTestEnv(t)
	p := seedPatient(t, env.store, testPhone, models.VerificationVerified)
	rem := seedSentReminder(t, env.store, p.ID, time.Now().Add(-time.Hour))
	// Context already expired when the reply arrives.
	setContext(t, env.manager, p, models.ContextReminderConfirmation, "reminder", rem.ID, -time.Minute)

	res, err := env.router.Route(context.Background(), textEvent("m3", testPhone, "sudah"))
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if res.Outcome != OutcomeFallbackConfirmation {
		t.Fatalf("expected fallback confirmation outcome, got %s", res.Outcome)
	}
	got, _ := env.store.GetReminder(rem.ID)
	if got.ConfirmationStatus != models.ConfirmationConfirmed {
		t.Errorf("expected reminder confirmed via fallback, got %s", got.ConfirmationStatus)
	}
}

func TestRoute_UnknownSenderIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	env.classifier.forbidden = true

	res, err := env.router.Route(context.Background(), textEvent("m4", "6289999999999", "halo"))
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if res.Outcome != OutcomeNoPatientMatch {
		t.Fatalf("expected no_patient_match, got %s", res.Outcome)
	}
	if env.sender.count() != 0 {
		t.Errorf("no reply should be sent to unknown senders, got %d", env.sender.count())
	}
}

func TestRoute_CompoundUnsubscribeWinsInVerification(t *testing.T) {
	env := newTestEnv(t)
	p := seedPatient(t, env.store, testPhone, models.VerificationPending)
	pending := &models.Reminder{PatientID: p.ID, ScheduledAt: time.Now().Add(time.Hour)}
	if err := env.store.CreateReminder(pending); err != nil {
		t.Fatal(err)
	}
	setContext(t, env.manager, p, models.ContextVerification, "patient", p.ID, time.Hour)

	if _, err := env.router.Route(context.Background(), textEvent("m5", testPhone, "ya tapi saya mau berhenti")); err != nil {
		t.Fatalf("Route failed: %v", err)
	}

	got, _ := env.store.GetPatient(p.ID)
	if got.IsActive {
		t.Error("expected patient deactivated after unsubscribe")
	}
	if got.VerificationStatus != models.VerificationDeclined {
		t.Errorf("expected declined status, got %s", got.VerificationStatus)
	}
	gotRem, _ := env.store.GetReminder(pending.ID)
	if gotRem.Status != models.ReminderStatusFailed {
		t.Errorf("expected pending reminder stopped, got %s", gotRem.Status)
	}
}

func TestRoute_ClassifierErrorSendsFallbackAck(t *testing.T) {
	env := newTestEnv(t)
	env.classifier.err = errors.New("gateway timeout")
	seedPatient(t, env.store, testPhone, models.VerificationVerified)

	res, err := env.router.Route(context.Background(), textEvent("m6", testPhone, "obat saya warnanya beda"))
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if res.Outcome != OutcomeFallbackAck {
		t.Fatalf("expected fallback_ack, got %s", res.Outcome)
	}
	if env.sender.count() != 1 {
		t.Fatalf("expected one fallback reply, got %d", env.sender.count())
	}
	if env.sender.last().Body != replyFallbackAck {
		t.Errorf("expected generic acknowledgement, got %q", env.sender.last().Body)
	}
}

func TestRoute_IntentReplyAndActions(t *testing.T) {
	env := newTestEnv(t)
	env.classifier.cls = &models.IntentClassification{
		Intent:       models.IntentSideEffectReport,
		Confidence:   0.9,
		ResponseType: models.ResponseTypeAutoReply,
		Message:      "Terima kasih, relawan kami akan menghubungi Anda.",
		Actions: []models.ActionItem{
			{Type: models.ActionNotifyVolunteer, Data: []byte(`{"priority":"high","reason":"efek samping"}`)},
		},
	}
	p := seedPatient(t, env.store, testPhone, models.VerificationVerified)

	res, err := env.router.Route(context.Background(), textEvent("m7", testPhone, "setelah minum obat saya mual"))
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if res.Outcome != OutcomeIntent || res.Intent != models.IntentSideEffectReport {
		t.Fatalf("unexpected result %+v", res)
	}
	if env.sender.last().Body != "Terima kasih, relawan kami akan menghubungi Anda." {
		t.Errorf("expected gateway auto reply, got %q", env.sender.last().Body)
	}
	notes, err := env.store.ListVolunteerNotifications("")
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 1 || notes[0].PatientID != p.ID || notes[0].Priority != models.PriorityHigh {
		t.Errorf("expected one high-priority notification, got %+v", notes)
	}
}

func TestRoute_EmergencyAlwaysNotifiesVolunteer(t *testing.T) {
	env := newTestEnv(t)
	// Gateway flags an emergency but requests no actions.
	env.classifier.cls = &models.IntentClassification{
		Intent:     models.IntentEmergency,
		Confidence: 0.97,
	}
	seedPatient(t, env.store, testPhone, models.VerificationVerified)

	if _, err := env.router.Route(context.Background(), textEvent("m8", testPhone, "dada saya sakit sekali")); err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	notes, err := env.store.ListVolunteerNotifications("")
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 1 {
		t.Fatalf("expected one urgent notification, got %d", len(notes))
	}
	if notes[0].Priority != models.PriorityUrgent {
		t.Errorf("expected urgent priority, got %s", notes[0].Priority)
	}
}

func TestRoute_PollReplyHandledWithoutClassifier(t *testing.T) {
	env := newTestEnv(t)
	env.classifier.forbidden = true
	p := seedPatient(t, env.store, testPhone, models.VerificationVerified)
	rem := seedSentReminder(t, env.store, p.ID, time.Now())
	setContext(t, env.manager, p, models.ContextReminderConfirmation, "reminder", rem.ID, time.Hour)

	res, err := env.router.Route(context.Background(), pollEvent("m9", testPhone, "Konfirmasi Obat", "Sudah"))
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if res.Outcome != OutcomeReminderConfirmation {
		t.Fatalf("expected reminder_confirmation, got %s", res.Outcome)
	}
	got, _ := env.store.GetReminder(rem.ID)
	if got.ConfirmationStatus != models.ConfirmationConfirmed {
		t.Errorf("expected confirmed, got %s", got.ConfirmationStatus)
	}
}

func TestRoute_UnrecognizedConfirmationReplyGetsClarification(t *testing.T) {
	env := newTestEnv(t)
	env.classifier.forbidden = true
	p := seedPatient(t, env.store, testPhone, models.VerificationVerified)
	rem := seedSentReminder(t, env.store, p.ID, time.Now())
	setContext(t, env.manager, p, models.ContextReminderConfirmation, "reminder", rem.ID, time.Hour)

	res, err := env.router.Route(context.Background(), textEvent("m10", testPhone, "obat ini diminum sebelum makan?"))
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if res.Outcome != OutcomeReminderConfirmation {
		t.Fatalf("expected reminder_confirmation outcome, got %s", res.Outcome)
	}
	if env.sender.count() != 1 || env.sender.last().Body != replyConfirmationClarify {
		t.Errorf("expected one clarification re-prompt, got %d replies, last %q", env.sender.count(), env.sender.last().Body)
	}
	got, _ := env.store.GetReminder(rem.ID)
	if got.ConfirmationStatus != models.ConfirmationPending {
		t.Errorf("clarification must not resolve the reminder, got %s", got.ConfirmationStatus)
	}
	// The context stays open so a later "sudah" still lands on this reminder.
	cs, err := env.manager.CurrentContext(p.ID, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if cs == nil || cs.CurrentContext != models.ContextReminderConfirmation {
		t.Error("expected confirmation context to remain active")
	}
}

func TestRoute_ExpiredVerificationContextStillVerifies(t *testing.T) {
	env := newTestEnv(t)
	env.classifier.forbidden = true
	p := seedPatient(t, env.store, testPhone, models.VerificationPending)
	// Context expired before the patient answered the consent question.
	setContext(t, env.manager, p, models.ContextVerification, "patient", p.ID, -time.Minute)

	res, err := env.router.Route(context.Background(), textEvent("m11", testPhone, "Ya saya setuju"))
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if res.Outcome != OutcomeFallbackVerification {
		t.Fatalf("expected fallback_verification outcome, got %s", res.Outcome)
	}
	got, err := env.store.GetPatient(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.VerificationStatus != models.VerificationVerified {
		t.Errorf("expected patient verified despite expired context, got %s", got.VerificationStatus)
	}
	if env.sender.count() != 1 {
		t.Errorf("expected one acknowledgement, got %d", env.sender.count())
	}
	logs, _ := env.store.ListVerificationLogs(p.ID)
	if len(logs) != 1 || logs[0].Result != models.VerificationResultVerified {
		t.Errorf("expected one verified log row, got %+v", logs)
	}
}

func TestRoute_DeliveredReminderStillConfirmableWithoutContext(t *testing.T) {
	env := newTestEnv(t)
	env.classifier.forbidden = true
	p := seedPatient(t, env.store, testPhone, models.VerificationVerified)
	rem := seedSentReminder(t, env.store, p.ID, time.Now().Add(-time.Hour))
	// A read receipt for any outbound message promoted the reminder.
	if _, err := env.store.MarkReminderDelivered(p.ID, time.Now().Add(-30*time.Minute)); err != nil {
		t.Fatal(err)
	}

	res, err := env.router.Route(context.Background(), textEvent("m12", testPhone, "sudah"))
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if res.Outcome != OutcomeFallbackConfirmation {
		t.Fatalf("expected fallback confirmation outcome, got %s", res.Outcome)
	}
	got, _ := env.store.GetReminder(rem.ID)
	if got.ConfirmationStatus != models.ConfirmationConfirmed {
		t.Errorf("expected delivered reminder confirmed, got %s", got.ConfirmationStatus)
	}
}
