package flow

import (
	"context"
	"testing"
	"time"

	"github.com/RumahPulih/ObatPing/internal/models"
)

func TestVerification_DeclineRecordsAudit(t *testing.T) {
	env := newTestEnv(t)
	p := seedPatient(t, env.store, testPhone, models.VerificationPending)
	setContext(t, env.manager, p, models.ContextVerification, "patient", p.ID, time.Hour)

	vf := NewVerificationFlow(env.store, env.manager, env.sender)
	result, err := vf.HandleReply(context.Background(), p, textEvent("v1", testPhone, "tidak"))
	if err != nil {
		t.Fatalf("HandleReply failed: %v", err)
	}
	if result != models.VerificationResultDeclined {
		t.Fatalf("expected declined, got %s", result)
	}
	logs, err := env.store.ListVerificationLogs(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0].Result != models.VerificationResultDeclined {
		t.Errorf("expected one declined audit row, got %+v", logs)
	}
	// Decline keeps the patient active for volunteer follow-up.
	got, _ := env.store.GetPatient(p.ID)
	if !got.IsActive {
		t.Error("decline must not deactivate the patient")
	}
}

func TestVerification_UnrecognizedKeepsContextActive(t *testing.T) {
	env := newTestEnv(t)
	p := seedPatient(t, env.store, testPhone, models.VerificationPending)
	setContext(t, env.manager, p, models.ContextVerification, "patient", p.ID, time.Hour)

	vf := NewVerificationFlow(env.store, env.manager, env.sender)
	result, err := vf.HandleReply(context.Background(), p, textEvent("v2", testPhone, "siapa ini?"))
	if err != nil {
		t.Fatalf("HandleReply failed: %v", err)
	}
	if result != models.VerificationResultUnrecognized {
		t.Fatalf("expected unrecognized, got %s", result)
	}
	cs, err := env.manager.CurrentContext(p.ID, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if cs == nil || cs.CurrentContext != models.ContextVerification {
		t.Error("unrecognized reply must keep the verification context active")
	}
	if env.sender.last().Body != replyVerificationUnrecognized {
		t.Errorf("expected re-prompt, got %q", env.sender.last().Body)
	}
	got, _ := env.store.GetPatient(p.ID)
	if got.VerificationStatus != models.VerificationPending {
		t.Errorf("status must stay pending, got %s", got.VerificationStatus)
	}
}

func TestVerification_SecondReplyAfterResolutionIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	p := seedPatient(t, env.store, testPhone, models.VerificationVerified)
	setContext(t, env.manager, p, models.ContextVerification, "patient", p.ID, time.Hour)

	vf := NewVerificationFlow(env.store, env.manager, env.sender)
	result, err := vf.HandleReply(context.Background(), p, textEvent("v3", testPhone, "tidak"))
	if err != nil {
		t.Fatalf("HandleReply failed: %v", err)
	}
	if result != models.VerificationResultAlreadyResolved {
		t.Fatalf("expected ignored_already_resolved, got %s", result)
	}
	got, _ := env.store.GetPatient(p.ID)
	if got.VerificationStatus != models.VerificationVerified {
		t.Errorf("resolved status must not flip, got %s", got.VerificationStatus)
	}
}

func TestVerification_UnsubscribeFromVerifiedState(t *testing.T) {
	env := newTestEnv(t)
	p := seedPatient(t, env.store, testPhone, models.VerificationVerified)
	setContext(t, env.manager, p, models.ContextVerification, "patient", p.ID, time.Hour)

	vf := NewVerificationFlow(env.store, env.manager, env.sender)
	result, err := vf.HandleReply(context.Background(), p, textEvent("v4", testPhone, "berhenti"))
	if err != nil {
		t.Fatalf("HandleReply failed: %v", err)
	}
	if result != models.VerificationResultUnsubscribed {
		t.Fatalf("expected unsubscribed, got %s", result)
	}
	got, _ := env.store.GetPatient(p.ID)
	if got.IsActive {
		t.Error("unsubscribe must deactivate the patient")
	}
}

func TestVerification_PollAcceptReply(t *testing.T) {
	env := newTestEnv(t)
	p := seedPatient(t, env.store, testPhone, models.VerificationPending)
	setContext(t, env.manager, p, models.ContextVerification, "patient", p.ID, time.Hour)

	vf := NewVerificationFlow(env.store, env.manager, env.sender)
	result, err := vf.HandleReply(context.Background(), p, pollEvent("v5", testPhone, "Persetujuan Layanan", "Ya"))
	if err != nil {
		t.Fatalf("HandleReply failed: %v", err)
	}
	if result != models.VerificationResultVerified {
		t.Fatalf("expected verified, got %s", result)
	}
}
