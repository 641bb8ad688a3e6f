package store

import (
	"testing"
	"time"

	"github.com/RumahPulih/ObatPing/internal/models"
)

func newVerifiedPatient(t *testing.T, st *InMemoryStore) *models.Patient {
	t.Helper()
	p := &models.Patient{
		Name:               "Ibu Sari",
		PhoneNumber:        "6281234567890",
		VerificationStatus: models.VerificationVerified,
		IsActive:           true,
	}
	if err := st.CreatePatient(p); err != nil {
		t.Fatalf("create patient: %v", err)
	}
	return p
}

func newSentReminder(t *testing.T, st *InMemoryStore, patientID string, sentAt time.Time) *models.Reminder {
	t.Helper()
	r := &models.Reminder{
		PatientID:      patientID,
		MedicationName: "Tamoxifen",
		Status:         models.ReminderStatusSent,
		ScheduledAt:    sentAt,
		SentAt:         &sentAt,
	}
	if err := st.CreateReminder(r); err != nil {
		t.Fatalf("create reminder: %v", err)
	}
	return r
}

func TestDetectDSNType(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{"postgres://obatping@localhost/obatping", "postgres"},
		{"postgresql://obatping@localhost/obatping", "postgres"},
		{"host=localhost user=obatping dbname=obatping", "postgres"},
		{"/var/lib/obatping/obatping.db", "sqlite"},
		{"obatping.db", "sqlite"},
		{"", "sqlite"},
	}
	for _, tt := range tests {
		if got := DetectDSNType(tt.dsn); got != tt.want {
			t.Errorf("DetectDSNType(%q) = %q, want %q", tt.dsn, got, tt.want)
		}
	}
}

func TestConfirmReminderIsConditional(t *testing.T) {
	st := NewInMemoryStore()
	p := newVerifiedPatient(t, st)
	rem := newSentReminder(t, st, p.ID, time.Now())

	updated, err := st.ConfirmReminder(rem.ID, "sudah", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if !updated {
		t.Fatal("first confirmation should update the row")
	}

	// A replayed confirmation must not overwrite the first response.
	updated, err = st.ConfirmReminder(rem.ID, "sudah lagi", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if updated {
		t.Error("second confirmation should be a no-op")
	}
	got, err := st.GetReminder(rem.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ConfirmationResponse != "sudah" {
		t.Errorf("confirmation response = %q, want the original reply", got.ConfirmationResponse)
	}
}

func TestLatestSentReminderPicksMostRecent(t *testing.T) {
	st := NewInMemoryStore()
	p := newVerifiedPatient(t, st)
	now := time.Now()
	newSentReminder(t, st, p.ID, now.Add(-2*time.Hour))
	latest := newSentReminder(t, st, p.ID, now.Add(-5*time.Minute))

	got, err := st.LatestSentReminder(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != latest.ID {
		t.Errorf("expected the most recently sent reminder %s, got %+v", latest.ID, got)
	}
}

func TestLatestSentReminderIncludesDelivered(t *testing.T) {
	st := NewInMemoryStore()
	p := newVerifiedPatient(t, st)
	rem := newSentReminder(t, st, p.ID, time.Now().Add(-time.Hour))
	if _, err := st.MarkReminderDelivered(p.ID, time.Now()); err != nil {
		t.Fatal(err)
	}

	got, err := st.LatestSentReminder(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != rem.ID {
		t.Fatalf("delivered reminder must stay visible to late confirmations, got %+v", got)
	}
	if !got.AwaitingConfirmation() {
		t.Error("delivered reminder with pending confirmation is still awaiting")
	}
}

func TestLatestSentReminderIgnoresPending(t *testing.T) {
	st := NewInMemoryStore()
	p := newVerifiedPatient(t, st)
	if err := st.CreateReminder(&models.Reminder{
		PatientID:      p.ID,
		MedicationName: "Tamoxifen",
		ScheduledAt:    time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	got, err := st.LatestSentReminder(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("pending reminders must not be returned, got %+v", got)
	}
}

func TestMarkReminderDeliveredPromotesLatest(t *testing.T) {
	st := NewInMemoryStore()
	p := newVerifiedPatient(t, st)
	now := time.Now()
	older := newSentReminder(t, st, p.ID, now.Add(-time.Hour))
	latest := newSentReminder(t, st, p.ID, now.Add(-time.Minute))

	updated, err := st.MarkReminderDelivered(p.ID, now)
	if err != nil {
		t.Fatal(err)
	}
	if !updated {
		t.Fatal("expected a reminder to be promoted")
	}

	gotLatest, _ := st.GetReminder(latest.ID)
	if gotLatest.Status != models.ReminderStatusDelivered {
		t.Errorf("latest reminder status = %s, want delivered", gotLatest.Status)
	}
	gotOlder, _ := st.GetReminder(older.ID)
	if gotOlder.Status != models.ReminderStatusSent {
		t.Errorf("older reminder status = %s, want sent", gotOlder.Status)
	}
}

func TestFailPendingRemindersLeavesSentAlone(t *testing.T) {
	st := NewInMemoryStore()
	p := newVerifiedPatient(t, st)
	sent := newSentReminder(t, st, p.ID, time.Now())
	if err := st.CreateReminder(&models.Reminder{
		PatientID:      p.ID,
		MedicationName: "Tamoxifen",
		ScheduledAt:    time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	n, err := st.FailPendingReminders(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected one pending reminder failed, got %d", n)
	}
	got, _ := st.GetReminder(sent.ID)
	if got.Status != models.ReminderStatusSent {
		t.Errorf("sent reminder must not be touched, got status %s", got.Status)
	}
}

func TestSaveConversationStateUpserts(t *testing.T) {
	st := NewInMemoryStore()
	p := newVerifiedPatient(t, st)

	exp := time.Now().Add(time.Hour)
	first := &models.ConversationState{
		PatientID:      p.ID,
		CurrentContext: models.ContextVerification,
		ExpiresAt:      &exp,
	}
	if err := st.SaveConversationState(first); err != nil {
		t.Fatal(err)
	}

	second := &models.ConversationState{
		PatientID:         p.ID,
		CurrentContext:    models.ContextReminderConfirmation,
		RelatedEntityType: "reminder",
		RelatedEntityID:   "rem-1",
		ExpiresAt:         &exp,
	}
	if err := st.SaveConversationState(second); err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Errorf("upsert must keep the row id, got %s and %s", first.ID, second.ID)
	}

	got, err := st.GetConversationState(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CurrentContext != models.ContextReminderConfirmation {
		t.Errorf("context = %s, want reminder confirmation", got.CurrentContext)
	}
}

func TestClearConversationContextKeepsRow(t *testing.T) {
	st := NewInMemoryStore()
	p := newVerifiedPatient(t, st)
	exp := time.Now().Add(time.Hour)
	if err := st.SaveConversationState(&models.ConversationState{
		PatientID:      p.ID,
		CurrentContext: models.ContextVerification,
		ExpiresAt:      &exp,
	}); err != nil {
		t.Fatal(err)
	}

	if err := st.ClearConversationContext(p.ID); err != nil {
		t.Fatal(err)
	}
	got, err := st.GetConversationState(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("clearing must keep the row for history")
	}
	if got.CurrentContext != "" || got.ExpiresAt != nil {
		t.Errorf("context not cleared: %+v", got)
	}
}

func TestRecordInboundDedup(t *testing.T) {
	st := NewInMemoryStore()

	fresh, err := st.RecordInbound("fp-1", "6281234567890", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if !fresh {
		t.Fatal("first record should be fresh")
	}

	fresh, err = st.RecordInbound("fp-1", "6281234567890", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if fresh {
		t.Error("replay within the window should not be fresh")
	}

	// A different fingerprint is independent.
	fresh, _ = st.RecordInbound("fp-2", "6281234567890", time.Minute)
	if !fresh {
		t.Error("distinct fingerprints must not collide")
	}
}

func TestRecordInboundWindowExpiry(t *testing.T) {
	st := NewInMemoryStore()

	if fresh, _ := st.RecordInbound("fp-exp", "628", 10*time.Millisecond); !fresh {
		t.Fatal("first record should be fresh")
	}
	time.Sleep(25 * time.Millisecond)
	if fresh, _ := st.RecordInbound("fp-exp", "628", 10*time.Millisecond); !fresh {
		t.Error("record after the window should be fresh again")
	}
}
