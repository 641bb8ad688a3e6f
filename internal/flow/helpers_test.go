package flow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/RumahPulih/ObatPing/internal/models"
	"github.com/RumahPulih/ObatPing/internal/store"
)

// recordingSender captures queued replies instead of delivering them.
type recordingSender struct {
	mu   sync.Mutex
	sent []sentReply
}

type sentReply struct {
	PatientID string
	Phone     string
	Body      string
}

func (s *recordingSender) SendReply(ctx context.Context, patientID, phone, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentReply{PatientID: patientID, Phone: phone, Body: body})
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *recordingSender) last() sentReply {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return sentReply{}
	}
	return s.sent[len(s.sent)-1]
}

// mockClassifier returns a canned classification. With forbidden set it fails
// the test when called, which is how the priority ordering is asserted.
type mockClassifier struct {
	t         *testing.T
	cls       *models.IntentClassification
	err       error
	calls     int
	forbidden bool
}

func (m *mockClassifier) ClassifyIntent(ctx context.Context, patient *models.Patient, text string, recent []models.ConversationMessage) (*models.IntentClassification, error) {
	m.calls++
	if m.forbidden {
		m.t.Errorf("classifier called for message %q; earlier pipeline stage should have handled it", text)
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.cls != nil {
		return m.cls, nil
	}
	return &models.IntentClassification{Intent: models.IntentGeneral, Confidence: 0.5, ResponseType: models.ResponseTypeNone}, nil
}

type testEnv struct {
	store      *store.InMemoryStore
	sender     *recordingSender
	classifier *mockClassifier
	manager    *ConversationManager
	router     *Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewInMemoryStore()
	sender := &recordingSender{}
	classifier := &mockClassifier{t: t}
	cm := NewConversationManager(st)
	router := NewRouter(
		st,
		NewResolver(st),
		cm,
		NewVerificationFlow(st, cm, sender),
		NewConfirmationFlow(st, cm, sender),
		classifier,
		NewActionExecutor(st),
		sender,
		0,
	)
	return &testEnv{store: st, sender: sender, classifier: classifier, manager: cm, router: router}
}

func seedPatient(t *testing.T, st *store.InMemoryStore, phone string, status models.VerificationStatus) *models.Patient {
	t.Helper()
	p := &models.Patient{
		Name:               "Test Patient",
		PhoneNumber:        phone,
		VerificationStatus: status,
		IsActive:           true,
	}
	if err := st.CreatePatient(p); err != nil {
		t.Fatalf("seed patient: %v", err)
	}
	return p
}

func seedSentReminder(t *testing.T, st *store.InMemoryStore, patientID string, sentAt time.Time) *models.Reminder {
	t.Helper()
	r := &models.Reminder{
		PatientID:      patientID,
		MedicationName: "Tamoxifen",
		Status:         models.ReminderStatusSent,
		SentAt:         &sentAt,
		ScheduledAt:    sentAt,
	}
	if err := st.CreateReminder(r); err != nil {
		t.Fatalf("seed reminder: %v", err)
	}
	return r
}

func setContext(t *testing.T, cm *ConversationManager, p *models.Patient, ctxType models.ConversationContext, entityType, entityID string, ttl time.Duration) {
	t.Helper()
	if err := cm.SetContext(p, ctxType, entityType, entityID, ttl); err != nil {
		t.Fatalf("set context: %v", err)
	}
}

func textEvent(msgID, sender, text string) *models.InboundEvent {
	return &models.InboundEvent{
		MessageID: msgID,
		Sender:    sender,
		Message:   text,
		Timestamp: time.Now(),
	}
}

func pollEvent(msgID, sender, pollName, option string) *models.InboundEvent {
	return &models.InboundEvent{
		MessageID:      msgID,
		Sender:         sender,
		PollName:       pollName,
		SelectedOption: option,
		Timestamp:      time.Now(),
	}
}
