// Package store: in-memory implementation of the Store interface for tests.
package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/RumahPulih/ObatPing/internal/models"
	"github.com/RumahPulih/ObatPing/internal/util"
	"github.com/google/uuid"
)

// InMemoryStore keeps everything in maps guarded by one mutex. It mirrors the
// SQL backends' semantics closely enough for the flow and API tests.
type InMemoryStore struct {
	mu sync.Mutex

	patients      map[string]models.Patient
	reminders     map[string]models.Reminder
	states        map[string]models.ConversationState // keyed by patient id
	messages      []models.ConversationMessage
	logs          []models.VerificationLog
	notifications []models.VolunteerNotification
	manual        []models.ManualConfirmation
	dedup         map[string]time.Time // fingerprint -> expires at
	outbox        map[string]OutboxMessage
}

var (
	_ Store      = (*InMemoryStore)(nil)
	_ DedupRepo  = (*InMemoryStore)(nil)
	_ OutboxRepo = (*InMemoryStore)(nil)
)

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		patients:  make(map[string]models.Patient),
		reminders: make(map[string]models.Reminder),
		states:    make(map[string]models.ConversationState),
		dedup:     make(map[string]time.Time),
		outbox:    make(map[string]OutboxMessage),
	}
}

func (s *InMemoryStore) CreatePatient(p *models.Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.VerificationStatus == "" {
		p.VerificationStatus = models.VerificationPending
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.patients[p.ID] = *p
	return nil
}

func (s *InMemoryStore) GetPatient(id string) (*models.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[id]
	if !ok {
		return nil, models.ErrPatientNotFound
	}
	return &p, nil
}

func (s *InMemoryStore) FindActivePatientsByPhone(phone string) ([]models.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Patient
	for _, p := range s.patients {
		if p.PhoneNumber == phone && p.IsActive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) UpdatePatientVerification(id string, status models.VerificationStatus) error {
	if !models.IsValidVerificationStatus(status) {
		return fmt.Errorf("invalid verification status: %s", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[id]
	if !ok {
		return models.ErrPatientNotFound
	}
	p.VerificationStatus = status
	p.UpdatedAt = time.Now()
	s.patients[id] = p
	return nil
}

func (s *InMemoryStore) SetPatientActive(id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[id]
	if !ok {
		return models.ErrPatientNotFound
	}
	p.IsActive = active
	p.UpdatedAt = time.Now()
	s.patients[id] = p
	return nil
}

func (s *InMemoryStore) CreateReminder(r *models.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = models.ReminderStatusPending
	}
	if r.ConfirmationStatus == "" {
		r.ConfirmationStatus = models.ConfirmationPending
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	s.reminders[r.ID] = *r
	return nil
}

func (s *InMemoryStore) GetReminder(id string) (*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return nil, models.ErrReminderNotFound
	}
	return &r, nil
}

func (s *InMemoryStore) LatestSentReminder(patientID string) (*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.Reminder
	for id := range s.reminders {
		r := s.reminders[id]
		if r.PatientID != patientID || r.SentAt == nil ||
			(r.Status != models.ReminderStatusSent && r.Status != models.ReminderStatusDelivered) {
			continue
		}
		if latest == nil || r.SentAt.After(*latest.SentAt) {
			cp := r
			latest = &cp
		}
	}
	return latest, nil
}

func (s *InMemoryStore) ConfirmReminder(id, response string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok || r.ConfirmationStatus != models.ConfirmationPending {
		return false, nil
	}
	r.ConfirmationStatus = models.ConfirmationConfirmed
	r.ConfirmationResponse = response
	r.ConfirmationResponseAt = &at
	r.UpdatedAt = at
	s.reminders[id] = r
	return true, nil
}

func (s *InMemoryStore) RecordConfirmationResponse(id, response string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return models.ErrReminderNotFound
	}
	r.ConfirmationResponse = response
	r.ConfirmationResponseAt = &at
	r.UpdatedAt = at
	s.reminders[id] = r
	return nil
}

func (s *InMemoryStore) MarkReminderDelivered(patientID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latestID string
	var latestAt time.Time
	for id, r := range s.reminders {
		if r.PatientID != patientID || r.Status != models.ReminderStatusSent || r.SentAt == nil {
			continue
		}
		if latestID == "" || r.SentAt.After(latestAt) {
			latestID = id
			latestAt = *r.SentAt
		}
	}
	if latestID == "" {
		return false, nil
	}
	r := s.reminders[latestID]
	r.Status = models.ReminderStatusDelivered
	r.UpdatedAt = at
	s.reminders[latestID] = r
	return true, nil
}

func (s *InMemoryStore) FailPendingReminders(patientID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.reminders {
		if r.PatientID == patientID && r.Status == models.ReminderStatusPending {
			r.Status = models.ReminderStatusFailed
			r.UpdatedAt = time.Now()
			s.reminders[id] = r
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) GetConversationState(patientID string) (*models.ConversationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.states[patientID]
	if !ok {
		return nil, nil
	}
	return &cs, nil
}

func (s *InMemoryStore) SaveConversationState(cs *models.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if cs.ID == "" {
		cs.ID = uuid.NewString()
	}
	if existing, ok := s.states[cs.PatientID]; ok {
		cs.ID = existing.ID
		cs.CreatedAt = existing.CreatedAt
	} else if cs.CreatedAt.IsZero() {
		cs.CreatedAt = now
	}
	cs.UpdatedAt = now
	s.states[cs.PatientID] = *cs
	return nil
}

func (s *InMemoryStore) ClearConversationContext(patientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.states[patientID]
	if !ok {
		return nil
	}
	cs.CurrentContext = ""
	cs.RelatedEntityType = ""
	cs.RelatedEntityID = ""
	cs.ExpiresAt = nil
	cs.UpdatedAt = time.Now()
	s.states[patientID] = cs
	return nil
}

func (s *InMemoryStore) AddConversationMessage(m *models.ConversationMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	s.messages = append(s.messages, *m)
	return nil
}

func (s *InMemoryStore) RecentConversationMessages(patientID string, limit int) ([]models.ConversationMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ConversationMessage
	for i := len(s.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if s.messages[i].PatientID == patientID {
			out = append(out, s.messages[i])
		}
	}
	return out, nil
}

func (s *InMemoryStore) AddVerificationLog(l *models.VerificationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	s.logs = append(s.logs, *l)
	return nil
}

func (s *InMemoryStore) ListVerificationLogs(patientID string) ([]models.VerificationLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.VerificationLog
	for _, l := range s.logs {
		if l.PatientID == patientID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *InMemoryStore) AddVolunteerNotification(n *models.VolunteerNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Priority == "" {
		n.Priority = models.PriorityNormal
	}
	if n.Status == "" {
		n.Status = models.NotificationPending
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now
	s.notifications = append(s.notifications, *n)
	return nil
}

func (s *InMemoryStore) ListVolunteerNotifications(status models.NotificationStatus) ([]models.VolunteerNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.VolunteerNotification
	for _, n := range s.notifications {
		if status == "" || n.Status == status {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) AddManualConfirmation(mc *models.ManualConfirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mc.ID == "" {
		mc.ID = uuid.NewString()
	}
	if mc.CreatedAt.IsZero() {
		mc.CreatedAt = time.Now()
	}
	s.manual = append(s.manual, *mc)
	return nil
}

// ManualConfirmations returns all recorded manual confirmations (for tests).
func (s *InMemoryStore) ManualConfirmations() []models.ManualConfirmation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ManualConfirmation, len(s.manual))
	copy(out, s.manual)
	return out
}

func (s *InMemoryStore) RecordInbound(fingerprint, sender string, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for fp, exp := range s.dedup {
		if !now.Before(exp) {
			delete(s.dedup, fp)
		}
	}
	if _, ok := s.dedup[fingerprint]; ok {
		return false, nil
	}
	s.dedup[fingerprint] = now.Add(window)
	return true, nil
}

func (s *InMemoryStore) EnqueueOutboxMessage(patientID, recipient, body, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dedupeKey != "" {
		for _, m := range s.outbox {
			if m.DedupeKey == dedupeKey {
				return m.ID, nil
			}
		}
	}
	now := time.Now()
	m := OutboxMessage{
		ID:          util.GenerateRandomID("outbox_", 32),
		PatientID:   patientID,
		Recipient:   recipient,
		Body:        body,
		DedupeKey:   dedupeKey,
		Status:      OutboxStatusQueued,
		NextRetryAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.outbox[m.ID] = m
	return m.ID, nil
}

func (s *InMemoryStore) ClaimDueOutboxMessages(limit int, now time.Time) ([]OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []OutboxMessage
	for _, m := range s.outbox {
		if m.Status == OutboxStatusQueued && !m.NextRetryAt.After(now) {
			due = append(due, m)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		m := s.outbox[due[i].ID]
		m.Status = OutboxStatusSending
		m.UpdatedAt = now
		s.outbox[m.ID] = m
		due[i] = m
	}
	return due, nil
}

func (s *InMemoryStore) MarkOutboxMessageSent(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.outbox[id]
	if !ok {
		return fmt.Errorf("outbox message %s not found", id)
	}
	m.Status = OutboxStatusSent
	m.UpdatedAt = at
	s.outbox[id] = m
	return nil
}

func (s *InMemoryStore) FailOutboxMessage(id string, attempt int, maxAttempts int, cause string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.outbox[id]
	if !ok {
		return fmt.Errorf("outbox message %s not found", id)
	}
	m.Attempts = attempt
	m.LastError = cause
	m.NextRetryAt = now.Add(OutboxBackoff(attempt))
	if attempt >= maxAttempts {
		m.Status = OutboxStatusFailed
	} else {
		m.Status = OutboxStatusQueued
	}
	m.UpdatedAt = now
	s.outbox[id] = m
	return nil
}

func (s *InMemoryStore) RequeueStaleSendingMessages(staleAfter time.Duration, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, m := range s.outbox {
		if m.Status == OutboxStatusSending && m.UpdatedAt.Before(now.Add(-staleAfter)) {
			m.Status = OutboxStatusQueued
			m.UpdatedAt = now
			s.outbox[id] = m
			n++
		}
	}
	return n, nil
}

// OutboxMessages returns a snapshot of all outbox rows (for tests).
func (s *InMemoryStore) OutboxMessages() []OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OutboxMessage, 0, len(s.outbox))
	for _, m := range s.outbox {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
