package flow

import (
	"context"
	"fmt"

	"github.com/RumahPulih/ObatPing/internal/store"
)

// ReplySender queues an outbound reply to a patient. The production
// implementation writes to the durable outbox; delivery happens
// asynchronously, so replies survive a crash after the state change that
// caused them.
type ReplySender interface {
	SendReply(ctx context.Context, patientID, phone, body string) error
}

// OutboxReplySender is the production ReplySender backed by the outbox.
type OutboxReplySender struct {
	repo store.OutboxRepo
}

// NewOutboxReplySender creates a new OutboxReplySender.
func NewOutboxReplySender(repo store.OutboxRepo) *OutboxReplySender {
	return &OutboxReplySender{repo: repo}
}

// SendReply enqueues the reply for asynchronous delivery.
func (s *OutboxReplySender) SendReply(ctx context.Context, patientID, phone, body string) error {
	if _, err := s.repo.EnqueueOutboxMessage(patientID, phone, body, ""); err != nil {
		return fmt.Errorf("failed to enqueue reply: %w", err)
	}
	return nil
}
