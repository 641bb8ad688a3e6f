package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestOutboxBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{6, 16 * time.Minute},
		{7, 30 * time.Minute},
		{20, 30 * time.Minute},
	}
	for _, tt := range tests {
		if got := OutboxBackoff(tt.attempt); got != tt.want {
			t.Errorf("OutboxBackoff(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestEnqueueOutboxMessageDedupeKey(t *testing.T) {
	st := NewInMemoryStore()

	id1, err := st.EnqueueOutboxMessage("patient-1", "6281234567890", "Halo", "reminder:rem-1")
	if err != nil {
		t.Fatal(err)
	}
	id2, err := st.EnqueueOutboxMessage("patient-1", "6281234567890", "Halo", "reminder:rem-1")
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("same dedupe key must return the existing row, got %s and %s", id1, id2)
	}
	if n := len(st.OutboxMessages()); n != 1 {
		t.Errorf("expected one outbox row, got %d", n)
	}

	// Empty dedupe keys never coalesce.
	id3, _ := st.EnqueueOutboxMessage("patient-1", "6281234567890", "Halo", "")
	id4, _ := st.EnqueueOutboxMessage("patient-1", "6281234567890", "Halo", "")
	if id3 == id4 {
		t.Error("messages without dedupe keys must be independent rows")
	}
}

func TestClaimDueOutboxMessages(t *testing.T) {
	st := NewInMemoryStore()
	for range 3 {
		if _, err := st.EnqueueOutboxMessage("patient-1", "628", "Halo", ""); err != nil {
			t.Fatal(err)
		}
	}

	claimed, err := st.ClaimDueOutboxMessages(2, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 2 {
		t.Fatalf("claim limit not respected, got %d messages", len(claimed))
	}
	for _, m := range claimed {
		if m.Status != OutboxStatusSending {
			t.Errorf("claimed message %s status = %s, want sending", m.ID, m.Status)
		}
	}

	// Claimed messages must not be claimable again.
	again, err := st.ClaimDueOutboxMessages(10, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 1 {
		t.Errorf("expected the one remaining queued message, got %d", len(again))
	}
}

func TestFailOutboxMessageRequeuesThenFails(t *testing.T) {
	st := NewInMemoryStore()
	id, err := st.EnqueueOutboxMessage("patient-1", "628", "Halo", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.ClaimDueOutboxMessages(1, time.Now()); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	if err := st.FailOutboxMessage(id, 1, 3, "gateway timeout", now); err != nil {
		t.Fatal(err)
	}
	msgs := st.OutboxMessages()
	if msgs[0].Status != OutboxStatusQueued {
		t.Errorf("status = %s, want queued for retry", msgs[0].Status)
	}
	if msgs[0].LastError != "gateway timeout" {
		t.Errorf("last error = %q", msgs[0].LastError)
	}
	if got := msgs[0].NextRetryAt.Sub(now); got != OutboxBackoff(1) {
		t.Errorf("retry delay = %s, want %s", got, OutboxBackoff(1))
	}

	// A message that is not yet due must not be claimed.
	claimed, _ := st.ClaimDueOutboxMessages(10, now)
	if len(claimed) != 0 {
		t.Errorf("backed-off message claimed early: %d", len(claimed))
	}

	// Terminal failure at maxAttempts.
	if err := st.FailOutboxMessage(id, 3, 3, "gateway timeout", now); err != nil {
		t.Fatal(err)
	}
	if got := st.OutboxMessages()[0].Status; got != OutboxStatusFailed {
		t.Errorf("status after max attempts = %s, want failed", got)
	}
}

func TestRequeueStaleSendingMessages(t *testing.T) {
	st := NewInMemoryStore()
	if _, err := st.EnqueueOutboxMessage("patient-1", "628", "Halo", ""); err != nil {
		t.Fatal(err)
	}
	claimedAt := time.Now().Add(-10 * time.Minute)
	if _, err := st.ClaimDueOutboxMessages(1, claimedAt); err != nil {
		t.Fatal(err)
	}

	n, err := st.RequeueStaleSendingMessages(5*time.Minute, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected one stale message requeued, got %d", n)
	}
	if got := st.OutboxMessages()[0].Status; got != OutboxStatusQueued {
		t.Errorf("status = %s, want queued", got)
	}
}

func TestOutboxSenderPollDeliversAndRetries(t *testing.T) {
	st := NewInMemoryStore()
	okID, err := st.EnqueueOutboxMessage("patient-1", "6281234567890", "Halo", "")
	if err != nil {
		t.Fatal(err)
	}
	badID, err := st.EnqueueOutboxMessage("patient-2", "6289999999999", "Halo", "")
	if err != nil {
		t.Fatal(err)
	}

	sender := NewOutboxSender(st, func(ctx context.Context, msg OutboxMessage) error {
		if msg.ID == badID {
			return errors.New("gateway unreachable")
		}
		return nil
	}, time.Second, 100)
	sender.poll(context.Background())

	for _, m := range st.OutboxMessages() {
		switch m.ID {
		case okID:
			if m.Status != OutboxStatusSent {
				t.Errorf("delivered message status = %s, want sent", m.Status)
			}
		case badID:
			if m.Status != OutboxStatusQueued {
				t.Errorf("failed message status = %s, want queued for retry", m.Status)
			}
			if m.Attempts != 1 {
				t.Errorf("failed message attempts = %d, want 1", m.Attempts)
			}
		}
	}
}
