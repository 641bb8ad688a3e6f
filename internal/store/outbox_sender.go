// Package store: OutboxSender delivers queued outbound messages.
package store

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// OutboxSendFunc is the callback that performs the actual message send.
type OutboxSendFunc func(ctx context.Context, msg OutboxMessage) error

// OutboxSender periodically claims due outbox messages and attempts to send
// them. Sends are rate limited so a burst of replies cannot trip the WhatsApp
// gateway's flood protection.
type OutboxSender struct {
	repo         OutboxRepo
	sendFunc     OutboxSendFunc
	pollInterval time.Duration
	staleAfter   time.Duration
	claimLimit   int
	maxAttempts  int
	limiter      *rate.Limiter
}

// NewOutboxSender creates a new OutboxSender. sendRate is the maximum
// sustained outbound messages per second.
func NewOutboxSender(repo OutboxRepo, sendFunc OutboxSendFunc, pollInterval time.Duration, sendRate float64) *OutboxSender {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if sendRate <= 0 {
		sendRate = 1
	}
	return &OutboxSender{
		repo:         repo,
		sendFunc:     sendFunc,
		pollInterval: pollInterval,
		staleAfter:   5 * time.Minute,
		claimLimit:   10,
		maxAttempts:  8,
		limiter:      rate.NewLimiter(rate.Limit(sendRate), 3),
	}
}

// RecoverStaleMessages requeues messages stuck in sending state (crash
// recovery). Should be called once at startup.
func (s *OutboxSender) RecoverStaleMessages() error {
	n, err := s.repo.RequeueStaleSendingMessages(s.staleAfter, time.Now())
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("OutboxSender.RecoverStaleMessages: requeued stale messages", "count", n)
	}
	return nil
}

// Run starts the polling loop. It blocks until the context is cancelled.
func (s *OutboxSender) Run(ctx context.Context) {
	slog.Info("OutboxSender.Run: starting outbox sender", "pollInterval", s.pollInterval)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("OutboxSender.Run: stopping")
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *OutboxSender) poll(ctx context.Context) {
	now := time.Now()
	msgs, err := s.repo.ClaimDueOutboxMessages(s.claimLimit, now)
	if err != nil {
		slog.Error("OutboxSender.poll: claim failed", "error", err)
		return
	}

	for _, msg := range msgs {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		slog.Debug("OutboxSender.poll: sending message", "id", msg.ID, "patientID", msg.PatientID)
		if err := s.sendFunc(ctx, msg); err != nil {
			slog.Error("OutboxSender.poll: send failed", "id", msg.ID, "error", err)
			if err := s.repo.FailOutboxMessage(msg.ID, msg.Attempts+1, s.maxAttempts, err.Error(), time.Now()); err != nil {
				slog.Error("OutboxSender.poll: fail message error", "id", msg.ID, "error", err)
			}
			continue
		}
		if err := s.repo.MarkOutboxMessageSent(msg.ID, time.Now()); err != nil {
			slog.Error("OutboxSender.poll: mark sent error", "id", msg.ID, "error", err)
		}
	}
}
