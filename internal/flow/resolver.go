package flow

import (
	"fmt"
	"log/slog"

	"github.com/RumahPulih/ObatPing/internal/messaging"
	"github.com/RumahPulih/ObatPing/internal/models"
	"github.com/RumahPulih/ObatPing/internal/store"
)

// Resolver maps an inbound sender identifier to a registered patient.
type Resolver struct {
	store store.Store
}

// NewResolver creates a new Resolver.
func NewResolver(st store.Store) *Resolver {
	return &Resolver{store: st}
}

// Resolve canonicalizes the sender and returns the matching active patient.
// A nil patient with nil error means no active patient uses the number and
// the event should be acknowledged without action. When several active
// patients share a number (family phone), the oldest registration wins and
// the ambiguity is logged for volunteer follow-up.
func (r *Resolver) Resolve(sender string) (*models.Patient, error) {
	phone, err := messaging.CanonicalizePhone(sender)
	if err != nil {
		return nil, fmt.Errorf("sender canonicalization failed: %w", err)
	}

	patients, err := r.store.FindActivePatientsByPhone(phone)
	if err != nil {
		return nil, fmt.Errorf("patient lookup failed: %w", err)
	}
	if len(patients) == 0 {
		slog.Debug("no active patient for sender", "phone", phone)
		return nil, nil
	}
	if len(patients) > 1 {
		slog.Warn("multiple active patients share a phone number, using oldest registration",
			"phone", phone, "count", len(patients), "patientID", patients[0].ID)
	}
	return &patients[0], nil
}
