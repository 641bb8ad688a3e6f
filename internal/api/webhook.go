package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/RumahPulih/ObatPing/internal/flow"
	"github.com/RumahPulih/ObatPing/internal/models"
)

// MaxWebhookBodySize caps inbound webhook payloads at 64 KiB.
const MaxWebhookBodySize = 64 << 10

// webhookHandler receives inbound WhatsApp gateway events. The raw payload is
// normalized before any validation; only the canonical event is validated.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxWebhookBodySize)

	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		slog.Warn("webhook payload is not valid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid JSON payload"))
		return
	}

	ev, err := models.NormalizeWebhookPayload(raw, time.Now())
	if err != nil {
		var verr *models.PayloadValidationError
		if errors.As(err, &verr) {
			slog.Warn("webhook payload failed validation", "issues", len(verr.Issues))
			writeJSONResponse(w, http.StatusBadRequest, models.ValidationFailed(verr.Issues))
			return
		}
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	res, err := s.router.Route(r.Context(), ev)
	if err != nil {
		slog.Error("webhook routing failed", "error", err, "sender", ev.Sender)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("failed to process event"))
		return
	}

	switch {
	case res.Duplicate:
		writeJSONResponse(w, http.StatusOK, models.Duplicate())
	case res.Outcome == flow.OutcomeNoPatientMatch:
		writeJSONResponse(w, http.StatusOK, models.Ignored(flow.OutcomeNoPatientMatch))
	default:
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage(res.Outcome, nil))
	}
}
