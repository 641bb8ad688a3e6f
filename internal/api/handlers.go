package api

import (
	"log/slog"
	"net/http"

	"github.com/RumahPulih/ObatPing/internal/models"
)

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("healthy", nil))
}

// notificationsHandler lists volunteer escalations, optionally filtered by
// status (?status=pending|assigned|resolved). No filter returns all rows.
func (s *Server) notificationsHandler(w http.ResponseWriter, r *http.Request) {
	status := models.NotificationStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.NotificationPending, models.NotificationAssigned, models.NotificationResolved:
	default:
		writeJSONResponse(w, http.StatusBadRequest, models.Error("unknown status filter: "+string(status)))
		return
	}

	notifications, err := s.store.ListVolunteerNotifications(status)
	if err != nil {
		slog.Error("failed to list volunteer notifications", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("failed to list notifications"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(notifications))
}
