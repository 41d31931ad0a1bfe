package handlers

import (
	"net/http"

	"github.com/benvon/smart-reminder/internal/notify"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// TestNotificationMessage is the text sent by the notification test endpoint
const TestNotificationMessage = "✅ smart-reminder test notification"

// NotifyHandler exercises the configured notification channels
type NotifyHandler struct {
	notifier notify.Notifier
	logger   *zap.Logger
}

// NewNotifyHandler creates a new notify handler
func NewNotifyHandler(notifier notify.Notifier, logger *zap.Logger) *NotifyHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotifyHandler{notifier: notifier, logger: logger}
}

// RegisterRoutes registers the test route and its legacy alias
func (h *NotifyHandler) RegisterRoutes(api, root *mux.Router) {
	api.HandleFunc("/notify/test", h.SendTest).Methods("POST")
	root.HandleFunc("/telegram_test", h.SendTest).Methods("GET", "POST")
}

// SendTest sends one test notification
func (h *NotifyHandler) SendTest(w http.ResponseWriter, r *http.Request) {
	if err := h.notifier.Send(r.Context(), TestNotificationMessage); err != nil {
		h.logger.Warn("test_notification_failed", zap.Error(err), zap.Bool("transient", notify.IsTransient(err)))
		status := http.StatusBadGateway
		if notify.IsTransient(err) {
			status = http.StatusServiceUnavailable
		}
		respondJSONError(w, status, "Notification Failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"sent": true})
}
