package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/carelink/internal/models"
	"github.com/eldtechnologies/carelink/internal/notify"
)

// NotificationsResponse is the notification list with its unread count.
type NotificationsResponse struct {
	Notifications []models.Notification `json:"notifications"`
	Unread        int                   `json:"unread"`
}

func (h *Handler) notificationsPayload() NotificationsResponse {
	items := h.notices.List()
	if items == nil {
		items = []models.Notification{}
	}
	return NotificationsResponse{Notifications: items, Unread: h.notices.UnreadCount()}
}

// ListNotifications returns all notifications, most recent first.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, h.notificationsPayload())
}

// MarkNotificationRead marks one notification read.
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	h.notificationResult(w, h.notices.MarkRead(r.Context(), chi.URLParam(r, "id")))
}

// MarkAllNotificationsRead marks every notification read.
func (h *Handler) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	h.notificationResult(w, h.notices.MarkAllRead(r.Context()))
}

// RemoveNotification deletes one notification.
func (h *Handler) RemoveNotification(w http.ResponseWriter, r *http.Request) {
	h.notificationResult(w, h.notices.Remove(r.Context(), chi.URLParam(r, "id")))
}

// ClearNotifications deletes every notification.
func (h *Handler) ClearNotifications(w http.ResponseWriter, r *http.Request) {
	h.notificationResult(w, h.notices.Clear(r.Context()))
}

func (h *Handler) notificationResult(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, notify.ErrNotFound):
		h.Error(w, http.StatusNotFound, "notification not found")
	case err != nil:
		h.logger.Error().Err(err).Msg("notification update failed")
		h.Error(w, http.StatusInternalServerError, "failed to save notifications")
	default:
		h.JSON(w, http.StatusOK, h.notificationsPayload())
	}
}
