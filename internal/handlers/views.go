package handlers

import (
	"net/http"

	"github.com/eldtechnologies/carelink/internal/api/middleware"
	"github.com/eldtechnologies/carelink/internal/models"
)

// DashboardView is a role dashboard descriptor.
type DashboardView struct {
	View      string           `json:"view"`
	Role      models.Role      `json:"role"`
	User      *models.Identity `json:"user"`
	Unread    int              `json:"unread"`
	Channel   string           `json:"channel"`
	Connected bool             `json:"connected"`
}

// Dashboard renders the dashboard for the signed-in identity. The guard has
// already checked the role.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if identity == nil {
		h.Error(w, http.StatusUnauthorized, "not signed in")
		return
	}

	view := DashboardView{
		View: "dashboard",
		Role: identity.Role,
		User: identity,
	}
	if h.notices != nil {
		view.Unread = h.notices.UnreadCount()
	}
	if h.channel != nil {
		view.Channel = h.channel.State().String()
		view.Connected = h.channel.Connected()
	}
	h.JSON(w, http.StatusOK, view)
}

// SessionResponse describes the current session.
type SessionResponse struct {
	Restored      bool             `json:"restored"`
	Authenticated bool             `json:"authenticated"`
	User          *models.Identity `json:"user"`
}

// Session returns the session state. The credential is never exposed.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	st := h.sessions.Snapshot()
	h.JSON(w, http.StatusOK, SessionResponse{
		Restored:      st.Restored,
		Authenticated: st.Authenticated(),
		User:          st.Identity,
	})
}

// ChannelResponse describes the realtime channel.
type ChannelResponse struct {
	State     string `json:"state"`
	Connected bool   `json:"connected"`
}

// Channel returns the realtime channel state.
func (h *Handler) Channel(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, ChannelResponse{
		State:     h.channel.State().String(),
		Connected: h.channel.Connected(),
	})
}
