package handlers

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/carelink/clients/go/carelink"
	"github.com/eldtechnologies/carelink/internal/models"
	"github.com/eldtechnologies/carelink/internal/notify"
	"github.com/eldtechnologies/carelink/internal/realtime"
	"github.com/eldtechnologies/carelink/internal/routing"
	"github.com/eldtechnologies/carelink/internal/session"
	"github.com/eldtechnologies/carelink/internal/store"
)

// emailRegex validates email addresses per RFC 5322 (simplified).
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Sessions is the session store as the gateway uses it.
type Sessions interface {
	Snapshot() session.State
	Login(ctx context.Context, email, password string, role models.Role) (*models.Identity, error)
	Register(ctx context.Context, req carelink.RegisterRequest) (*models.Identity, error)
	Logout(ctx context.Context) error
}

// ChannelStatus exposes the realtime channel state.
type ChannelStatus interface {
	State() realtime.State
	Connected() bool
}

// Backend is the remote API health probe.
type Backend interface {
	Health(ctx context.Context) (*carelink.HealthResponse, error)
}

// Deps are the collaborators the handlers need.
type Deps struct {
	Sessions      Sessions
	Channel       ChannelStatus
	Notifications *notify.Surface
	Storage       store.Store
	Backend       Backend
	Routes        *routing.Table
	Logger        zerolog.Logger
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	sessions Sessions
	channel  ChannelStatus
	notices  *notify.Surface
	kv       store.Store
	backend  Backend
	routes   *routing.Table
	logger   zerolog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(d Deps) *Handler {
	routes := d.Routes
	if routes == nil {
		routes = routing.PortalRoutes()
	}
	return &Handler{
		sessions: d.Sessions,
		channel:  d.Channel,
		notices:  d.Notifications,
		kv:       d.Storage,
		backend:  d.Backend,
		routes:   routes,
		logger:   d.Logger.With().Str("component", "handlers").Logger(),
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// notice records a notification; failures are logged, never returned.
func (h *Handler) notice(ctx context.Context, typ models.NotificationType, title, message string) {
	if h.notices == nil {
		return
	}
	if _, err := h.notices.Add(ctx, notify.Entry{Title: title, Message: message, Type: typ}, true); err != nil {
		h.logger.Error().Err(err).Msg("failed to record notification")
	}
}

// decodeBody reads a JSON or form-encoded body into dst. Form fields map
// onto dst's JSON field names.
func decodeBody(r *http.Request, dst interface{}) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return err
		}
		fields := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			fields[k] = r.PostForm.Get(k)
		}
		raw, err := json.Marshal(fields)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, dst)
	}
	return json.NewDecoder(r.Body).Decode(dst)
}

// sanitizeName trims and limits name to 100 characters, removing control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if len([]rune(name)) > 100 {
		name = string([]rune(name)[:100])
	}
	return name
}

// isValidEmail validates email addresses using RFC 5322 pattern.
func isValidEmail(email string) bool {
	if email == "" || len(email) > 254 {
		return false
	}
	return emailRegex.MatchString(email)
}
