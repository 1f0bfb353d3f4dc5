package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/eldtechnologies/carelink/clients/go/carelink"
	"github.com/eldtechnologies/carelink/internal/models"
	"github.com/eldtechnologies/carelink/internal/routing"
	"github.com/eldtechnologies/carelink/internal/session"
)

// SignInRequest represents the sign-in body.
type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
	From     string `json:"from"`
}

// SignUpRequest represents the sign-up body.
type SignUpRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
	Phone    string `json:"phone"`
}

// AuthView is the auth page descriptor, also returned with an error when
// a submission fails.
type AuthView struct {
	View  string `json:"view"`
	From  string `json:"from,omitempty"`
	Error string `json:"error,omitempty"`
}

// SignInView renders the sign-in page.
func (h *Handler) SignInView(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, AuthView{View: "signin", From: r.URL.Query().Get("from")})
}

// SignUpView renders the sign-up page.
func (h *Handler) SignUpView(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, AuthView{View: "signup"})
}

// SignIn logs in and redirects to the requested page when the new role
// may see it, otherwise to the role's dashboard.
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if err := decodeBody(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		h.JSON(w, http.StatusBadRequest, AuthView{View: "signin", From: req.From, Error: "email and password are required"})
		return
	}

	var role models.Role
	if req.Role != "" {
		var err error
		if role, err = models.ParseRole(req.Role); err != nil {
			h.JSON(w, http.StatusBadRequest, AuthView{View: "signin", From: req.From, Error: "invalid role"})
			return
		}
	}

	identity, err := h.sessions.Login(r.Context(), email, req.Password, role)
	if err != nil {
		status, msg := h.authFailure(err, "Login failed")
		h.notice(r.Context(), models.NotificationError, "Sign in", msg)
		h.JSON(w, status, AuthView{View: "signin", From: req.From, Error: msg})
		return
	}

	h.notice(r.Context(), models.NotificationSuccess, "Welcome", "Signed in as "+displayName(identity))
	http.Redirect(w, r, routing.ReturnTo(h.routes, identity, req.From), http.StatusSeeOther)
}

// SignUp registers an account and redirects to its dashboard.
func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req SignUpRequest
	if err := decodeBody(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	name := sanitizeName(req.Name)
	email := strings.TrimSpace(req.Email)
	switch {
	case name == "":
		h.JSON(w, http.StatusBadRequest, AuthView{View: "signup", Error: "name is required"})
		return
	case !isValidEmail(email):
		h.JSON(w, http.StatusBadRequest, AuthView{View: "signup", Error: "invalid email format"})
		return
	case req.Password == "":
		h.JSON(w, http.StatusBadRequest, AuthView{View: "signup", Error: "password is required"})
		return
	}

	role, err := models.ParseRole(req.Role)
	if err != nil {
		h.JSON(w, http.StatusBadRequest, AuthView{View: "signup", Error: "invalid role"})
		return
	}

	identity, err := h.sessions.Register(r.Context(), carelink.RegisterRequest{
		Name:     name,
		Email:    email,
		Password: req.Password,
		Role:     role,
		Phone:    strings.TrimSpace(req.Phone),
	})
	if err != nil {
		status, msg := h.authFailure(err, "Registration failed")
		h.notice(r.Context(), models.NotificationError, "Sign up", msg)
		h.JSON(w, status, AuthView{View: "signup", Error: msg})
		return
	}

	h.notice(r.Context(), models.NotificationSuccess, "Welcome", "Account created for "+displayName(identity))
	http.Redirect(w, r, routing.HomeFor(identity.Role), http.StatusSeeOther)
}

// Logout clears the session and redirects to sign-in. It is safe to call
// when already signed out.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	wasSignedIn := h.sessions.Snapshot().Authenticated()

	if err := h.sessions.Logout(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("logout left persisted state behind")
	}
	if wasSignedIn {
		h.notice(r.Context(), models.NotificationInfo, "Signed out", "You have been signed out")
	}
	http.Redirect(w, r, routing.SignInPath, http.StatusSeeOther)
}

// authFailure maps a login/register error to a status and user-facing
// message. Backend messages are passed through verbatim.
func (h *Handler) authFailure(err error, fallback string) (int, string) {
	var apiErr *carelink.APIError
	switch {
	case errors.As(err, &apiErr):
		msg := apiErr.Message
		if msg == "" {
			msg = fallback
		}
		if apiErr.Status >= http.StatusInternalServerError {
			return http.StatusBadGateway, msg
		}
		return apiErr.Status, msg
	case errors.Is(err, session.ErrIncompleteSession):
		h.logger.Warn().Err(err).Msg("backend returned an incomplete session")
		return http.StatusBadGateway, fallback
	}
	h.logger.Error().Err(err).Msg("auth request failed")
	return http.StatusBadGateway, fallback
}

func displayName(identity *models.Identity) string {
	if identity.Name != "" {
		return identity.Name
	}
	return identity.Email
}
