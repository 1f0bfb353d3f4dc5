package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/carelink/clients/go/carelink"
	"github.com/eldtechnologies/carelink/internal/handlers"
	"github.com/eldtechnologies/carelink/internal/models"
	"github.com/eldtechnologies/carelink/internal/notify"
	"github.com/eldtechnologies/carelink/internal/realtime"
	"github.com/eldtechnologies/carelink/internal/session"
	"github.com/eldtechnologies/carelink/internal/store"
)

type fakeBackend struct {
	user *models.Identity
	err  error
	down bool
}

func (b *fakeBackend) Login(ctx context.Context, req carelink.LoginRequest) (*carelink.AuthResponse, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &carelink.AuthResponse{User: *b.user, Token: "tok-" + b.user.ID}, nil
}

func (b *fakeBackend) Register(ctx context.Context, req carelink.RegisterRequest) (*carelink.AuthResponse, error) {
	if b.err != nil {
		return nil, b.err
	}
	u := models.Identity{ID: "new-1", Name: req.Name, Email: req.Email, Role: req.Role}
	return &carelink.AuthResponse{User: u, Token: "tok-new"}, nil
}

func (b *fakeBackend) Health(ctx context.Context) (*carelink.HealthResponse, error) {
	if b.down {
		return nil, errors.New("connection refused")
	}
	return &carelink.HealthResponse{Status: "ok"}, nil
}

type fakeChannel struct{}

func (fakeChannel) State() realtime.State { return realtime.Disconnected }
func (fakeChannel) Connected() bool       { return false }

type portal struct {
	router   http.Handler
	sessions *session.Store
	notices  *notify.Surface
	backend  *fakeBackend
}

func newPortal(t *testing.T, restore bool) *portal {
	t.Helper()
	logger := zerolog.Nop()
	kv := store.NewMemoryStore()
	backend := &fakeBackend{user: &models.Identity{ID: "d1", Name: "Dr. Ada", Email: "ada@example.com", Role: models.RoleDoctor}}
	sessions := session.New(kv, backend, nil, logger)
	notices := notify.NewSurface(kv, nil, logger)
	if restore {
		require.NoError(t, sessions.Restore(context.Background()))
	}

	h := handlers.NewHandler(handlers.Deps{
		Sessions:      sessions,
		Channel:       fakeChannel{},
		Notifications: notices,
		Storage:       kv,
		Backend:       backend,
		Logger:        logger,
	})
	return &portal{
		router:   NewRouter(logger, h, Options{Sessions: sessions}),
		sessions: sessions,
		notices:  notices,
		backend:  backend,
	}
}

func (p *portal) do(method, target string, form url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	p.router.ServeHTTP(rec, req)
	return rec
}

func (p *portal) signIn(t *testing.T, from string) *httptest.ResponseRecorder {
	t.Helper()
	return p.do(http.MethodPost, "/signin", url.Values{
		"email":    {"ada@example.com"},
		"password": {"secret"},
		"from":     {from},
	})
}

func TestProtectedRouteWaitsForRestore(t *testing.T) {
	p := newPortal(t, false)

	rec := p.do(http.MethodGet, "/doctor/dashboard", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, rec.Header().Get("Location"))

	require.NoError(t, p.sessions.Restore(context.Background()))
	rec = p.do(http.MethodGet, "/doctor/dashboard", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/signin?from=%2Fdoctor%2Fdashboard", rec.Header().Get("Location"))
}

func TestSignInReturnsToRequestedPage(t *testing.T) {
	p := newPortal(t, true)

	rec := p.signIn(t, "/doctor/dashboard")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/doctor/dashboard", rec.Header().Get("Location"))

	rec = p.do(http.MethodGet, "/doctor/dashboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view handlers.DashboardView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, models.RoleDoctor, view.Role)
	assert.Equal(t, "d1", view.User.ID)
	assert.Equal(t, 1, view.Unread)
	assert.Equal(t, "disconnected", view.Channel)

	// Signed-in users are bounced off the auth pages.
	rec = p.do(http.MethodGet, "/signin", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/doctor/dashboard", rec.Header().Get("Location"))
}

func TestSignInIgnoresForbiddenOrOffsiteFrom(t *testing.T) {
	for _, from := range []string{"/admin/dashboard", "https://evil.example/x", "/unknown"} {
		p := newPortal(t, true)
		rec := p.signIn(t, from)
		require.Equal(t, http.StatusSeeOther, rec.Code, from)
		assert.Equal(t, "/doctor/dashboard", rec.Header().Get("Location"), from)
	}
}

func TestSignInFailureShowsBackendMessage(t *testing.T) {
	p := newPortal(t, true)
	p.backend.err = &carelink.APIError{Status: http.StatusUnauthorized, Message: "Invalid email or password"}

	rec := p.signIn(t, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var view handlers.AuthView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "signin", view.View)
	assert.Equal(t, "Invalid email or password", view.Error)

	assert.False(t, p.sessions.Snapshot().Authenticated())
	items := p.notices.List()
	require.Len(t, items, 1)
	assert.Equal(t, models.NotificationError, items[0].Type)
	assert.Equal(t, "Invalid email or password", items[0].Message)
}

func TestSignInBackendOutage(t *testing.T) {
	p := newPortal(t, true)
	p.backend.err = &carelink.APIError{Status: http.StatusInternalServerError, Message: "Server error"}

	rec := p.signIn(t, "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "Server error")
}

func TestSignUpRedirectsHome(t *testing.T) {
	p := newPortal(t, true)

	rec := p.do(http.MethodPost, "/signup", url.Values{
		"name":     {"Pat Smith"},
		"email":    {"pat@example.com"},
		"password": {"secret"},
		"role":     {"patient"},
	})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/patient/dashboard", rec.Header().Get("Location"))
	assert.Equal(t, models.RolePatient, p.sessions.Snapshot().Role())
}

func TestSignUpValidation(t *testing.T) {
	p := newPortal(t, true)

	rec := p.do(http.MethodPost, "/signup", url.Values{"name": {"Pat"}, "email": {"not-an-email"}, "password": {"x"}, "role": {"patient"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid email format")

	rec = p.do(http.MethodPost, "/signup", url.Values{"name": {"Pat"}, "email": {"pat@example.com"}, "password": {"x"}, "role": {"nurse"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid role")
}

func TestLogoutIsIdempotent(t *testing.T) {
	p := newPortal(t, true)
	require.Equal(t, http.StatusSeeOther, p.signIn(t, "").Code)

	rec := p.do(http.MethodPost, "/logout", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/signin", rec.Header().Get("Location"))
	assert.False(t, p.sessions.Snapshot().Authenticated())
	count := len(p.notices.List())

	rec = p.do(http.MethodPost, "/logout", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Len(t, p.notices.List(), count)

	rec = p.do(http.MethodGet, "/doctor/dashboard", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
}

func TestSessionEndpointHidesCredential(t *testing.T) {
	p := newPortal(t, true)
	require.Equal(t, http.StatusSeeOther, p.signIn(t, "").Code)

	rec := p.do(http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"authenticated":true`)
	assert.NotContains(t, rec.Body.String(), "tok-d1")
}

func TestNotificationEndpoints(t *testing.T) {
	p := newPortal(t, true)
	ctx := context.Background()
	a, err := p.notices.Add(ctx, notify.Entry{Title: "A", Message: "first"}, false)
	require.NoError(t, err)
	_, err = p.notices.Add(ctx, notify.Entry{Title: "B", Message: "second", Type: models.NotificationWarning}, false)
	require.NoError(t, err)

	decode := func(rec *httptest.ResponseRecorder) handlers.NotificationsResponse {
		var resp handlers.NotificationsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return resp
	}

	rec := p.do(http.MethodGet, "/api/notifications", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(rec)
	assert.Equal(t, 2, resp.Unread)
	assert.Equal(t, "B", resp.Notifications[0].Title)

	rec = p.do(http.MethodPost, "/api/notifications/"+a.ID+"/read", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode(rec).Unread)

	rec = p.do(http.MethodPost, "/api/notifications/missing/read", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = p.do(http.MethodPost, "/api/notifications/read-all", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode(rec).Unread)

	rec = p.do(http.MethodDelete, "/api/notifications/"+a.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(rec).Notifications, 1)

	rec = p.do(http.MethodDelete, "/api/notifications", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(rec).Notifications)
}

func TestHealth(t *testing.T) {
	p := newPortal(t, true)

	rec := p.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	p.backend.down = true
	rec = p.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "backend unreachable")
}

func TestChannelRequiresSession(t *testing.T) {
	p := newPortal(t, true)

	rec := p.do(http.MethodGet, "/api/channel", nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)

	require.Equal(t, http.StatusSeeOther, p.signIn(t, "").Code)
	rec = p.do(http.MethodGet, "/api/channel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"state":"disconnected","connected":false}`, rec.Body.String())
}

func TestSignInLimitKeysOnPeerAddress(t *testing.T) {
	p := newPortal(t, true)
	p.backend.err = &carelink.APIError{Status: http.StatusUnauthorized, Message: "Invalid email or password"}

	limited := 0
	for i := 0; i < 30; i++ {
		req := httptest.NewRequest(http.MethodPost, "/signin", strings.NewReader("email=a%40b.co&password=x"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		rec := httptest.NewRecorder()
		p.router.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.Equal(t, 20, limited)
}
