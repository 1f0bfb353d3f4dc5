package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/carelink/internal/models"
	"github.com/eldtechnologies/carelink/internal/routing"
	"github.com/eldtechnologies/carelink/internal/session"
)

type staticSessions session.State

func (s staticSessions) Snapshot() session.State { return session.State(s) }

var doctorRoute = routing.Route{Path: "/doctor/dashboard", RequireAuth: true, AllowedRoles: []models.Role{models.RoleDoctor}}

func serveGuarded(t *testing.T, st session.State, route routing.Route, target string) (*httptest.ResponseRecorder, *models.Identity) {
	t.Helper()
	var seen *models.Identity
	h := Guard(route, staticSessions(st))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetIdentity(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec, seen
}

func TestGuardLoadingBeforeRestore(t *testing.T) {
	rec, _ := serveGuarded(t, session.State{}, doctorRoute, "/doctor/dashboard")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"view":"loading"}`, rec.Body.String())
	assert.Empty(t, rec.Header().Get("Location"))
}

func TestGuardRedirectsAnonymousToSignIn(t *testing.T) {
	rec, _ := serveGuarded(t, session.State{Restored: true}, doctorRoute, "/doctor/dashboard?tab=inbox")

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/signin?from=%2Fdoctor%2Fdashboard%3Ftab%3Dinbox", rec.Header().Get("Location"))
}

func TestGuardRedirectsWrongRoleHome(t *testing.T) {
	patient := &models.Identity{ID: "p1", Role: models.RolePatient}
	rec, _ := serveGuarded(t, session.State{Restored: true, Identity: patient, Credential: "t"}, doctorRoute, "/doctor/dashboard")

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/patient/dashboard", rec.Header().Get("Location"))
}

func TestGuardRendersWithIdentity(t *testing.T) {
	doctor := &models.Identity{ID: "d1", Role: models.RoleDoctor}
	rec, seen := serveGuarded(t, session.State{Restored: true, Identity: doctor, Credential: "t"}, doctorRoute, "/doctor/dashboard")

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "d1", seen.ID)
}

func TestGuardSignInRouteBouncesSignedInUsers(t *testing.T) {
	signin := routing.Route{Path: routing.SignInPath}
	admin := &models.Identity{ID: "a1", Role: models.RoleAdmin}

	rec, _ := serveGuarded(t, session.State{Restored: true, Identity: admin, Credential: "t"}, signin, "/signin")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/admin/dashboard", rec.Header().Get("Location"))

	rec, seen := serveGuarded(t, session.State{Restored: true}, signin, "/signin")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, seen)
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(zerolog.Nop())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	post := func(path, peer string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = peer + ":40000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 10; i++ {
		require.Equal(t, http.StatusNoContent, post("/signin", "203.0.113.7").Code, "request %d", i)
	}
	rec := post("/signin", "203.0.113.7")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// Other clients and unlimited endpoints are unaffected.
	assert.Equal(t, http.StatusNoContent, post("/signin", "198.51.100.2").Code)
	assert.Equal(t, http.StatusNoContent, post("/logout", "203.0.113.7").Code)

	now = now.Add(time.Minute)
	assert.Equal(t, http.StatusNoContent, post("/signin", "203.0.113.7").Code)
}

func TestRateLimiterIgnoresForwardedHeaders(t *testing.T) {
	rl := NewRateLimiter(zerolog.Nop())
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	allowed := 0
	for i := 0; i < 100; i++ {
		req := httptest.NewRequest(http.MethodPost, "/signin", nil)
		req.RemoteAddr = "203.0.113.7:40000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.1.%d.%d", i/256, i%256))
		req.Header.Set("X-Real-IP", fmt.Sprintf("10.2.0.%d", i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == http.StatusNoContent {
			allowed++
		}
	}
	assert.Equal(t, 10, allowed)
	assert.Equal(t, 1, rl.tracked())
}

func TestRateLimiterSweepsExpiredBuckets(t *testing.T) {
	rl := NewRateLimiter(zerolog.Nop())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	limit := RateLimit{Requests: 10, Window: time.Minute}

	for i := 0; i < 500; i++ {
		rl.CheckAndIncrement(fmt.Sprintf("POST /signin:198.51.100.%d", i), limit)
	}
	assert.Equal(t, 500, rl.tracked())

	now = now.Add(time.Minute)
	rl.CheckAndIncrement("POST /signin:203.0.113.7", limit)
	assert.Equal(t, 1, rl.tracked())
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	req.Header.Set("X-Forwarded-For", "192.0.2.10, 10.0.0.1")
	req.Header.Set("X-Real-IP", "192.0.2.9")
	assert.Equal(t, "192.0.2.1", ClientIP(req))

	req.RemoteAddr = "192.0.2.1"
	assert.Equal(t, "192.0.2.1", ClientIP(req))
}
