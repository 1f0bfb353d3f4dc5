package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/eldtechnologies/carelink/internal/models"
	"github.com/eldtechnologies/carelink/internal/routing"
	"github.com/eldtechnologies/carelink/internal/session"
)

type contextKey string

// IdentityContextKey holds the *models.Identity admitted by Guard.
const IdentityContextKey contextKey = "identity"

// SessionReader is the read side of the session store.
type SessionReader interface {
	Snapshot() session.State
}

// Guard enforces a route's auth requirement. Until the session has been
// restored it answers 503 with a loading view and never redirects.
func Guard(route routing.Route, sessions SessionReader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			st := sessions.Snapshot()
			d := routing.Decide(st.Restored, st.Identity, route, r.URL.RequestURI())

			switch d.Outcome {
			case routing.Loading:
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(1))
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"view":"loading"}`))
			case routing.Redirect:
				http.Redirect(w, r, d.Location, http.StatusSeeOther)
			default:
				ctx := r.Context()
				if st.Identity != nil {
					ctx = context.WithValue(ctx, IdentityContextKey, st.Identity)
				}
				next.ServeHTTP(w, r.WithContext(ctx))
			}
		})
	}
}

// GetIdentity returns the identity admitted by Guard, or nil.
func GetIdentity(ctx context.Context) *models.Identity {
	identity, _ := ctx.Value(IdentityContextKey).(*models.Identity)
	return identity
}
