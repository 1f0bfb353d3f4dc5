// Package routing decides, for a session and a route, whether to render,
// wait for session restore, or redirect.
package routing

import (
	"net/url"
	"strings"

	"github.com/eldtechnologies/carelink/internal/models"
)

// Well-known paths.
const (
	SignInPath = "/signin"
	SignUpPath = "/signup"
)

// Route declares who may see a view. RequireAuth false means the route is
// for signed-out users only (sign in, sign up). An empty AllowedRoles set
// admits every role.
type Route struct {
	Path         string
	RequireAuth  bool
	AllowedRoles []models.Role
}

// Allows reports whether role is admitted by the route's role set.
func (r Route) Allows(role models.Role) bool {
	if len(r.AllowedRoles) == 0 {
		return true
	}
	for _, allowed := range r.AllowedRoles {
		if allowed == role {
			return true
		}
	}
	return false
}

// Outcome is the kind of decision.
type Outcome int

const (
	Render Outcome = iota
	Loading
	Redirect
)

func (o Outcome) String() string {
	switch o {
	case Loading:
		return "loading"
	case Redirect:
		return "redirect"
	}
	return "render"
}

// Decision is the guard's answer. Location is set for redirects.
type Decision struct {
	Outcome  Outcome
	Location string
}

// HomeFor returns the dashboard for a role. Unknown roles land on the
// patient dashboard.
func HomeFor(role models.Role) string {
	switch role {
	case models.RoleAdmin:
		return "/admin/dashboard"
	case models.RoleDoctor:
		return "/doctor/dashboard"
	case models.RolePharmacy:
		return "/pharmacy/dashboard"
	}
	return "/patient/dashboard"
}

// Decide is total: every combination of inputs yields a decision.
// requested is the attempted location, kept on the sign-in redirect.
func Decide(restored bool, identity *models.Identity, route Route, requested string) Decision {
	if !restored {
		return Decision{Outcome: Loading}
	}

	if route.RequireAuth {
		if identity == nil {
			return Decision{Outcome: Redirect, Location: SignInLocation(requested)}
		}
		if !route.Allows(identity.Role) {
			return Decision{Outcome: Redirect, Location: HomeFor(identity.Role)}
		}
		return Decision{Outcome: Render}
	}

	if identity != nil {
		return Decision{Outcome: Redirect, Location: HomeFor(identity.Role)}
	}
	return Decision{Outcome: Render}
}

// SignInLocation builds the sign-in URL carrying the attempted location.
func SignInLocation(requested string) string {
	if !isLocalPath(requested) {
		return SignInPath
	}
	return SignInPath + "?" + url.Values{"from": {requested}}.Encode()
}

// ReturnTo picks where to go after signing in: from, when it names a route
// the new identity would be allowed to render, else the role's home.
func ReturnTo(table *Table, identity *models.Identity, from string) string {
	if identity == nil {
		return SignInPath
	}
	if isLocalPath(from) {
		u, err := url.Parse(from)
		if err == nil {
			if route, ok := table.Match(u.Path); ok {
				if Decide(true, identity, route, from).Outcome == Render {
					return from
				}
			}
		}
	}
	return HomeFor(identity.Role)
}

// isLocalPath rejects absolute and scheme-relative URLs so a crafted
// from parameter cannot redirect off-site.
func isLocalPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") && !strings.HasPrefix(p, "/\\")
}

// Table is the set of guarded routes.
type Table struct {
	routes map[string]Route
}

// NewTable indexes routes by path.
func NewTable(routes ...Route) *Table {
	t := &Table{routes: make(map[string]Route, len(routes))}
	for _, r := range routes {
		t.routes[r.Path] = r
	}
	return t
}

// Match returns the route registered for path.
func (t *Table) Match(path string) (Route, bool) {
	r, ok := t.routes[path]
	return r, ok
}

// Routes returns the registered routes.
func (t *Table) Routes() []Route {
	out := make([]Route, 0, len(t.routes))
	for _, r := range t.routes {
		out = append(out, r)
	}
	return out
}

// PortalRoutes is the portal's route table.
func PortalRoutes() *Table {
	return NewTable(
		Route{Path: SignInPath},
		Route{Path: SignUpPath},
		Route{Path: "/patient/dashboard", RequireAuth: true, AllowedRoles: []models.Role{models.RolePatient}},
		Route{Path: "/doctor/dashboard", RequireAuth: true, AllowedRoles: []models.Role{models.RoleDoctor}},
		Route{Path: "/pharmacy/dashboard", RequireAuth: true, AllowedRoles: []models.Role{models.RolePharmacy}},
		Route{Path: "/admin/dashboard", RequireAuth: true, AllowedRoles: []models.Role{models.RoleAdmin}},
		Route{Path: "/api/channel", RequireAuth: true},
	)
}
