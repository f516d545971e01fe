// Package guard decides whether a navigation is permitted given session
// state and a required role. The decision is a pure function of its inputs:
// no side effects, safe to re-evaluate on every render or request.
package guard

import "github.com/clientsphere/sessionkit/internal/identity"

// Well-known redirect targets.
const (
	LoginPath           = "/login"
	TenantDashboardPath = "/dashboard"
	AdminDashboardPath  = "/admin/dashboard"
)

// Kind is the category of a guard decision.
type Kind int

const (
	// Pending means restore has not completed; render nothing and decide
	// again later. Never treated as a final answer.
	Pending Kind = iota
	// Allow permits the navigation.
	Allow
	// Redirect denies the navigation and names where to go instead.
	Redirect
)

// Decision is the outcome of one guard evaluation.
type Decision struct {
	Kind Kind
	// Target is the redirect path, set only when Kind == Redirect.
	Target string
}

// Decide evaluates the gate. A nil required role means the route is public.
// ready is the session service's restore-complete flag; until it is true
// no final decision is made, which prevents a flash redirect to login
// while a persisted session is still being restored.
func Decide(required *identity.Role, user *identity.User, ready bool) Decision {
	if required == nil {
		return Decision{Kind: Allow}
	}
	if !ready {
		return Decision{Kind: Pending}
	}
	if user == nil {
		return Decision{Kind: Redirect, Target: LoginPath}
	}
	if user.Role != *required {
		// Authenticated but in the wrong area: send the user to their own
		// dashboard rather than the login page.
		return Decision{Kind: Redirect, Target: HomePath(user.Role)}
	}
	return Decision{Kind: Allow}
}

// HomePath returns the landing page for a role.
func HomePath(role identity.Role) string {
	if role == identity.RoleAdmin {
		return AdminDashboardPath
	}
	return TenantDashboardPath
}
