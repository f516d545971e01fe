package guard

import (
	"net/http"
	"strings"

	"github.com/clientsphere/sessionkit/internal/identity"
	"github.com/clientsphere/sessionkit/internal/jsonw"
	"github.com/clientsphere/sessionkit/internal/session"
)

// MiddlewareFunc is a function that wraps an http.Handler
type MiddlewareFunc func(http.Handler) http.Handler

// ChainMiddleware chains multiple middleware functions
func ChainMiddleware(h http.Handler, middlewares ...MiddlewareFunc) http.Handler {
	for _, mw := range middlewares {
		h = mw(h)
	}
	return h
}

// RequireRole gates a handler on the session holding the given role. The
// HTTP rendition of Pending is to wait: the request blocks until the
// boot-time restore completes (or the request context is canceled), so a
// just-started process never bounces an authenticated user to login.
//
// Browser-style requests get a 303 redirect; requests that prefer JSON get
// a 401/403 body instead.
func RequireRole(svc *session.Service, role identity.Role) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := svc.WaitReady(r.Context()); err != nil {
				jsonw.WriteError(w, http.StatusServiceUnavailable, "not_ready", "session restore interrupted")
				return
			}

			decision := Decide(&role, svc.CurrentUser(), true)
			switch decision.Kind {
			case Allow:
				next.ServeHTTP(w, r)
			case Redirect:
				if wantsJSON(r) {
					if svc.CurrentUser() == nil {
						jsonw.WriteUnauthorized(w, "sign in required")
					} else {
						jsonw.WriteForbidden(w, "insufficient role")
					}
					return
				}
				http.Redirect(w, r, decision.Target, http.StatusSeeOther)
			default:
				// Unreachable: WaitReady completed, so the decision is final.
				jsonw.WriteError(w, http.StatusInternalServerError, "guard", "no decision")
			}
		})
	}
}

func wantsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}
