// ABOUTME: Session gate and panic recovery wrapped around every gateway request
// ABOUTME: The gate applies the auth policy table before any route handler runs

package gateway

import (
	"net/http"
	"runtime/debug"

	"github.com/2389/notegate/internal/auth"
)

// gate classifies the request and either lets it reach the gateway's own
// routes, redirects, forbids, or forwards it upstream.
func (g *Gateway) gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == PathHealth {
			next.ServeHTTP(w, r)
			return
		}
		if auth.IsStatic(path, g.config.Gate.StaticPrefixes) {
			g.proxy.ServeHTTP(w, r)
			return
		}

		sess := g.sessions.Read(r)
		state := auth.StateFor(g.SetupNeeded(), sess)
		decision := auth.Decide(state, auth.Classify(path))

		switch decision.Verdict {
		case auth.Allow:
			next.ServeHTTP(w, r.WithContext(auth.WithSession(r.Context(), sess)))
		case auth.Redirect:
			http.Redirect(w, r, decision.Location, http.StatusFound)
		case auth.Forbid:
			g.logger.Warn("standard session denied admin path",
				"path", path,
				"actor", sess.Actor(),
				"remote_addr", r.RemoteAddr,
			)
			g.pages.Forbidden(w)
		case auth.Proxy:
			g.proxy.ServeHTTP(w, r)
		}
	})
}

// requireMaster guards admin handlers independently of the gate.
func (g *Gateway) requireMaster(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := auth.FromContext(r.Context())
		if !sess.Authenticated || !sess.Master {
			g.logger.Warn("non-master request reached admin handler", "path", r.URL.Path, "actor", sess.Actor())
			g.pages.Forbidden(w)
			return
		}
		next(w, r)
	}
}

// recoverPanics turns a handler panic into a logged 500. http.ErrAbortHandler
// is re-raised so the server aborts the response quietly, as the reverse
// proxy expects.
func (g *Gateway) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			g.logger.Error("panic serving request",
				"method", r.Method,
				"path", r.URL.Path,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}
