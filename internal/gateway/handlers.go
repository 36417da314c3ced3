// ABOUTME: Setup, login, logout, and health handlers for the gateway
// ABOUTME: Failures become redirects carrying an error code; only I/O faults return 500

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/2389/notegate/internal/auth"
	"github.com/2389/notegate/internal/store"
	"github.com/2389/notegate/internal/supervisor"
	"github.com/2389/notegate/internal/webadmin"
)

// Gateway-only paths not covered by the auth path constants.
const (
	PathHealth                = "/healthz"
	PathAddUser               = "/admin/add_user"
	PathDeleteUser            = "/admin/delete_user"
	PathChangePasswordPage    = "/admin/change_password_page"
	PathPerformChangePassword = "/admin/perform_change_password"
)

var errSetupComplete = errors.New("setup already completed")

func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+PathHealth, g.handleHealth)

	mux.HandleFunc("GET "+auth.PathSetup, g.handleSetupPage)
	mux.HandleFunc("POST "+auth.PathDoSetup, g.handleSetup)
	mux.HandleFunc("GET "+auth.PathLogin, g.handleLoginPage)
	mux.HandleFunc("POST "+auth.PathDoLogin, g.handleLogin)
	mux.HandleFunc(auth.PathLogout, g.handleLogout)

	mux.HandleFunc("GET "+auth.PathAdmin, g.requireMaster(g.handleAdmin))
	mux.HandleFunc("POST "+PathAddUser, g.requireMaster(g.handleAddUser))
	mux.HandleFunc("POST "+PathDeleteUser, g.requireMaster(g.handleDeleteUser))
	mux.HandleFunc(PathChangePasswordPage, g.requireMaster(g.handleChangePasswordPage))
	mux.HandleFunc("POST "+PathPerformChangePassword, g.requireMaster(g.handlePerformChangePassword))
	mux.HandleFunc(auth.PathAdmin+"/", g.requireMaster(g.handleAdminNotFound))

	mux.Handle("/", g.proxy)
}

// redirectWith redirects to path with one query parameter.
func redirectWith(w http.ResponseWriter, r *http.Request, path, key, code string) {
	http.Redirect(w, r, path+"?"+url.Values{key: {code}}.Encode(), http.StatusSeeOther)
}

// audit records an entry; a failure is logged and never blocks the request.
func (g *Gateway) audit(r *http.Request, actor string, action store.AuditAction, target string, detail map[string]any) {
	entry := &store.AuditEntry{
		Actor:      actor,
		Action:     action,
		Target:     target,
		RemoteAddr: r.RemoteAddr,
		Detail:     detail,
	}
	if err := g.auditor.AppendAuditLog(context.WithoutCancel(r.Context()), entry); err != nil {
		g.logger.Warn("failed to write audit entry", "action", action, "error", err)
	}
}

func (g *Gateway) handleSetupPage(w http.ResponseWriter, r *http.Request) {
	if !g.SetupNeeded() {
		http.Redirect(w, r, auth.PathLogin, http.StatusFound)
		return
	}
	g.pages.Setup(w, webadmin.StatusFromQuery(r))
}

func (g *Gateway) handleSetup(w http.ResponseWriter, r *http.Request) {
	password := r.PostFormValue("newPassword")
	confirm := r.PostFormValue("confirmPassword")

	if err := auth.ValidateMasterPassword(password, confirm); err != nil {
		code := webadmin.ErrMismatch
		if errors.Is(err, auth.ErrPasswordTooShort) {
			code = webadmin.ErrShort
		}
		redirectWith(w, r, auth.PathSetup, "error", code)
		return
	}

	err := g.completeSetup(password)
	switch {
	case errors.Is(err, errSetupComplete):
		g.pages.Forbidden(w)
		return
	case errors.Is(err, store.ErrEncryptFailed):
		g.logger.Error("encrypting master password failed", "error", err)
		redirectWith(w, r, auth.PathSetup, "error", webadmin.ErrEncryptFailed)
		return
	case err != nil:
		g.logger.Error("saving master password failed", "error", err)
		redirectWith(w, r, auth.PathSetup, "error", webadmin.ErrWriteFailed)
		return
	}

	g.audit(r, store.ActorMaster, store.AuditMasterConfigured, "", nil)
	g.logger.Info("master password configured, starting upstream")
	if err := g.upstream.Start(); err != nil {
		g.logger.Error("upstream failed to start after setup", "error", err)
	}
	redirectWith(w, r, auth.PathLogin, "info", webadmin.InfoSetupComplete)
}

// completeSetup writes the master record and leaves setup mode.
func (g *Gateway) completeSetup(password string) error {
	g.setupMu.Lock()
	defer g.setupMu.Unlock()

	if !g.SetupNeeded() {
		return errSetupComplete
	}
	if err := g.creds.WriteMaster(password); err != nil {
		return err
	}
	g.setSetupNeeded(false)

	if err := g.creds.EnsureUsersFile(); err != nil {
		g.logger.Error("could not create empty users file", "error", err)
	}
	return nil
}

func (g *Gateway) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	g.pages.Login(w, webadmin.StatusFromQuery(r))
}

func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	if g.SetupNeeded() {
		redirectWith(w, r, auth.PathLogin, "error", webadmin.ErrMasterNotSet)
		return
	}

	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	// The attempt counts against the client until a login succeeds.
	if !g.logins.Reserve(clientAddr(r)) {
		g.loginFailed(w, r, username, webadmin.ErrTooManyAttempts)
		return
	}
	if password == "" {
		g.loginFailed(w, r, username, webadmin.ErrInvalid)
		return
	}

	if strings.TrimSpace(username) == "" {
		g.loginMaster(w, r, password)
		return
	}
	g.loginUser(w, r, username, password)
}

func (g *Gateway) loginMaster(w http.ResponseWriter, r *http.Request, password string) {
	err := g.authn.VerifyMaster(password)
	switch {
	case err == nil:
		g.startSession(w, r, auth.Session{Authenticated: true, Master: true}, auth.PathAdmin)
	case errors.Is(err, auth.ErrSetupRequired):
		g.logger.Error("master credential missing outside setup mode, returning to setup")
		if err := g.creds.ClearMaster(); err != nil {
			g.logger.Error("could not clear master credential", "error", err)
		}
		g.setSetupNeeded(true)
		redirectWith(w, r, auth.PathSetup, "error", webadmin.ErrInternalState)
	case errors.Is(err, auth.ErrDecryptFailed):
		g.loginFailed(w, r, "", webadmin.ErrDecryptFailed)
	case errors.Is(err, auth.ErrInvalidCredentials):
		g.loginFailed(w, r, "", webadmin.ErrInvalid)
	default:
		g.logger.Error("master login failed unexpectedly", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func (g *Gateway) loginUser(w http.ResponseWriter, r *http.Request, username, password string) {
	err := g.authn.VerifyUser(username, password)
	switch {
	case err == nil:
		g.startSession(w, r, auth.Session{Authenticated: true, Username: username}, auth.PathHome)
	case errors.Is(err, auth.ErrNoUserFile):
		g.loginFailed(w, r, username, webadmin.ErrNoUserFile)
	case errors.Is(err, auth.ErrInvalidCredentials):
		g.loginFailed(w, r, username, webadmin.ErrInvalid)
	default:
		g.logger.Error("user login failed unexpectedly", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func (g *Gateway) startSession(w http.ResponseWriter, r *http.Request, sess auth.Session, dest string) {
	if err := g.sessions.Write(w, r, sess); err != nil {
		g.logger.Error("failed to issue session", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	g.logins.Reset(clientAddr(r))
	g.logger.Info("login succeeded", "actor", sess.Actor(), "remote_addr", r.RemoteAddr)
	g.audit(r, sess.Actor(), store.AuditLoginSucceeded, "", nil)
	http.Redirect(w, r, dest, http.StatusSeeOther)
}

func (g *Gateway) loginFailed(w http.ResponseWriter, r *http.Request, username, code string) {
	target := username
	if strings.TrimSpace(target) == "" {
		target = store.ActorMaster
	}
	g.logger.Warn("login failed", "target", target, "reason", code, "remote_addr", r.RemoteAddr)
	g.audit(r, store.ActorAnonymous, store.AuditLoginFailed, target, map[string]any{"reason": code})
	redirectWith(w, r, auth.PathLogin, "error", code)
}

// clientAddr keys the login limiter by client IP, without the port.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := auth.FromContext(r.Context())
	g.sessions.Clear(w, r)
	if sess.Authenticated {
		g.audit(r, sess.Actor(), store.AuditLogout, "", nil)
	}
	redirectWith(w, r, auth.PathLogin, "info", webadmin.InfoLoggedOut)
}

type healthResponse struct {
	Status         string            `json:"status"`
	SetupNeeded    bool              `json:"setup_needed"`
	SignedSessions bool              `json:"signed_sessions"`
	Uptime         string            `json:"uptime"`
	Upstream       supervisor.Status `json:"upstream"`
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:         "ok",
		SetupNeeded:    g.SetupNeeded(),
		SignedSessions: g.sessions.Signed(),
		Uptime:         time.Since(g.startedAt).Round(time.Second).String(),
		Upstream:       g.upstream.Status(),
	}
	if !resp.SetupNeeded && !g.upstream.Running() {
		resp.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		g.logger.Debug("writing health response failed", "error", err)
	}
}
