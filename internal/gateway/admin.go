// ABOUTME: Master-only user management handlers: list, add, delete, change password
// ABOUTME: Each mutation goes through the credential store's serialized read-modify-write

package gateway

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/2389/notegate/internal/auth"
	"github.com/2389/notegate/internal/store"
	"github.com/2389/notegate/internal/webadmin"
)

// dashboardAuditLimit is how many recent audit entries the dashboard shows.
const dashboardAuditLimit = 20

func (g *Gateway) handleAdmin(w http.ResponseWriter, r *http.Request) {
	users, err := g.creds.ReadUsers()
	if err != nil {
		g.logger.Error("reading users for dashboard", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	entries, err := g.auditor.ListAuditLog(r.Context(), store.AuditFilter{Limit: dashboardAuditLimit})
	if err != nil {
		g.logger.Warn("listing audit log for dashboard", "error", err)
		entries = nil
	}

	g.pages.Admin(w, webadmin.StatusFromQuery(r), users.Names(), entries)
}

func (g *Gateway) handleAdminNotFound(w http.ResponseWriter, r *http.Request) {
	g.pages.NotFound(w)
}

func (g *Gateway) handleAddUser(w http.ResponseWriter, r *http.Request) {
	username := r.PostFormValue("newUsername")
	password := r.PostFormValue("newUserPassword")
	confirm := r.PostFormValue("confirmNewUserPassword")

	if username == "" || password == "" || confirm == "" {
		redirectWith(w, r, auth.PathAdmin, "error", webadmin.ErrMissingFields)
		return
	}
	if err := auth.ValidateUsername(username); err != nil {
		g.logger.Warn("rejected username", "username", username, "error", err)
		redirectWith(w, r, auth.PathAdmin, "error", webadmin.ErrInvalidUsername)
		return
	}
	if password != confirm {
		redirectWith(w, r, auth.PathAdmin, "error", webadmin.ErrPasswordMismatch)
		return
	}

	err := g.creds.AddUser(username, password)
	switch {
	case errors.Is(err, store.ErrUserExists):
		redirectWith(w, r, auth.PathAdmin, "error", webadmin.ErrUserExists)
		return
	case err != nil:
		g.logger.Error("adding user failed", "username", username, "error", err)
		redirectWith(w, r, auth.PathAdmin, "error", webadmin.ErrUnknown)
		return
	}

	g.logger.Info("user added", "username", username)
	g.audit(r, store.ActorMaster, store.AuditUserAdded, username, nil)
	redirectWith(w, r, auth.PathAdmin, "success", webadmin.SuccessUserAdded)
}

func (g *Gateway) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	username := r.PostFormValue("usernameToDelete")
	if username == "" {
		redirectWith(w, r, auth.PathAdmin, "error", webadmin.ErrUnknown)
		return
	}

	err := g.creds.DeleteUser(username)
	switch {
	case errors.Is(err, store.ErrUserNotFound):
		redirectWith(w, r, auth.PathAdmin, "error", webadmin.ErrUserNotFound)
		return
	case err != nil:
		g.logger.Error("deleting user failed", "username", username, "error", err)
		redirectWith(w, r, auth.PathAdmin, "error", webadmin.ErrUnknown)
		return
	}

	g.logger.Info("user deleted", "username", username)
	g.audit(r, store.ActorMaster, store.AuditUserDeleted, username, nil)
	redirectWith(w, r, auth.PathAdmin, "success", webadmin.SuccessUserDeleted)
}

// handleChangePasswordPage accepts usernameToChange from the form body (the
// dashboard posts it) or the query string (error redirects carry it).
func (g *Gateway) handleChangePasswordPage(w http.ResponseWriter, r *http.Request) {
	username := r.FormValue("usernameToChange")
	if username == "" {
		redirectWith(w, r, auth.PathAdmin, "error", webadmin.ErrUnknown)
		return
	}

	users, err := g.creds.ReadUsers()
	if err != nil {
		g.logger.Error("reading users for password change", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if _, ok := users[username]; !ok {
		redirectWith(w, r, auth.PathAdmin, "error", webadmin.ErrUserNotFound)
		return
	}

	g.pages.ChangePassword(w, webadmin.StatusFromQuery(r), username)
}

func (g *Gateway) handlePerformChangePassword(w http.ResponseWriter, r *http.Request) {
	username := r.PostFormValue("username")
	password := r.PostFormValue("newPassword")
	confirm := r.PostFormValue("confirmPassword")

	if username == "" {
		redirectWith(w, r, auth.PathAdmin, "error", webadmin.ErrUnknown)
		return
	}
	if password == "" || confirm == "" {
		http.Redirect(w, r, changePasswordURL(username, webadmin.ErrMissingFields), http.StatusSeeOther)
		return
	}
	if password != confirm {
		http.Redirect(w, r, changePasswordURL(username, webadmin.ErrMismatch), http.StatusSeeOther)
		return
	}

	err := g.creds.SetUserPassword(username, password)
	switch {
	case errors.Is(err, store.ErrUserNotFound):
		redirectWith(w, r, auth.PathAdmin, "error", webadmin.ErrUserNotFound)
		return
	case err != nil:
		g.logger.Error("changing password failed", "username", username, "error", err)
		http.Redirect(w, r, changePasswordURL(username, webadmin.ErrUnknown), http.StatusSeeOther)
		return
	}

	g.logger.Info("user password changed", "username", username)
	g.audit(r, store.ActorMaster, store.AuditPasswordChanged, username, nil)
	redirectWith(w, r, auth.PathAdmin, "success", webadmin.SuccessPasswordChanged)
}

func changePasswordURL(username, code string) string {
	q := url.Values{}
	q.Set("usernameToChange", username)
	q.Set("error", code)
	return PathChangePasswordPage + "?" + q.Encode()
}
