// ABOUTME: Tests for page rendering and status message decoding
// ABOUTME: Checks every page parses, escapes input, and renders the markdown notice

package webadmin

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/notegate/internal/store"
)

func newTestPages(t *testing.T, opts Options) *Pages {
	t.Helper()
	p, err := NewPages(opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return p
}

func TestPages_Setup(t *testing.T) {
	p := newTestPages(t, Options{Title: "Team Notes"})

	rec := httptest.NewRecorder()
	p.Setup(rec, Status{Error: ErrorMessage(ErrShort)})

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `action="/do_setup"`)
	assert.Contains(t, body, `name="newPassword"`)
	assert.Contains(t, body, `name="confirmPassword"`)
	assert.Contains(t, body, "Team Notes")
	assert.Contains(t, body, "at least 8 characters")
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestPages_LoginWithNotice(t *testing.T) {
	p := newTestPages(t, Options{LoginNotice: "**Maintenance** tonight <script>alert(1)</script>"})

	rec := httptest.NewRecorder()
	p.Login(rec, Status{Info: InfoMessage(InfoLoggedOut)})

	body := rec.Body.String()
	assert.Contains(t, body, `action="/do_login"`)
	assert.Contains(t, body, "<strong>Maintenance</strong>")
	assert.NotContains(t, body, "<script>alert(1)</script>")
	assert.Contains(t, body, "You have been logged out.")
}

func TestPages_LoginWithoutNotice(t *testing.T) {
	p := newTestPages(t, Options{})

	rec := httptest.NewRecorder()
	p.Login(rec, Status{})

	assert.NotContains(t, rec.Body.String(), `class="notice"`)
	assert.Contains(t, rec.Body.String(), DefaultTitle)
}

func TestPages_AdminEscapesUsernames(t *testing.T) {
	p := newTestPages(t, Options{})

	rec := httptest.NewRecorder()
	p.Admin(rec, Status{Success: SuccessMessage(SuccessUserAdded)},
		[]string{"alice", "<b>bob</b>"},
		[]store.AuditEntry{{Actor: "master", Action: store.AuditUserAdded, Target: "alice", Timestamp: time.Now()}},
	)

	body := rec.Body.String()
	assert.Contains(t, body, `value="alice"`)
	assert.NotContains(t, body, "<b>bob</b>")
	assert.Contains(t, body, `action="/admin/add_user"`)
	assert.Contains(t, body, `name="usernameToDelete"`)
	assert.Contains(t, body, `name="usernameToChange"`)
	assert.Contains(t, body, "user_added")
	assert.Contains(t, body, "User added.")
}

func TestPages_ChangePassword(t *testing.T) {
	p := newTestPages(t, Options{})

	rec := httptest.NewRecorder()
	p.ChangePassword(rec, Status{Error: ErrorMessage(ErrMismatch)}, "alice")

	body := rec.Body.String()
	assert.Contains(t, body, `action="/admin/perform_change_password"`)
	assert.Contains(t, body, `name="username" value="alice"`)
	assert.Contains(t, body, "do not match")
}

func TestPages_Forbidden(t *testing.T) {
	p := newTestPages(t, Options{})

	rec := httptest.NewRecorder()
	p.Forbidden(rec)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "Access denied")
}

func TestStatusFromQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/login?error=invalid&info=logged_out", nil)
	st := StatusFromQuery(r)
	assert.Equal(t, "Invalid username or password.", st.Error)
	assert.Equal(t, "You have been logged out.", st.Info)
	assert.Empty(t, st.Success)

	r = httptest.NewRequest(http.MethodGet, "/login?error=%3Cscript%3E", nil)
	assert.Equal(t, ErrorMessage(ErrUnknown), StatusFromQuery(r).Error)
}

func TestErrorMessage_CoversEveryCode(t *testing.T) {
	codes := []string{
		ErrMismatch, ErrShort, ErrWriteFailed, ErrEncryptFailed, ErrInvalid,
		ErrDecryptFailed, ErrNoUserFile, ErrMasterNotSet, ErrInternalState,
		ErrUserExists, ErrPasswordMismatch, ErrMissingFields, ErrUnknown,
		ErrUserNotFound, ErrInvalidUsername,
	}
	for _, code := range codes {
		assert.Contains(t, errorText, code)
	}
	assert.Empty(t, ErrorMessage(""))
}

func TestRenderMarkdown(t *testing.T) {
	html, err := RenderMarkdown("# Hello\n\nSee [docs](https://example.com).")
	require.NoError(t, err)
	assert.Contains(t, string(html), "<h1>Hello</h1>")
	assert.Contains(t, string(html), `<a href="https://example.com">docs</a>`)
}

func TestPages_NotFound(t *testing.T) {
	p := newTestPages(t, Options{})

	rec := httptest.NewRecorder()
	p.NotFound(rec)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Page not found")
}
