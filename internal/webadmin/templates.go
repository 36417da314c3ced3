// ABOUTME: Template rendering for the gateway's own pages
// ABOUTME: Parses embedded templates once and renders setup, login, and admin views

package webadmin

import (
	"bytes"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/yuin/goldmark"

	"github.com/2389/notegate/internal/store"
)

// DefaultTitle is the application name shown in page titles.
const DefaultTitle = "Notes"

// Options configure page rendering.
type Options struct {
	// Title is the application name in the page header.
	Title string
	// LoginNotice is markdown shown above the login form.
	LoginNotice string
}

// Status carries the messages decoded from a redirect's query string.
type Status struct {
	Error   string
	Success string
	Info    string
}

// StatusFromQuery decodes the error, success, and info query parameters.
func StatusFromQuery(r *http.Request) Status {
	q := r.URL.Query()
	return Status{
		Error:   ErrorMessage(q.Get("error")),
		Success: SuccessMessage(q.Get("success")),
		Info:    InfoMessage(q.Get("info")),
	}
}

// Template data types
type pageData struct {
	AppName string
	Title   string
	Status  Status
}

type loginData struct {
	pageData
	Notice template.HTML
}

type adminData struct {
	pageData
	Users []string
	Audit []auditRow
}

type auditRow struct {
	When   string
	Actor  string
	Action string
	Target string
}

type changePasswordData struct {
	pageData
	Username string
}

// Pages renders the gateway's HTML pages.
type Pages struct {
	title  string
	notice template.HTML
	pages  map[string]*template.Template
	logger *slog.Logger
}

var pageFiles = []string{"setup", "login", "admin", "change_password", "forbidden", "not_found"}

// NewPages parses the embedded templates and renders the login notice.
func NewPages(opts Options, logger *slog.Logger) (*Pages, error) {
	if logger == nil {
		logger = slog.Default()
	}
	title := opts.Title
	if title == "" {
		title = DefaultTitle
	}

	p := &Pages{
		title:  title,
		pages:  make(map[string]*template.Template, len(pageFiles)),
		logger: logger.With("component", "pages"),
	}

	for _, name := range pageFiles {
		tmpl, err := template.ParseFS(templateFS, "templates/base.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parsing %s template: %w", name, err)
		}
		p.pages[name] = tmpl
	}

	if opts.LoginNotice != "" {
		notice, err := RenderMarkdown(opts.LoginNotice)
		if err != nil {
			return nil, fmt.Errorf("rendering login notice: %w", err)
		}
		p.notice = notice
	}

	return p, nil
}

// RenderMarkdown converts markdown to HTML. Raw HTML in the source is
// dropped by goldmark's default renderer.
func RenderMarkdown(source string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(source), &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

func (p *Pages) base(title string, status Status) pageData {
	return pageData{AppName: p.title, Title: title, Status: status}
}

// Setup renders the first-run form.
func (p *Pages) Setup(w http.ResponseWriter, status Status) {
	p.render(w, http.StatusOK, "setup", p.base("Set up", status))
}

// Login renders the login form.
func (p *Pages) Login(w http.ResponseWriter, status Status) {
	p.render(w, http.StatusOK, "login", loginData{
		pageData: p.base("Sign in", status),
		Notice:   p.notice,
	})
}

// Admin renders the user management dashboard.
func (p *Pages) Admin(w http.ResponseWriter, status Status, users []string, audit []store.AuditEntry) {
	rows := make([]auditRow, 0, len(audit))
	for _, e := range audit {
		rows = append(rows, auditRow{
			When:   e.Timestamp.Local().Format(time.DateTime),
			Actor:  e.Actor,
			Action: string(e.Action),
			Target: e.Target,
		})
	}
	p.render(w, http.StatusOK, "admin", adminData{
		pageData: p.base("Admin", status),
		Users:    users,
		Audit:    rows,
	})
}

// ChangePassword renders the password form for one user.
func (p *Pages) ChangePassword(w http.ResponseWriter, status Status, username string) {
	p.render(w, http.StatusOK, "change_password", changePasswordData{
		pageData: p.base("Change password", status),
		Username: username,
	})
}

// Forbidden renders the 403 page shown to standard users on admin paths.
func (p *Pages) Forbidden(w http.ResponseWriter) {
	p.render(w, http.StatusForbidden, "forbidden", p.base("Forbidden", Status{}))
}

// NotFound renders the 404 page for unknown gateway paths.
func (p *Pages) NotFound(w http.ResponseWriter) {
	p.render(w, http.StatusNotFound, "not_found", p.base("Not found", Status{}))
}

func (p *Pages) render(w http.ResponseWriter, code int, name string, data any) {
	var buf bytes.Buffer
	if err := p.pages[name].ExecuteTemplate(&buf, "base", data); err != nil {
		p.logger.Error("failed to render page", "page", name, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = buf.WriteTo(w)
}
