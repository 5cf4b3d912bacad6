// Package web renders the few HTML pages of the admin: the sign-in form, the
// two-factor challenge and the dashboard landing page.
package web

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"strings"

	"roadpress-admin/internal/auth"
	"roadpress-admin/internal/observability"
)

//go:embed templates/*.html
var templateFiles embed.FS

type PendingReader interface {
	Read(r *http.Request) (string, error)
}

type Pages struct {
	templates *template.Template
	pending   PendingReader
	logger    *observability.Logger
}

func NewPages(pending PendingReader, logger *observability.Logger) (*Pages, error) {
	templates, err := template.ParseFS(templateFiles, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &Pages{templates: templates, pending: pending, logger: logger}, nil
}

type loginView struct {
	Title string
	Next  string
}

type twoFactorView struct {
	Title string
}

type dashboardView struct {
	Title string
	Email string
}

func (p *Pages) Login(w http.ResponseWriter, r *http.Request) {
	p.render(w, "login.html", loginView{Title: "Sign in", Next: safeNext(r.URL.Query().Get("next"))})
}

// TwoFactor only renders while a pending handoff is live; otherwise the
// visitor starts over at the sign-in form.
func (p *Pages) TwoFactor(w http.ResponseWriter, r *http.Request) {
	if _, err := p.pending.Read(r); err != nil {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	p.render(w, "twofactor.html", twoFactorView{Title: "Two-factor authentication"})
}

func (p *Pages) Dashboard(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.SessionFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	p.render(w, "dashboard.html", dashboardView{Title: "Dashboard", Email: session.Email})
}

func (p *Pages) render(w http.ResponseWriter, name string, data any) {
	var buf bytes.Buffer
	if err := p.templates.ExecuteTemplate(&buf, name, data); err != nil {
		p.logger.Error("render_page_failed", map[string]any{"page": name, "error": err.Error()})
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// safeNext keeps post-login redirects on this origin.
func safeNext(next string) string {
	next = strings.TrimSpace(next)
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, "\\") {
		return "/"
	}
	return next
}
