package handler

import (
	"bytes"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"admin-gate/internal/guard"
	"admin-gate/internal/util"
)

const (
	adminLoginPath     = "/admin/login"
	adminDashboardPath = "/admin/dashboard"
)

var adminTemplates = template.Must(template.New("admin").Parse(`
{{define "layout-start"}}<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}}</title>
<meta name="viewport" content="width=device-width, initial-scale=1"></head>
<body>{{end}}
{{define "layout-end"}}</body></html>{{end}}

{{define "login"}}{{template "layout-start" .}}
<main>
  <h1>Studio admin</h1>
  {{if .Message}}<p role="alert" class="banner">{{.Message}}</p>
  {{else if .Locked}}<p role="alert" class="banner locked">Account locked. Try again in {{.LockMinutes}} {{if eq .LockMinutes 1}}minute{{else}}minutes{{end}}.</p>{{end}}
  <form method="post" action="/admin/login">
    <label for="password">Password</label>
    <input id="password" name="password" type="password" autocomplete="current-password" required {{if .Locked}}disabled{{else}}autofocus{{end}}>
    <button type="submit" {{if .Locked}}disabled{{end}}>Sign in</button>
  </form>
</main>
{{template "layout-end" .}}{{end}}

{{define "dashboard"}}{{template "layout-start" .}}
<main>
  <h1>Studio admin</h1>
  <p>Signed in. Session expires at <time datetime="{{.ExpiresAt.Format "2006-01-02T15:04:05Z07:00"}}">{{.ExpiresAt.Format "15:04 MST"}}</time>.</p>
  <form method="post" action="/admin/logout"><button type="submit">Sign out</button></form>
</main>
{{template "layout-end" .}}{{end}}
`))

type loginPage struct {
	Title       string
	Message     string
	Locked      bool
	LockMinutes int
}

type dashboardPage struct {
	Title     string
	ExpiresAt time.Time
}

// AdminHandler serves the server-rendered admin pages.
type AdminHandler struct {
	guard    *guard.Guard
	sessions *SessionCookies
	logger   *zap.Logger
}

func NewAdminHandler(g *guard.Guard, sessions *SessionCookies, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{guard: g, sessions: sessions, logger: logger}
}

func (h *AdminHandler) RegisterRoutes(router chi.Router) {
	router.Route("/admin", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, adminDashboardPath, http.StatusSeeOther)
		})
		r.Get("/login", h.LoginPage)
		r.Post("/login", h.SubmitLogin)
		r.Post("/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(RequireSession(h.guard, h.sessions, adminLoginPath, h.logger))
			r.Get("/dashboard", h.Dashboard)
		})
	})
}

func (h *AdminHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if token := h.sessions.Token(r); token != "" {
		if ok, err := h.guard.Authorize(ctx, token); err == nil && ok {
			http.Redirect(w, r, adminDashboardPath, http.StatusSeeOther)
			return
		}
	}

	snap, err := h.guard.Status(ctx)
	if err != nil {
		h.logger.Error("Status check failed", util.ErrorField(err))
		h.render(w, http.StatusServiceUnavailable, "login", loginPage{
			Title:   "Sign in",
			Message: "Service temporarily unavailable. Try again later.",
		})
		return
	}

	page := loginPage{Title: "Sign in"}
	if snap.State == guard.Locked {
		page.Locked = true
		page.LockMinutes = lockMinutes(snap.RemainingLockSeconds)
	}
	h.render(w, http.StatusOK, "login", page)
}

func (h *AdminHandler) SubmitLogin(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 4096)
	if err := r.ParseForm(); err != nil {
		h.render(w, http.StatusBadRequest, "login", loginPage{Title: "Sign in", Message: "Invalid form submission."})
		return
	}

	res := h.guard.Login(r.Context(), r.PostFormValue("password"))
	if res.Success {
		h.sessions.Set(w, r, res.Token, res.ExpiresAt)
		http.Redirect(w, r, adminDashboardPath, http.StatusSeeOther)
		return
	}

	page := loginPage{Title: "Sign in", Message: res.Message}
	if res.Reason == guard.ReasonLocked || res.Reason == guard.ReasonLockedOut {
		w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfterSeconds))
		page.Locked = true
		page.LockMinutes = lockMinutes(res.RetryAfterSeconds)
	}
	h.render(w, statusForReason(res.Reason), "login", page)
}

func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	snap, err := h.guard.Status(r.Context())
	if err != nil {
		h.logger.Error("Status check failed", util.ErrorField(err))
		http.Error(w, "Service temporarily unavailable. Try again later.", http.StatusServiceUnavailable)
		return
	}
	h.render(w, http.StatusOK, "dashboard", dashboardPage{Title: "Dashboard", ExpiresAt: snap.SessionExpiresAt})
}

func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := endSession(h.guard, h.sessions, w, r); err != nil {
		h.logger.Error("Logout failed", util.ErrorField(err))
		http.Error(w, "Service temporarily unavailable. Try again later.", http.StatusServiceUnavailable)
		return
	}
	http.Redirect(w, r, adminLoginPath, http.StatusSeeOther)
}

func (h *AdminHandler) render(w http.ResponseWriter, status int, name string, data interface{}) {
	var buf bytes.Buffer
	if err := adminTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		h.logger.Error("Failed to render template", util.String("template", name), util.ErrorField(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// lockMinutes rounds remaining lock seconds up to whole minutes for display.
func lockMinutes(seconds int) int {
	if seconds <= 0 {
		return 0
	}
	return (seconds + 59) / 60
}
