package handler

import (
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"admin-gate/internal/audit"
	"admin-gate/internal/guard"
	"admin-gate/internal/util"
)

// SessionCookies reads and writes the session token cookie.
type SessionCookies struct {
	Name   string
	Secure bool
}

func (c *SessionCookies) Set(w http.ResponseWriter, _ *http.Request, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (c *SessionCookies) Clear(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// Token returns the cookie value or "".
func (c *SessionCookies) Token(r *http.Request) string {
	cookie, err := r.Cookie(c.Name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// requireHTTPS rejects any request that wasn't made over TLS
func requireHTTPS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUpgradeRequired)
			w.Write([]byte(`{"error":"https required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientContext attaches the caller's address and user agent for audit events.
// It runs after middleware.RealIP.
func ClientContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		ctx := audit.WithClient(r.Context(), ip, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// endSession clears the caller's cookie and ends the gate session only when
// that cookie belongs to it. Callers without the session token cannot log
// the operator out.
func endSession(g *guard.Guard, sessions *SessionCookies, w http.ResponseWriter, r *http.Request) error {
	token := sessions.Token(r)
	sessions.Clear(w, r)
	if token == "" {
		return nil
	}
	ok, err := g.Authorize(r.Context(), token)
	if err != nil || !ok {
		return err
	}
	return g.Logout(r.Context())
}

// RequireSession lets a request through only when its cookie belongs to the
// live session. Others are redirected to loginPath.
func RequireSession(g *guard.Guard, sessions *SessionCookies, loginPath string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := sessions.Token(r)
			ok, err := g.Authorize(r.Context(), token)
			if err != nil {
				logger.Error("Session check failed", util.ErrorField(err))
				http.Error(w, "Service temporarily unavailable. Try again later.", http.StatusServiceUnavailable)
				return
			}
			if !ok {
				if token != "" {
					sessions.Clear(w, r)
				}
				http.Redirect(w, r, loginPath, http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LoggerMiddleware creates a middleware that logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("request_id", middleware.GetReqID(r.Context())),
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("remote_addr", r.RemoteAddr),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
					util.String("user_agent", r.UserAgent()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
