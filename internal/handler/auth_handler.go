package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"admin-gate/internal/guard"
	"admin-gate/internal/util"
)

// AuthHandler serves the JSON login API.
type AuthHandler struct {
	guard    *guard.Guard
	sessions *SessionCookies
	monitor  MonitorIntervals
	logger   *zap.Logger
}

// MonitorIntervals configures the status stream.
type MonitorIntervals struct {
	Lock    time.Duration
	Session time.Duration
}

func NewAuthHandler(g *guard.Guard, sessions *SessionCookies, intervals MonitorIntervals, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		guard:    g,
		sessions: sessions,
		monitor:  intervals,
		logger:   logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

type loginRequest struct {
	Secret string `json:"secret"`
}

type loginData struct {
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	AttemptsRemaining int        `json:"attempts_remaining,omitempty"`
	RetryAfterSeconds int        `json:"retry_after_seconds,omitempty"`
	WeakToken         bool       `json:"weak_token,omitempty"`
}

// RegisterRoutes mounts the bounded request/response routes.
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Post("/auth/login", h.Login)
	router.Post("/auth/logout", h.Logout)
	router.Get("/auth/status", h.Status)
}

// RegisterStreamRoutes mounts routes that hold the connection open and so
// must sit outside the request timeout.
func (h *AuthHandler) RegisterStreamRoutes(router chi.Router) {
	router.Get("/auth/status/stream", h.StatusStream)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	res := h.guard.Login(r.Context(), req.Secret)

	data := loginData{
		AttemptsRemaining: res.AttemptsRemaining,
		RetryAfterSeconds: res.RetryAfterSeconds,
		WeakToken:         res.WeakToken,
	}
	if res.Success {
		h.sessions.Set(w, r, res.Token, res.ExpiresAt)
		expiresAt := res.ExpiresAt
		data.ExpiresAt = &expiresAt
		h.respondWithJSON(w, http.StatusOK, Response{Success: true, Data: data, Message: res.Message})
		return
	}

	if res.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfterSeconds))
	}
	h.respondWithJSON(w, statusForReason(res.Reason), Response{
		Success: false,
		Data:    data,
		Error:   string(res.Reason),
		Message: res.Message,
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := endSession(h.guard, h.sessions, w, r); err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Logout failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, Response{Success: true, Message: "Logged out"})
}

func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	snap, err := h.guard.Status(r.Context())
	if err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Status unavailable")
		return
	}
	h.respondWithJSON(w, http.StatusOK, Response{Success: true, Data: snap})
}

// StatusStream sends a server-sent "status" event for every snapshot the
// monitor takes until the client goes away.
func (h *AuthHandler) StatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.respondWithError(w, http.StatusInternalServerError, errors.New("streaming unsupported"), "Streaming unsupported")
		return
	}

	// The server write timeout would otherwise cut the stream.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("Cannot clear write deadline", util.ErrorField(err))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var last guard.Snapshot
	first := true
	monitor := guard.NewMonitor(h.guard, h.monitor.Lock, h.monitor.Session, func(snap guard.Snapshot) {
		if !first && snap == last {
			return
		}
		first, last = false, snap

		payload, err := json.Marshal(snap)
		if err != nil {
			h.logger.Error("Failed to encode snapshot", util.ErrorField(err))
			return
		}
		fmt.Fprintf(w, "event: status\ndata: %s\n\n", payload)
		flusher.Flush()
	})

	h.logger.Debug("Status stream opened", util.String("remote_addr", r.RemoteAddr))
	_ = monitor.Run(r.Context())
	h.logger.Debug("Status stream closed", util.String("remote_addr", r.RemoteAddr))
}

// respondWithJSON sends a JSON response
func (h *AuthHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	respondWithJSON(w, statusCode, data, h.logger)
}

// respondWithError sends an error response
func (h *AuthHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, Response{Success: false, Error: err.Error(), Message: message})
}

func respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// statusForReason maps a failed login to its HTTP status.
func statusForReason(reason guard.Reason) int {
	switch reason {
	case guard.ReasonOK:
		return http.StatusOK
	case guard.ReasonInvalidSecret:
		return http.StatusUnauthorized
	case guard.ReasonLocked, guard.ReasonLockedOut:
		return http.StatusLocked
	default:
		return http.StatusServiceUnavailable
	}
}

// getStatusCode determines the appropriate HTTP status code for an error
func getStatusCode(err error) int {
	switch {
	case errors.Is(err, guard.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
