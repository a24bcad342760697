package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/sqlchat/internal/api"
	"github.com/ashureev/sqlchat/internal/domain"
	"github.com/ashureev/sqlchat/internal/identity"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

const internalErrorMessage = "Internal server error occurred"

// ChatObserver receives chat request events. Implemented by the metrics package.
type ChatObserver interface {
	ObserveChat(d time.Duration, err error)
	ObserveRateLimited()
}

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
	Debug              bool
	RateLimiter        *RateLimiter
	Observer           ChatObserver
	Logger             *slog.Logger
}

// Handler serves the chat API.
type Handler struct {
	service        *Service
	rateLimiter    *RateLimiter
	observer       ChatObserver
	requestTimeout time.Duration
	maxBodySize    int64
	debug          bool
	logger         *slog.Logger
}

// NewHandler creates a Handler for service.
func NewHandler(service *Service, cfg HandlerConfig) *Handler {
	h := &Handler{
		service:        service,
		rateLimiter:    cfg.RateLimiter,
		observer:       cfg.Observer,
		requestTimeout: cfg.RequestTimeout,
		maxBodySize:    cfg.MaxRequestBodySize,
		debug:          cfg.Debug,
		logger:         cfg.Logger,
	}
	if h.requestTimeout <= 0 {
		h.requestTimeout = 2 * time.Minute
	}
	if h.maxBodySize <= 0 {
		h.maxBodySize = defaultMaxRequestBodySize
	}
	if h.observer == nil {
		h.observer = nopChatObserver{}
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// RegisterRoutes registers the chat API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions/ensure", h.HandleEnsureSession)
	r.Delete("/sessions/{user_id}/{session_id}", h.HandleClearSession)
	r.Get("/history/{user_id}/{session_id}", h.HandleHistory)
	r.Post("/chat", h.HandleChat)
	r.Get("/preferences/{user_id}", h.HandlePreferences)
	if h.debug {
		r.Get("/debug/db-test", h.HandleDBTest)
	}
}

// Close releases handler resources.
func (h *Handler) Close() {
	if h.rateLimiter != nil {
		h.rateLimiter.Close()
	}
}

// HandleEnsureSession handles POST /sessions/ensure.
func (h *Handler) HandleEnsureSession(w http.ResponseWriter, r *http.Request) {
	var req EnsureSessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	userID, sessionID, err := identity.Normalize(req.UserID, req.SessionID)
	if errors.Is(err, identity.ErrInvalidID) {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := h.service.EnsureSession(r.Context(), userID, sessionID)
	if err != nil {
		h.logger.Error("ensure_session failed", "user_id", userID, "session_id", sessionID, "error", err)
		api.Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	api.JSON(w, http.StatusOK, EnsureSessionResponse{
		Status:        "ok",
		SessionExists: true,
		SessionID:     sessionID,
		SessionInfo:   sessionInfo(sess),
	})
}

// HandleHistory handles GET /history/{user_id}/{session_id}. It never fails.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, err := identity.Normalize(chi.URLParam(r, "user_id"), chi.URLParam(r, "session_id"))
	if err != nil {
		h.logger.Debug("history: invalid ids", "error", err)
		api.JSON(w, http.StatusOK, HistoryResponse{Messages: []domain.TranscriptEntry{}})
		return
	}
	api.JSON(w, http.StatusOK, HistoryResponse{Messages: h.service.History(r.Context(), userID, sessionID)})
}

// HandleChat handles POST /chat.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !h.decode(w, r, &req) {
		return
	}

	userID, sessionID, err := identity.Normalize(req.UserID, req.SessionID)
	if err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.rateLimiter != nil && !h.rateLimiter.Allow(userID) {
		h.observer.ObserveRateLimited()
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	start := time.Now()
	response, err := h.service.Chat(ctx, userID, sessionID, req.UserQuery)
	h.observer.ObserveChat(time.Since(start), err)
	if err != nil {
		h.logger.Error("Chat endpoint error",
			"user_id", userID,
			"session_id", sessionID,
			"request_id", chiMiddleware.GetReqID(r.Context()),
			"error", err,
		)
		if h.debug {
			api.JSON(w, http.StatusInternalServerError, ChatErrorResponse{
				Error:     err.Error(),
				Traceback: fmt.Sprintf("%+v", err),
			})
			return
		}
		api.Error(w, http.StatusInternalServerError, internalErrorMessage)
		return
	}

	api.JSON(w, http.StatusOK, ChatResponse{Response: response})
}

// HandleClearSession handles DELETE /sessions/{user_id}/{session_id}.
func (h *Handler) HandleClearSession(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, err := identity.Normalize(chi.URLParam(r, "user_id"), chi.URLParam(r, "session_id"))
	if err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.service.ClearSession(r.Context(), userID, sessionID); err != nil {
		h.logger.Error("clear session failed", "user_id", userID, "session_id", sessionID, "error", err)
		api.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	api.JSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// HandlePreferences handles GET /preferences/{user_id}.
func (h *Handler) HandlePreferences(w http.ResponseWriter, r *http.Request) {
	userID, err := identity.NormalizeUserID(chi.URLParam(r, "user_id"))
	if err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	prefs, err := h.service.Preferences(r.Context(), userID)
	if err != nil {
		h.logger.Error("get preferences failed", "user_id", userID, "error", err)
		api.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	api.JSON(w, http.StatusOK, PreferencesResponse{Preferences: prefs})
}

// HandleDBTest handles GET /debug/db-test.
func (h *Handler) HandleDBTest(w http.ResponseWriter, r *http.Request) {
	id, err := h.service.TestDatabase(r.Context())
	if err != nil {
		api.JSON(w, http.StatusOK, DBTestResponse{DBStatus: "error", Error: err.Error()})
		return
	}
	api.JSON(w, http.StatusOK, DBTestResponse{DBStatus: "connected", TestSessionID: id})
}

// decode reads a size-limited JSON body into v, writing the error response itself on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

type nopChatObserver struct{}

func (nopChatObserver) ObserveChat(time.Duration, error) {}
func (nopChatObserver) ObserveRateLimited()              {}
