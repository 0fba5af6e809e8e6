// Package api provides the HTTP handlers of the chat gateway.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/afi-assist/assist-gateway/internal/apperr"
	"github.com/afi-assist/assist-gateway/internal/domain"
	"github.com/afi-assist/assist-gateway/internal/identity"
	"github.com/afi-assist/assist-gateway/internal/notify"
	"github.com/afi-assist/assist-gateway/internal/orchestrator"
)

// maxRequestBodySize bounds JSON request bodies (1MB).
const maxRequestBodySize = 1 << 20

// Chat is the conversation service behind the handlers.
type Chat interface {
	CreateThread(ctx context.Context, user domain.UserInfo) (string, error)
	UpdateEmail(ctx context.Context, threadID, email string) (domain.Session, error)
	SendMessage(ctx context.Context, threadID, text string) (*orchestrator.Reply, error)
}

// SummaryTrigger sends summary notifications.
type SummaryTrigger interface {
	TriggerSummary(ctx context.Context, req notify.SummaryRequest) (*notify.Result, error)
}

// Handler serves the /api routes.
type Handler struct {
	chat    Chat
	summary SummaryTrigger
	limiter *RateLimiter
	ws      http.Handler
	logger  *slog.Logger
}

// NewHandler creates a Handler. limiter may be nil to disable rate limiting.
func NewHandler(chat Chat, summary SummaryTrigger, limiter *RateLimiter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		chat:    chat,
		summary: summary,
		limiter: limiter,
		logger:  logger,
	}
}

// SetWebSocket serves ws at GET /api/ws.
func (h *Handler) SetWebSocket(ws http.Handler) {
	h.ws = ws
}

// RegisterRoutes mounts the API under /api.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(identity.Middleware)
		r.Post("/thread", h.HandleCreateThread)
		r.Post("/thread/update", h.HandleUpdateThread)
		if h.limiter != nil {
			r.With(h.limiter.Middleware).Post("/message", h.HandleMessage)
		} else {
			r.Post("/message", h.HandleMessage)
		}
		r.Post("/webhook", h.HandleWebhook)
		r.Get("/health", h.HandleHealth)
		if h.ws != nil {
			r.Get("/ws", h.ws.ServeHTTP)
		}
	})
}

type createThreadRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// HandleCreateThread handles POST /api/thread.
func (h *Handler) HandleCreateThread(w http.ResponseWriter, r *http.Request) {
	var req createThreadRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	threadID, err := h.chat.CreateThread(r.Context(), domain.UserInfo{Name: req.Name, Email: req.Email})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"threadId": threadID})
}

type updateThreadRequest struct {
	ThreadID string `json:"threadId"`
	Email    string `json:"email"`
}

// HandleUpdateThread handles POST /api/thread/update.
func (h *Handler) HandleUpdateThread(w http.ResponseWriter, r *http.Request) {
	var req updateThreadRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	sess, err := h.chat.UpdateEmail(r.Context(), req.ThreadID, req.Email)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"session": sess.View(),
	})
}

type messageRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"threadId"`
}

// HandleMessage handles POST /api/message.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	h.logger.Info("Chat message received",
		"thread_id", req.ThreadID,
		"client_id", identity.ClientIDFromRequest(r),
		"message_length", len(req.Message),
	)

	resp, err := h.chat.SendMessage(r.Context(), req.ThreadID, req.Message)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

// HandleWebhook handles POST /api/webhook. An unrecognized intent yields a
// null body.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	var req notify.SummaryRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.summary.TriggerSummary(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if res == nil || len(res.Body) == 0 {
		JSON(w, http.StatusOK, nil)
		return
	}
	JSON(w, http.StatusOK, res.Body)
}

// HandleHealth handles GET /api/health.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, errorResponse{Error: message})
}

type errorResponse struct {
	Error   string          `json:"error"`
	Details json.RawMessage `json:"details"`
}

// fail reports err as a 500 with the upstream details when known.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	level := slog.LevelError
	if apperr.Is(err, apperr.KindValidation) {
		level = slog.LevelWarn
	}
	h.logger.Log(r.Context(), level, "Request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"kind", apperr.KindOf(err),
		"error", err,
	)
	JSON(w, http.StatusInternalServerError, errorResponse{
		Error:   apperr.Message(err),
		Details: apperr.DetailsOf(err),
	})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}
