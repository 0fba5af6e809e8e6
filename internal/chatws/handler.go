package chatws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/afi-assist/assist-gateway/internal/apperr"
	"github.com/afi-assist/assist-gateway/internal/identity"
	"github.com/afi-assist/assist-gateway/internal/orchestrator"
)

const writeTimeout = 10 * time.Second

// Messenger runs one chat turn.
type Messenger interface {
	SendMessage(ctx context.Context, threadID, text string) (*orchestrator.Reply, error)
}

// Limiter admits or rejects one request for a client key.
type Limiter interface {
	Allow(key string) bool
}

// Handler upgrades GET /api/ws?threadId=... and answers each inbound message
// frame with a reply or error frame. Frames on one connection are handled in
// order.
type Handler struct {
	chat           Messenger
	registry       *Registry
	limiter        Limiter
	allowedOrigins []string
	logger         *slog.Logger
}

// NewHandler creates a Handler. allowedOrigins uses the same values as the
// CORS middleware; "*" admits any origin.
func NewHandler(chat Messenger, registry *Registry, allowedOrigins []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		chat:           chat,
		registry:       registry,
		allowedOrigins: allowedOrigins,
		logger:         logger,
	}
}

// SetLimiter applies limiter to every inbound message frame, keyed like
// POST /api/message.
func (h *Handler) SetLimiter(limiter Limiter) {
	h.limiter = limiter
}

type inboundFrame struct {
	Message string `json:"message"`
}

// Frame types sent to the client.
const (
	FrameReply = "reply"
	FrameError = "error"
)

type outboundFrame struct {
	Type    string              `json:"type"`
	Reply   *orchestrator.Reply `json:"reply,omitempty"`
	Error   string              `json:"error,omitempty"`
	Details json.RawMessage     `json:"details,omitempty"`
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	threadID := strings.TrimSpace(r.URL.Query().Get("threadId"))
	if threadID == "" {
		http.Error(w, "threadId is required", http.StatusBadRequest)
		return
	}

	clientID := identity.ClientIDFromRequest(r)
	if clientID == "" {
		clientID = uuid.NewString()
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns(),
	})
	if err != nil {
		h.logger.Warn("Failed to accept WebSocket", "error", err, "thread_id", threadID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "conversation ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "thread_id", threadID)
		}
	}()

	h.registry.Register(threadID, clientID, ws)
	defer h.registry.Unregister(threadID, clientID, ws)

	key := identity.ClientKeyFromContext(r.Context())
	if key == "" {
		key = identity.IPFromRequest(r)
	}
	h.readLoop(r.Context(), ws, threadID, key)
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, threadID, clientKey string) {
	for {
		var in inboundFrame
		if err := wsjson.Read(ctx, ws, &in); err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				h.logger.Debug("WebSocket closed", "thread_id", threadID)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "thread_id", threadID)
			}
			return
		}

		var out outboundFrame
		if h.limiter != nil && !h.limiter.Allow(clientKey) {
			h.logger.Warn("Chat message rate limited", "thread_id", threadID, "client", clientKey)
			out = outboundFrame{Type: FrameError, Error: "rate limit exceeded"}
		} else {
			out = h.turn(ctx, threadID, in.Message)
		}
		if err := h.write(ctx, ws, out); err != nil {
			h.logger.Debug("WebSocket write error", "error", err, "thread_id", threadID)
			return
		}
	}
}

func (h *Handler) turn(ctx context.Context, threadID, text string) outboundFrame {
	reply, err := h.chat.SendMessage(ctx, threadID, text)
	if err != nil {
		h.logger.Error("Chat turn failed", "thread_id", threadID, "kind", apperr.KindOf(err), "error", err)
		return outboundFrame{
			Type:    FrameError,
			Error:   apperr.Message(err),
			Details: apperr.DetailsOf(err),
		}
	}
	return outboundFrame{Type: FrameReply, Reply: reply}
}

func (h *Handler) write(ctx context.Context, ws *websocket.Conn, v outboundFrame) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, v)
}

// originPatterns converts configured origins into host patterns accepted by
// websocket.Accept.
func (h *Handler) originPatterns() []string {
	var out []string
	for _, o := range h.allowedOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			return []string{"*"}
		}
		if i := strings.Index(o, "://"); i >= 0 {
			o = o[i+3:]
		}
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}
