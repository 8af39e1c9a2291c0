package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ymorimo/machikado-relay/internal/apierrors"
)

// chatRequest is the body the street app posts to /chat. Field names match
// the browser client and must not change.
type chatRequest struct {
	Message             string    `json:"message"`
	ConversationHistory []Message `json:"conversationHistory"`
	ShopType            string    `json:"shopType"`
	ShopID              string    `json:"shopId"`
	Stance              string    `json:"stance"`
	Language            string    `json:"language"`
}

// ChatHandler serves POST /chat.
type ChatHandler struct {
	engine  *Engine
	framing Framing
	timeout time.Duration
	logger  *slog.Logger
}

// NewChatHandler constructs a ChatHandler. timeout bounds the whole turn.
func NewChatHandler(engine *Engine, framing Framing, timeout time.Duration, logger *slog.Logger) *ChatHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{engine: engine, framing: framing, timeout: timeout, logger: logger}
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteJSONError(w, http.StatusBadRequest, apierrors.CodeBadRequest, "malformed request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	stream, err := h.engine.Stream(ctx, Turn{
		Message:  req.Message,
		History:  req.ConversationHistory,
		Category: req.ShopType,
		EntityID: req.ShopID,
		Stance:   req.Stance,
		Language: req.Language,
	})
	if err != nil {
		h.writeTurnError(w, err)
		return
	}

	// From here on the response is committed: any failure can only close
	// the connection, never produce an error body.
	if err := writeStream(w, h.framing, stream); err != nil {
		if ctx.Err() != nil {
			// Client went away or the turn deadline hit; not a relay fault.
			h.logger.Info("chat stream cancelled", "error", err)
			return
		}
		h.logger.Error("chat stream aborted", "error", err)
	}
}

// writeTurnError maps pipeline errors to the JSON error contract. Nothing
// has been streamed yet when this runs.
func (h *ChatHandler) writeTurnError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apierrors.ErrEmptyMessage):
		apierrors.WriteJSONError(w, http.StatusBadRequest, apierrors.CodeBadRequest, err.Error())
	case errors.Is(err, apierrors.ErrMissingAPIKey):
		h.logger.Error("chat turn rejected: no API key configured")
		apierrors.WriteJSONError(w, http.StatusInternalServerError, apierrors.CodeConfigMissing, err.Error())
	default:
		h.logger.Error("chat turn failed", "error", err)
		apierrors.WriteJSONError(w, http.StatusInternalServerError, apierrors.CodeUpstream, "completion provider request failed")
	}
}
