// Package tts relays speech synthesis for the street UI: each assistant
// message can be spoken aloud, one synthesis call per message.
package tts

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ymorimo/machikado-relay/internal/apierrors"
)

// speechMaxInput is the provider's input limit for one synthesis call.
const speechMaxInput = 4096

// Handler serves POST /tts.
type Handler struct {
	client  *openai.Client
	model   string
	voice   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewHandler constructs a Handler. client may be nil when no API key is
// configured; requests then fail with config_missing.
func NewHandler(client *openai.Client, model, voice string, timeout time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{client: client, model: model, voice: voice, timeout: timeout, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text  string `json:"text"`
		Voice string `json:"voice,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Text) == "" {
		apierrors.WriteJSONError(w, http.StatusBadRequest, apierrors.CodeBadRequest, "text is required")
		return
	}
	if h.client == nil {
		apierrors.WriteJSONError(w, http.StatusInternalServerError, apierrors.CodeConfigMissing, "speech provider not configured")
		return
	}
	if len(body.Text) > speechMaxInput {
		apierrors.WriteJSONError(w, http.StatusBadRequest, apierrors.CodeBadRequest, "text too long for one synthesis call")
		return
	}

	voice := h.voice
	if body.Voice != "" {
		voice = body.Voice
	}

	ctx, cancel := r.Context(), func() {}
	if h.timeout > 0 {
		ctx, cancel = context.WithTimeout(r.Context(), h.timeout)
	}
	defer cancel()

	audio, err := h.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model: openai.SpeechModel(h.model),
		Input: body.Text,
		Voice: openai.SpeechVoice(voice),
	})
	if err != nil {
		h.logger.Error("speech synthesis failed", "error", err)
		apierrors.WriteJSONError(w, http.StatusBadGateway, apierrors.CodeUpstream, "speech synthesis failed")
		return
	}
	defer audio.Close()

	w.Header().Set("Content-Type", "audio/mpeg")
	if _, err := io.Copy(w, audio); err != nil {
		h.logger.Info("speech stream interrupted", "error", err)
	}
}
