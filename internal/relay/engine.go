// Package relay bridges an inbound chat turn from the street app to the
// upstream completion provider: it validates the turn, fetches the
// entity's reference documents, composes the persona prompt, and streams
// the provider's answer back in the deployment's declared wire framing.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ymorimo/machikado-relay/internal/apierrors"
	"github.com/ymorimo/machikado-relay/internal/lags"
	"github.com/ymorimo/machikado-relay/internal/persona"
	"github.com/ymorimo/machikado-relay/internal/upstream"
)

// Message is one history entry in the inbound request body.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Turn is one chat turn. Message is the newest user utterance and is always
// appended after History, never inside it.
type Turn struct {
	Message  string
	History  []Message
	Category string
	EntityID string
	Stance   string
	Language string
}

// Engine runs the relay pipeline. It is stateless across turns: every call
// builds its prompt and stream from scratch, so concurrent turns never
// share anything but the immutable persona table.
type Engine struct {
	personas  *persona.Table
	retriever *lags.Retriever
	client    *upstream.Client
	logger    *slog.Logger
}

// NewEngine constructs an Engine. client may be nil when the deployment has
// no completion API key; Stream then fails with ErrMissingAPIKey without
// ever contacting the provider. retriever may be nil when no document store
// is configured; turns then run without reference documents.
func NewEngine(personas *persona.Table, retriever *lags.Retriever, client *upstream.Client, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{personas: personas, retriever: retriever, client: client, logger: logger}
}

// Stream validates the turn and returns the provider's delta stream.
// Reference-document retrieval happens first, inside the same ctx, so a
// caller disconnect cancels pending fetches as well as the upstream call.
func (e *Engine) Stream(ctx context.Context, turn Turn) (<-chan upstream.Delta, error) {
	if e.client == nil {
		return nil, apierrors.ErrMissingAPIKey
	}
	if strings.TrimSpace(turn.Message) == "" {
		return nil, apierrors.ErrEmptyMessage
	}

	var refBlock string
	if e.retriever != nil {
		block, err := e.retriever.Fetch(ctx, turn.EntityID)
		if err != nil {
			// Metadata lookup failing is a different animal from one
			// document failing: without the list the turn proceeds
			// ungrounded.
			e.logger.Warn("reference lookup failed, continuing without documents",
				"entity_id", turn.EntityID, "error", err)
		} else {
			refBlock = block
		}
	}

	systemPrompt := e.personas.Compose(turn.Category, turn.Language, turn.Stance, refBlock)

	messages := make([]upstream.Message, 0, len(turn.History)+2)
	messages = append(messages, upstream.Message{Role: upstream.RoleSystem, Content: systemPrompt})
	for _, m := range turn.History {
		switch m.Role {
		case upstream.RoleUser, upstream.RoleAssistant:
			messages = append(messages, upstream.Message{Role: m.Role, Content: m.Content})
		}
	}
	messages = append(messages, upstream.Message{Role: upstream.RoleUser, Content: turn.Message})

	stream, err := e.client.StreamChat(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("completion stream: %w", err)
	}
	return stream, nil
}
