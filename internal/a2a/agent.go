// Package a2a exposes one street persona as an agent-to-agent (A2A) agent:
// other agents can talk to the configured shop or facility exactly like a
// browser visitor does, over the same relay engine.
package a2a

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"google.golang.org/adk/agent"
	"google.golang.org/adk/model"
	"google.golang.org/adk/session"
	"google.golang.org/genai"

	"github.com/ymorimo/machikado-relay/internal/relay"
)

// tokenContextKey carries the caller's bearer token from the HTTP layer
// into the agent's Run function.
type tokenContextKey struct{}

// ContextWithToken returns a context carrying the caller's bearer token.
// Call this in an HTTP middleware before the A2A handler sees the request.
func ContextWithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// tokenFromContext retrieves the token injected by the HTTP middleware.
func tokenFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(tokenContextKey{}).(string)
	return v, ok && v != ""
}

// AgentConfig holds the configuration for the street persona agent.
type AgentConfig struct {
	// Name is exposed via the A2A AgentCard.
	Name string
	// Description is exposed via the A2A AgentCard.
	Description string
	// Engine runs the relay pipeline for each invocation.
	Engine *relay.Engine
	// AuthToken is the relay's shared secret. When non-empty, callers must
	// present it as a bearer token.
	AuthToken string
	// Category selects the persona template the agent speaks as.
	Category string
	// EntityID selects whose reference documents ground the agent.
	EntityID string
	// Language is the fixed response language for this agent.
	Language string
}

// New returns an agent.Agent whose Run drives the relay engine and converts
// the content deltas into session events the ADK runner understands.
func New(cfg AgentConfig) (agent.Agent, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("a2a agent: Name must not be empty")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("a2a agent: Engine must not be nil")
	}

	return agent.New(agent.Config{
		Name:        cfg.Name,
		Description: cfg.Description,
		Run:         runFunc(cfg),
	})
}

// runFunc returns the Run closure that drives one agent invocation.
func runFunc(cfg AgentConfig) func(agent.InvocationContext) iter.Seq2[*session.Event, error] {
	return func(ctx agent.InvocationContext) iter.Seq2[*session.Event, error] {
		return func(yield func(*session.Event, error) bool) {
			if cfg.AuthToken != "" {
				token, ok := tokenFromContext(ctx)
				if !ok || token != cfg.AuthToken {
					yield(nil, fmt.Errorf("missing or invalid bearer token"))
					return
				}
			}

			query := extractQuery(ctx.UserContent())
			if query == "" {
				ev := session.NewEvent(ctx.InvocationID())
				ev.Author = cfg.Name
				ev.LLMResponse = model.LLMResponse{
					Content: textContent("(empty input)"),
				}
				yield(ev, nil)
				return
			}

			stream, err := cfg.Engine.Stream(ctx, relay.Turn{
				Message:  query,
				Category: cfg.Category,
				EntityID: cfg.EntityID,
				Language: cfg.Language,
			})
			if err != nil {
				yield(nil, fmt.Errorf("relay stream failed: %w", err))
				return
			}

			var fullText strings.Builder
			for delta := range stream {
				if delta.Err != nil {
					yield(nil, fmt.Errorf("relay stream error: %w", delta.Err))
					return
				}
				if delta.Content == "" {
					continue
				}
				fullText.WriteString(delta.Content)

				// Partial event so streaming A2A clients see tokens as they arrive.
				partialEv := session.NewEvent(ctx.InvocationID())
				partialEv.Author = cfg.Name
				partialEv.Branch = ctx.Branch()
				partialEv.LLMResponse = model.LLMResponse{
					Content: textContent(delta.Content),
					Partial: true,
				}
				if !yield(partialEv, nil) {
					return
				}
			}

			// Final non-partial event with the complete answer so that
			// IsFinalResponse() returns true and the runner closes the invocation.
			finalEv := session.NewEvent(ctx.InvocationID())
			finalEv.Author = cfg.Name
			finalEv.Branch = ctx.Branch()
			finalEv.LLMResponse = model.LLMResponse{
				Content: textContent(fullText.String()),
				Partial: false,
			}
			yield(finalEv, nil)
		}
	}
}

// extractQuery pulls the plain-text content from the genai.Content the ADK
// puts in the InvocationContext when the caller sends a message.
func extractQuery(content *genai.Content) string {
	if content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range content.Parts {
		if part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}

func textContent(text string) *genai.Content {
	return &genai.Content{
		Role:  genai.RoleModel,
		Parts: []*genai.Part{{Text: text}},
	}
}
