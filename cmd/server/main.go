package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	openai "github.com/sashabaranov/go-openai"
	"github.com/volcengine/veadk-go/apps"
	"github.com/volcengine/veadk-go/apps/a2a_app"
	"google.golang.org/adk/agent"

	"github.com/ymorimo/machikado-relay/internal/a2a"
	"github.com/ymorimo/machikado-relay/internal/config"
	"github.com/ymorimo/machikado-relay/internal/lags"
	"github.com/ymorimo/machikado-relay/internal/persona"
	"github.com/ymorimo/machikado-relay/internal/relay"
	"github.com/ymorimo/machikado-relay/internal/tts"
	"github.com/ymorimo/machikado-relay/internal/upstream"
)

func main() {
	cfg := config.Load()

	slog.Info("starting machikado-relay",
		"listen", cfg.ListenAddr,
		"framing", cfg.Framing,
		"model", cfg.Model,
		"docs_enabled", cfg.DatabaseURL != "",
		"a2a_enabled", cfg.A2AEnabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	personas := persona.NewTable(cfg.DefaultLanguage)
	if cfg.PersonaFile != "" {
		loaded, err := persona.LoadTable(cfg.PersonaFile, cfg.DefaultLanguage)
		if err != nil {
			slog.Error("failed to load persona file", "path", cfg.PersonaFile, "error", err)
			os.Exit(1)
		}
		personas = loaded
	}

	var docStore lags.Store
	if cfg.DatabaseURL != "" {
		pg, err := lags.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to open lag store", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		docStore = pg
	} else {
		slog.Warn("DB_URL not set, reference documents disabled")
	}
	retriever := lags.NewRetriever(docStore, cfg.DocTimeout, cfg.DocByteBudget, slog.Default())

	var completions *upstream.Client
	var speech *openai.Client
	if cfg.OpenAIAPIKey != "" {
		completions = upstream.NewClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.Model, cfg.MaxTokens, cfg.Temperature)
		speech = openai.NewClient(cfg.OpenAIAPIKey)
	} else {
		slog.Warn("OPENAI_API_KEY not set, chat turns will fail with config_missing")
	}

	engine := relay.NewEngine(personas, retriever, completions, slog.Default())
	ttsHandler := tts.NewHandler(speech, cfg.TTSModel, cfg.TTSVoice, 60*time.Second, slog.Default())

	srv, err := relay.NewServer(cfg, engine, ttsHandler, slog.Default())
	if err != nil {
		slog.Error("invalid relay configuration", "error", err)
		os.Exit(1)
	}

	relayErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			relayErr <- err
		}
	}()

	// Optionally expose one street persona over A2A.
	a2aErr := make(chan error, 1)
	if cfg.A2AEnabled {
		streetAgent, err := a2a.New(a2a.AgentConfig{
			Name:        cfg.AgentName,
			Description: cfg.AgentDesc,
			Engine:      engine,
			AuthToken:   cfg.AuthToken,
			Category:    cfg.AgentShop,
			EntityID:    cfg.AgentShopID,
			Language:    cfg.DefaultLanguage,
		})
		if err != nil {
			slog.Error("failed to create A2A agent", "error", err)
			os.Exit(1)
		}

		slog.Info("starting A2A server", "port", cfg.A2APort, "agent_name", cfg.AgentName)

		// Wrap the standard A2A app to install an HTTP middleware that
		// extracts the caller's bearer token into the request context
		// before the JSON-RPC handler sees the request.
		inner := a2a_app.NewAgentkitA2AServerApp(
			apps.DefaultApiConfig().SetPort(cfg.A2APort),
		)
		wrapped := &authMiddlewareApp{BasicApp: inner}

		go func() {
			if err := wrapped.Run(ctx, &apps.RunConfig{
				AgentLoader: agent.NewSingleLoader(streetAgent),
			}); err != nil {
				a2aErr <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			slog.Error("relay shutdown error", "error", err)
		}
	case err := <-relayErr:
		slog.Error("relay server error", "error", err)
		os.Exit(1)
	case err := <-a2aErr:
		slog.Error("A2A server error", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}

// authMiddlewareApp wraps a BasicApp and installs an HTTP middleware on the
// Gorilla mux router that copies "Authorization: Bearer <token>" from every
// incoming request into the request context via a2a.ContextWithToken, so the
// agent's Run function can check it however deep the framework buries the
// context.
type authMiddlewareApp struct {
	apps.BasicApp
}

// Run overrides the embedded Run so that apps.Run receives `w` as the app
// argument. Without this, the embedded Run calls apps.Run with the inner
// app and SetupRouters below would never be invoked.
func (w *authMiddlewareApp) Run(ctx context.Context, config *apps.RunConfig) error {
	return apps.Run(ctx, config, w)
}

func (w *authMiddlewareApp) SetupRouters(router *mux.Router, config *apps.RunConfig) error {
	if err := w.BasicApp.SetupRouters(router, config); err != nil {
		return err
	}
	router.Use(bearerTokenMiddleware)
	return nil
}

// bearerTokenMiddleware reads "Authorization: Bearer <token>" and stores the
// token in the request context.
func bearerTokenMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "" {
			if token, ok := strings.CutPrefix(auth, "Bearer "); ok && token != "" {
				r = r.WithContext(a2a.ContextWithToken(r.Context(), token))
			}
		}
		next.ServeHTTP(w, r)
	})
}
