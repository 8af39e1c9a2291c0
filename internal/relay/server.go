package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"

	"github.com/ymorimo/machikado-relay/internal/config"
)

// Server is the relay HTTP server.
type Server struct {
	httpServer *http.Server
}

// NewServer wires the router, middleware chain, and http.Server around the
// engine. ttsHandler may be nil when speech relay is not configured.
func NewServer(cfg *config.Config, engine *Engine, ttsHandler http.Handler, logger *slog.Logger) (*Server, error) {
	framing, err := ParseFraming(cfg.Framing)
	if err != nil {
		return nil, err
	}

	chat := NewChatHandler(engine, framing, cfg.RequestTimeout, logger)

	r := mux.NewRouter()
	r.Use(recoveryMiddleware)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware)
	// Permissive CORS matching the browser client: the street app runs on
	// arbitrary origins and sends supabase-style headers.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "X-Client-Info", "Apikey", "Content-Type"},
	}))
	r.Use(authMiddleware(cfg.AuthToken))

	// Routes also register OPTIONS: gorilla/mux only runs middleware for
	// matched routes, and the CORS middleware answers the preflight.
	r.Handle("/chat", chat).Methods(http.MethodPost, http.MethodOptions)
	if ttsHandler != nil {
		r.Handle("/tts", ttsHandler).Methods(http.MethodPost, http.MethodOptions)
	}
	r.HandleFunc("/healthz", handleHealth).Methods(http.MethodGet)

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.ListenAddr,
			Handler:      r,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: cfg.RequestTimeout + 10*time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}, nil
}

// Start begins listening and blocks until the server is stopped.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Handler returns the underlying http.Handler (for httptest servers).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
