package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ymorimo/machikado-relay/internal/apierrors"
	"github.com/ymorimo/machikado-relay/internal/lags"
	"github.com/ymorimo/machikado-relay/internal/persona"
	"github.com/ymorimo/machikado-relay/internal/upstream"
)

type failingStore struct{}

func (failingStore) List(context.Context, string) ([]lags.Document, error) {
	return nil, errors.New("metadata store down")
}

// captureUpstream records the system prompt of the last completion request
// and streams a fixed answer.
func captureUpstream(t *testing.T) (*httptest.Server, *string) {
	t.Helper()
	var systemPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []upstream.Message `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Messages) == 0 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		systemPrompt = body.Messages[0].Content
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(`data: {"choices":[{"delta":{"content":"ok"}}]}` + "\n\n" + "data: [DONE]\n\n"))
	}))
	t.Cleanup(srv.Close)
	return srv, &systemPrompt
}

func newTestEngine(srvURL string, store lags.Store) *Engine {
	client := upstream.NewClient(srvURL, "k", "m", 100, 0.7)
	retriever := lags.NewRetriever(store, time.Second, 1024, nil)
	return NewEngine(persona.NewTable("ja"), retriever, client, nil)
}

func consume(t *testing.T, ch <-chan upstream.Delta) string {
	t.Helper()
	var sb strings.Builder
	for d := range ch {
		if d.Err != nil {
			t.Fatalf("stream error: %v", d.Err)
		}
		sb.WriteString(d.Content)
	}
	return sb.String()
}

func TestEngineStanceInPrompt(t *testing.T) {
	srv, prompt := captureUpstream(t)
	eng := newTestEngine(srv.URL, nil)

	stream, err := eng.Stream(context.Background(), Turn{
		Message:  "おすすめは？",
		Category: "bookstore",
		Stance:   "ミステリー小説を強く推す。",
		Language: "ja",
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	consume(t, stream)

	if !strings.Contains(*prompt, "書店") {
		t.Errorf("missing bookstore template: %q", *prompt)
	}
	if !strings.Contains(*prompt, "ミステリー小説") {
		t.Errorf("stance not merged into system prompt: %q", *prompt)
	}
}

func TestEngineProceedsWhenMetadataLookupFails(t *testing.T) {
	srv, prompt := captureUpstream(t)
	eng := newTestEngine(srv.URL, failingStore{})

	stream, err := eng.Stream(context.Background(), Turn{
		Message:  "hello",
		Category: "cafe",
		EntityID: "shop-1",
		Language: "en",
	})
	if err != nil {
		t.Fatalf("turn must proceed ungrounded when the lookup fails: %v", err)
	}
	if got := consume(t, stream); got != "ok" {
		t.Errorf("got %q", got)
	}
	if strings.Contains(*prompt, "reference document") {
		t.Errorf("no reference block expected: %q", *prompt)
	}
}

func TestEngineNilRetriever(t *testing.T) {
	srv, prompt := captureUpstream(t)
	client := upstream.NewClient(srv.URL, "k", "m", 100, 0.7)
	eng := NewEngine(persona.NewTable("ja"), nil, client, nil)

	stream, err := eng.Stream(context.Background(), Turn{
		Message:  "hello",
		Category: "cafe",
		EntityID: "shop-9",
	})
	if err != nil {
		t.Fatalf("turn must run without a retriever: %v", err)
	}
	if got := consume(t, stream); got != "ok" {
		t.Errorf("got %q", got)
	}
	if strings.Contains(*prompt, "reference document") {
		t.Errorf("no reference block expected: %q", *prompt)
	}
}

func TestEngineValidation(t *testing.T) {
	srv, _ := captureUpstream(t)

	eng := newTestEngine(srv.URL, nil)
	if _, err := eng.Stream(context.Background(), Turn{Message: "   "}); !errors.Is(err, apierrors.ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}

	noKey := NewEngine(persona.NewTable("ja"), lags.NewRetriever(nil, time.Second, 1024, nil), nil, nil)
	if _, err := noKey.Stream(context.Background(), Turn{Message: "hi"}); !errors.Is(err, apierrors.ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
}
