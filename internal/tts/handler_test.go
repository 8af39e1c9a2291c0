package tts

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

func newSpeechMock(t *testing.T, audio []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Input string `json:"input"`
			Voice string `json:"voice"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Input == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write(audio)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestHandler(t *testing.T, baseURL string) *Handler {
	t.Helper()
	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = baseURL + "/v1"
	return NewHandler(openai.NewClientWithConfig(cfg), "tts-1", "alloy", 5*time.Second, nil)
}

func TestTTSSynthesis(t *testing.T) {
	audio := []byte("ID3 fake mp3 bytes")
	mock := newSpeechMock(t, audio)
	h := newTestHandler(t, mock.URL)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tts", strings.NewReader(`{"text":"いらっしゃいませ"}`)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("unexpected content type %q", ct)
	}
	got, _ := io.ReadAll(rec.Body)
	if string(got) != string(audio) {
		t.Errorf("audio bytes not relayed verbatim")
	}
}

func TestTTSBadRequests(t *testing.T) {
	mock := newSpeechMock(t, nil)
	h := newTestHandler(t, mock.URL)

	for _, body := range []string{`{}`, `{"text":"   "}`, `{broken`} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tts", strings.NewReader(body)))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, rec.Code)
		}
	}

	long := strings.Repeat("a", speechMaxInput+1)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tts", strings.NewReader(`{"text":"`+long+`"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("over-long text: expected 400, got %d", rec.Code)
	}
}

func TestTTSNotConfigured(t *testing.T) {
	h := NewHandler(nil, "tts-1", "alloy", time.Second, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tts", strings.NewReader(`{"text":"hello"}`)))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Code != "config_missing" {
		t.Errorf("expected code config_missing, got %q", body.Code)
	}
}

func TestTTSUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	h := newTestHandler(t, srv.URL)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tts", strings.NewReader(`{"text":"hello"}`)))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", rec.Code)
	}
}
