package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
)

// MockOpenAI is an httptest.Server that simulates the chat-completions
// streaming endpoint.
type MockOpenAI struct {
	Server *httptest.Server

	// Answer is streamed word by word as SSE deltas.
	Answer string

	// FailStatus, when non-zero, makes every request fail with that status.
	FailStatus int

	// ExtraFrames are raw SSE data payloads injected before the answer,
	// e.g. malformed JSON to exercise frame skipping.
	ExtraFrames []string

	mu sync.Mutex
	// attempts counts completion requests, for retry assertions.
	attempts int
	// lastMessages captures the messages array of the most recent request.
	lastMessages []map[string]string
	lastModel    string
}

// NewMockOpenAI creates and starts a mock completion server.
func NewMockOpenAI(answer string) *MockOpenAI {
	m := &MockOpenAI{Answer: answer}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// Close shuts down the mock server.
func (m *MockOpenAI) Close() {
	m.Server.Close()
}

// URL returns the base URL of the mock server.
func (m *MockOpenAI) URL() string {
	return m.Server.URL
}

// Attempts returns how many completion requests the mock has received.
func (m *MockOpenAI) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// LastMessages returns the messages array of the most recent request.
func (m *MockOpenAI) LastMessages() []map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastMessages
}

// LastModel returns the model field of the most recent request.
func (m *MockOpenAI) LastModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastModel
}

func (m *MockOpenAI) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/chat/completions" || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	var body struct {
		Model    string              `json:"model"`
		Messages []map[string]string `json:"messages"`
		Stream   bool                `json:"stream"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.attempts++
	m.lastMessages = body.Messages
	m.lastModel = body.Model
	failStatus := m.FailStatus
	extra := m.ExtraFrames
	answer := m.Answer
	m.mu.Unlock()

	if failStatus != 0 {
		http.Error(w, `{"error":{"message":"mock failure"}}`, failStatus)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, hasFlusher := w.(http.Flusher)

	for _, raw := range extra {
		fmt.Fprintf(w, "data: %s\n\n", raw)
		if hasFlusher {
			flusher.Flush()
		}
	}

	for i, word := range splitWords(answer) {
		content := word
		if i > 0 {
			content = " " + word
		}
		frame := map[string]any{
			"id":     "chatcmpl-mock",
			"object": "chat.completion.chunk",
			"choices": []map[string]any{
				{"index": 0, "delta": map[string]string{"content": content}},
			},
		}
		data, _ := json.Marshal(frame)
		fmt.Fprintf(w, "data: %s\n\n", data)
		if hasFlusher {
			flusher.Flush()
		}
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	if hasFlusher {
		flusher.Flush()
	}
}

func splitWords(s string) []string {
	var words []string
	start := -1
	for i, c := range s {
		if c != ' ' {
			if start == -1 {
				start = i
			}
		} else if start != -1 {
			words = append(words, s[start:i])
			start = -1
		}
	}
	if start != -1 {
		words = append(words, s[start:])
	}
	if len(words) == 0 {
		words = []string{s}
	}
	return words
}
