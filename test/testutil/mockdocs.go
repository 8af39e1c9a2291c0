package testutil

import (
	"context"
	"net/http"
	"net/http/httptest"

	"github.com/ymorimo/machikado-relay/internal/lags"
)

// StaticStore is an in-memory lags.Store keyed by entity id.
type StaticStore struct {
	Docs map[string][]lags.Document
	Err  error
}

func (s *StaticStore) List(_ context.Context, entityID string) ([]lags.Document, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Docs[entityID], nil
}

// MockDocs serves reference-document bodies by path. Paths registered in
// Failing return 404 instead.
type MockDocs struct {
	Server  *httptest.Server
	Bodies  map[string]string
	Failing map[string]bool
}

// NewMockDocs creates and starts a mock blob server.
func NewMockDocs(bodies map[string]string) *MockDocs {
	m := &MockDocs{Bodies: bodies, Failing: map[string]bool{}}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// Close shuts down the mock server.
func (m *MockDocs) Close() {
	m.Server.Close()
}

// URL returns the document URL for a registered path.
func (m *MockDocs) URL(path string) string {
	return m.Server.URL + path
}

func (m *MockDocs) handle(w http.ResponseWriter, r *http.Request) {
	if m.Failing[r.URL.Path] {
		http.NotFound(w, r)
		return
	}
	body, ok := m.Bodies[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write([]byte(body))
}
