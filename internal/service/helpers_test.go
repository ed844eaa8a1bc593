package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/browser-operator/api/schemas"
	"github.com/xkilldash9x/browser-operator/internal/config"
)

// testConfig returns a valid configuration with credentials filled in.
func testConfig(browserbaseURL string) *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.BrowserbaseCfg.APIKey = "bb-test-key"
	cfg.BrowserbaseCfg.ProjectID = "proj-test"
	cfg.BrowserbaseCfg.BaseURL = browserbaseURL
	cfg.BrowserbaseCfg.RequestsPerSecond = 0
	for name, m := range cfg.AgentCfg.LLM.Models {
		m.APIKey = "test-key-" + name
		cfg.AgentCfg.LLM.Models[name] = m
	}
	cfg.StoreCfg.Backend = config.StoreMemory
	return cfg
}

// fakeConnector hands out a fixed page.
type fakeConnector struct {
	page schemas.Page
}

func (f fakeConnector) Connect(ctx context.Context, connectURL string) (schemas.Page, error) {
	return f.page, nil
}

// fakeBrowserbase serves the session endpoints the runner touches.
type fakeBrowserbase struct {
	mu       sync.Mutex
	created  int
	released []string
	metadata []map[string]any
}

func (f *fakeBrowserbase) server(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.created++
		if md, ok := body["userMetadata"].(map[string]any); ok {
			f.metadata = append(f.metadata, md)
		}
		f.mu.Unlock()
		writeJSON(w, map[string]any{"id": "sess-1", "status": "RUNNING", "connectUrl": "wss://connect.example/sess-1"})
	})
	mux.HandleFunc("GET /v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": r.PathValue("id"), "status": "RUNNING", "connectUrl": "wss://connect.example/" + r.PathValue("id")})
	})
	mux.HandleFunc("POST /v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "REQUEST_RELEASE", body["status"])
		f.mu.Lock()
		f.released = append(f.released, r.PathValue("id"))
		f.mu.Unlock()
		writeJSON(w, map[string]any{"id": r.PathValue("id")})
	})
	mux.HandleFunc("GET /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []map[string]any{{"id": "sess-1", "status": "RUNNING"}})
	})
	mux.HandleFunc("GET /v1/sessions/{id}/debug", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"debuggerUrl": "https://debug.example/" + r.PathValue("id")})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeBrowserbase) Released() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.released...)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
