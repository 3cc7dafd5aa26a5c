package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestChatReturnsContentAndUsage verifies a successful chat round trip.
func TestChatReturnsContentAndUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q, want /api/chat", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req["model"] != "phi3.5" {
			t.Errorf("model = %v, want phi3.5", req["model"])
		}
		if req["stream"] != false {
			t.Errorf("stream = %v, want false", req["stream"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"message":           map[string]string{"role": "assistant", "content": "hello"},
			"prompt_eval_count": 42,
			"eval_count":        7,
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	content, usage, err := c.Chat(context.Background(), "phi3.5", []Message{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if content != "hello" {
		t.Errorf("content = %q, want hello", content)
	}
	if usage.InputTokens != 42 || usage.OutputTokens != 7 {
		t.Errorf("usage = %+v, want 42/7", usage)
	}
}

// TestChatSchemaSentAsFormat verifies the JSON schema is forwarded as the format field.
func TestChatSchemaSentAsFormat(t *testing.T) {
	var gotFormat any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		gotFormat = req["format"]
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": "{}"},
		})
	}))
	defer srv.Close()

	schema := &Schema{
		Type:       "object",
		Properties: map[string]SchemaProperty{"intent": {Type: "string"}},
		Required:   []string{"intent"},
	}
	c := New(srv.URL)
	if _, _, err := c.Chat(context.Background(), "m", nil, schema); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	fm, ok := gotFormat.(map[string]any)
	if !ok {
		t.Fatalf("format = %T, want object", gotFormat)
	}
	if fm["type"] != "object" {
		t.Errorf("format.type = %v, want object", fm["type"])
	}
}

// TestChatErrorStatus verifies non-200 responses surface as errors.
func TestChatErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, _, err := c.Chat(context.Background(), "missing", nil, nil); err == nil {
		t.Fatal("expected error for 404 response, got nil")
	}
}

// TestIsRunning checks both reachable and unreachable servers.
func TestIsRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	c := New(srv.URL)
	if !c.IsRunning(context.Background()) {
		t.Error("IsRunning = false for live server")
	}
	srv.Close()
	if c.IsRunning(context.Background()) {
		t.Error("IsRunning = true for closed server")
	}
}
