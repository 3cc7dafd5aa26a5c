package docsearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestSearchReturnsSnippets verifies request shape and result decoding.
func TestSearchReturnsSnippets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("path = %q, want /search", r.URL.Path)
		}
		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.Query != "summer campaign results" {
			t.Errorf("query = %q", req.Query)
		}
		if req.TopK != 3 {
			t.Errorf("top_k = %d, want 3", req.TopK)
		}
		json.NewEncoder(w).Encode(searchResponse{Results: []Snippet{
			{Text: "Summer campaign exceeded targets.", SourceRef: "q3_report.pdf", Score: 0.91},
		}})
	}))
	defer srv.Close()

	c := New(srv.URL, 0, 0)
	got, err := c.Search(context.Background(), "summer campaign results")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].SourceRef != "q3_report.pdf" {
		t.Errorf("snippets = %+v", got)
	}
}

// TestSearchEmptyIsValid: an empty result list is success, not an error.
func TestSearchEmptyIsValid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(searchResponse{})
	}))
	defer srv.Close()

	c := New(srv.URL, 0, 0)
	got, err := c.Search(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("snippets = %d, want 0", len(got))
	}
}

// TestSearchErrorStatus surfaces non-200 as an error.
func TestSearchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, 0, 0)
	if _, err := c.Search(context.Background(), "x"); err == nil {
		t.Fatal("expected error for 503, got nil")
	}
}
