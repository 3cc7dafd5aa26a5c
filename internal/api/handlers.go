// Package api exposes the agent over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/campa/internal/session"
	"github.com/kalambet/campa/internal/storage"
	"github.com/kalambet/campa/internal/tokens"
)

const maxChatBodySize = 1 << 20 // 1MB

const defaultHistoryLimit = 50

// Asker runs one query through the agent workflow.
type Asker interface {
	ProcessQuery(ctx context.Context, threadID, userID, query string) (storage.Turn, error)
}

// AppDeps holds dependencies for the HTTP API.
type AppDeps struct {
	Agent    Asker
	Store    *storage.Store
	Counter  *tokens.Counter // optional; live totals on /health
	Sessions *session.Store  // optional; checkpoints dropped on thread clear
	Token    string
}

type ChatRequest struct {
	ThreadID string `json:"thread_id"`
	UserID   string `json:"user_id"`
	Query    string `json:"query"`
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Post("/chat", handleChat(deps))
		r.Get("/threads/{id}/history", handleHistory(deps))
		r.Get("/threads/{id}/stats", handleThreadStats(deps))
		r.Delete("/threads/{id}", handleClearThread(deps))
		r.Get("/users/{id}/usage", handleUsage(deps))
	})

	return r
}

func handleChat(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxChatBodySize)
		defer r.Body.Close()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}
		if req.Query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}

		turn, err := deps.Agent.ProcessQuery(r.Context(), req.ThreadID, req.UserID, req.Query)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				httpError(w, http.StatusRequestTimeout, "api_error", "request canceled: %v", err)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "query failed: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"thread_id": turn.ThreadID,
			"turn":      turn,
		})
	}
}

func handleHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threadID := chi.URLParam(r, "id")
		limit := defaultHistoryLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a positive integer")
				return
			}
			limit = n
		}

		turns, err := deps.Store.ListHistory(threadID, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing history: %v", err)
			return
		}
		if turns == nil {
			turns = []storage.Turn{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"thread_id": threadID,
			"turns":     turns,
		})
	}
}

func handleThreadStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threadID := chi.URLParam(r, "id")
		stats, err := deps.Store.ThreadStats(threadID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading thread stats: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func handleClearThread(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threadID := chi.URLParam(r, "id")
		if err := deps.Store.ClearThread(threadID); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "clearing thread: %v", err)
			return
		}
		if deps.Sessions != nil {
			deps.Sessions.Drop(threadID)
		}
		writeJSON(w, http.StatusOK, map[string]any{"thread_id": threadID, "cleared": true})
	}
}

func handleUsage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "id")
		stats, err := deps.Store.UserTokenStats(userID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading usage: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"status": "ok"}
		if deps.Counter != nil {
			total, queries := deps.Counter.Totals()
			body["queries"] = queries
			body["input_tokens"] = total.InputTokens
			body["output_tokens"] = total.OutputTokens
		}
		if deps.Sessions != nil {
			body["checkpoints"] = deps.Sessions.Len()
		}
		writeJSON(w, http.StatusOK, body)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
