package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Roles for turn records.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Response types for assistant turns.
const (
	ResponseText  = "text"
	ResponseTable = "table"
	ResponseChart = "chart"
	ResponseError = "error"
)

// Turn is one persisted message in a thread's conversation log.
// TurnID is assigned by the store and is strictly increasing within a thread.
type Turn struct {
	TurnID       int64         `json:"turn_id"`
	ThreadID     string        `json:"thread_id"`
	UserID       string        `json:"user_id"`
	Role         string        `json:"role"`
	Content      string        `json:"content"`
	ResponseType string        `json:"response_type"`
	Attributions []Attribution `json:"attributions,omitempty"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Exchange is one user/assistant turn pair committed together. It is also
// the serialized payload of a queued persistence retry.
type Exchange struct {
	User      Turn `json:"user"`
	Assistant Turn `json:"assistant"`
}

// Attribution records where a piece of an assistant response came from.
type Attribution struct {
	SourceKind string  `json:"source_kind"`
	SourceRef  string  `json:"source_ref"`
	Score      float32 `json:"score,omitempty"`
}

// PendingCommit is a queued persistence retry: a user/assistant turn pair
// plus token usage that could not be committed when the response was
// returned. PayloadJSON holds the serialized exchange.
type PendingCommit struct {
	ID          string
	ThreadID    string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// TokenStats aggregates token usage for one user.
type TokenStats struct {
	UserID       string  `json:"user_id"`
	TotalQueries int     `json:"total_queries"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalTokens  int64   `json:"total_tokens"`
	AvgPerQuery  float64 `json:"avg_tokens_per_query"`
}

// ThreadStats summarizes a thread's persisted log.
type ThreadStats struct {
	ThreadID       string `json:"thread_id"`
	TotalTurns     int    `json:"total_turns"`
	UserTurns      int    `json:"user_turns"`
	AssistantTurns int    `json:"assistant_turns"`
}
