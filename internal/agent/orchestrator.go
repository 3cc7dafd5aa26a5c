// Package agent runs the query workflow: analyze, route, retrieve, generate,
// persist. Queries within a thread are serialized; distinct threads run
// concurrently.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kalambet/campa/internal/generate"
	"github.com/kalambet/campa/internal/intent"
	"github.com/kalambet/campa/internal/llm"
	"github.com/kalambet/campa/internal/retrieval"
	"github.com/kalambet/campa/internal/session"
	"github.com/kalambet/campa/internal/storage"
	"github.com/kalambet/campa/internal/tokens"
)

const defaultRecentTurns = 10

// QueryAnalyzer classifies queries into intents and retrieval needs.
type QueryAnalyzer interface {
	Analyze(ctx context.Context, query string, recentTurns []llm.Message) (intent.Analysis, llm.Usage)
}

// DataRetriever gathers structured rows and document snippets for a query.
type DataRetriever interface {
	Retrieve(ctx context.Context, query string, a intent.Analysis) retrieval.Bundle
}

// ResponseGenerator produces the assistant response from a query and its
// retrieved bundle.
type ResponseGenerator interface {
	Generate(ctx context.Context, query string, a intent.Analysis, b retrieval.Bundle, recentTurns []llm.Message) (generate.Response, llm.Usage)
}

// TurnStore is the persistence surface the orchestrator needs.
type TurnStore interface {
	CommitExchange(user, assistant storage.Turn) (int64, int64, error)
	ListRecent(threadID string, limit int) ([]storage.Turn, error)
	EnqueuePending(p storage.PendingCommit) error
}

// Orchestrator wires the workflow stages together.
type Orchestrator struct {
	analyzer  QueryAnalyzer
	retriever DataRetriever
	generator ResponseGenerator
	store     TurnStore
	sessions  *session.Store
	counter   *tokens.Counter

	recentTurns      int
	flushMaxAttempts int
	locks            *threadLocks
}

// Options tunes orchestrator behavior; zero values select defaults.
type Options struct {
	RecentTurns      int
	FlushMaxAttempts int
}

// New creates an Orchestrator. sessions and counter may be nil when session
// checkpointing or live token reporting is not wanted.
func New(analyzer QueryAnalyzer, retriever DataRetriever, generator ResponseGenerator, store TurnStore, sessions *session.Store, counter *tokens.Counter, opts Options) *Orchestrator {
	if opts.RecentTurns <= 0 {
		opts.RecentTurns = defaultRecentTurns
	}
	return &Orchestrator{
		analyzer:         analyzer,
		retriever:        retriever,
		generator:        generator,
		store:            store,
		sessions:         sessions,
		counter:          counter,
		recentTurns:      opts.RecentTurns,
		flushMaxAttempts: opts.FlushMaxAttempts,
		locks:            newThreadLocks(),
	}
}

// ProcessQuery runs one query through the workflow and returns the persisted
// assistant turn. An empty threadID starts a new thread. Generation and
// retrieval failures degrade into the returned turn; an error return means
// the workflow itself could not run.
func (o *Orchestrator) ProcessQuery(ctx context.Context, threadID, userID, query string) (storage.Turn, error) {
	if userID == "" {
		return storage.Turn{}, errors.New("user id is required")
	}
	if query == "" {
		return storage.Turn{}, errors.New("query is empty")
	}
	if threadID == "" {
		threadID = uuid.NewString()
	}

	release := o.locks.acquire(threadID)
	defer release()

	log := slog.With("thread_id", threadID, "user_id", userID)
	stage := StageStart

	// A checkpoint hit supplies the conversational context; the persistent
	// turn log is consulted only on a miss.
	var recent []llm.Message
	resumed := false
	if o.sessions != nil {
		if cp, ok := o.sessions.Get(threadID); ok {
			recent = cp.Recent
			resumed = true
			log.Debug("resuming from checkpoint", "last_stage", cp.LastStage, "last_turn_id", cp.LastTurnID)
		}
	}
	if !resumed {
		var err error
		recent, err = o.recentContext(threadID)
		if err != nil {
			// Degraded context, not fatal: the query can still be answered.
			log.Warn("recent context unavailable", "error", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return storage.Turn{}, fmt.Errorf("workflow canceled at %s: %w", stage, err)
	}

	stage = StageAnalyzing
	analysis, usage := o.analyzer.Analyze(ctx, query, recent)
	log.Debug("analyzed", "intent", analysis.Intent, "needs_data", analysis.NeedsData, "needs_document_search", analysis.NeedsDocSearch)
	if err := ctx.Err(); err != nil {
		return storage.Turn{}, fmt.Errorf("workflow canceled at %s: %w", stage, err)
	}

	stage = StageRouting
	var bundle retrieval.Bundle
	if Route(analysis.NeedsData, analysis.NeedsDocSearch) == StageRetrieving {
		stage = StageRetrieving
		bundle = o.retriever.Retrieve(ctx, query, analysis)
		if err := ctx.Err(); err != nil {
			return storage.Turn{}, fmt.Errorf("workflow canceled at %s: %w", stage, err)
		}
	}

	stage = StageGenerating
	resp, genUsage := o.generator.Generate(ctx, query, analysis, bundle, recent)
	usage.InputTokens += genUsage.InputTokens
	usage.OutputTokens += genUsage.OutputTokens
	// A caller cancellation surfaces as a generation failure; it must not be
	// persisted or accounted as an exchange.
	if err := ctx.Err(); err != nil {
		return storage.Turn{}, fmt.Errorf("workflow canceled at %s: %w", stage, err)
	}
	if o.counter != nil {
		o.counter.Record(userID, usage)
	}

	stage = StagePersisting
	userTurn := storage.Turn{
		ThreadID:     threadID,
		UserID:       userID,
		Role:         storage.RoleUser,
		Content:      query,
		ResponseType: storage.ResponseText,
	}
	assistantTurn := storage.Turn{
		ThreadID:     threadID,
		UserID:       userID,
		Role:         storage.RoleAssistant,
		Content:      resp.Content,
		ResponseType: resp.ResponseType,
		Attributions: resp.Attributions,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
	}

	_, assistantID, err := o.store.CommitExchange(userTurn, assistantTurn)
	if err != nil {
		log.Error("persistence failed, queueing retry", "error", err)
		o.queueRetry(log, userTurn, assistantTurn)
	} else {
		assistantTurn.TurnID = assistantID
	}

	stage = StageDone
	if o.sessions != nil {
		o.sessions.Put(threadID, session.Checkpoint{
			ThreadID:   threadID,
			Analysis:   analysis,
			Bundle:     bundle,
			Recent:     appendExchange(recent, userTurn, assistantTurn, o.recentTurns),
			LastStage:  string(stage),
			LastTurnID: assistantTurn.TurnID,
		})
	}
	log.Info("query processed",
		"intent", analysis.Intent,
		"response_type", assistantTurn.ResponseType,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
	)
	return assistantTurn, nil
}

// recentContext loads the thread's recent text turns as chat messages,
// oldest first.
func (o *Orchestrator) recentContext(threadID string) ([]llm.Message, error) {
	turns, err := o.store.ListRecent(threadID, o.recentTurns)
	if err != nil {
		return nil, err
	}
	messages := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, llm.Message{Role: t.Role, Content: t.Content})
	}
	return messages, nil
}

// appendExchange folds a finished exchange into the checkpointed context,
// keeping the same shape ListRecent produces: text turns only, oldest first,
// capped at limit messages.
func appendExchange(recent []llm.Message, user, assistant storage.Turn, limit int) []llm.Message {
	out := make([]llm.Message, 0, len(recent)+2)
	out = append(out, recent...)
	out = append(out, llm.Message{Role: user.Role, Content: user.Content})
	if assistant.ResponseType == storage.ResponseText {
		out = append(out, llm.Message{Role: assistant.Role, Content: assistant.Content})
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// queueRetry enqueues the exchange for the flush worker. A queue failure on
// top of a commit failure is logged and dropped: the response has already
// been generated and is still returned to the caller.
func (o *Orchestrator) queueRetry(log *slog.Logger, user, assistant storage.Turn) {
	payload, err := json.Marshal(storage.Exchange{User: user, Assistant: assistant})
	if err != nil {
		log.Error("cannot serialize exchange for retry", "error", err)
		return
	}
	p := storage.PendingCommit{
		ID:          uuid.NewString(),
		ThreadID:    user.ThreadID,
		PayloadJSON: string(payload),
		MaxAttempts: o.flushMaxAttempts,
	}
	if err := o.store.EnqueuePending(p); err != nil {
		log.Error("cannot queue persistence retry", "error", err)
	}
}
