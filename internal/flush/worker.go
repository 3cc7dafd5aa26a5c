// Package flush replays queued persistence retries. When an exchange commit
// fails at response time the orchestrator queues the serialized exchange;
// this worker drains that queue in the background.
package flush

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/campa/internal/storage"
)

const defaultPollInterval = 2 * time.Second

// Queue is the pending-commit surface the worker needs.
type Queue interface {
	ClaimNextPending() (*storage.PendingCommit, error)
	CompletePending(id string) error
	FailPending(id string, errMsg string) error
	CommitExchange(user, assistant storage.Turn) (int64, int64, error)
}

// Worker polls the pending-commit queue and replays exchanges.
type Worker struct {
	store    Queue
	interval time.Duration
}

// NewWorker creates a Worker polling at the given interval; pass 0 for the
// default.
func NewWorker(store Queue, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Worker{store: store, interval: interval}
}

// Run drains the queue on each tick until the context is canceled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				slog.Error("flush pass failed", "error", err)
			}
		}
	}
}

// RunOnce claims and replays every due pending commit. It returns the number
// of exchanges flushed; per-item replay failures are rescheduled with
// backoff, not returned.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	flushed := 0
	for {
		if err := ctx.Err(); err != nil {
			return flushed, err
		}
		p, err := w.store.ClaimNextPending()
		if err != nil {
			return flushed, fmt.Errorf("claiming pending commit: %w", err)
		}
		if p == nil {
			return flushed, nil
		}
		if err := w.replay(p); err != nil {
			slog.Warn("flush retry failed", "id", p.ID, "thread_id", p.ThreadID, "attempts", p.Attempts, "error", err)
			if ferr := w.store.FailPending(p.ID, err.Error()); ferr != nil {
				slog.Error("cannot reschedule pending commit", "id", p.ID, "error", ferr)
			}
			continue
		}
		if err := w.store.CompletePending(p.ID); err != nil {
			slog.Error("cannot mark pending commit completed", "id", p.ID, "error", err)
		}
		flushed++
		slog.Info("flushed pending exchange", "id", p.ID, "thread_id", p.ThreadID)
	}
}

func (w *Worker) replay(p *storage.PendingCommit) error {
	var ex storage.Exchange
	if err := json.Unmarshal([]byte(p.PayloadJSON), &ex); err != nil {
		return fmt.Errorf("decoding exchange payload: %w", err)
	}
	if _, _, err := w.store.CommitExchange(ex.User, ex.Assistant); err != nil {
		return fmt.Errorf("committing exchange: %w", err)
	}
	return nil
}
