package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding the durable conversation log,
// token-usage accounting, and the pending-commit retry queue.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "campa.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Turn log ---

const turnColumns = "turn_id, thread_id, user_id, role, content, response_type, attributions, input_tokens, output_tokens, created_at"

func ensureThread(tx *sql.Tx, threadID string, now time.Time) error {
	_, err := tx.Exec(`INSERT OR IGNORE INTO threads (thread_id, created_at) VALUES (?, ?)`,
		threadID, now.UTC().Format(time.RFC3339))
	return err
}

func insertTurn(tx *sql.Tx, t Turn) (int64, error) {
	attrs := t.Attributions
	if attrs == nil {
		attrs = []Attribution{}
	}
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return 0, fmt.Errorf("marshalling attributions: %w", err)
	}

	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	responseType := t.ResponseType
	if responseType == "" {
		responseType = ResponseText
	}

	res, err := tx.Exec(`
		INSERT INTO turns (thread_id, user_id, role, content, response_type, attributions, input_tokens, output_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ThreadID, t.UserID, t.Role, t.Content, responseType, string(attrsJSON),
		t.InputTokens, t.OutputTokens, createdAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// AppendTurn atomically appends a single turn to a thread's log and returns
// the store-assigned turn ID.
func (s *Store) AppendTurn(t Turn) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning append transaction: %w", err)
	}
	defer tx.Rollback()

	if err := ensureThread(tx, t.ThreadID, time.Now()); err != nil {
		return 0, fmt.Errorf("ensuring thread: %w", err)
	}
	id, err := insertTurn(tx, t)
	if err != nil {
		return 0, fmt.Errorf("inserting turn: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing append: %w", err)
	}
	return id, nil
}

// CommitExchange writes one query's user turn, assistant turn, and token
// usage as a single transaction. Either the whole exchange becomes visible
// or none of it does.
func (s *Store) CommitExchange(user, assistant Turn) (userID, assistantID int64, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("beginning commit transaction: %w", err)
	}
	defer tx.Rollback()

	if err := ensureThread(tx, user.ThreadID, time.Now()); err != nil {
		return 0, 0, fmt.Errorf("ensuring thread: %w", err)
	}

	userID, err = insertTurn(tx, user)
	if err != nil {
		return 0, 0, fmt.Errorf("inserting user turn: %w", err)
	}
	assistantID, err = insertTurn(tx, assistant)
	if err != nil {
		return 0, 0, fmt.Errorf("inserting assistant turn: %w", err)
	}

	if _, err = tx.Exec(`
		INSERT INTO token_usage (user_id, thread_id, input_tokens, output_tokens, total_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		assistant.UserID, assistant.ThreadID, assistant.InputTokens, assistant.OutputTokens,
		assistant.InputTokens+assistant.OutputTokens, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return 0, 0, fmt.Errorf("inserting token usage: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("committing exchange: %w", err)
	}
	return userID, assistantID, nil
}

func scanTurns(rows *sql.Rows) ([]Turn, error) {
	var results []Turn
	for rows.Next() {
		var t Turn
		var attrs, createdAt string
		if err := rows.Scan(&t.TurnID, &t.ThreadID, &t.UserID, &t.Role, &t.Content,
			&t.ResponseType, &attrs, &t.InputTokens, &t.OutputTokens, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(attrs), &t.Attributions); err != nil {
			return nil, fmt.Errorf("parsing attributions for turn %d: %w", t.TurnID, err)
		}
		ts, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for turn %d: %w", t.TurnID, err)
		}
		t.CreatedAt = ts
		results = append(results, t)
	}
	return results, rows.Err()
}

// ListRecent returns up to limit of the newest turns suitable for model
// context, newest-last. Only user and assistant turns with a text response
// type are included; tables and charts are excluded to bound prompt growth.
func (s *Store) ListRecent(threadID string, limit int) ([]Turn, error) {
	rows, err := s.db.Query(`
		SELECT `+turnColumns+` FROM turns
		WHERE thread_id = ? AND role IN (?, ?) AND response_type = ?
		ORDER BY turn_id DESC LIMIT ?`,
		threadID, RoleUser, RoleAssistant, ResponseText, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	turns, err := scanTurns(rows)
	if err != nil {
		return nil, err
	}
	// Reverse to newest-last.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// ListHistory returns up to limit of the newest turns of any response type,
// newest-last. Used by the history API, not for model context.
func (s *Store) ListHistory(threadID string, limit int) ([]Turn, error) {
	rows, err := s.db.Query(`
		SELECT `+turnColumns+` FROM turns
		WHERE thread_id = ? ORDER BY turn_id DESC LIMIT ?`,
		threadID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	turns, err := scanTurns(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// ClearThread irreversibly removes a thread's log, its pending commits, and
// the thread record itself.
func (s *Store) ClearThread(threadID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning clear transaction: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		"DELETE FROM turns WHERE thread_id = ?",
		"DELETE FROM pending_commits WHERE thread_id = ?",
		"DELETE FROM threads WHERE thread_id = ?",
	} {
		if _, err := tx.Exec(q, threadID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ThreadStats returns message counts for a thread's persisted log.
func (s *Store) ThreadStats(threadID string) (ThreadStats, error) {
	st := ThreadStats{ThreadID: threadID}
	err := s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN role = ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN role = ? THEN 1 ELSE 0 END), 0)
		FROM turns WHERE thread_id = ?`,
		RoleUser, RoleAssistant, threadID,
	).Scan(&st.TotalTurns, &st.UserTurns, &st.AssistantTurns)
	if err != nil {
		return ThreadStats{}, err
	}
	return st, nil
}

// --- Token usage ---

// UserTokenStats aggregates token usage across all of a user's queries.
func (s *Store) UserTokenStats(userID string) (TokenStats, error) {
	stats := TokenStats{UserID: userID}
	var avg sql.NullFloat64
	err := s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(input_tokens), 0),
		       COALESCE(SUM(output_tokens), 0),
		       COALESCE(SUM(total_tokens), 0),
		       AVG(total_tokens)
		FROM token_usage WHERE user_id = ?`, userID,
	).Scan(&stats.TotalQueries, &stats.InputTokens, &stats.OutputTokens, &stats.TotalTokens, &avg)
	if err != nil {
		return TokenStats{}, err
	}
	if avg.Valid {
		stats.AvgPerQuery = math.Round(avg.Float64*100) / 100
	}
	return stats, nil
}

// --- Pending commit queue ---

// EnqueuePending stores a failed exchange commit for later retry.
func (s *Store) EnqueuePending(p PendingCommit) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !p.RunAfter.IsZero() {
		runAfter = p.RunAfter.UTC().Format(time.RFC3339)
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.db.Exec(`
		INSERT INTO pending_commits (id, thread_id, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		p.ID, p.ThreadID, p.PayloadJSON, maxAttempts, runAfter, now, now,
	)
	return err
}

// ClaimNextPending atomically claims the next due pending commit, marking it
// running. Returns nil when nothing is due.
func (s *Store) ClaimNextPending() (*PendingCommit, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var p PendingCommit
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRow(`
		SELECT id, thread_id, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM pending_commits
		WHERE status = 'pending' AND run_after <= ?
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`, now,
	).Scan(&p.ID, &p.ThreadID, &p.PayloadJSON, &p.Status, &p.Attempts, &p.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next pending commit: %w", err)
	}

	res, err := tx.Exec(`UPDATE pending_commits SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, p.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating pending commit status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	p.Status = "running"
	p.LastError = lastError.String
	if p.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after for commit %s: %w", p.ID, err)
	}
	if p.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for commit %s: %w", p.ID, err)
	}
	if p.UpdatedAt, err = time.Parse(time.RFC3339, now); err != nil {
		return nil, fmt.Errorf("parsing updated_at for commit %s: %w", p.ID, err)
	}
	return &p, nil
}

// CompletePending marks a claimed pending commit as completed.
func (s *Store) CompletePending(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE pending_commits SET status = 'completed', updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailPending records a failed retry attempt, rescheduling with exponential
// backoff until max attempts is reached.
func (s *Store) FailPending(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM pending_commits WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE pending_commits SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE pending_commits SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}

	if err != nil {
		return err
	}

	return tx.Commit()
}
