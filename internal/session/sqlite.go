// SQLite-backed session store.
//
// DESIGN: Two tables. `sessions` is an upsert row per conversation;
// `turns` is strictly append-only, keyed (session_id, seq). Save never
// updates an existing turn row, which enforces the append-only invariant
// at the storage layer, not just in code.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id               TEXT PRIMARY KEY,
	state            TEXT NOT NULL,
	slots            TEXT NOT NULL,
	candidates       TEXT NOT NULL,
	selected_vehicle TEXT NOT NULL DEFAULT '',
	relax_level      INTEGER NOT NULL DEFAULT -1,
	input_tokens     INTEGER NOT NULL DEFAULT 0,
	output_tokens    INTEGER NOT NULL DEFAULT 0,
	cache_read       INTEGER NOT NULL DEFAULT 0,
	cache_write      INTEGER NOT NULL DEFAULT 0,
	reasoning        INTEGER NOT NULL DEFAULT 0,
	cost             REAL NOT NULL DEFAULT 0,
	verified         INTEGER NOT NULL DEFAULT 0,
	requires_review  INTEGER NOT NULL DEFAULT 0,
	summary          TEXT NOT NULL DEFAULT '',
	created_at       TEXT NOT NULL,
	last_activity_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS turns (
	session_id   TEXT NOT NULL,
	seq          INTEGER NOT NULL,
	role         TEXT NOT NULL,
	content      TEXT NOT NULL,
	tool_calls   TEXT NOT NULL DEFAULT '[]',
	tool_results TEXT NOT NULL DEFAULT '[]',
	partial      INTEGER NOT NULL DEFAULT 0,
	created_at   TEXT NOT NULL,
	PRIMARY KEY (session_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state);
CREATE INDEX IF NOT EXISTS idx_sessions_activity ON sessions(last_activity_at);
`

// SQLiteStore persists sessions in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed initializes) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// SQLite handles one writer at a time; serialize through a single conn.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, state, slots, candidates, selected_vehicle, relax_level,
		       input_tokens, output_tokens, cache_read, cache_write, reasoning,
		       cost, verified, requires_review, summary, created_at, last_activity_at
		FROM sessions WHERE id = ?`, id)

	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, tool_calls, tool_results, partial, created_at
		FROM turns WHERE session_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("load turns for %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			role, content, callsJSON, resultsJSON, createdAt string
			partial                                          int
		)
		if err := rows.Scan(&role, &content, &callsJSON, &resultsJSON, &partial, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t := Turn{Role: Role(role), Content: content, Partial: partial != 0}
		if err := json.Unmarshal([]byte(callsJSON), &t.ToolCalls); err != nil {
			return nil, fmt.Errorf("decode tool calls: %w", err)
		}
		if err := json.Unmarshal([]byte(resultsJSON), &t.ToolResults); err != nil {
			return nil, fmt.Errorf("decode tool results: %w", err)
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		sess.Turns = append(sess.Turns, t)
	}
	return sess, rows.Err()
}

// Create implements Store.
func (s *SQLiteStore) Create(ctx context.Context, sess *Session) error {
	return s.Save(ctx, sess)
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, sess *Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	slotsJSON, err := json.Marshal(sess.Slots)
	if err != nil {
		return fmt.Errorf("encode slots: %w", err)
	}
	candidatesJSON, err := json.Marshal(sess.Candidates)
	if err != nil {
		return fmt.Errorf("encode candidates: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, state, slots, candidates, selected_vehicle, relax_level,
			input_tokens, output_tokens, cache_read, cache_write, reasoning,
			cost, verified, requires_review, summary, created_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			slots = excluded.slots,
			candidates = excluded.candidates,
			selected_vehicle = excluded.selected_vehicle,
			relax_level = excluded.relax_level,
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			cache_read = excluded.cache_read,
			cache_write = excluded.cache_write,
			reasoning = excluded.reasoning,
			cost = excluded.cost,
			verified = excluded.verified,
			requires_review = excluded.requires_review,
			summary = excluded.summary,
			last_activity_at = excluded.last_activity_at`,
		sess.ID, string(sess.State), string(slotsJSON), string(candidatesJSON),
		sess.SelectedVehicleID, sess.RelaxLevel,
		sess.Tokens.Input, sess.Tokens.Output, sess.Tokens.CacheRead,
		sess.Tokens.CacheWrite, sess.Tokens.Reasoning,
		sess.Cost, boolInt(sess.Verified), boolInt(sess.RequiresReview), sess.Summary,
		sess.CreatedAt.UTC().Format(time.RFC3339Nano),
		sess.LastActivityAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", sess.ID, err)
	}

	// Append-only: insert only turns past the stored count.
	var stored int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM turns WHERE session_id = ?`, sess.ID).Scan(&stored); err != nil {
		return fmt.Errorf("count turns: %w", err)
	}
	if len(sess.Turns) < stored {
		return fmt.Errorf("session %s: refusing to truncate turn list (%d < %d)",
			sess.ID, len(sess.Turns), stored)
	}
	for seq := stored; seq < len(sess.Turns); seq++ {
		t := sess.Turns[seq]
		callsJSON, err := json.Marshal(orEmpty(t.ToolCalls))
		if err != nil {
			return fmt.Errorf("encode tool calls: %w", err)
		}
		resultsJSON, err := json.Marshal(orEmptyResults(t.ToolResults))
		if err != nil {
			return fmt.Errorf("encode tool results: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO turns (session_id, seq, role, content, tool_calls, tool_results, partial, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, seq, string(t.Role), t.Content, string(callsJSON), string(resultsJSON),
			boolInt(t.Partial), t.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("append turn %d: %w", seq, err)
		}
	}

	return tx.Commit()
}

// ListByState implements Store.
func (s *SQLiteStore) ListByState(ctx context.Context, states ...State) ([]*Session, error) {
	if len(states) == 0 {
		return nil, nil
	}
	query := `SELECT id FROM sessions WHERE state IN (?` // + repeated placeholders
	args := []any{string(states[0])}
	for _, st := range states[1:] {
		query += ",?"
		args = append(args, string(st))
	}
	query += ")"
	return s.loadByIDs(ctx, query, args)
}

// ListIdle implements Store.
func (s *SQLiteStore) ListIdle(ctx context.Context, cutoff time.Time) ([]*Session, error) {
	return s.loadByIDs(ctx,
		`SELECT id FROM sessions WHERE last_activity_at < ? AND state NOT IN (?, ?)`,
		[]any{cutoff.UTC().Format(time.RFC3339Nano), string(StateBooked), string(StateAbandoned)})
}

func (s *SQLiteStore) loadByIDs(ctx context.Context, query string, args []any) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

// SetSummary implements Store.
func (s *SQLiteStore) SetSummary(ctx context.Context, id, summary string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET summary = ? WHERE id = ?`, summary, id)
	if err != nil {
		return fmt.Errorf("set summary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAbandoned implements Store.
func (s *SQLiteStore) MarkAbandoned(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET state = ? WHERE id = ? AND state NOT IN (?, ?)`,
		string(StateAbandoned), id, string(StateBooked), string(StateAbandoned))
	if err != nil {
		return fmt.Errorf("mark abandoned: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func scanSession(row *sql.Row) (*Session, error) {
	var (
		sess                        Session
		state                       string
		slotsJSON, candidatesJSON   string
		verified, review            int
		createdAt, lastActivity     string
	)
	err := row.Scan(&sess.ID, &state, &slotsJSON, &candidatesJSON,
		&sess.SelectedVehicleID, &sess.RelaxLevel,
		&sess.Tokens.Input, &sess.Tokens.Output, &sess.Tokens.CacheRead,
		&sess.Tokens.CacheWrite, &sess.Tokens.Reasoning,
		&sess.Cost, &verified, &review, &sess.Summary, &createdAt, &lastActivity)
	if err != nil {
		return nil, err
	}
	sess.State = State(state)
	sess.Verified = verified != 0
	sess.RequiresReview = review != 0
	if err := json.Unmarshal([]byte(slotsJSON), &sess.Slots); err != nil {
		return nil, fmt.Errorf("decode slots: %w", err)
	}
	if err := json.Unmarshal([]byte(candidatesJSON), &sess.Candidates); err != nil {
		return nil, fmt.Errorf("decode candidates: %w", err)
	}
	sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	sess.LastActivityAt, _ = time.Parse(time.RFC3339Nano, lastActivity)
	return &sess, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func orEmpty(calls []ToolCall) []ToolCall {
	if calls == nil {
		return []ToolCall{}
	}
	return calls
}

func orEmptyResults(results []ToolResult) []ToolResult {
	if results == nil {
		return []ToolResult{}
	}
	return results
}
