package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/opsassist/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One writer at a time; completion hooks and API handlers write concurrently.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

func newULID() string {
	return ulid.Make().String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Conversation turns ---

func (s *SQLiteStore) SaveTurn(ctx context.Context, sessionID string, turn models.ConversationTurn) error {
	if turn.At.IsZero() {
		turn.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_turns (id, session_id, query, response, intent, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		newULID(), sessionID, turn.Query, turn.Response, string(turn.Intent), turn.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

// ListTurns returns a session's turns oldest first. A positive limit keeps
// only the most recent ones.
func (s *SQLiteStore) ListTurns(ctx context.Context, sessionID string, limit int) ([]*TurnRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, query, response, intent, created_at
		FROM conversation_turns WHERE session_id = ? ORDER BY id DESC LIMIT ?`, sessionID, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var turns []*TurnRecord
	for rows.Next() {
		t := &TurnRecord{}
		var intent string
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Query, &t.Response, &intent, &t.At); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Intent = models.Intent(intent)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(turns)
	return turns, nil
}

// --- Fix plans ---

// SavePlan stores a plan, replacing any earlier version with the same plan id
// in the same session.
func (s *SQLiteStore) SavePlan(ctx context.Context, sessionID string, p models.FixPlan) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode plan %s: %w", p.ID, err)
	}
	now := time.Now().UTC()
	created := p.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO fix_plans (id, session_id, plan_id, parent_id, issue, priority, risk_level, status, origin, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, plan_id) DO UPDATE SET
			issue=excluded.issue, priority=excluded.priority, risk_level=excluded.risk_level,
			status=excluded.status, body=excluded.body, updated_at=excluded.updated_at`,
		newULID(), sessionID, p.ID, p.ParentID, p.Issue, string(p.Priority), string(p.RiskLevel),
		string(p.Status), string(p.Origin), string(body), created.UTC(), now,
	)
	if err != nil {
		return fmt.Errorf("save plan %s: %w", p.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ListPlans(ctx context.Context, sessionID string) ([]*PlanRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, body, updated_at FROM fix_plans WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*PlanRecord
	for rows.Next() {
		r := &PlanRecord{}
		var body string
		if err := rows.Scan(&r.ID, &r.SessionID, &body, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		if err := json.Unmarshal([]byte(body), &r.Plan); err != nil {
			return nil, fmt.Errorf("decode plan %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Executions ---

// SaveExecution stores a result, replacing an earlier one with the same handle.
func (s *SQLiteStore) SaveExecution(ctx context.Context, r models.ExecutionResult) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode execution %s: %w", r.Handle, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (id, handle, session_id, plan_id, outcome, body, started_at, total_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(handle) DO UPDATE SET
			outcome=excluded.outcome, body=excluded.body, total_ms=excluded.total_ms`,
		newULID(), r.Handle, r.SessionID, r.PlanID, r.Outcome(), string(body),
		r.StartedAt.UTC(), r.TotalTime.Milliseconds(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save execution %s: %w", r.Handle, err)
	}
	return nil
}

func (s *SQLiteStore) GetExecution(ctx context.Context, handle string) (*ExecutionRecord, error) {
	rec := &ExecutionRecord{}
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, outcome, body FROM executions WHERE handle = ?`, handle,
	).Scan(&rec.ID, &rec.Outcome, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("execution %s: %w", handle, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	if err := json.Unmarshal([]byte(body), &rec.Result); err != nil {
		return nil, fmt.Errorf("decode execution %s: %w", handle, err)
	}
	return rec, nil
}

// ListExecutions returns a session's executions newest first.
func (s *SQLiteStore) ListExecutions(ctx context.Context, sessionID string, limit int) ([]*ExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, outcome, body FROM executions WHERE session_id = ? ORDER BY id DESC LIMIT ?`,
		sessionID, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*ExecutionRecord
	for rows.Next() {
		rec := &ExecutionRecord{}
		var body string
		if err := rows.Scan(&rec.ID, &rec.Outcome, &body); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		if err := json.Unmarshal([]byte(body), &rec.Result); err != nil {
			return nil, fmt.Errorf("decode execution %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// sqlLimit maps a non-positive limit to SQLite's "no limit".
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
