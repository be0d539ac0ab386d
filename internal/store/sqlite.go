package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/me/threadsched/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if dbPath == ":memory:" {
		// Every connection to ":memory:" is a separate database.
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Run CRUD ---

const runColumns = `id, name, policy, state, scenario, ticks, load_avg, idle_ticks, kernel_ticks, switches,
	error, event_count, created_at, completed_at`

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	s.logger.Debug("sql", "op", "insert", "table", "runs", "id", run.ID)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Name, run.Policy, string(run.State), run.Scenario,
		run.Ticks, run.LoadAvg, run.Stats.IdleTicks, run.Stats.KernelTicks, run.Stats.Switches,
		run.Error, run.EventCount,
		run.CreatedAt.Format(time.RFC3339Nano), formatTime(run.CompletedAt),
	)
	return err
}

// GetRun returns the run with its thread summaries, or nil if it does not
// exist. Events are loaded separately with ListEvents.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	s.logger.Debug("sql", "op", "select", "table", "runs", "id", id)

	run, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err != nil || run == nil {
		return run, err
	}

	run.Threads, err = s.ListThreads(ctx, id)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "runs", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	var whereClauses []string
	var countArgs []any

	if opts.State != "" {
		whereClauses = append(whereClauses, "state = ?")
		countArgs = append(countArgs, opts.State)
	}
	if opts.Policy != "" {
		whereClauses = append(whereClauses, "policy = ?")
		countArgs = append(countArgs, opts.Policy)
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM runs` + whereSQL
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery := `SELECT ` + runColumns + ` FROM runs` + whereSQL + ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	listArgs := append(countArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, listQuery, listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	runs, err := scanRuns(rows)
	if err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *model.Run) error {
	s.logger.Debug("sql", "op", "update", "table", "runs", "id", run.ID)
	return updateRun(ctx, s.db, run)
}

func (s *SQLiteStore) ClaimRun(ctx context.Context, id string) (bool, error) {
	s.logger.Debug("sql", "op", "claim", "table", "runs", "id", id)
	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state=? WHERE id=? AND state=?`,
		string(model.RunStateRunning), id, string(model.RunStatePending),
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	s.logger.Debug("sql", "op", "delete", "table", "runs", "id", id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_events WHERE run_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM run_threads WHERE run_id = ?`, id); err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetRunsByState(ctx context.Context, state model.RunState) ([]*model.Run, error) {
	s.logger.Debug("sql", "op", "select_by_state", "table", "runs", "state", state)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE state = ? ORDER BY created_at, id`, string(state))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

// --- Results ---

// SaveResult stores the final run record, its thread summaries and its
// events in one transaction, replacing any earlier result.
func (s *SQLiteStore) SaveResult(ctx context.Context, run *model.Run) error {
	s.logger.Debug("sql", "op", "save_result", "id", run.ID, "threads", len(run.Threads), "events", len(run.Events))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := updateRun(ctx, tx, run); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM run_threads WHERE run_id = ?`, run.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM run_events WHERE run_id = ?`, run.ID); err != nil {
		return err
	}

	threadStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_threads (run_id, tid, name, base_priority, final_priority, nice, recent_cpu,
		 created_tick, exit_tick, run_ticks) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare threads: %w", err)
	}
	defer threadStmt.Close()
	for _, th := range run.Threads {
		if _, err := threadStmt.ExecContext(ctx, run.ID, int(th.TID), th.Name, th.BasePriority, th.FinalPriority,
			th.Nice, th.RecentCPU, th.CreatedTick, th.ExitTick, th.RunTicks); err != nil {
			return fmt.Errorf("insert thread %s: %w", th.Name, err)
		}
	}

	eventStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_events (run_id, seq, tick, kind, tid, thread, priority, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare events: %w", err)
	}
	defer eventStmt.Close()
	for _, e := range run.Events {
		if _, err := eventStmt.ExecContext(ctx, run.ID, e.Seq, e.Tick, string(e.Kind), int(e.TID),
			e.Thread, e.Priority, e.Detail); err != nil {
			return fmt.Errorf("insert event %d: %w", e.Seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListEvents returns a run's trace in sequence order. An empty kind matches
// every event.
func (s *SQLiteStore) ListEvents(ctx context.Context, runID string, kind model.EventKind) ([]model.Event, error) {
	s.logger.Debug("sql", "op", "list", "table", "run_events", "run_id", runID, "kind", kind)

	query := `SELECT seq, tick, kind, tid, thread, priority, detail FROM run_events WHERE run_id = ?`
	args := []any{runID}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		var kindStr string
		var tid int
		if err := rows.Scan(&e.Seq, &e.Tick, &kindStr, &tid, &e.Thread, &e.Priority, &e.Detail); err != nil {
			return nil, err
		}
		e.Kind = model.EventKind(kindStr)
		e.TID = model.TID(tid)
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListThreads returns a run's thread summaries ordered by TID.
func (s *SQLiteStore) ListThreads(ctx context.Context, runID string) ([]model.ThreadSummary, error) {
	s.logger.Debug("sql", "op", "list", "table", "run_threads", "run_id", runID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT tid, name, base_priority, final_priority, nice, recent_cpu, created_tick, exit_tick, run_ticks
		 FROM run_threads WHERE run_id = ? ORDER BY tid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threads []model.ThreadSummary
	for rows.Next() {
		var th model.ThreadSummary
		var tid int
		if err := rows.Scan(&tid, &th.Name, &th.BasePriority, &th.FinalPriority, &th.Nice, &th.RecentCPU,
			&th.CreatedTick, &th.ExitTick, &th.RunTicks); err != nil {
			return nil, err
		}
		th.TID = model.TID(tid)
		threads = append(threads, th)
	}
	return threads, rows.Err()
}

// --- helpers ---

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func updateRun(ctx context.Context, db execer, run *model.Run) error {
	result, err := db.ExecContext(ctx,
		`UPDATE runs SET state=?, ticks=?, load_avg=?, idle_ticks=?, kernel_ticks=?, switches=?,
		 error=?, event_count=?, completed_at=? WHERE id=?`,
		string(run.State), run.Ticks, run.LoadAvg, run.Stats.IdleTicks, run.Stats.KernelTicks, run.Stats.Switches,
		run.Error, run.EventCount, formatTime(run.CompletedAt), run.ID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run %s not found", run.ID)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*model.Run, error) {
	var run model.Run
	var state, createdAt string
	var completedAt *string

	err := row.Scan(
		&run.ID, &run.Name, &run.Policy, &state, &run.Scenario,
		&run.Ticks, &run.LoadAvg, &run.Stats.IdleTicks, &run.Stats.KernelTicks, &run.Stats.Switches,
		&run.Error, &run.EventCount, &createdAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	run.State = model.RunState(state)
	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if completedAt != nil {
		t, _ := time.Parse(time.RFC3339Nano, *completedAt)
		run.CompletedAt = &t
	}
	return &run, nil
}

func scanRuns(rows *sql.Rows) ([]*model.Run, error) {
	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339Nano)
	return &s
}
