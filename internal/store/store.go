// Package store persists engine runs and their records in SQLite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"

	"github.com/therealutkarshpriyadarshi/tflog/internal/tracing"
	"github.com/therealutkarshpriyadarshi/tflog/pkg/types"
)

//go:embed migrations/001_initial_schema.up.sql
var migrationSQL string

// ErrNotFound is returned when a run or record does not exist
var ErrNotFound = errors.New("not found")

// Run is the stored summary of one engine pass
type Run struct {
	ID        string         `json:"run_id"`
	Source    string         `json:"source"`
	CreatedAt time.Time      `json:"created_at"`
	Records   int            `json:"records"`
	Stats     types.RunStats `json:"stats"`
	Degraded  bool           `json:"degraded"`
	Reason    string         `json:"reason,omitempty"`
	Summary   map[string]any `json:"summary,omitempty"`
}

// Store is a SQLite-backed run store
type Store struct {
	db     *sql.DB
	tracer trace.Tracer
}

// Option configures a Store
type Option func(*Store)

// WithTracer sets the tracer
func WithTracer(t trace.Tracer) Option {
	return func(s *Store) { s.tracer = t }
}

// Open opens or creates the database at path and applies migrations.
// ":memory:" opens a private in-memory database.
func Open(path string, opts ...Option) (*Store, error) {
	memory := path == ":memory:"

	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?"
	} else {
		dsn += "&"
	}
	dsn += "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if !memory {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if memory {
		// Every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(migrationSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	s := &Store{db: db, tracer: tracing.NoopTracer()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SaveRun stores run and its records in one transaction. An empty ID is
// replaced by a new UUID and a zero CreatedAt by the current time; the
// stored run is returned.
func (s *Store) SaveRun(ctx context.Context, run Run, records []types.Record) (Run, error) {
	ctx, span := tracing.TraceStore(ctx, s.tracer, "save_run")
	defer span.End()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	run.Records = len(records)

	stats, err := json.Marshal(run.Stats)
	if err != nil {
		return Run{}, fmt.Errorf("encoding stats: %w", err)
	}
	var summary []byte
	if run.Summary != nil {
		if summary, err = json.Marshal(run.Summary); err != nil {
			return Run{}, fmt.Errorf("encoding summary: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		tracing.RecordError(span, err)
		return Run{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, source, created_at, record_count, degraded, reason, summary, stats)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Source, run.CreatedAt.Format(time.RFC3339Nano), run.Records, run.Degraded, run.Reason, nullable(summary), string(stats))
	if err != nil {
		tracing.RecordError(span, err)
		return Run{}, fmt.Errorf("inserting run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO records (run_id, lineno, data) VALUES (?, ?, ?)`)
	if err != nil {
		return Run{}, fmt.Errorf("preparing record insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return Run{}, fmt.Errorf("encoding record %d: %w", r.LineNumber, err)
		}
		if _, err := stmt.ExecContext(ctx, run.ID, r.LineNumber, data); err != nil {
			tracing.RecordError(span, err)
			return Run{}, fmt.Errorf("inserting record %d: %w", r.LineNumber, err)
		}
	}

	if err := tx.Commit(); err != nil {
		tracing.RecordError(span, err)
		return Run{}, fmt.Errorf("commit transaction: %w", err)
	}
	return run, nil
}

func nullable(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

const runColumns = `id, source, created_at, record_count, degraded, reason, summary, stats`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run       Run
		createdAt string
		summary   sql.NullString
		stats     string
	)
	if err := row.Scan(&run.ID, &run.Source, &createdAt, &run.Records, &run.Degraded, &run.Reason, &summary, &stats); err != nil {
		return Run{}, err
	}

	var err error
	if run.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Run{}, fmt.Errorf("decoding created_at: %w", err)
	}
	if err := json.Unmarshal([]byte(stats), &run.Stats); err != nil {
		return Run{}, fmt.Errorf("decoding stats: %w", err)
	}
	if summary.Valid {
		if err := json.Unmarshal([]byte(summary.String), &run.Summary); err != nil {
			return Run{}, fmt.Errorf("decoding summary: %w", err)
		}
	}
	return run, nil
}

// GetRun returns a run's summary
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	ctx, span := tracing.TraceStore(ctx, s.tracer, "get_run")
	defer span.End()

	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		tracing.RecordError(span, err)
		return Run{}, fmt.Errorf("querying run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first
func (s *Store) ListRuns(ctx context.Context, limit, offset int) ([]Run, error) {
	ctx, span := tracing.TraceStore(ctx, s.tracer, "list_runs")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?
	`, limit, max(offset, 0))
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Records returns a run's records in line-number order
func (s *Store) Records(ctx context.Context, id string) ([]types.Record, error) {
	ctx, span := tracing.TraceStore(ctx, s.tracer, "records")
	defer span.End()

	if _, err := s.GetRun(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT data FROM records WHERE run_id = ? ORDER BY lineno`, id)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	records := []types.Record{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		var r types.Record
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decoding record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Record returns one record of a run
func (s *Store) Record(ctx context.Context, id string, lineno int) (types.Record, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM records WHERE run_id = ? AND lineno = ?`, id, lineno).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Record{}, ErrNotFound
	}
	if err != nil {
		return types.Record{}, fmt.Errorf("querying record: %w", err)
	}

	var r types.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return types.Record{}, fmt.Errorf("decoding record: %w", err)
	}
	return r, nil
}

// DeleteRun removes a run and its records
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE run_id = ?`, id); err != nil {
		return fmt.Errorf("deleting records: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}
