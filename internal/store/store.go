// Package store records reconstruction runs and their per-stroke outcomes
// in sqlite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/banshee-data/sketchlift/internal/plane"
	"github.com/banshee-data/sketchlift/internal/timeutil"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get for an unknown run ID.
var ErrNotFound = errors.New("run not found")

// Stroke outcome values stored in stroke_results.status.
const (
	StatusLifted  = "lifted"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Run is one reconstruction of one dataset entry.
type Run struct {
	ID           string          `json:"run_id"`
	Entry        string          `json:"entry"`
	CreatedAt    time.Time       `json:"created_at"`
	Plane        plane.Plane     `json:"plane"`
	Residual     float64         `json:"residual"`
	StrokeCount  int             `json:"stroke_count"`
	LiftedCount  int             `json:"lifted_count"`
	FailureCount int             `json:"failure_count"`
	Params       json.RawMessage `json:"params,omitempty"`
}

// StrokeResult is the outcome for one source stroke of a run.
type StrokeResult struct {
	StrokeIndex   int          `json:"stroke_index"`
	Status        string       `json:"status"`
	PointCount    int          `json:"point_count"`
	Geometry      [][3]float64 `json:"geometry"`
	FailureReason string       `json:"failure_reason,omitempty"`
}

// timeFormat is fixed width so created_at sorts lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps the run database.
type Store struct {
	db    *sql.DB
	path  string
	clock timeutil.Clock
}

// Open opens or creates the database at path and migrates it to
// SchemaVersion.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	s := &Store{db: db, path: path, clock: timeutil.RealClock{}}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// dsn applies the pragmas to every pooled connection, not just the first.
func dsn(path string) string {
	q := url.Values{}
	for _, p := range []string{
		"journal_mode(WAL)",
		"busy_timeout(5000)",
		"synchronous(NORMAL)",
		"temp_store(MEMORY)",
		"foreign_keys(ON)",
	} {
		q.Add("_pragma", p)
	}
	return "file:" + path + "?" + q.Encode()
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for the live SQL debug page.
func (s *Store) DB() *sql.DB { return s.db }

// SetClock replaces the clock used for CreatedAt stamps and busy backoff.
func (s *Store) SetClock(c timeutil.Clock) { s.clock = c }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Insert stores run and its strokes in one transaction. A missing ID is
// filled with a new UUID and a zero CreatedAt with the current time; both
// are written back into run.
func (s *Store) Insert(ctx context.Context, run *Run, strokes []StrokeResult) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.clock.Now().UTC()
	}
	params := string(run.Params)
	if params == "" {
		params = "{}"
	}

	geoms := make([]string, len(strokes))
	for i, st := range strokes {
		g := st.Geometry
		if g == nil {
			g = [][3]float64{}
		}
		b, err := json.Marshal(g)
		if err != nil {
			return fmt.Errorf("encode stroke %d geometry: %w", st.StrokeIndex, err)
		}
		geoms[i] = string(b)
	}

	return retryOnBusy(s.clock, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO reconstruction_runs (
				run_id, entry, created_at, plane_a, plane_b, plane_c, plane_d,
				residual, stroke_count, lifted_count, failure_count, params_json
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, run.Entry, run.CreatedAt.UTC().Format(timeFormat),
			run.Plane.A, run.Plane.B, run.Plane.C, run.Plane.D,
			run.Residual, run.StrokeCount, run.LiftedCount, run.FailureCount, params,
		)
		if err != nil {
			return fmt.Errorf("insert run %s: %w", run.ID, err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO stroke_results (
				run_id, stroke_index, status, point_count, geometry_json, failure_reason
			) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, st := range strokes {
			if _, err := stmt.ExecContext(ctx, run.ID, st.StrokeIndex, st.Status, st.PointCount, geoms[i], st.FailureReason); err != nil {
				return fmt.Errorf("insert stroke %d: %w", st.StrokeIndex, err)
			}
		}
		return tx.Commit()
	})
}

const runColumns = `run_id, entry, created_at, plane_a, plane_b, plane_c, plane_d,
	residual, stroke_count, lifted_count, failure_count, params_json`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		r       Run
		created string
		params  string
	)
	err := row.Scan(&r.ID, &r.Entry, &created, &r.Plane.A, &r.Plane.B, &r.Plane.C, &r.Plane.D,
		&r.Residual, &r.StrokeCount, &r.LiftedCount, &r.FailureCount, &params)
	if err != nil {
		return Run{}, err
	}
	if r.CreatedAt, err = time.Parse(timeFormat, created); err != nil {
		return Run{}, fmt.Errorf("run %s: bad created_at %q: %w", r.ID, created, err)
	}
	r.Params = json.RawMessage(params)
	return r, nil
}

// Get returns one run.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM reconstruction_runs WHERE run_id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return &r, nil
}

// List returns the most recent runs first. entry filters by dataset entry
// when non-empty; limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, entry string, limit int) ([]Run, error) {
	var (
		where []string
		args  []any
	)
	if entry != "" {
		where = append(where, "entry = ?")
		args = append(args, entry)
	}
	q := `SELECT ` + runColumns + ` FROM reconstruction_runs`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, run_id`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Strokes returns a run's stroke outcomes by stroke index.
func (s *Store) Strokes(ctx context.Context, runID string) ([]StrokeResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stroke_index, status, point_count, geometry_json, failure_reason
		FROM stroke_results WHERE run_id = ? ORDER BY stroke_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("list strokes for %s: %w", runID, err)
	}
	defer rows.Close()

	out := []StrokeResult{}
	for rows.Next() {
		var (
			st   StrokeResult
			geom string
		)
		if err := rows.Scan(&st.StrokeIndex, &st.Status, &st.PointCount, &geom, &st.FailureReason); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(geom), &st.Geometry); err != nil {
			return nil, fmt.Errorf("stroke %d geometry: %w", st.StrokeIndex, err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// VacuumInto writes a consistent copy of the database to path.
func (s *Store) VacuumInto(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return fmt.Errorf("vacuum into %s: %w", path, err)
	}
	return nil
}
