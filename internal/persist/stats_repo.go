package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/l1jgo/framecore/internal/frame"
)

// ErrNoSession is returned for an unknown session id.
var ErrNoSession = errors.New("persist: no such session")

// SessionRow is one recorded run.
type SessionRow struct {
	ID        string
	StartedAt time.Time
	FixedRate float64
}

// StatsSummary aggregates a session's samples.
type StatsSummary struct {
	Session    SessionRow
	Frames     int64
	Ticks      int64
	Rendered   int64
	Dropped    int64
	Stale      int64
	Paused     int64
	AvgElapsed float64
	MaxElapsed float64
	First      time.Time
	Last       time.Time
}

// StatsRepo implements frame.StatsSink.
type StatsRepo struct {
	db *DB
}

var _ frame.StatsSink = (*StatsRepo)(nil)

func NewStatsRepo(db *DB) *StatsRepo {
	return &StatsRepo{db: db}
}

// StartSession records a new run.
func (r *StatsRepo) StartSession(ctx context.Context, id string, fixedRate float64, started time.Time) error {
	_, err := r.db.SQL.ExecContext(ctx, r.db.rebind(
		`INSERT INTO frame_sessions (id, started_ms, fixed_rate) VALUES (?, ?, ?)`),
		id, started.UnixMilli(), fixedRate,
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", id, err)
	}
	return nil
}

// Record writes a batch of samples in a single transaction. Samples already
// stored for the same frame are skipped.
func (r *StatsRepo) Record(ctx context.Context, session string, batch []frame.Sample) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := r.db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("stats begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, r.db.rebind(
		`INSERT INTO frame_samples
		   (session_id, frame_id, at_ms, ticks, elapsed, accumulator, rendered, dropped, stale, paused)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (session_id, frame_id) DO NOTHING`))
	if err != nil {
		return fmt.Errorf("stats prepare: %w", err)
	}
	defer stmt.Close()

	for _, s := range batch {
		if _, err := stmt.ExecContext(ctx,
			session, int64(s.FrameID), s.At.UnixMilli(), s.Ticks, s.Elapsed, s.Accumulator,
			s.Rendered, s.Dropped, s.Stale, s.Paused,
		); err != nil {
			return fmt.Errorf("stats insert frame %d: %w", s.FrameID, err)
		}
	}
	return tx.Commit()
}

// Summary aggregates every sample of a session.
func (r *StatsRepo) Summary(ctx context.Context, session string) (*StatsSummary, error) {
	sum := &StatsSummary{}
	var started int64
	err := r.db.SQL.QueryRowContext(ctx, r.db.rebind(
		`SELECT id, started_ms, fixed_rate FROM frame_sessions WHERE id = ?`), session,
	).Scan(&sum.Session.ID, &started, &sum.Session.FixedRate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, session)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", session, err)
	}
	sum.Session.StartedAt = time.UnixMilli(started)

	var first, last int64
	err = r.db.SQL.QueryRowContext(ctx, r.db.rebind(
		`SELECT COUNT(*),
		        COALESCE(SUM(ticks), 0),
		        COALESCE(SUM(CASE WHEN rendered THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN dropped THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN stale THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN paused THEN 1 ELSE 0 END), 0),
		        COALESCE(AVG(elapsed), 0),
		        COALESCE(MAX(elapsed), 0),
		        COALESCE(MIN(at_ms), 0),
		        COALESCE(MAX(at_ms), 0)
		   FROM frame_samples WHERE session_id = ?`), session,
	).Scan(&sum.Frames, &sum.Ticks, &sum.Rendered, &sum.Dropped, &sum.Stale, &sum.Paused,
		&sum.AvgElapsed, &sum.MaxElapsed, &first, &last)
	if err != nil {
		return nil, fmt.Errorf("summarize session %s: %w", session, err)
	}
	if sum.Frames > 0 {
		sum.First = time.UnixMilli(first)
		sum.Last = time.UnixMilli(last)
	}
	return sum, nil
}

// Sessions lists the most recent runs, newest first.
func (r *StatsRepo) Sessions(ctx context.Context, limit int) ([]SessionRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.SQL.QueryContext(ctx, r.db.rebind(
		`SELECT id, started_ms, fixed_rate FROM frame_sessions ORDER BY started_ms DESC, id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var row SessionRow
		var started int64
		if err := rows.Scan(&row.ID, &started, &row.FixedRate); err != nil {
			return nil, err
		}
		row.StartedAt = time.UnixMilli(started)
		out = append(out, row)
	}
	return out, rows.Err()
}
