package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/act"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/mode"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/signals"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS routing_decisions (
	id               TEXT PRIMARY KEY,
	thread_id        TEXT NOT NULL,
	topic            TEXT,
	exchange_id      TEXT,
	phase            TEXT NOT NULL,
	selected_mode    TEXT NOT NULL,
	runner_up        TEXT,
	router_confidence REAL NOT NULL,
	scores_json      TEXT NOT NULL,
	tiebreaker_used  INTEGER NOT NULL,
	tiebreak_outcome TEXT,
	margin           REAL NOT NULL,
	effective_margin REAL NOT NULL,
	signal_snapshot  TEXT NOT NULL,
	weights_version  TEXT,
	routing_time_ns  INTEGER NOT NULL,
	feedback         TEXT,
	previous_mode    TEXT,
	excluded_json    TEXT,
	created_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_routing_decisions_created ON routing_decisions(created_at);
CREATE INDEX IF NOT EXISTS idx_routing_decisions_thread ON routing_decisions(thread_id, created_at);

CREATE TABLE IF NOT EXISTS act_iterations (
	cycle_id           TEXT NOT NULL,
	iteration_number   INTEGER NOT NULL,
	thread_id          TEXT,
	actions_planned    TEXT NOT NULL,
	actions_executed   TEXT NOT NULL,
	plan_error         TEXT,
	cost               REAL NOT NULL,
	fatigue_after      REAL NOT NULL,
	termination_reason TEXT,
	duration_ns        INTEGER NOT NULL,
	created_at         TEXT NOT NULL,
	PRIMARY KEY (cycle_id, iteration_number)
);
CREATE INDEX IF NOT EXISTS idx_act_iterations_thread ON act_iterations(thread_id, created_at);

CREATE TABLE IF NOT EXISTS pressure_signals (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	dimension  TEXT NOT NULL,
	magnitude  REAL NOT NULL,
	source     TEXT NOT NULL,
	ref        TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pressure_signals_created ON pressure_signals(created_at);
`
// #endregion schema

// timeLayout is fixed-width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// #region store
// Store is the append-only audit log backed by SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates the audit tables on db.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate audit: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) stamp(t time.Time) time.Time {
	if t.IsZero() {
		return s.now().UTC()
	}
	return t.UTC()
}

// #endregion store

// #region decisions
// RecordDecision appends a decision, assigning an id and timestamp if unset.
func (s *Store) RecordDecision(ctx context.Context, d Decision) (Decision, error) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	d.CreatedAt = s.stamp(d.CreatedAt)
	if d.Phase == "" {
		d.Phase = PhaseInitial
	}

	scores, err := json.Marshal(d.Scores)
	if err != nil {
		return d, fmt.Errorf("marshal scores: %w", err)
	}
	snapshot, err := json.Marshal(d.Signals)
	if err != nil {
		return d, fmt.Errorf("marshal signals: %w", err)
	}
	var excluded string
	if len(d.Excluded) > 0 {
		b, err := json.Marshal(d.Excluded)
		if err != nil {
			return d, fmt.Errorf("marshal excluded: %w", err)
		}
		excluded = string(b)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO routing_decisions (id, thread_id, topic, exchange_id, phase, selected_mode, runner_up,
			router_confidence, scores_json, tiebreaker_used, tiebreak_outcome, margin, effective_margin,
			signal_snapshot, weights_version, routing_time_ns, feedback, previous_mode, excluded_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ThreadID, nullIfEmpty(d.Topic), nullIfEmpty(d.ExchangeID), d.Phase, string(d.Mode),
		nullIfEmpty(string(d.RunnerUp)), d.Confidence, string(scores), d.TiebreakerUsed,
		nullIfEmpty(d.TiebreakOutcome), d.Margin, d.EffectiveMargin, string(snapshot),
		nullIfEmpty(d.WeightsVersion), int64(d.RoutingTime), nullIfEmpty(string(d.Feedback)),
		nullIfEmpty(string(d.PreviousMode)), nullIfEmpty(excluded), d.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return d, fmt.Errorf("record decision: %w", err)
	}
	return d, nil
}

// SetFeedback fills the feedback of a decision exactly once.
func (s *Store) SetFeedback(ctx context.Context, id string, fb signals.Feedback) error {
	if fb != signals.FeedbackPositive && fb != signals.FeedbackNegative {
		return fmt.Errorf("set feedback: invalid value %q", fb)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE routing_decisions SET feedback = ? WHERE id = ? AND feedback IS NULL`, string(fb), id)
	if err != nil {
		return fmt.Errorf("set feedback: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set feedback: %w", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := s.Decision(ctx, id); err != nil {
		return err
	}
	return ErrFeedbackSet
}

const decisionColumns = `id, thread_id, topic, exchange_id, phase, selected_mode, runner_up, router_confidence,
	scores_json, tiebreaker_used, tiebreak_outcome, margin, effective_margin, signal_snapshot,
	weights_version, routing_time_ns, feedback, previous_mode, excluded_json, created_at`

// Decision loads one decision by id.
func (s *Store) Decision(ctx context.Context, id string) (Decision, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+decisionColumns+` FROM routing_decisions WHERE id = ?`, id)
	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Decision{}, ErrNotFound
	}
	return d, err
}

// DecisionsSince returns decisions created at or after since, oldest first.
// limit <= 0 means no limit.
func (s *Store) DecisionsSince(ctx context.Context, since time.Time, limit int) ([]Decision, error) {
	return s.queryDecisions(ctx,
		`SELECT `+decisionColumns+` FROM routing_decisions WHERE created_at >= ? ORDER BY created_at ASC, id ASC LIMIT ?`,
		since.UTC().Format(timeLayout), sqlLimit(limit))
}

// RecentDecisions returns the newest decisions, newest first.
func (s *Store) RecentDecisions(ctx context.Context, limit int) ([]Decision, error) {
	return s.queryDecisions(ctx,
		`SELECT `+decisionColumns+` FROM routing_decisions ORDER BY created_at DESC, id DESC LIMIT ?`,
		sqlLimit(limit))
}

// ThreadDecisions returns a thread's decisions since a point in time,
// oldest first.
func (s *Store) ThreadDecisions(ctx context.Context, threadID string, since time.Time) ([]Decision, error) {
	return s.queryDecisions(ctx,
		`SELECT `+decisionColumns+` FROM routing_decisions WHERE thread_id = ? AND created_at >= ? ORDER BY created_at ASC, id ASC`,
		threadID, since.UTC().Format(timeLayout))
}

// LastDecision returns the newest decision of a thread. Rows written in the
// same instant are ordered by insertion.
func (s *Store) LastDecision(ctx context.Context, threadID string) (Decision, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+decisionColumns+` FROM routing_decisions WHERE thread_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		threadID)
	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Decision{}, ErrNotFound
	}
	if err != nil {
		return Decision{}, fmt.Errorf("last decision: %w", err)
	}
	return d, nil
}

func (s *Store) queryDecisions(ctx context.Context, query string, args ...any) ([]Decision, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDecision(sc scanner) (Decision, error) {
	var (
		d                                               Decision
		topic, exchange, runnerUp, outcome, version, fb sql.NullString
		prev, excluded                                  sql.NullString
		modeStr, scores, snapshot, created              string
		routingNS                                       int64
	)
	err := sc.Scan(&d.ID, &d.ThreadID, &topic, &exchange, &d.Phase, &modeStr, &runnerUp, &d.Confidence,
		&scores, &d.TiebreakerUsed, &outcome, &d.Margin, &d.EffectiveMargin, &snapshot,
		&version, &routingNS, &fb, &prev, &excluded, &created)
	if err != nil {
		return Decision{}, err
	}
	d.Topic = topic.String
	d.ExchangeID = exchange.String
	d.Mode = mode.Mode(modeStr)
	d.RunnerUp = mode.Mode(runnerUp.String)
	d.TiebreakOutcome = outcome.String
	d.WeightsVersion = version.String
	d.RoutingTime = time.Duration(routingNS)
	d.Feedback = signals.Feedback(fb.String)
	d.PreviousMode = mode.Mode(prev.String)

	if err := json.Unmarshal([]byte(scores), &d.Scores); err != nil {
		return Decision{}, fmt.Errorf("unmarshal scores: %w", err)
	}
	if err := json.Unmarshal([]byte(snapshot), &d.Signals); err != nil {
		return Decision{}, fmt.Errorf("unmarshal signals: %w", err)
	}
	if excluded.Valid {
		if err := json.Unmarshal([]byte(excluded.String), &d.Excluded); err != nil {
			return Decision{}, fmt.Errorf("unmarshal excluded: %w", err)
		}
	}
	d.CreatedAt, err = time.Parse(timeLayout, created)
	if err != nil {
		return Decision{}, fmt.Errorf("parse created_at: %w", err)
	}
	return d, nil
}

// #endregion decisions

// #region iterations
// RecordIteration appends one ACT iteration.
func (s *Store) RecordIteration(ctx context.Context, it act.Iteration) error {
	planned, err := json.Marshal(it.Planned)
	if err != nil {
		return fmt.Errorf("marshal planned: %w", err)
	}
	executed, err := json.Marshal(it.Executed)
	if err != nil {
		return fmt.Errorf("marshal executed: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO act_iterations (cycle_id, iteration_number, thread_id, actions_planned, actions_executed,
			plan_error, cost, fatigue_after, termination_reason, duration_ns, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.CycleID, it.Number, nullIfEmpty(it.ThreadID), string(planned), string(executed),
		nullIfEmpty(it.PlanError), it.Cost, it.FatigueAfter, nullIfEmpty(string(it.Termination)),
		int64(it.Duration), s.stamp(it.StartedAt).Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("record iteration: %w", err)
	}
	return nil
}

// FatigueSince sums the fatigue a thread spent since a point in time.
func (s *Store) FatigueSince(ctx context.Context, threadID string, since time.Time) (float64, error) {
	var total sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(cost) FROM act_iterations WHERE thread_id = ? AND created_at >= ?`,
		threadID, since.UTC().Format(timeLayout),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum fatigue: %w", err)
	}
	return total.Float64, nil
}

const iterationColumns = `cycle_id, iteration_number, thread_id, actions_planned, actions_executed, plan_error,
	cost, fatigue_after, termination_reason, duration_ns, created_at`

// Iterations returns the iterations of one cycle in order.
func (s *Store) Iterations(ctx context.Context, cycleID string) ([]act.Iteration, error) {
	return s.queryIterations(ctx,
		`SELECT `+iterationColumns+` FROM act_iterations WHERE cycle_id = ? ORDER BY iteration_number ASC`, cycleID)
}

// RecentIterations returns the newest iterations, newest first.
func (s *Store) RecentIterations(ctx context.Context, limit int) ([]act.Iteration, error) {
	return s.queryIterations(ctx,
		`SELECT `+iterationColumns+` FROM act_iterations ORDER BY created_at DESC, iteration_number DESC LIMIT ?`,
		sqlLimit(limit))
}

func (s *Store) queryIterations(ctx context.Context, query string, args ...any) ([]act.Iteration, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query iterations: %w", err)
	}
	defer rows.Close()

	var out []act.Iteration
	for rows.Next() {
		var (
			it                        act.Iteration
			thread, planErr, reason   sql.NullString
			planned, executed, create string
			durNS                     int64
		)
		if err := rows.Scan(&it.CycleID, &it.Number, &thread, &planned, &executed, &planErr,
			&it.Cost, &it.FatigueAfter, &reason, &durNS, &create); err != nil {
			return nil, fmt.Errorf("scan iteration: %w", err)
		}
		it.ThreadID = thread.String
		it.PlanError = planErr.String
		it.Termination = act.Reason(reason.String)
		it.Duration = time.Duration(durNS)
		if err := json.Unmarshal([]byte(planned), &it.Planned); err != nil {
			return nil, fmt.Errorf("unmarshal planned: %w", err)
		}
		if err := json.Unmarshal([]byte(executed), &it.Executed); err != nil {
			return nil, fmt.Errorf("unmarshal executed: %w", err)
		}
		if it.StartedAt, err = time.Parse(timeLayout, create); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// #endregion iterations

// #region pressure-signals
// RecordPressure appends a pressure signal.
func (s *Store) RecordPressure(ctx context.Context, p PressureSignal) (PressureSignal, error) {
	if p.Dimension == "" || p.Source == "" {
		return p, errors.New("record pressure: dimension and source are required")
	}
	p.CreatedAt = s.stamp(p.CreatedAt)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO pressure_signals (dimension, magnitude, source, ref, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.Dimension, p.Magnitude, p.Source, nullIfEmpty(p.Ref), p.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return p, fmt.Errorf("record pressure: %w", err)
	}
	p.ID, _ = res.LastInsertId()
	return p, nil
}

// PressureSince returns pressure signals created at or after since, oldest first.
func (s *Store) PressureSince(ctx context.Context, since time.Time) ([]PressureSignal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, dimension, magnitude, source, ref, created_at FROM pressure_signals
		 WHERE created_at >= ? ORDER BY created_at ASC, id ASC`, since.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("query pressure: %w", err)
	}
	defer rows.Close()

	var out []PressureSignal
	for rows.Next() {
		var (
			p       PressureSignal
			ref     sql.NullString
			created string
		)
		if err := rows.Scan(&p.ID, &p.Dimension, &p.Magnitude, &p.Source, &ref, &created); err != nil {
			return nil, fmt.Errorf("scan pressure: %w", err)
		}
		p.Ref = ref.String
		if p.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// HasPressure reports whether a signal from source already references ref.
func (s *Store) HasPressure(ctx context.Context, source, ref string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pressure_signals WHERE source = ? AND ref = ?`, source, ref).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check pressure: %w", err)
	}
	return n > 0, nil
}

// #endregion pressure-signals

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// sqlLimit maps "no limit" onto SQLite's -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

// #endregion helpers
