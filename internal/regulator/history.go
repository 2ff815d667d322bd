package regulator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// timeLayout is fixed-width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Adjustment kinds.
const (
	KindAdjust = "adjust"
	KindRevert = "revert"
)

// Adjustment statuses. Only KindAdjust rows go through pending.
const (
	StatusPending    = "pending"
	StatusKept       = "kept"
	StatusReverted   = "reverted"
	StatusRolledBack = "rolled_back"
	StatusApplied    = "applied"
)

// #region adjustment
// Adjustment is one weights write made by the regulator.
type Adjustment struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	Metric         string    `json:"metric"`
	Param          string    `json:"param"`
	OldValue       float64   `json:"old_value"`
	NewValue       float64   `json:"new_value"`
	Delta          float64   `json:"delta"`
	PressureBefore float64   `json:"pressure_before"`
	PressureAfter  float64   `json:"pressure_after,omitempty"`
	VersionID      string    `json:"version_id"`
	ParentID       string    `json:"parent_id"`
	RevertOf       string    `json:"revert_of,omitempty"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	VerifiedAt     time.Time `json:"verified_at,omitempty"`
}

// #endregion adjustment

// #region history
const historySchema = `
CREATE TABLE IF NOT EXISTS regulator_adjustments (
	id              TEXT PRIMARY KEY,
	kind            TEXT NOT NULL,
	metric          TEXT NOT NULL,
	param           TEXT NOT NULL,
	old_value       REAL NOT NULL,
	new_value       REAL NOT NULL,
	delta           REAL NOT NULL,
	pressure_before REAL NOT NULL,
	pressure_after  REAL,
	version_id      TEXT NOT NULL,
	parent_id       TEXT NOT NULL,
	revert_of       TEXT,
	status          TEXT NOT NULL,
	created_at      TEXT NOT NULL,
	verified_at     TEXT
);

CREATE INDEX IF NOT EXISTS idx_adjustments_param ON regulator_adjustments(param, created_at);
`

// History records every regulator write, its verification status, and
// answers the daily-delta and cooldown questions.
type History struct {
	db  *sql.DB
	now func() time.Time
}

// NewHistory creates the adjustments table on db.
func NewHistory(db *sql.DB) (*History, error) {
	if _, err := db.Exec(historySchema); err != nil {
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return &History{db: db, now: time.Now}, nil
}

// Record appends an adjustment, assigning an id and timestamp if unset.
func (h *History) Record(ctx context.Context, a Adjustment) (Adjustment, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = h.now()
	}
	a.CreatedAt = a.CreatedAt.UTC()
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO regulator_adjustments (id, kind, metric, param, old_value, new_value, delta,
			pressure_before, version_id, parent_id, revert_of, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Kind, a.Metric, a.Param, a.OldValue, a.NewValue, a.Delta, a.PressureBefore,
		a.VersionID, a.ParentID, nullIfEmpty(a.RevertOf), a.Status, a.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return a, fmt.Errorf("record adjustment: %w", err)
	}
	return a, nil
}

// Resolve closes a pending adjustment with its verification outcome.
func (h *History) Resolve(ctx context.Context, id, status string, pressureAfter float64) error {
	res, err := h.db.ExecContext(ctx,
		`UPDATE regulator_adjustments SET status = ?, pressure_after = ?, verified_at = ?
		 WHERE id = ? AND status = ?`,
		status, pressureAfter, h.now().UTC().Format(timeLayout), id, StatusPending,
	)
	if err != nil {
		return fmt.Errorf("resolve adjustment: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("resolve adjustment %s: not pending", id)
	}
	return nil
}

// Pending returns the oldest unverified adjustment, or nil.
func (h *History) Pending(ctx context.Context) (*Adjustment, error) {
	row := h.db.QueryRowContext(ctx,
		`SELECT `+adjustmentColumns+` FROM regulator_adjustments
		 WHERE status = ? ORDER BY created_at ASC LIMIT 1`, StatusPending)
	a, err := scanAdjustment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// SpentSince is the total |change| applied to param after since, reverts
// included. A rolled-back adjustment moved the parameter out and back, so
// it counts twice.
func (h *History) SpentSince(ctx context.Context, param string, since time.Time) (float64, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT delta, status FROM regulator_adjustments WHERE param = ? AND created_at > ?`,
		param, since.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("spent since: %w", err)
	}
	defer rows.Close()
	total := 0.0
	for rows.Next() {
		var (
			d      float64
			status string
		)
		if err := rows.Scan(&d, &status); err != nil {
			return 0, fmt.Errorf("scan delta: %w", err)
		}
		if status == StatusRolledBack {
			d *= 2
		}
		total += math.Abs(d)
	}
	return total, rows.Err()
}

// LastAdjusted returns when param was last written, or the zero time.
func (h *History) LastAdjusted(ctx context.Context, param string) (time.Time, error) {
	var s sql.NullString
	err := h.db.QueryRowContext(ctx,
		`SELECT MAX(created_at) FROM regulator_adjustments WHERE param = ?`, param).Scan(&s)
	if err != nil {
		return time.Time{}, fmt.Errorf("last adjusted: %w", err)
	}
	if !s.Valid {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s.String)
}

// Recent returns the newest adjustments, newest first.
func (h *History) Recent(ctx context.Context, limit int) ([]Adjustment, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := h.db.QueryContext(ctx,
		`SELECT `+adjustmentColumns+` FROM regulator_adjustments ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent adjustments: %w", err)
	}
	defer rows.Close()
	var out []Adjustment
	for rows.Next() {
		a, err := scanAdjustment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const adjustmentColumns = `id, kind, metric, param, old_value, new_value, delta, pressure_before,
	pressure_after, version_id, parent_id, revert_of, status, created_at, verified_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAdjustment(sc scanner) (Adjustment, error) {
	var (
		a                  Adjustment
		after              sql.NullFloat64
		revertOf, verified sql.NullString
		created            string
	)
	err := sc.Scan(&a.ID, &a.Kind, &a.Metric, &a.Param, &a.OldValue, &a.NewValue, &a.Delta,
		&a.PressureBefore, &after, &a.VersionID, &a.ParentID, &revertOf, &a.Status, &created, &verified)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, err
		}
		return a, fmt.Errorf("scan adjustment: %w", err)
	}
	a.PressureAfter = after.Float64
	a.RevertOf = revertOf.String
	if a.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return a, fmt.Errorf("parse created_at: %w", err)
	}
	if verified.Valid {
		a.VerifiedAt, _ = time.Parse(timeLayout, verified.String)
	}
	return a, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion history
