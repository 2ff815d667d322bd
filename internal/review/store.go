package review

// #region imports
import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/mode"
)

// #endregion imports

// #region types

// Review is a second opinion on one routing decision.
type Review struct {
	ID         int64
	DecisionID string
	Routed     mode.Mode // what the router chose
	Suggested  mode.Mode // what the reviewer would have chosen
	Reason     string
	CreatedAt  time.Time
}

// Agrees reports whether the reviewer backed the router.
func (r Review) Agrees() bool {
	return r.Routed == r.Suggested
}

// #endregion types

// timeLayout is fixed-width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// #region store

// Store persists peer reviews in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates the peer_reviews table if needed and returns a store.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.init(); err != nil {
		return nil, fmt.Errorf("migrate review: %w", err)
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS peer_reviews (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		decision_id TEXT NOT NULL UNIQUE,
		routed_mode TEXT NOT NULL,
		suggested_mode TEXT NOT NULL,
		reason TEXT,
		created_at TEXT NOT NULL
	)`)
	return err
}

// Save stores a review. A decision is reviewed at most once.
func (s *Store) Save(ctx context.Context, r Review) (Review, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO peer_reviews (decision_id, routed_mode, suggested_mode, reason, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.DecisionID, string(r.Routed), string(r.Suggested), r.Reason, r.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return r, fmt.Errorf("save review: %w", err)
	}
	r.ID, _ = res.LastInsertId()
	return r, nil
}

// Reviewed reports whether a decision already has a review.
func (s *Store) Reviewed(ctx context.Context, decisionID string) (bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM peer_reviews WHERE decision_id = ?`, decisionID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check review: %w", err)
	}
	return true, nil
}

// Since returns reviews created at or after since, oldest first.
func (s *Store) Since(ctx context.Context, since time.Time) ([]Review, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, decision_id, routed_mode, suggested_mode, reason, created_at FROM peer_reviews
		 WHERE created_at >= ? ORDER BY created_at ASC, id ASC`, since.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("query reviews: %w", err)
	}
	defer rows.Close()

	var out []Review
	for rows.Next() {
		var (
			r                 Review
			routed, suggested string
			reason            sql.NullString
			createdAt         string
		)
		if err := rows.Scan(&r.ID, &r.DecisionID, &routed, &suggested, &reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		r.Routed = mode.Mode(routed)
		r.Suggested = mode.Mode(suggested)
		r.Reason = reason.String
		r.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// DisagreementRate is the share of reviews since a point in time that
// disagreed with the router, and how many reviews it covers.
func (s *Store) DisagreementRate(ctx context.Context, since time.Time) (float64, int, error) {
	reviews, err := s.Since(ctx, since)
	if err != nil {
		return 0, 0, err
	}
	if len(reviews) == 0 {
		return 0, 0, nil
	}
	n := 0
	for _, r := range reviews {
		if !r.Agrees() {
			n++
		}
	}
	return float64(n) / float64(len(reviews)), len(reviews), nil
}

// #endregion store
