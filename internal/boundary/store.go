package boundary

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS boundary_state (
	thread_id      TEXT PRIMARY KEY,
	fast_ewma      REAL NOT NULL,
	slow_ewma      REAL NOT NULL,
	surprise_mean  REAL NOT NULL,
	surprise_var   REAL NOT NULL,
	accumulator    REAL NOT NULL,
	message_count  INTEGER NOT NULL,
	topic_seq      INTEGER NOT NULL,
	last_update    TEXT NOT NULL
);
`
// #endregion schema

// #region store
// timeLayout is fixed-width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store persists BoundaryState per thread. Rows older than the TTL are
// treated as absent, so an idle thread rebuilds from cold start. The topic
// sequence outlives the TTL so topic ids are never reused.
type Store struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// NewStore creates the boundary_state table on db.
func NewStore(db *sql.DB, ttl time.Duration) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate boundary: %w", err)
	}
	return &Store{db: db, ttl: ttl, now: time.Now}, nil
}

// Load returns the live state of a thread, or ErrNotFound. An expired
// thread returns ErrExpired with only ThreadID and TopicSeq set.
func (s *Store) Load(threadID string) (State, error) {
	st := State{ThreadID: threadID}
	var updated string
	err := s.db.QueryRow(
		`SELECT fast_ewma, slow_ewma, surprise_mean, surprise_var, accumulator, message_count, topic_seq, last_update
		 FROM boundary_state WHERE thread_id = ?`, threadID,
	).Scan(&st.FastEWMA, &st.SlowEWMA, &st.SurpriseMean, &st.SurpriseVar, &st.Accumulator,
		&st.MessageCount, &st.TopicSeq, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, ErrNotFound
	}
	if err != nil {
		return State{}, fmt.Errorf("load boundary state: %w", err)
	}
	st.LastUpdate, err = time.Parse(timeLayout, updated)
	if err != nil {
		return State{}, fmt.Errorf("parse last_update: %w", err)
	}
	if s.ttl > 0 && s.now().Sub(st.LastUpdate) > s.ttl {
		return State{ThreadID: threadID, TopicSeq: st.TopicSeq}, ErrExpired
	}
	return st, nil
}

// Save upserts the state of a thread.
func (s *Store) Save(st State) error {
	if st.ThreadID == "" {
		return errors.New("save boundary state: empty thread id")
	}
	if st.LastUpdate.IsZero() {
		st.LastUpdate = s.now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO boundary_state (thread_id, fast_ewma, slow_ewma, surprise_mean, surprise_var, accumulator, message_count, topic_seq, last_update)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(thread_id) DO UPDATE SET
			fast_ewma = excluded.fast_ewma,
			slow_ewma = excluded.slow_ewma,
			surprise_mean = excluded.surprise_mean,
			surprise_var = excluded.surprise_var,
			accumulator = excluded.accumulator,
			message_count = excluded.message_count,
			topic_seq = excluded.topic_seq,
			last_update = excluded.last_update`,
		st.ThreadID, st.FastEWMA, st.SlowEWMA, st.SurpriseMean, st.SurpriseVar, st.Accumulator,
		st.MessageCount, st.TopicSeq, st.LastUpdate.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("save boundary state: %w", err)
	}
	return nil
}

// Purge clears the statistics of threads idle for longer than the TTL,
// keeping their topic sequence, and returns how many were cleared.
func (s *Store) Purge() (int64, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.ttl).UTC().Format(timeLayout)
	res, err := s.db.Exec(
		`UPDATE boundary_state
		 SET fast_ewma = 0, slow_ewma = 0, surprise_mean = 0, surprise_var = 0, accumulator = 0, message_count = 0
		 WHERE last_update < ? AND message_count > 0`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge boundary state: %w", err)
	}
	return res.RowsAffected()
}
// #endregion store
