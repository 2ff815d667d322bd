package regulator

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// #region lease
// Lease is a named, expiring lock row. Only one holder can own a name at a
// time; an expired lease can be taken over by anyone.
type Lease struct {
	db  *sql.DB
	now func() time.Time
}

const leaseSchema = `
CREATE TABLE IF NOT EXISTS regulator_lease (
	name       TEXT PRIMARY KEY,
	holder     TEXT NOT NULL,
	expires_at TEXT NOT NULL
);
`

// NewLease creates the lease table on db.
func NewLease(db *sql.DB) (*Lease, error) {
	if _, err := db.Exec(leaseSchema); err != nil {
		return nil, fmt.Errorf("migrate lease: %w", err)
	}
	return &Lease{db: db, now: time.Now}, nil
}

// Acquire takes or renews the lease for holder. It reports false when a
// different holder owns an unexpired lease.
func (l *Lease) Acquire(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	now := l.now().UTC()
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO regulator_lease (name, holder, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		 WHERE regulator_lease.holder = excluded.holder OR regulator_lease.expires_at <= ?`,
		name, holder, now.Add(ttl).Format(timeLayout), now.Format(timeLayout),
	)
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	return n == 1, nil
}

// Release drops the lease if holder still owns it.
func (l *Lease) Release(ctx context.Context, name, holder string) error {
	if _, err := l.db.ExecContext(ctx,
		`DELETE FROM regulator_lease WHERE name = ? AND holder = ?`, name, holder,
	); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// #endregion lease
