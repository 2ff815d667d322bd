package weights

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS weights_versions (
	version_id    TEXT PRIMARY KEY,
	parent_id     TEXT,
	version       INTEGER NOT NULL UNIQUE,
	weights_json  TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	metrics_json  TEXT,
	reason        TEXT,
	FOREIGN KEY (parent_id) REFERENCES weights_versions(version_id)
);

CREATE TABLE IF NOT EXISTS active_weights (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	version_id    TEXT NOT NULL,
	FOREIGN KEY (version_id) REFERENCES weights_versions(version_id)
);
`
// #endregion schema

// #region store-struct
// Store manages versioned router weights in SQLite. Exactly one version is
// active; writers advance it with a compare-and-swap on the active pointer.
type Store struct {
	db *sql.DB
}
// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an already-migrated database handle.
func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the weights tables on db.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate weights: %w", err)
	}
	return nil
}
// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for packages sharing the file
// (audit, regulator history, provenance).
func (s *Store) DB() *sql.DB {
	return s.db
}
// #endregion close

// #region create-initial
// CreateInitial writes w as the root version and makes it active.
func (s *Store) CreateInitial(w RouterWeights) (Record, error) {
	if err := w.Validate(); err != nil {
		return Record{}, err
	}
	rec := Record{
		VersionID: uuid.New().String(),
		Version:   1,
		Weights:   w.Clone(),
		CreatedAt: time.Now().UTC(),
		Reason:    "initial",
	}
	body, err := json.Marshal(rec.Weights)
	if err != nil {
		return Record{}, fmt.Errorf("marshal weights: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Record{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var next int64
	if err := tx.QueryRow(`SELECT COALESCE(MAX(version), 0) + 1 FROM weights_versions`).Scan(&next); err != nil {
		return Record{}, fmt.Errorf("next version: %w", err)
	}
	rec.Version = next

	_, err = tx.Exec(
		`INSERT INTO weights_versions (version_id, parent_id, version, weights_json, created_at, reason)
		 VALUES (?, NULL, ?, ?, ?, ?)`,
		rec.VersionID, rec.Version, string(body), rec.CreatedAt.Format(time.RFC3339Nano), rec.Reason,
	)
	if err != nil {
		return Record{}, fmt.Errorf("insert version: %w", err)
	}
	_, err = tx.Exec(
		`INSERT INTO active_weights (id, version_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET version_id = excluded.version_id`,
		rec.VersionID,
	)
	if err != nil {
		return Record{}, fmt.Errorf("set active: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

// EnsureInitial returns the active version, seeding the store with w when
// it has none yet.
func (s *Store) EnsureInitial(w RouterWeights) (Record, error) {
	rec, err := s.GetCurrent()
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Record{}, err
	}
	return s.CreateInitial(w)
}
// #endregion create-initial

// #region get-current
// GetCurrent reads the active version.
func (s *Store) GetCurrent() (Record, error) {
	var versionID string
	err := s.db.QueryRow(`SELECT version_id FROM active_weights WHERE id = 1`).Scan(&versionID)
	if err != nil {
		return Record{}, fmt.Errorf("get active: %w", err)
	}
	return s.GetVersion(versionID)
}
// #endregion get-current

// #region get-version
// GetVersion retrieves a specific version by ID.
func (s *Store) GetVersion(id string) (Record, error) {
	row := s.db.QueryRow(
		`SELECT version_id, parent_id, version, weights_json, created_at, metrics_json, reason
		 FROM weights_versions WHERE version_id = ?`, id,
	)
	rec, err := scanRecord(row)
	if err != nil {
		return Record{}, fmt.Errorf("get version %s: %w", id, err)
	}
	return rec, nil
}
// #endregion get-version

// #region commit
// Commit writes w as a child of parentID and makes it active, provided
// parentID is still the active version. Otherwise nothing is written and
// ErrVersionConflict is returned.
func (s *Store) Commit(parentID string, w RouterWeights, metricsJSON, reason string) (Record, error) {
	if err := w.Validate(); err != nil {
		return Record{}, err
	}
	rec := Record{
		VersionID:   uuid.New().String(),
		ParentID:    parentID,
		Weights:     w.Clone(),
		CreatedAt:   time.Now().UTC(),
		MetricsJSON: metricsJSON,
		Reason:      reason,
	}
	body, err := json.Marshal(rec.Weights)
	if err != nil {
		return Record{}, fmt.Errorf("marshal weights: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Record{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var next int64
	if err := tx.QueryRow(`SELECT COALESCE(MAX(version), 0) + 1 FROM weights_versions`).Scan(&next); err != nil {
		return Record{}, fmt.Errorf("next version: %w", err)
	}
	rec.Version = next

	_, err = tx.Exec(
		`INSERT INTO weights_versions (version_id, parent_id, version, weights_json, created_at, metrics_json, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.VersionID, nullIfEmpty(parentID), rec.Version, string(body),
		rec.CreatedAt.Format(time.RFC3339Nano), nullIfEmpty(metricsJSON), nullIfEmpty(reason),
	)
	if err != nil {
		return Record{}, fmt.Errorf("insert version: %w", err)
	}

	res, err := tx.Exec(
		`UPDATE active_weights SET version_id = ? WHERE id = 1 AND version_id = ?`,
		rec.VersionID, parentID,
	)
	if err != nil {
		return Record{}, fmt.Errorf("update active: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Record{}, fmt.Errorf("update active: %w", err)
	}
	if n != 1 {
		return Record{}, ErrVersionConflict
	}

	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}
// #endregion commit

// #region rollback
// Rollback sets the active pointer back to targetVersionID, but only while
// expectedActive is still active.
func (s *Store) Rollback(targetVersionID, expectedActive string) error {
	var exists int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM weights_versions WHERE version_id = ?`, targetVersionID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check version: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("version %s not found", targetVersionID)
	}

	res, err := s.db.Exec(
		`UPDATE active_weights SET version_id = ? WHERE id = 1 AND version_id = ?`,
		targetVersionID, expectedActive,
	)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return ErrVersionConflict
	}
	return nil
}
// #endregion rollback

// #region list-versions
// ListVersions returns the most recent versions, newest first.
func (s *Store) ListVersions(limit int) ([]Record, error) {
	rows, err := s.db.Query(
		`SELECT version_id, parent_id, version, weights_json, created_at, metrics_json, reason
		 FROM weights_versions ORDER BY version DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
// #endregion list-versions

// #region scan
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var rec Record
	var parentID, metricsJSON, reason sql.NullString
	var body, createdStr string

	if err := sc.Scan(&rec.VersionID, &parentID, &rec.Version, &body, &createdStr, &metricsJSON, &reason); err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal([]byte(body), &rec.Weights); err != nil {
		return Record{}, fmt.Errorf("unmarshal weights: %w", err)
	}
	rec.ParentID = parentID.String
	rec.MetricsJSON = metricsJSON.String
	rec.Reason = reason.String
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return rec, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
// #endregion scan
