package logging

import (
	"database/sql"
	"fmt"
	"time"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS provenance_log (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	version_id   TEXT NOT NULL,
	context_hash TEXT,
	trigger_type TEXT NOT NULL,
	signals_json TEXT,
	evidence_refs TEXT,
	decision     TEXT NOT NULL,
	reason       TEXT,
	created_at   TEXT NOT NULL
);
`

// timeLayout is fixed-width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Migrate creates the provenance_log table on db.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate provenance: %w", err)
	}
	return nil
}

// #endregion schema

// #region log-decision
// LogDecision writes a provenance entry to the provenance_log table.
func LogDecision(db *sql.DB, entry ProvenanceEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO provenance_log (version_id, context_hash, trigger_type, signals_json, evidence_refs, decision, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.VersionID,
		nullIfEmpty(entry.ContextHash),
		entry.TriggerType,
		nullIfEmpty(entry.SignalsJSON),
		nullIfEmpty(entry.EvidenceRefs),
		entry.Decision,
		nullIfEmpty(entry.Reason),
		entry.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

// #endregion log-decision

// #region list
// Recent returns the newest provenance entries, newest first.
func Recent(db *sql.DB, limit int) ([]ProvenanceEntry, error) {
	rows, err := db.Query(
		`SELECT version_id, context_hash, trigger_type, signals_json, evidence_refs, decision, reason, created_at
		 FROM provenance_log ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list provenance: %w", err)
	}
	defer rows.Close()

	var out []ProvenanceEntry
	for rows.Next() {
		var (
			e                       ProvenanceEntry
			hash, sig, refs, reason sql.NullString
			created                 string
		)
		if err := rows.Scan(&e.VersionID, &hash, &e.TriggerType, &sig, &refs, &e.Decision, &reason, &created); err != nil {
			return nil, fmt.Errorf("scan provenance: %w", err)
		}
		e.ContextHash, e.SignalsJSON, e.EvidenceRefs, e.Reason = hash.String, sig.String, refs.String, reason.String
		e.CreatedAt, _ = time.Parse(timeLayout, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion list

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
