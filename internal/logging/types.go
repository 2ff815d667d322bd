package logging

import "time"

// #region provenance-entry
// ProvenanceEntry is a single row in the provenance_log table.
type ProvenanceEntry struct {
	VersionID    string
	ContextHash  string
	TriggerType  string // "regulator" | "revert" | "rollback" | "manual"
	SignalsJSON  string
	EvidenceRefs string
	Decision     string // "commit" | "reject" | "no_op" | "rollback"
	Reason       string
	CreatedAt    time.Time
}

// #endregion provenance-entry

// #region regulation-record
// RegulationRecord captures the complete inputs of one regulation cycle.
// Serialized as JSON into provenance_log.signals_json for audit and replay.
type RegulationRecord struct {
	CycleID string `json:"cycle_id"`

	// Metric values and normalized pressures at decision time
	Metrics   map[string]float64 `json:"metrics"`
	Pressures map[string]float64 `json:"pressures"`
	Decisions int                `json:"decisions"`

	// Adjustment under consideration, if any
	Metric    string  `json:"metric,omitempty"`
	Param     string  `json:"param,omitempty"`
	OldValue  float64 `json:"old_value,omitempty"`
	NewValue  float64 `json:"new_value,omitempty"`
	Delta     float64 `json:"delta,omitempty"`
	ParentID  string  `json:"parent_version,omitempty"`
	Verifying string  `json:"verifying_adjustment,omitempty"`

	// Gate and eval output
	GateAction    string  `json:"gate_action,omitempty"`
	GateSoftScore float64 `json:"gate_soft_score,omitempty"`
	GateReason    string  `json:"gate_reason,omitempty"`
	EvalPassed    *bool   `json:"eval_passed,omitempty"`
	EvalReason    string  `json:"eval_reason,omitempty"`
}

// #endregion regulation-record
