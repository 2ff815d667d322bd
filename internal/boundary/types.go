package boundary

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a thread has no live persisted state.
	ErrNotFound = errors.New("boundary: state not found")
	// ErrExpired is an ErrNotFound for a thread idle past the TTL. Load
	// still returns the thread's topic sequence with it.
	ErrExpired = fmt.Errorf("%w: expired", ErrNotFound)
)

// #region state
// State is the per-thread drift statistics. Written only by the thread's own
// in-flight request.
type State struct {
	ThreadID     string    `json:"thread_id"`
	FastEWMA     float64   `json:"fast_ewma"`
	SlowEWMA     float64   `json:"slow_ewma"`
	SurpriseMean float64   `json:"surprise_baseline_mean"`
	SurpriseVar  float64   `json:"surprise_baseline_var"`
	Accumulator  float64   `json:"accumulator_value"`
	MessageCount int       `json:"message_count"`
	TopicSeq     int       `json:"topic_seq"`
	LastUpdate   time.Time `json:"last_update"`
}

// #endregion state

// #region diagnostics
// Path names which branch of the detector produced a decision.
type Path string

const (
	PathFirst     Path = "first_message"
	PathColdStart Path = "cold_start"
	PathInvalid   Path = "invalid_input"
	PathSteady    Path = "steady"
)

// Diagnostics explain one decision for the audit log.
type Diagnostics struct {
	Path          Path    `json:"path"`
	Similarity    float64 `json:"similarity"`
	Drift         float64 `json:"drift"`
	ZScore        float64 `json:"z_score"`
	DriftFired    bool    `json:"drift_fired"`
	SurpriseFired bool    `json:"surprise_fired"`
	Pressure      float64 `json:"pressure"`
	Accumulator   float64 `json:"accumulator"`
	Threshold     float64 `json:"threshold"`
}

// #endregion diagnostics
