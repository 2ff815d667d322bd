package engine

import (
	"context"
	"time"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/act"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/audit"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/boundary"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/memory"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/mode"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/weights"
)

// #region collaborators
// WeightsSource hands out the weights snapshot for one request.
// weights.Snapshotter implements it.
type WeightsSource interface {
	Current(ctx context.Context) weights.Record
}

// Memory is the embedding and similarity collaborator. memory.Provider
// implements it.
type Memory interface {
	Probe(ctx context.Context, threadID, text string) memory.Probe
	Remember(ctx context.Context, threadID, text string, topicSeq int) error
}

// #endregion collaborators

// #region config
// Config holds pipeline settings.
type Config struct {
	ThreadCache   int           `yaml:"thread_cache"`   // threads whose previous mode is remembered
	WarmthBoost   float64       `yaml:"warmth_boost"`   // warmth added after a productive ACT cycle
	RememberAfter bool          `yaml:"remember_after"` // store each message in thread memory
	AuditTimeout  time.Duration `yaml:"audit_timeout"`  // bound on each audit write
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ThreadCache:   10000,
		WarmthBoost:   0.2,
		RememberAfter: true,
		AuditTimeout:  2 * time.Second,
	}
}

// #endregion config

// #region message
// Message is one inbound user message.
type Message struct {
	ThreadID   string
	ExchangeID string
	Text       string
}

// Response is the engine's decision for one message. Mode is the terminal
// engagement mode; ACT never appears here because it always resolves into
// a terminal mode.
type Response struct {
	Mode       mode.Mode            `json:"mode"`
	Confidence float64              `json:"confidence"`
	Topic      string               `json:"topic"`
	Boundary   bool                 `json:"boundary"`
	Detector   boundary.Diagnostics `json:"detector"`
	Initial    audit.Decision       `json:"initial"`
	Terminal   *audit.Decision      `json:"terminal,omitempty"`
	Act        *act.Outcome         `json:"act,omitempty"`
	Reason     string               `json:"reason"`
}

// #endregion message
