package signals

import (
	"context"
	"time"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/mode"
)

// #region feedback
// Feedback is the explicit user reaction to the previous turn.
type Feedback string

const (
	FeedbackAbsent   Feedback = "absent"
	FeedbackPositive Feedback = "positive"
	FeedbackNegative Feedback = "negative"
)

// Value maps feedback onto [-1, 1].
func (f Feedback) Value() float64 {
	switch f {
	case FeedbackPositive:
		return 1
	case FeedbackNegative:
		return -1
	}
	return 0
}

// #endregion feedback

// #region signal-names
// Signal names used as keys in router weights and feature vectors.
const (
	ContextWarmth        = "context_warmth"
	WorkingMemoryTurns   = "working_memory_turns"
	GistCount            = "gist_count"
	FactCount            = "fact_count"
	TopicConfidence      = "topic_confidence"
	IsNewTopic           = "is_new_topic"
	PromptTokenCount     = "prompt_token_count"
	HasQuestionMark      = "has_question_mark"
	GreetingPattern      = "greeting_pattern"
	ExplicitFeedback     = "explicit_feedback"
	InformationDensity   = "information_density"
	ImplicitReference    = "implicit_reference"
	SessionExchangeCount = "session_exchange_count"
	EmptyInput           = "empty_input"
	Imperative           = "imperative"
	InterrogativeWording = "interrogative_wording"
	ShortAcknowledgement = "short_acknowledgement"
	WorldStatePresent    = "world_state_present"
	PriorActUseless      = "prior_act_useless"
	PreviousClarify      = "previous_clarify"
)

// Names lists every weighted signal in a stable order.
var Names = []string{
	ContextWarmth, WorkingMemoryTurns, GistCount, FactCount, TopicConfidence,
	IsNewTopic, PromptTokenCount, HasQuestionMark, GreetingPattern,
	ExplicitFeedback, InformationDensity, ImplicitReference,
	SessionExchangeCount, EmptyInput, Imperative, InterrogativeWording,
	ShortAcknowledgement, WorldStatePresent, PriorActUseless, PreviousClarify,
}

// #endregion signal-names

// #region routing-signals
// RoutingSignals is the per-request feature record the router scores.
// It is never persisted on its own, only as the audit snapshot.
type RoutingSignals struct {
	ContextWarmth        float64   `json:"context_warmth"`
	WorkingMemoryTurns   int       `json:"working_memory_turns"`
	GistCount            int       `json:"gist_count"`
	FactCount            int       `json:"fact_count"`
	TopicConfidence      float64   `json:"topic_confidence"`
	IsNewTopic           bool      `json:"is_new_topic"`
	PromptTokenCount     int       `json:"prompt_token_count"`
	HasQuestionMark      bool      `json:"has_question_mark"`
	GreetingPattern      bool      `json:"greeting_pattern"`
	ExplicitFeedback     Feedback  `json:"explicit_feedback"`
	InformationDensity   float64   `json:"information_density"`
	ImplicitReference    bool      `json:"implicit_reference"`
	SessionExchangeCount int       `json:"session_exchange_count"`
	PreviousMode         mode.Mode `json:"previous_mode"`
	EmptyInput           bool      `json:"empty_input"`
	Imperative           bool      `json:"imperative"`
	InterrogativeWording bool      `json:"interrogative_wording"`
	ShortAcknowledgement bool      `json:"short_acknowledgement"`
	WorldStatePresent    bool      `json:"world_state_present"`
	PriorActUseless      bool      `json:"prior_act_useless"`
}

// #endregion routing-signals

// #region context-snapshot
// ContextSnapshot is the subset of signals the memory collaborator supplies.
// Zero values are the documented neutral defaults.
type ContextSnapshot struct {
	ContextWarmth        float64 `json:"context_warmth"`
	WorkingMemoryTurns   int     `json:"working_memory_turns"`
	GistCount            int     `json:"gist_count"`
	FactCount            int     `json:"fact_count"`
	WorldStatePresent    bool    `json:"world_state_present"`
	SessionExchangeCount int     `json:"session_exchange_count"`
}

// ContextProvider is the read-only, best-effort memory collaborator.
type ContextProvider interface {
	FetchSignals(ctx context.Context, threadID string) (ContextSnapshot, error)
}

// #endregion context-snapshot

// #region config
// CollectorConfig holds tuning knobs for signal collection.
type CollectorConfig struct {
	CacheTTL         time.Duration `yaml:"cache_ttl"`          // how long a context snapshot is reused
	CacheMaxEntries  int64         `yaml:"cache_max_entries"`  // ristretto MaxCost, one unit per thread
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`      // bound on a cold provider read
	ShortInputTokens int           `yaml:"short_input_tokens"` // <= this many tokens counts as short
	LowDensityCutoff float64       `yaml:"low_density_cutoff"` // content-word ratio treated as low density
}

// DefaultCollectorConfig returns sensible defaults.
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		CacheTTL:         30 * time.Second,
		CacheMaxEntries:  10000,
		FetchTimeout:     150 * time.Millisecond,
		ShortInputTokens: 4,
		LowDensityCutoff: 0.3,
	}
}

// #endregion config

// #region collect-input
// CollectInput bundles what the request path knows before routing.
type CollectInput struct {
	ThreadID        string
	Text            string
	PreviousMode    mode.Mode
	PriorActUseless bool
	IsNewTopic      bool
	TopicConfidence float64
}

// #endregion collect-input
