package signals

import (
	"context"
	"fmt"
	"math"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/mode"
)

// #region collector
// Collector assembles RoutingSignals from the message text, the cached
// memory snapshot for the thread, and what the caller already knows.
type Collector struct {
	provider ContextProvider
	cache    *ristretto.Cache
	config   CollectorConfig
	logger   *zap.Logger
}

// NewCollector creates a Collector. provider may be nil, in which case every
// memory-derived signal takes its neutral default.
func NewCollector(provider ContextProvider, config CollectorConfig, logger *zap.Logger) (*Collector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxCost := config.CacheMaxEntries
	if maxCost <= 0 {
		maxCost = DefaultCollectorConfig().CacheMaxEntries
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxCost * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("signal cache: %w", err)
	}
	return &Collector{
		provider: provider,
		cache:    cache,
		config:   config,
		logger:   logger.Named("signals"),
	}, nil
}

// Close releases the cache.
func (c *Collector) Close() {
	c.cache.Close()
}

// Invalidate drops the cached snapshot for a thread so the next Collect
// re-reads the provider.
func (c *Collector) Invalidate(threadID string) {
	c.cache.Del(threadID)
}

// #endregion collector

// #region collect
// Collect never fails: unavailable features fall back to neutral values.
func (c *Collector) Collect(ctx context.Context, in CollectInput) RoutingSignals {
	tf := extractText(in.Text, c.config)
	snap := c.snapshot(ctx, in.ThreadID)

	return RoutingSignals{
		ContextWarmth:        clamp01(snap.ContextWarmth),
		WorkingMemoryTurns:   clampInt(snap.WorkingMemoryTurns, 0, 4),
		GistCount:            max(snap.GistCount, 0),
		FactCount:            max(snap.FactCount, 0),
		TopicConfidence:      clamp01(in.TopicConfidence),
		IsNewTopic:           in.IsNewTopic,
		PromptTokenCount:     tf.tokens,
		HasQuestionMark:      tf.question,
		GreetingPattern:      tf.greeting,
		ExplicitFeedback:     tf.feedback,
		InformationDensity:   tf.density,
		ImplicitReference:    tf.implicit,
		SessionExchangeCount: max(snap.SessionExchangeCount, 0),
		PreviousMode:         in.PreviousMode,
		EmptyInput:           tf.empty,
		Imperative:           tf.imperative,
		InterrogativeWording: tf.interrogative,
		ShortAcknowledgement: tf.ack,
		WorldStatePresent:    snap.WorldStatePresent,
		PriorActUseless:      in.PreviousMode == mode.Act && in.PriorActUseless,
	}
}

// snapshot reads the thread's memory snapshot from cache, fetching it with a
// short timeout on a miss.
func (c *Collector) snapshot(ctx context.Context, threadID string) ContextSnapshot {
	if v, ok := c.cache.Get(threadID); ok {
		if snap, ok := v.(ContextSnapshot); ok {
			return snap
		}
	}
	if c.provider == nil || threadID == "" {
		return ContextSnapshot{}
	}

	fetchCtx := ctx
	if c.config.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, c.config.FetchTimeout)
		defer cancel()
	}
	snap, err := c.provider.FetchSignals(fetchCtx, threadID)
	if err != nil {
		c.logger.Warn("context signals unavailable, using neutral defaults",
			zap.String("thread", threadID), zap.Error(err))
		return ContextSnapshot{}
	}
	c.cache.SetWithTTL(threadID, snap, 1, c.config.CacheTTL)
	return snap
}

// #endregion collect

// #region features
// Features maps every named signal onto a bounded scalar for scoring.
func (s RoutingSignals) Features() map[string]float64 {
	return map[string]float64{
		ContextWarmth:        clamp01(s.ContextWarmth),
		WorkingMemoryTurns:   float64(clampInt(s.WorkingMemoryTurns, 0, 4)) / 4,
		GistCount:            saturate(s.GistCount, 10),
		FactCount:            saturate(s.FactCount, 20),
		TopicConfidence:      clamp01(s.TopicConfidence),
		IsNewTopic:           b2f(s.IsNewTopic),
		PromptTokenCount:     saturate(s.PromptTokenCount, 64),
		HasQuestionMark:      b2f(s.HasQuestionMark),
		GreetingPattern:      b2f(s.GreetingPattern),
		ExplicitFeedback:     s.ExplicitFeedback.Value(),
		InformationDensity:   clamp01(s.InformationDensity),
		ImplicitReference:    b2f(s.ImplicitReference),
		SessionExchangeCount: saturate(s.SessionExchangeCount, 20),
		EmptyInput:           b2f(s.EmptyInput),
		Imperative:           b2f(s.Imperative),
		InterrogativeWording: b2f(s.InterrogativeWording),
		ShortAcknowledgement: b2f(s.ShortAcknowledgement),
		WorldStatePresent:    b2f(s.WorldStatePresent),
		PriorActUseless:      b2f(s.PriorActUseless),
		PreviousClarify:      b2f(s.PreviousMode == mode.Clarify),
	}
}

// #endregion features

// #region helpers
func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func saturate(n, limit int) float64 {
	if n <= 0 {
		return 0
	}
	return math.Min(float64(n)/float64(limit), 1)
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
