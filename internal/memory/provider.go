package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/codec"
	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/signals"
)

// #region backend
// Backend is the remote memory and embedding service.
type Backend interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Search(ctx context.Context, threadID, queryText string, topK int, similarityThreshold float32) ([]codec.SearchResult, error)
	StoreEvidence(ctx context.Context, threadID, text, metadataJSON string) (string, error)
	FetchSignals(ctx context.Context, threadID string) (signals.ContextSnapshot, error)
}

// #endregion backend

// #region provider
// Provider is the read-mostly client for thread memory. It implements
// signals.ContextProvider.
type Provider struct {
	backend Backend
	config  Config
	logger  *zap.Logger
}

// NewProvider creates a Provider over backend.
func NewProvider(backend Backend, config Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{backend: backend, config: config, logger: logger.Named("memory")}
}

// FetchSignals passes through to the backend.
func (p *Provider) FetchSignals(ctx context.Context, threadID string) (signals.ContextSnapshot, error) {
	return p.backend.FetchSignals(ctx, threadID)
}

// #endregion provider

// #region probe
// Probe embeds text and finds its best match in the thread's memory. It
// never fails; missing pieces are left empty or NaN for the detector's
// fallback paths.
func (p *Provider) Probe(ctx context.Context, threadID, text string) Probe {
	out := Probe{BestMatch: math.NaN()}
	if strings.TrimSpace(text) == "" {
		out.Reason = "empty text"
		return out
	}

	embCtx, cancel := withTimeout(ctx, p.config.EmbedTimeout)
	emb, err := p.backend.Embed(embCtx, text)
	cancel()
	if err != nil {
		p.logger.Warn("embedding unavailable", zap.String("thread", threadID), zap.Error(err))
	} else {
		out.Embedding = emb
	}

	searchCtx, cancel := withTimeout(ctx, p.config.SearchTimeout)
	results, err := p.backend.Search(searchCtx, threadID, text, p.config.TopK, p.config.SimilarityThreshold)
	cancel()
	if err != nil {
		p.logger.Warn("memory search unavailable", zap.String("thread", threadID), zap.Error(err))
		out.Reason = "search failed"
		return out
	}

	out.Matches = p.consistencyCheck(results)
	if len(out.Matches) == 0 {
		// nothing remembered is itself an answer: no similarity
		out.BestMatch = 0
		out.Reason = "no matches"
		return out
	}
	best := out.Matches[0].Score
	for _, m := range out.Matches[1:] {
		if m.Score > best {
			best = m.Score
		}
	}
	out.BestMatch = float64(best)
	out.Reason = fmt.Sprintf("best of %d matches", len(out.Matches))
	return out
}

// consistencyCheck drops empty, overlong, duplicate and out-of-range results.
func (p *Provider) consistencyCheck(results []codec.SearchResult) []Record {
	seen := make(map[string]bool)
	var valid []Record
	for _, r := range results {
		if r.Text == "" {
			continue
		}
		if p.config.MaxEvidenceLen > 0 && len(r.Text) > p.config.MaxEvidenceLen {
			continue
		}
		if seen[r.ID] {
			continue
		}
		if math.IsNaN(float64(r.Score)) || r.Score < -1 || r.Score > 1 {
			continue
		}
		seen[r.ID] = true
		valid = append(valid, Record{ID: r.ID, Text: r.Text, Score: r.Score, MetadataJSON: r.MetadataJSON})
	}
	return valid
}

// #endregion probe

// #region remember
// Remember appends a message to the thread's memory so later messages can
// be compared with it. Overlong text is truncated.
func (p *Provider) Remember(ctx context.Context, threadID, text string, topicSeq int) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if p.config.MaxEvidenceLen > 0 && len(text) > p.config.MaxEvidenceLen {
		text = text[:p.config.MaxEvidenceLen]
	}
	meta, err := json.Marshal(map[string]any{
		"thread_id": threadID,
		"topic_seq": topicSeq,
		"stored_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if _, err := p.backend.StoreEvidence(ctx, threadID, text, string(meta)); err != nil {
		return fmt.Errorf("remember: %w", err)
	}
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// #endregion remember
