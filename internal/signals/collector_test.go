package signals

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/mode"
)

// #region mock

type fakeProvider struct {
	snap  ContextSnapshot
	err   error
	calls int
}

func (f *fakeProvider) FetchSignals(_ context.Context, _ string) (ContextSnapshot, error) {
	f.calls++
	return f.snap, f.err
}

func newCollector(t *testing.T, p ContextProvider) *Collector {
	t.Helper()
	c, err := NewCollector(p, DefaultCollectorConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

// #endregion mock

// #region text-features

func TestExtractText(t *testing.T) {
	cfg := DefaultCollectorConfig()
	tests := []struct {
		name  string
		input string
		check func(t *testing.T, f textFeatures)
	}{
		{"empty", "   ", func(t *testing.T, f textFeatures) {
			assert.True(t, f.empty)
			assert.Equal(t, FeedbackAbsent, f.feedback)
		}},
		{"greeting", "Hey there", func(t *testing.T, f textFeatures) {
			assert.True(t, f.greeting)
		}},
		{"ack", "ok thanks!", func(t *testing.T, f textFeatures) {
			assert.True(t, f.ack)
			assert.Equal(t, FeedbackPositive, f.feedback)
		}},
		{"negative", "No, I meant the other file", func(t *testing.T, f textFeatures) {
			assert.Equal(t, FeedbackNegative, f.feedback)
		}},
		{"question", "What is the capital of Japan?", func(t *testing.T, f textFeatures) {
			assert.True(t, f.question)
			assert.True(t, f.interrogative)
			assert.False(t, f.imperative)
		}},
		{"interrogative-no-mark", "how does that work", func(t *testing.T, f textFeatures) {
			assert.False(t, f.question)
			assert.True(t, f.interrogative)
			assert.True(t, f.implicit)
		}},
		{"command", "search for flights to Lisbon", func(t *testing.T, f textFeatures) {
			assert.True(t, f.imperative)
		}},
		{"short-imperative", "run tests", func(t *testing.T, f textFeatures) {
			assert.True(t, f.imperative)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, extractText(tt.input, cfg))
		})
	}
}

func TestInformationDensity(t *testing.T) {
	assert.Zero(t, informationDensity(nil))
	assert.InDelta(t, 1.0, informationDensity(words("quantum entanglement experiments")), 1e-9)
	assert.Less(t, informationDensity(words("is it the one that you")), 0.3)
}

func TestTokens_DropsStopwordsAndDuplicates(t *testing.T) {
	assert.Equal(t, []string{"lisbon", "flights"}, Tokens("Lisbon flights, the lisbon flights"))
}

// #endregion text-features

// #region collect

func TestCollect_UsesProviderAndCaches(t *testing.T) {
	p := &fakeProvider{snap: ContextSnapshot{ContextWarmth: 0.8, WorkingMemoryTurns: 9, GistCount: 3, WorldStatePresent: true}}
	c := newCollector(t, p)

	s := c.Collect(context.Background(), CollectInput{ThreadID: "t1", Text: "hello"})
	assert.InDelta(t, 0.8, s.ContextWarmth, 1e-9)
	assert.Equal(t, 4, s.WorkingMemoryTurns, "working memory turns clamp to 4")
	assert.True(t, s.WorldStatePresent)

	c.cache.Wait()
	c.Collect(context.Background(), CollectInput{ThreadID: "t1", Text: "again"})
	assert.Equal(t, 1, p.calls, "second collect should hit the cache")

	c.Invalidate("t1")
	c.Collect(context.Background(), CollectInput{ThreadID: "t1", Text: "again"})
	assert.Equal(t, 2, p.calls)
}

func TestCollect_ProviderErrorGivesNeutralDefaults(t *testing.T) {
	c := newCollector(t, &fakeProvider{err: errors.New("memory down")})
	s := c.Collect(context.Background(), CollectInput{ThreadID: "t1", Text: "what now?"})
	assert.Zero(t, s.ContextWarmth)
	assert.Zero(t, s.GistCount)
	assert.True(t, s.HasQuestionMark)
}

func TestCollect_NilProvider(t *testing.T) {
	c := newCollector(t, nil)
	s := c.Collect(context.Background(), CollectInput{ThreadID: "t1", Text: ""})
	assert.True(t, s.EmptyInput)
}

func TestCollect_PriorActUselessOnlyAfterAct(t *testing.T) {
	c := newCollector(t, nil)
	s := c.Collect(context.Background(), CollectInput{Text: "x", PreviousMode: mode.Respond, PriorActUseless: true})
	assert.False(t, s.PriorActUseless)
	s = c.Collect(context.Background(), CollectInput{Text: "x", PreviousMode: mode.Act, PriorActUseless: true})
	assert.True(t, s.PriorActUseless)
}

// #endregion collect

// #region features

func TestFeatures_Bounded(t *testing.T) {
	s := RoutingSignals{
		ContextWarmth: 3, PromptTokenCount: 500, GistCount: 50,
		ExplicitFeedback: FeedbackNegative, PreviousMode: mode.Clarify,
	}
	f := s.Features()
	assert.Len(t, f, len(Names))
	assert.Equal(t, 1.0, f[ContextWarmth])
	assert.Equal(t, 1.0, f[PromptTokenCount])
	assert.Equal(t, 1.0, f[GistCount])
	assert.Equal(t, -1.0, f[ExplicitFeedback])
	assert.Equal(t, 1.0, f[PreviousClarify])
}

// #endregion features
