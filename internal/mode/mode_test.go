package mode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRanked_OrdersByScoreThenPriority(t *testing.T) {
	s := Scores{Ignore: 0.1, Clarify: 0.5, Respond: 0.5, Act: 0.7}
	assert.Equal(t, []Mode{Act, Respond, Clarify, Ignore}, s.Ranked())
}

func TestTop_SingleCandidate(t *testing.T) {
	first, fs, second, ss := Scores{Respond: 0.4}.Top()
	assert.Equal(t, Respond, first)
	assert.InDelta(t, 0.4, fs, 1e-9)
	assert.Equal(t, None, second)
	assert.Zero(t, ss)
}

func TestParse(t *testing.T) {
	m, err := Parse(" clarify ")
	require.NoError(t, err)
	assert.Equal(t, Clarify, m)

	_, err = Parse("shout")
	assert.Error(t, err)
}

func TestTerminal(t *testing.T) {
	assert.False(t, Act.Terminal())
	assert.True(t, Respond.Terminal())
	assert.False(t, None.Terminal())
}

func TestSet(t *testing.T) {
	var empty Set
	assert.False(t, empty.Has(Act))
	s := NewSet(Ignore, Act)
	assert.True(t, s.Has(Act))
	assert.Equal(t, []Mode{Act, Ignore}, s.Slice())
}
