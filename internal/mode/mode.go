package mode

import (
	"fmt"
	"sort"
	"strings"
)

// #region mode
// Mode is one of the five mutually exclusive engagement classes.
type Mode string

const (
	Respond     Mode = "RESPOND"
	Clarify     Mode = "CLARIFY"
	Act         Mode = "ACT"
	Acknowledge Mode = "ACKNOWLEDGE"
	Ignore      Mode = "IGNORE"

	// None marks "no previous mode" on the first exchange of a thread.
	None Mode = ""
)

// All lists the modes in tie priority order: when two scores are exactly
// equal the earlier mode wins. RESPOND is the lowest-risk terminal mode.
var All = []Mode{Respond, Clarify, Act, Acknowledge, Ignore}

// Parse accepts a mode name in any case.
func Parse(s string) (Mode, error) {
	m := Mode(strings.ToUpper(strings.TrimSpace(s)))
	if m.Valid() {
		return m, nil
	}
	return None, fmt.Errorf("unknown mode %q", s)
}

// Valid reports whether m is one of the five modes.
func (m Mode) Valid() bool {
	return priority(m) >= 0
}

// Terminal reports whether m ends a routing decision with a user-facing response.
func (m Mode) Terminal() bool {
	return m.Valid() && m != Act
}

func priority(m Mode) int {
	for i, a := range All {
		if a == m {
			return i
		}
	}
	return -1
}

// #endregion mode

// #region scores
// Scores maps every candidate mode to its score for one decision.
type Scores map[Mode]float64

// Ranked returns candidate modes by descending score, ties broken by All order.
func (s Scores) Ranked() []Mode {
	out := make([]Mode, 0, len(s))
	for m := range s {
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if s[out[i]] != s[out[j]] {
			return s[out[i]] > s[out[j]]
		}
		return priority(out[i]) < priority(out[j])
	})
	return out
}

// Top returns the two best modes and their scores. second is None when only
// one candidate exists.
func (s Scores) Top() (first Mode, firstScore float64, second Mode, secondScore float64) {
	ranked := s.Ranked()
	if len(ranked) == 0 {
		return None, 0, None, 0
	}
	first, firstScore = ranked[0], s[ranked[0]]
	if len(ranked) > 1 {
		second, secondScore = ranked[1], s[ranked[1]]
	}
	return first, firstScore, second, secondScore
}

// Clone returns an independent copy.
func (s Scores) Clone() Scores {
	out := make(Scores, len(s))
	for m, v := range s {
		out[m] = v
	}
	return out
}

// #endregion scores

// #region set
// Set is a small set of modes, used for exclusions.
type Set map[Mode]bool

// NewSet builds a set from the given modes.
func NewSet(modes ...Mode) Set {
	s := make(Set, len(modes))
	for _, m := range modes {
		s[m] = true
	}
	return s
}

// Has reports membership; a nil set contains nothing.
func (s Set) Has(m Mode) bool {
	return s != nil && s[m]
}

// Slice returns members in All order.
func (s Set) Slice() []Mode {
	var out []Mode
	for _, m := range All {
		if s[m] {
			out = append(out, m)
		}
	}
	return out
}

// #endregion set
