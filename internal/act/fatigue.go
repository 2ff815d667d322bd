package act

// #region fatigue
// actionCost is the fatigue of one action in iteration n: base·(1 + growth·n).
// Unknown actions still cost, since attempting them is work.
func (l *Loop) actionCost(a Action, n int) float64 {
	base := l.config.UnknownActionCost
	if s, err := l.registry.Lookup(a.Type); err == nil {
		base = s.BaseCost
	}
	return base * (1 + l.config.GrowthRate*float64(n))
}

// projectedCost is the fatigue iteration n would spend running all actions.
func (l *Loop) projectedCost(actions []Action, n int) float64 {
	total := 0.0
	for _, a := range actions {
		total += l.actionCost(a, n)
	}
	return total
}

// #endregion fatigue

// #region repetition
// repetition counts consecutive identical actions across iterations.
type repetition struct {
	limit int
	last  string
	run   int
}

// feed returns the tracker after the batch and whether the batch would
// reach the limit. The receiver is not modified.
func (r repetition) feed(actions []Action) (repetition, bool) {
	for _, a := range actions {
		sig := a.Signature()
		if sig == r.last {
			r.run++
		} else {
			r.last = sig
			r.run = 1
		}
		if r.limit > 0 && r.run >= r.limit {
			return r, true
		}
	}
	return r, false
}

// #endregion repetition
