package boundary

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/weights"
)

// #region detector
// Detector applies the current base parameters to one thread's statistics.
// It holds no per-thread state of its own.
type Detector struct {
	params weights.Detector
	now    func() time.Time
}

// NewDetector creates a Detector over the given base parameters.
func NewDetector(params weights.Detector) *Detector {
	return &Detector{params: params, now: time.Now}
}

// Update folds one message into st and decides whether it opens a new topic.
// A nil st is treated as a fresh thread.
func (d *Detector) Update(embedding []float32, similarity float64, st *State) (bool, State, Diagnostics) {
	var next State
	if st != nil {
		next = *st
	}
	next.LastUpdate = d.now().UTC()
	diag := Diagnostics{Similarity: similarity}

	if math.IsNaN(similarity) || math.IsInf(similarity, 0) {
		// nothing to compare against; keep the statistics untouched
		diag.Path = PathInvalid
		return false, next, diag
	}
	similarity = math.Max(-1, math.Min(1, similarity))
	diag.Similarity = similarity

	if next.MessageCount == 0 {
		diag.Path = PathFirst
		d.seed(&next, similarity)
		next.SurpriseMean = similarity
		next.SurpriseVar = 0
		next.MessageCount = 1
		return false, next, diag
	}

	if !ValidEmbedding(embedding) || next.MessageCount < d.params.ColdStartCount {
		diag.Path = PathColdStart
		if !ValidEmbedding(embedding) {
			diag.Path = PathInvalid
		}
		diag.Threshold = d.params.StaticThreshold
		d.observe(&next, similarity)
		boundary := similarity < d.params.StaticThreshold
		if boundary {
			d.reset(&next, similarity)
		}
		next.MessageCount++
		diag.Accumulator = next.Accumulator
		return boundary, next, diag
	}

	diag.Path = PathSteady
	p := d.params
	next.FastEWMA += p.FastAlpha * (similarity - next.FastEWMA)
	next.SlowEWMA += p.SlowAlpha * (similarity - next.SlowEWMA)
	diag.Drift = next.SlowEWMA - next.FastEWMA
	if diag.Drift > p.DriftThreshold {
		diag.DriftFired = true
		diag.Pressure += p.DriftPressure
	}

	std := math.Max(math.Sqrt(next.SurpriseVar), p.StdFloor)
	diag.ZScore = (similarity - next.SurpriseMean) / std
	if diag.ZScore < -p.SurpriseZ {
		diag.SurpriseFired = true
		diag.Pressure += p.SurprisePressure
	}
	d.updateBaseline(&next, similarity)

	next.Accumulator = next.Accumulator*(1-p.Leak) + diag.Pressure
	diag.Accumulator = next.Accumulator
	diag.Threshold = p.AccumulatorBase + math.Sqrt(next.SurpriseVar)
	next.MessageCount++

	boundary := next.Accumulator >= diag.Threshold
	if boundary {
		d.reset(&next, similarity)
	}
	return boundary, next, diag
}

// observe warms the statistics during cold start so the steady-state path
// starts from a real baseline.
func (d *Detector) observe(st *State, similarity float64) {
	st.FastEWMA += d.params.FastAlpha * (similarity - st.FastEWMA)
	st.SlowEWMA += d.params.SlowAlpha * (similarity - st.SlowEWMA)
	d.updateBaseline(st, similarity)
}

// updateBaseline is an exponentially weighted running mean and variance at
// the slow rate.
func (d *Detector) updateBaseline(st *State, similarity float64) {
	a := d.params.SlowAlpha
	diff := similarity - st.SurpriseMean
	incr := a * diff
	st.SurpriseMean += incr
	st.SurpriseVar = (1 - a) * (st.SurpriseVar + diff*incr)
}

func (d *Detector) seed(st *State, similarity float64) {
	st.FastEWMA = similarity
	st.SlowEWMA = similarity
	st.Accumulator = 0
}

func (d *Detector) reset(st *State, similarity float64) {
	d.seed(st, similarity)
	st.TopicSeq++
}

// #endregion detector

// #region embedding
// ValidEmbedding reports a non-empty, finite, non-zero vector.
func ValidEmbedding(e []float32) bool {
	if len(e) == 0 {
		return false
	}
	v := make([]float64, len(e))
	for i, x := range e {
		v[i] = float64(x)
	}
	if floats.HasNaN(v) {
		return false
	}
	n := floats.Norm(v, 2)
	return n > 0 && !math.IsInf(n, 0)
}

// Cosine returns the cosine similarity of two equal-length embeddings, or
// NaN when either is invalid.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || !ValidEmbedding(a) || !ValidEmbedding(b) {
		return math.NaN()
	}
	va := make([]float64, len(a))
	vb := make([]float64, len(b))
	for i := range a {
		va[i] = float64(a[i])
		vb[i] = float64(b[i])
	}
	return floats.Dot(va, vb) / (floats.Norm(va, 2) * floats.Norm(vb, 2))
}

// #endregion embedding
