package boundary

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/weights"
)

var (
	// decisionsTotal counts detector decisions.
	// Labels: path (first_message, cold_start, invalid_input, steady), boundary (true, false)
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cogctl",
		Subsystem: "boundary",
		Name:      "decisions_total",
		Help:      "Topic boundary decisions by detector path",
	}, []string{"path", "boundary"})

	// stateErrors counts failed state loads and saves.
	stateErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cogctl",
		Subsystem: "boundary",
		Name:      "state_errors_total",
		Help:      "Boundary state persistence failures",
	}, []string{"op"})
)

// #region tracker
// Tracker runs the load, update, save cycle for one thread's message.
type Tracker struct {
	store  *Store
	logger *zap.Logger
}

// NewTracker creates a Tracker. store may be nil, in which case every
// message takes the cold-start path.
func NewTracker(store *Store, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, logger: logger.Named("boundary")}
}

// Observe decides whether the message opens a new topic in threadID.
// Persistence failures degrade to the cold-start path and are logged.
func (t *Tracker) Observe(params weights.Detector, threadID string, embedding []float32, similarity float64) (bool, State, Diagnostics) {
	// unavailable state takes the static threshold; a new thread seeds
	prior := &State{ThreadID: threadID, MessageCount: 1}
	if t.store != nil && threadID != "" {
		st, err := t.store.Load(threadID)
		switch {
		case err == nil:
			prior = &st
		case errors.Is(err, ErrExpired):
			// an idle thread resumes on the next topic id
			prior = &State{ThreadID: threadID, TopicSeq: st.TopicSeq + 1}
		case errors.Is(err, ErrNotFound):
			prior = nil
		default:
			stateErrors.WithLabelValues("load").Inc()
			t.logger.Warn("boundary state unavailable, using cold start",
				zap.String("thread", threadID), zap.Error(err))
		}
	}

	isBoundary, next, diag := NewDetector(params).Update(embedding, similarity, prior)
	next.ThreadID = threadID
	decisionsTotal.WithLabelValues(string(diag.Path), boolLabel(isBoundary)).Inc()

	if t.store != nil && threadID != "" {
		if err := t.store.Save(next); err != nil {
			stateErrors.WithLabelValues("save").Inc()
			t.logger.Warn("boundary state not saved", zap.String("thread", threadID), zap.Error(err))
		}
	}
	return isBoundary, next, diag
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// #endregion tracker
