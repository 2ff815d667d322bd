package router

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// #region hysteresis
// topicHistory is the recent confidence trail of one topic.
type topicHistory struct {
	confidences []float64
	widening    float64
}

// Hysteresis widens the tie-break margin for a topic after a run of
// low-confidence decisions, until a decision clears the floor again. It is
// process-local request state, never a weight mutation.
type Hysteresis struct {
	mu     sync.Mutex
	topics *lru.Cache[string, *topicHistory]
	window int
	max    float64
}

// NewHysteresis tracks up to size topics, forgetting the least recently used.
func NewHysteresis(size, window int, maxWidening float64) (*Hysteresis, error) {
	if window <= 0 {
		window = 3
	}
	cache, err := lru.New[string, *topicHistory](size)
	if err != nil {
		return nil, err
	}
	return &Hysteresis{topics: cache, window: window, max: maxWidening}, nil
}

// Widening returns the extra margin currently applied to topic.
func (h *Hysteresis) Widening(topic string) float64 {
	if topic == "" {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if th, ok := h.topics.Peek(topic); ok {
		return th.widening
	}
	return 0
}

// Record appends a decision's confidence and returns the widening that will
// apply to the topic's next decision.
func (h *Hysteresis) Record(topic string, confidence, floor, increment float64) float64 {
	if topic == "" {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	th, ok := h.topics.Get(topic)
	if !ok {
		th = &topicHistory{}
		h.topics.Add(topic, th)
	}
	if confidence >= floor {
		th.confidences = th.confidences[:0]
		th.widening = 0
		return 0
	}

	th.confidences = append(th.confidences, confidence)
	if len(th.confidences) > h.window {
		th.confidences = th.confidences[len(th.confidences)-h.window:]
	}
	if len(th.confidences) == h.window {
		th.widening += increment
		if h.max > 0 && th.widening > h.max {
			th.widening = h.max
		}
	}
	return th.widening
}

// #endregion hysteresis
