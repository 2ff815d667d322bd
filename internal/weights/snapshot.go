package weights

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// #region snapshotter
// Snapshotter hands each request an immutable copy of the active weights,
// re-reading the store at most once per TTL no matter how many requests
// arrive concurrently.
type Snapshotter struct {
	store  *Store
	ttl    time.Duration
	logger *zap.Logger
	group  singleflight.Group

	mu       sync.RWMutex
	cached   *Record
	loadedAt time.Time
	now      func() time.Time
}

// NewSnapshotter creates a Snapshotter over store.
func NewSnapshotter(store *Store, ttl time.Duration, logger *zap.Logger) *Snapshotter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Snapshotter{store: store, ttl: ttl, logger: logger.Named("weights"), now: time.Now}
}

// Current returns the active record. A failed reload keeps serving the last
// good record; with nothing cached the defaults are served unversioned.
func (s *Snapshotter) Current(ctx context.Context) Record {
	s.mu.RLock()
	cached, loadedAt := s.cached, s.loadedAt
	s.mu.RUnlock()
	if cached != nil && s.now().Sub(loadedAt) < s.ttl {
		return copyRecord(*cached)
	}

	ch := s.group.DoChan("active", func() (interface{}, error) {
		rec, err := s.store.GetCurrent()
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cached = &rec
		s.loadedAt = s.now()
		s.mu.Unlock()
		return rec, nil
	})

	select {
	case res := <-ch:
		if res.Err == nil {
			return copyRecord(res.Val.(Record))
		}
		s.logger.Warn("weights reload failed", zap.Error(res.Err))
	case <-ctx.Done():
		s.logger.Warn("weights reload abandoned", zap.Error(ctx.Err()))
	}
	if cached != nil {
		return copyRecord(*cached)
	}
	return Record{Weights: Default()}
}

// Invalidate forces the next Current to reload.
func (s *Snapshotter) Invalidate() {
	s.mu.Lock()
	s.loadedAt = time.Time{}
	s.mu.Unlock()
}

func copyRecord(r Record) Record {
	r.Weights = r.Weights.Clone()
	return r
}
// #endregion snapshotter
