package views

import "context"

type Result struct {
	Views       int64 `json:"views"`
	Incremented bool  `json:"incremented"`
	Degraded    bool  `json:"degraded,omitempty"`
}

type Service struct {
	cache   DedupCache
	counter CounterStore
}

func NewService(cache DedupCache, counter CounterStore) *Service {
	return &Service{cache: cache, counter: counter}
}

// RecordView counts at most one view per (content, viewer) pair per dedup
// window. An unreachable cache never blocks the viewer: the counter increments
// anyway and the result is flagged degraded so operators can tell inflated
// windows from trustworthy ones. Over-counting is the chosen failure mode;
// under-counting or erroring is not.
func (s *Service) RecordView(ctx context.Context, contentID, viewerID string) (Result, error) {
	inserted, err := s.cache.Acquire(ctx, contentID, viewerID)
	if err != nil {
		views, countErr := s.counter.Increment(ctx, contentID)
		if countErr != nil {
			return Result{}, countErr
		}
		return Result{Views: views, Incremented: true, Degraded: true}, nil
	}

	if !inserted {
		views, err := s.counter.Get(ctx, contentID)
		if err != nil {
			return Result{}, err
		}
		return Result{Views: views, Incremented: false}, nil
	}

	views, err := s.counter.Increment(ctx, contentID)
	if err != nil {
		return Result{}, err
	}

	return Result{Views: views, Incremented: true}, nil
}
