package cache

import (
	"context"
)

// Do runs fn at most once per key among concurrent callers. Callers that
// arrive while fn is running wait for its result; shared reports whether
// this caller joined another caller's run. A waiter whose ctx ends stops
// waiting; fn keeps running for the others.
func (s *Store) Do(ctx context.Context, key string, fn func(ctx context.Context) (*Entry, error)) (e *Entry, shared bool, err error) {
	ch := s.flight.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		return res.Val.(*Entry), res.Shared, nil
	}
}
