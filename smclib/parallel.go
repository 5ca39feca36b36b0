package smclib

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// parallelFor calls f(i) for i = 0..n-1 on at most GOMAXPROCS goroutines.
// The first error cancels the remaining iterations and is returned after
// all started iterations have finished.
func parallelFor(ctx context.Context, n int, f func(i int) error) error {

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return f(i)
		})
	}

	return g.Wait()
}

// parallelMap returns f(0), ..., f(n-1), computed with parallelFor.  Each
// iteration writes only its own slot.
func parallelMap[T any](ctx context.Context, n int, f func(i int) (T, error)) ([]T, error) {

	out := make([]T, n)
	err := parallelFor(ctx, n, func(i int) error {
		v, err := f(i)
		if err != nil {
			return err
		}
		out[i] = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}
