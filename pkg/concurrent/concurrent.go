package concurrent

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Concurrent runs the action function for each element in a separate goroutine.
// It waits for all goroutines to finish and returns the first error encountered.
func Concurrent[T any](items []T, action func(T) error) error {
	var group errgroup.Group
	for _, item := range items {
		group.Go(func() error {
			return action(item)
		})
	}
	return group.Wait()
}

// Limited runs action for each element with at most limit goroutines at a time.
// The first error cancels the context handed to the remaining actions.
func Limited[T any](ctx context.Context, items []T, limit int, action func(context.Context, T) error) error {
	group, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		group.SetLimit(limit)
	}
	for _, item := range items {
		group.Go(func() error {
			return action(ctx, item)
		})
	}
	return group.Wait()
}

// Close closes every closer concurrently and returns the first error.
func Close[T interface{ Close() error }](closers ...T) error {
	return Concurrent(closers, func(c T) error { return c.Close() })
}
