package concurrent

import (
	"context"
	"sync"
)

// Result represents the result of a parallel operation
type Result[T any] struct {
	Value T
	Error error
	Index int // Original index in the input slice
}

// ParallelMap executes fn on each item in parallel and returns all
// results in input order. It waits for every call to finish, even if
// some fail.
func ParallelMap[T any, R any](ctx context.Context, items []T, fn func(ctx context.Context, item T) (R, error)) []Result[R] {
	results := make([]Result[R], len(items))
	var wg sync.WaitGroup

	for i, item := range items {
		wg.Add(1)
		go func(index int, it T) {
			defer wg.Done()
			value, err := fn(ctx, it)
			results[index] = Result[R]{
				Value: value,
				Error: err,
				Index: index,
			}
		}(i, item)
	}

	wg.Wait()
	return results
}

// ParallelMapWithLimit is ParallelMap with at most maxConcurrent calls
// running simultaneously.
func ParallelMapWithLimit[T any, R any](ctx context.Context, items []T, fn func(ctx context.Context, item T) (R, error), maxConcurrent int) []Result[R] {
	if maxConcurrent <= 0 {
		return ParallelMap(ctx, items, fn)
	}

	results := make([]Result[R], len(items))
	var wg sync.WaitGroup

	semaphore := make(chan struct{}, maxConcurrent)

	for i, item := range items {
		wg.Add(1)
		go func(index int, it T) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			value, err := fn(ctx, it)
			results[index] = Result[R]{
				Value: value,
				Error: err,
				Index: index,
			}
		}(i, item)
	}

	wg.Wait()
	return results
}
