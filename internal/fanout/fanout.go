// Package fanout provides the shared fan-out-and-settle primitive: run every
// task concurrently, wait for all of them, partition the outcomes, and let
// the caller proceed with whatever succeeded.
package fanout

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Task is a named unit of work. The name identifies the failing unit in logs.
type Task[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

// Result is one settled task outcome.
type Result[T any] struct {
	Name  string
	Value T
	Err   error
}

// Gather runs all tasks concurrently and blocks until every one has settled.
// Results are returned in task order, so callers stay deterministic no matter
// which task finishes first. A failed task never cancels its siblings.
func Gather[T any](ctx context.Context, tasks []Task[T]) []Result[T] {
	results := make([]Result[T], len(tasks))

	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task Task[T]) {
			defer wg.Done()
			value, err := task.Run(ctx)
			results[i] = Result[T]{Name: task.Name, Value: value, Err: err}
		}(i, task)
	}
	wg.Wait()

	return results
}

// Partition splits settled results into successes and failures, logging one
// warning per failed unit.
func Partition[T any](results []Result[T], logger zerolog.Logger) (values []T, failed int) {
	for _, res := range results {
		if res.Err != nil {
			failed++
			logger.Warn().Str("unit", res.Name).Err(res.Err).Msg("fan-out unit failed")
			continue
		}
		values = append(values, res.Value)
	}
	return values, failed
}
