package fanout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestGatherPreservesTaskOrder(t *testing.T) {
	tasks := []Task[string]{
		{Name: "slow", Run: func(ctx context.Context) (string, error) {
			time.Sleep(30 * time.Millisecond)
			return "slow", nil
		}},
		{Name: "fast", Run: func(ctx context.Context) (string, error) {
			return "fast", nil
		}},
	}

	results := Gather(context.Background(), tasks)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Value != "slow" || results[1].Value != "fast" {
		t.Fatalf("results out of task order: %q, %q", results[0].Value, results[1].Value)
	}
}

func TestGatherFailureDoesNotCancelSiblings(t *testing.T) {
	boom := errors.New("boom")
	tasks := []Task[int]{
		{Name: "fails", Run: func(ctx context.Context) (int, error) {
			return 0, boom
		}},
		{Name: "succeeds", Run: func(ctx context.Context) (int, error) {
			return 42, nil
		}},
	}

	results := Gather(context.Background(), tasks)
	if results[0].Err == nil {
		t.Fatal("expected first task to fail")
	}
	if results[1].Err != nil || results[1].Value != 42 {
		t.Fatalf("sibling must still settle successfully, got %v / %d", results[1].Err, results[1].Value)
	}
}

func TestPartitionCountsFailures(t *testing.T) {
	results := []Result[int]{
		{Name: "a", Value: 1},
		{Name: "b", Err: errors.New("bad")},
		{Name: "c", Value: 3},
	}

	values, failed := Partition(results, zerolog.Nop())
	if failed != 1 {
		t.Fatalf("expected 1 failure, got %d", failed)
	}
	if len(values) != 2 || values[0] != 1 || values[1] != 3 {
		t.Fatalf("unexpected values: %v", values)
	}
}
