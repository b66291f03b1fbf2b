package runner_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/signalnine/ccobench/internal/runner"
)

func TestPool(t *testing.T) {
	var count atomic.Int32
	jobs := make([]runner.Job, 10)
	for i := range jobs {
		jobs[i] = runner.Job{Name: fmt.Sprintf("p%d", i), Run: func(context.Context) error {
			count.Add(1)
			return nil
		}}
	}
	errs := runner.RunPool(context.Background(), 3, jobs)
	if len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
	if count.Load() != 10 {
		t.Errorf("expected 10 jobs, got %d", count.Load())
	}
}

func TestPoolWithErrors(t *testing.T) {
	ok := func(context.Context) error { return nil }
	jobs := []runner.Job{
		{Name: "a", Run: ok},
		{Name: "b", Run: func(context.Context) error { return fmt.Errorf("fail") }},
		{Name: "c", Run: ok},
	}
	errs := runner.RunPool(context.Background(), 2, jobs)
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %d", len(errs))
	}
	if !strings.HasPrefix(errs[0].Error(), "b: ") {
		t.Errorf("error not labeled with job name: %v", errs[0])
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	jobs := make([]runner.Job, 8)
	for i := range jobs {
		jobs[i] = runner.Job{Name: fmt.Sprint(i), Run: func(context.Context) error {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			active.Add(-1)
			return nil
		}}
	}
	runner.RunPool(context.Background(), 2, jobs)
	if peak.Load() > 2 {
		t.Errorf("peak concurrency %d exceeds 2 workers", peak.Load())
	}
}

func TestPoolCancelledSkipsPendingJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Int32
	jobs := []runner.Job{
		{Name: "first", Run: func(context.Context) error {
			ran.Add(1)
			cancel()
			return nil
		}},
		{Name: "second", Run: func(context.Context) error { ran.Add(1); return nil }},
		{Name: "third", Run: func(context.Context) error { ran.Add(1); return nil }},
	}
	errs := runner.RunPool(ctx, 1, jobs)
	if ran.Load() != 1 {
		t.Errorf("expected only the first job to run, got %d", ran.Load())
	}
	if len(errs) != 2 {
		t.Fatalf("expected 2 cancellation errors, got %v", errs)
	}
	for _, err := range errs {
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	}
}
