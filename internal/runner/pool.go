// Package runner runs independent project benchmarks with bounded
// concurrency.
package runner

import (
	"context"
	"fmt"
	"sync"
)

// Job is one unit of work. Name labels its error.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// RunPool executes jobs with at most maxWorkers concurrently and returns
// every error. Jobs not yet started when ctx is cancelled are not run; each
// of them contributes ctx's error.
func RunPool(ctx context.Context, maxWorkers int, jobs []Job) []error {
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	record := func(name string, err error) {
		mu.Lock()
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
		mu.Unlock()
	}
	sem := make(chan struct{}, maxWorkers)

	for _, job := range jobs {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			record(job.Name, ctx.Err())
			continue
		}
		if err := ctx.Err(); err != nil {
			<-sem
			record(job.Name, err)
			continue
		}
		wg.Add(1)
		go func(j Job) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := j.Run(ctx); err != nil {
				record(j.Name, err)
			}
		}(job)
	}
	wg.Wait()
	return errs
}
