// Package batch runs independent log files or mapping sessions concurrently.
// A failure in one file is recorded on its Result and never stops the others.
package batch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Job is one unit of work. Calibration is optional and only read by tasks
// that map points.
type Job struct {
	Path        string
	Calibration string
}

// Name is the job's file name without directories.
func (j Job) Name() string { return filepath.Base(j.Path) }

// Jobs wraps plain paths.
func Jobs(paths ...string) []Job {
	jobs := make([]Job, len(paths))
	for i, p := range paths {
		jobs[i] = Job{Path: p}
	}
	return jobs
}

// Task processes a single job. Warnings are non-fatal findings such as a
// low-confidence calibration.
type Task[T any] func(ctx context.Context, job Job) (T, []string, error)

// Result is the outcome of one job.
type Result[T any] struct {
	ID       uuid.UUID
	Job      Job
	Value    T
	Warnings []string
	Err      error
	Elapsed  time.Duration
}

// OK reports whether the job succeeded.
func (r Result[T]) OK() bool { return r.Err == nil }

// Run executes task for every job with at most workers running at once
// (workers < 1 means one). Results come back in the order of jobs. Once ctx is
// cancelled, jobs that have not started are marked with ctx.Err().
func Run[T any](ctx context.Context, workers int, jobs []Job, task Task[T]) []Result[T] {
	if workers < 1 {
		workers = 1
	}
	results := make([]Result[T], len(jobs))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, job := range jobs {
		i, job := i, job
		results[i] = Result[T]{ID: uuid.New(), Job: job}
		g.Go(func() error {
			res := &results[i]
			if err := ctx.Err(); err != nil {
				res.Err = err
				tracef("%s: skipped, %v", job.Name(), err)
				return nil
			}
			start := time.Now()
			res.Value, res.Warnings, res.Err = runOne(ctx, job, task)
			res.Elapsed = time.Since(start)
			if res.Err != nil {
				opsf("%s: %v", job.Name(), res.Err)
			} else {
				diagf("%s: done in %s (%d warnings)", job.Name(), res.Elapsed, len(res.Warnings))
			}
			return nil // Never propagate errors - each file stands alone
		})
	}
	_ = g.Wait()
	return results
}

// runOne turns a panicking task into an error on its own result.
func runOne[T any](ctx context.Context, job Job, task Task[T]) (v T, warnings []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", job.Name(), r)
		}
	}()
	return task(ctx, job)
}

// Failed counts results with an error.
func Failed[T any](results []Result[T]) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}
