package pipeline

import (
	"context"

	apperrors "go-spot-counter/internal/errors"

	"gocv.io/x/gocv"
)

// Job is one independent run in a batch
type Job struct {
	ID     string
	Raw    gocv.Mat
	ROI    *Rectangle
	Params Parameters
}

// BatchResult pairs a job with its outcome. Result may be non-nil together
// with Err when a late stage failed.
type BatchResult struct {
	ID     string
	Result *Result
	Err    error
}

// Batch runs jobs on the pool and returns results in job order. Jobs that
// have not started when ctx is done report a timeout error. The pool is
// started if needed and left open.
func (p *Pipeline) Batch(ctx context.Context, pool *WorkerPool, jobs []Job) []BatchResult {
	results := make([]BatchResult, len(jobs))
	pool.Start()

	done := make(chan struct{}, len(jobs))
	submitted := 0
	for i := range jobs {
		i := i
		results[i].ID = jobs[i].ID
		ok := pool.SubmitContext(ctx, func() {
			defer func() { done <- struct{}{} }()
			if err := ctx.Err(); err != nil {
				results[i].Err = apperrors.NewTimeoutError("batch cancelled before job started", err)
				return
			}
			results[i].Result, results[i].Err = p.Run(jobs[i].Raw, jobs[i].ROI, jobs[i].Params)
		})
		if !ok {
			if err := ctx.Err(); err != nil {
				results[i].Err = apperrors.NewTimeoutError("batch cancelled before job started", err)
			} else {
				results[i].Err = apperrors.NewInternalError("worker pool is closed", nil)
			}
			continue
		}
		submitted++
	}

	for ; submitted > 0; submitted-- {
		<-done
	}
	return results
}
