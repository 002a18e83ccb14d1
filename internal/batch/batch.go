// Package batch applies one list of steps to many images in parallel.
package batch

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ironsheep/image-magick-mcp/internal/magick"
)

// Job is one source image and where its result is written.
type Job struct {
	Source      string `json:"source" validate:"required"`
	Destination string `json:"destination" validate:"required"`
	Quality     int    `json:"quality,omitempty" validate:"gte=0,lte=100"`
}

// Result reports the outcome of one Job. Err is nil on success, in which case
// Metadata describes the image that was saved. Metadata stays zero when the
// saved format cannot be probed.
type Result struct {
	Job      Job
	Metadata magick.Metadata
	Err      error
}

// Opener opens sessions; *magick.Engine satisfies it.
type Opener interface {
	Open(ctx context.Context, path string) (*magick.Session, error)
}

// Run opens a session per job, applies steps, saves to the destination and
// closes the session. At most workers jobs run at once. A failing job does
// not stop the others; results are returned in job order.
func Run(ctx context.Context, opener Opener, jobs []Job, steps []magick.Step, workers int) []Result {
	if workers < 1 {
		workers = 1
	}
	results := make([]Result, len(jobs))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, job := range jobs {
		g.Go(func() error {
			results[i] = runOne(ctx, opener, job, steps)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func runOne(ctx context.Context, opener Opener, job Job, steps []magick.Step) Result {
	res := Result{Job: job}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	s, err := opener.Open(ctx, job.Source)
	if err != nil {
		res.Err = err
		return res
	}
	defer s.Close()

	if err := s.Apply(ctx, steps...); err != nil {
		res.Err = err
		return res
	}
	if err := s.Save(ctx, job.Destination, job.Quality); err != nil {
		res.Err = err
		return res
	}
	// The tool writes formats Go cannot decode; the save still succeeded.
	if meta, err := magick.Probe(job.Destination); err == nil {
		res.Metadata = meta
	}
	return res
}

// Err joins the failures in results, naming each failed source. It returns
// nil when every job succeeded.
func Err(results []Result) error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Job.Source, r.Err))
		}
	}
	return errors.Join(errs...)
}
