// Package runner drives the per-file strip pipeline over a list of targets,
// sequentially or in parallel.
package runner

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/coral-mesh/attrstrip/internal/strip"
)

// Processor runs the pipeline for one file and keeps the run totals.
// *strip.Stripper implements it.
type Processor interface {
	ProcessFile(path string) (*strip.FileResult, error)
	Totals() strip.Counts
}

// Options selects the scheduling mode.
type Options struct {
	// Parallel processes files concurrently.
	Parallel bool
	// Jobs bounds the number of concurrent files when Parallel is set.
	// Zero means unbounded.
	Jobs int
}

// Report summarizes a run.
type Report struct {
	// Files holds the results of the files that completed, in input order.
	Files    []*strip.FileResult `json:"files"`
	Totals   strip.Counts        `json:"totals"`
	Skipped  int                 `json:"skipped"`
	Duration time.Duration       `json:"duration_ns"`
}

// Removed returns the number of attributes removed across all files.
func (r *Report) Removed() int { return r.Totals.Total() }

// Runner owns the file list of a run.
type Runner struct {
	proc   Processor
	logger zerolog.Logger
	opts   Options
}

// New creates a runner.
func New(proc Processor, logger zerolog.Logger, opts Options) *Runner {
	return &Runner{proc: proc, logger: logger, opts: opts}
}

// Run processes files and returns the report together with the first error.
// Sequentially, an error stops the files after it. In parallel, pipelines
// already running finish and files not yet started are skipped. The report
// is returned even when err is non-nil.
func (r *Runner) Run(files []string) (*Report, error) {
	start := time.Now()
	results := make([]*strip.FileResult, len(files))
	started := make([]bool, len(files))

	var err error
	if r.opts.Parallel {
		err = r.runParallel(files, results, started)
	} else {
		err = r.runSequential(files, results, started)
	}

	report := &Report{
		Totals:   r.proc.Totals(),
		Duration: time.Since(start),
	}
	for i, res := range results {
		if res != nil {
			report.Files = append(report.Files, res)
		}
		if !started[i] {
			report.Skipped++
		}
	}
	return report, err
}

func (r *Runner) runSequential(files []string, results []*strip.FileResult, started []bool) error {
	for i, path := range files {
		started[i] = true
		res, err := r.proc.ProcessFile(path)
		if err != nil {
			r.logger.Error().Err(err).Str("file", path).Msg("Failed to process file")
			return err
		}
		results[i] = res
	}
	return nil
}

func (r *Runner) runParallel(files []string, results []*strip.FileResult, started []bool) error {
	var g errgroup.Group
	if r.opts.Jobs > 0 {
		g.SetLimit(r.opts.Jobs)
	}

	var failed atomic.Bool
	for i, path := range files {
		if failed.Load() {
			break
		}
		g.Go(func() error {
			// Queued behind a file that has since failed.
			if failed.Load() {
				return nil
			}
			started[i] = true
			res, err := r.proc.ProcessFile(path)
			if err != nil {
				failed.Store(true)
				r.logger.Error().Err(err).Str("file", path).Msg("Failed to process file")
				return err
			}
			results[i] = res
			return nil
		})
	}
	return g.Wait()
}
