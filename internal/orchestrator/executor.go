package orchestrator

import (
	"context"
	"sync"

	"github.com/tigerroll/tally/internal/counter"
	"github.com/tigerroll/tally/internal/domain/entity"
	"github.com/tigerroll/tally/internal/domain/model"
	"github.com/tigerroll/tally/internal/metrics"
	"github.com/tigerroll/tally/internal/sink"
	"github.com/tigerroll/tally/internal/support/util/logger"
)

// Outcome is one executed job: its report and whether the ledger write
// stuck.
type Outcome struct {
	Job     model.AuditJob
	Report  model.CountReport
	SinkErr error
}

// Executor fans jobs out to the counter with bounded concurrency and writes
// each row as soon as its job finishes, so a cancelled run still leaves the
// completed portion in the ledger.
type Executor struct {
	counter     counter.Counter
	sink        sink.Sink
	recorder    *metrics.Recorder
	concurrency int
}

// NewExecutor creates an executor running at most concurrency jobs at once.
func NewExecutor(c counter.Counter, s sink.Sink, r *metrics.Recorder, concurrency int) *Executor {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Executor{counter: c, sink: s, recorder: r, concurrency: concurrency}
}

// Execute runs the jobs and returns the outcomes of every job that was
// dispatched. On cancellation feeding stops, in-flight jobs are killed by
// their runner and report as failed, and never-dispatched jobs produce no
// outcome at all.
func (e *Executor) Execute(ctx context.Context, jobs []model.AuditJob) []Outcome {
	if len(jobs) == 0 {
		return nil
	}
	if e.concurrency == 1 || len(jobs) == 1 {
		return e.executeSerial(ctx, jobs)
	}
	return e.executeParallel(ctx, jobs)
}

func (e *Executor) executeSerial(ctx context.Context, jobs []model.AuditJob) []Outcome {
	const op = "Executor.executeSerial"
	outcomes := make([]Outcome, 0, len(jobs))
	for _, job := range jobs {
		if ctx.Err() != nil {
			logger.Warnf("%s: cancelled, %d job(s) not dispatched", op, len(jobs)-len(outcomes))
			break
		}
		outcomes = append(outcomes, e.runOne(ctx, job))
	}
	return outcomes
}

func (e *Executor) executeParallel(ctx context.Context, jobs []model.AuditJob) []Outcome {
	const op = "Executor.executeParallel"
	workers := e.concurrency
	if workers > len(jobs) {
		workers = len(jobs)
	}
	jobsCh := make(chan model.AuditJob)
	resultsCh := make(chan Outcome, len(jobs))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobsCh {
				if ctx.Err() != nil {
					// Drain the queue without starting more subprocesses.
					continue
				}
				resultsCh <- e.runOne(ctx, job)
			}
		}()
	}

	dispatched := 0
feed:
	for _, job := range jobs {
		select {
		case jobsCh <- job:
			dispatched++
		case <-ctx.Done():
			break feed
		}
	}
	close(jobsCh)
	wg.Wait()
	close(resultsCh)

	if dispatched < len(jobs) {
		logger.Warnf("%s: cancelled, %d of %d job(s) not dispatched", op, len(jobs)-dispatched, len(jobs))
	}
	outcomes := make([]Outcome, 0, len(jobs))
	for o := range resultsCh {
		outcomes = append(outcomes, o)
	}
	return outcomes
}

// runOne counts one job and persists the row. The ledger write uses a
// cancellation-free context: a row for work that already happened must not
// be lost to the signal that stopped the run.
func (e *Executor) runOne(ctx context.Context, job model.AuditJob) Outcome {
	const op = "Executor.runOne"
	logger.Infof("%s: counting %s (threads=%d)", op, job.Label(), job.JarThreads)
	report := e.counter.Count(ctx, job)

	row := entity.NewAuditResult(job, report)
	sinkErr := e.sink.Append(context.WithoutCancel(ctx), row)
	if sinkErr != nil {
		logger.Errorf("%s: ledger write failed for %s: %v", op, job.Label(), sinkErr)
	}
	e.recorder.RecordJobEnd(job, report)

	switch report.Status {
	case model.StatusSuccess:
		logger.Infof("%s: %s succeeded: rows=%d files=%d bytes=%d in %dms",
			op, job.Label(), report.RowCount, report.FileCount, report.TotalSizeBytes, report.DurationMs)
	case model.StatusPartial:
		logger.Warnf("%s: %s partial: rows=%d files=%d/%d errors=%d",
			op, job.Label(), report.RowCount, report.SuccessFileCount, report.FileCount, len(report.Errors))
	default:
		logger.Warnf("%s: %s failed: %s", op, job.Label(), firstErrorMessage(report))
	}
	return Outcome{Job: job, Report: report, SinkErr: sinkErr}
}

// firstErrorMessage pulls a printable reason out of a failed report.
func firstErrorMessage(report model.CountReport) string {
	if len(report.Errors) == 0 {
		return "no error detail"
	}
	return report.Errors[0].Message
}
