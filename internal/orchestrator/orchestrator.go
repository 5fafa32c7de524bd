package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tigerroll/tally/internal/cli"
	"github.com/tigerroll/tally/internal/config"
	"github.com/tigerroll/tally/internal/counter"
	"github.com/tigerroll/tally/internal/domain/entity"
	"github.com/tigerroll/tally/internal/domain/model"
	"github.com/tigerroll/tally/internal/fetcher"
	"github.com/tigerroll/tally/internal/metrics"
	"github.com/tigerroll/tally/internal/sink"
	"github.com/tigerroll/tally/internal/support/util/logger"
	"github.com/tigerroll/tally/internal/watermark"
)

// Orchestrator runs one audit cycle and reports it as a process exit code.
type Orchestrator struct {
	opts     *cli.Options
	catalog  *config.Catalog
	dbCfg    *config.DBConfig
	fetcher  fetcher.TaskFetcher
	planner  *fetcher.WindowPlanner
	store    *watermark.Store
	counter  counter.Counter
	sink     sink.Sink
	recorder *metrics.Recorder
	loc      *time.Location
	runID    string
}

// New assembles an orchestrator for one run.
func New(
	opts *cli.Options,
	catalog *config.Catalog,
	dbCfg *config.DBConfig,
	f fetcher.TaskFetcher,
	planner *fetcher.WindowPlanner,
	store *watermark.Store,
	c counter.Counter,
	s sink.Sink,
	recorder *metrics.Recorder,
	loc *time.Location,
) *Orchestrator {
	return &Orchestrator{
		opts:     opts,
		catalog:  catalog,
		dbCfg:    dbCfg,
		fetcher:  f,
		planner:  planner,
		store:    store,
		counter:  c,
		sink:     s,
		recorder: recorder,
		loc:      loc,
		runID:    uuid.NewString(),
	}
}

// RunID identifies this run in logs and pushed metrics.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Run executes one audit cycle. The return value is the process exit code:
// 0 when every job succeeded, 1 on any failure, partial result or
// cancellation, 2 on usage errors surfaced at run time.
func (o *Orchestrator) Run(ctx context.Context) int {
	const op = "Orchestrator.Run"
	started := time.Now()
	mode := o.opts.Mode()
	logger.Infof("%s: run %s starting (mode=%s dry_run=%v)", op, o.runID, mode, o.opts.DryRun)

	if o.opts.MigrateLedger {
		if o.opts.DryRun {
			logger.Infof("%s: dry-run, skipping ledger migration", op)
		} else if err := o.sink.MigrateLedger(ctx); err != nil {
			logger.Errorf("%s: ledger migration failed: %v", op, err)
			return cli.ExitFailure
		}
	}

	if o.opts.ResetWatermark {
		if o.opts.DryRun {
			logger.Warnf("%s: dry-run, watermark reset skipped", op)
		} else if err := o.store.Reset(); err != nil {
			logger.Errorf("%s: watermark reset failed: %v", op, err)
			return cli.ExitFailure
		}
	}

	now := time.Now().In(o.loc)

	if o.opts.WatermarkInitNow {
		if existing := o.store.Load(); existing == nil {
			if o.opts.DryRun {
				logger.Infof("%s: dry-run, would initialize watermark to %s", op, now.Format(model.WindowTimeLayout))
				return cli.ExitSuccess
			}
			if err := o.store.Save(now.Truncate(time.Second)); err != nil {
				logger.Errorf("%s: watermark initialization failed: %v", op, err)
				return cli.ExitFailure
			}
			logger.Infof("%s: watermark initialized, nothing to audit", op)
			return cli.ExitSuccess
		}
		logger.Infof("%s: watermark already present, --watermark-init-now has no effect", op)
	}

	builder := NewJobBuilder(o.catalog, o.opts.Date, now)

	var (
		records      []model.CompletionRecord
		window       model.Window
		usedUpstream bool
	)
	switch mode {
	case cli.ModeExplicit:
		recs, err := builder.SynthesizeTasks(o.opts.Tasks)
		if err != nil {
			logger.Errorf("%s: %v", op, err)
			return cli.ExitUsage
		}
		records = recs
	case cli.ModeSkipFetch:
		records = builder.SynthesizeAll()
	default:
		usedUpstream = true
		window = o.planner.Plan(now)
		recs, err := o.fetcher.FetchCompleted(ctx, window, o.queryDate(now))
		if err != nil {
			logger.Errorf("%s: completion fetch failed, watermark untouched: %v", op, err)
			return cli.ExitFailure
		}
		records = fetcher.Deduplicate(recs)
		o.recorder.RecordFetch(len(records))
	}
	logger.Infof("%s: %d completion record(s) to expand", op, len(records))

	jobs, prefailed := builder.Build(records)

	n, tCap := o.catalog.Defaults.Limits.Clamp(o.catalog.Defaults.Concurrency, maxThreads(jobs))
	capThreads(jobs, tCap)
	logger.Infof("%s: %d job(s) planned, %d pre-failed; running %d worker(s) x up to %d thread(s)",
		op, len(jobs), len(prefailed), n, tCap)

	if o.opts.DryRun {
		o.reportDryRun(window, usedUpstream, jobs, prefailed)
		return cli.ExitSuccess
	}

	sinkCtx := context.WithoutCancel(ctx)
	sinkFailures := 0
	if len(prefailed) > 0 {
		rows := make([]*entity.AuditResult, 0, len(prefailed))
		for _, p := range prefailed {
			rows = append(rows, entity.NewAuditResult(p.Job, p.Report))
			o.recorder.RecordJobEnd(p.Job, p.Report)
		}
		if err := o.sink.AppendMany(sinkCtx, rows); err != nil {
			logger.Errorf("%s: failed to record pre-failed jobs: %v", op, err)
			sinkFailures++
		}
	}

	executor := NewExecutor(o.counter, o.sink, o.recorder, n)
	outcomes := executor.Execute(ctx, jobs)

	var success, partial, failed int
	for _, out := range outcomes {
		switch out.Report.Status {
		case model.StatusSuccess:
			success++
		case model.StatusPartial:
			partial++
		default:
			failed++
		}
		if out.SinkErr != nil {
			sinkFailures++
		}
	}
	cancelled := ctx.Err() != nil
	allSuccess := failed == 0 && partial == 0 && len(prefailed) == 0 &&
		sinkFailures == 0 && !cancelled && len(outcomes) == len(jobs)

	var saveErr error
	if usedUpstream && o.dbCfg.Watermark.Enabled {
		saveErr = o.settleWatermark(window, allSuccess, cancelled)
	}

	elapsed := time.Since(started)
	o.recorder.RecordRun(elapsed)
	logger.Infof("%s: run %s finished in %.1fs: %d success, %d partial, %d failed, %d pre-failed, %d sink error(s), %d/%d dispatched",
		op, o.runID, elapsed.Seconds(), success, partial, failed, len(prefailed), sinkFailures, len(outcomes), len(jobs))
	if err := o.recorder.Push(sinkCtx, o.dbCfg.Metrics.PushgatewayURL, o.runID); err != nil {
		logger.Warnf("%s: metrics push failed: %v", op, err)
	}

	if cancelled {
		logger.Warnf("%s: run cancelled, completed results were persisted", op)
	}
	if allSuccess && saveErr == nil {
		return cli.ExitSuccess
	}
	return cli.ExitFailure
}

// settleWatermark advances the mark to the window end when the run earned
// it. A cancelled run never advances: the window was not fully processed.
// A save failure when an advance was due is returned; the run must exit
// non-zero even with every job green.
func (o *Orchestrator) settleWatermark(window model.Window, allSuccess, cancelled bool) error {
	const op = "Orchestrator.settleWatermark"
	if cancelled {
		logger.Warnf("%s: not advancing watermark: run was cancelled", op)
		return nil
	}
	if !allSuccess && !o.dbCfg.Watermark.AdvanceOnFailure {
		logger.Warnf("%s: not advancing watermark: run had failures and advance_on_failure is off, window will be re-scanned", op)
		return nil
	}
	if !allSuccess {
		logger.Warnf("%s: advancing watermark despite failures (advance_on_failure=true)", op)
	}
	if err := o.store.Save(window.End); err != nil {
		logger.Errorf("%s: watermark save failed, next run re-scans this window: %v", op, err)
		return err
	}
	return nil
}

// queryDate resolves the business date substituted into {data_date} query
// templates: --date, then a pinned catalog default, then yesterday.
func (o *Orchestrator) queryDate(now time.Time) string {
	if o.opts.Date != "" {
		return o.opts.Date
	}
	d := o.catalog.Defaults.DataDate
	if d != "" && d != config.YesterdaySentinel {
		if _, err := time.Parse(model.DateLayout, d); err == nil {
			return d
		}
	}
	return model.Yesterday(now)
}

// reportDryRun prints what the run would do. Nothing is executed, written
// or advanced.
func (o *Orchestrator) reportDryRun(window model.Window, usedUpstream bool, jobs []model.AuditJob, prefailed []Prefailed) {
	const op = "Orchestrator.reportDryRun"
	if usedUpstream {
		logger.Infof("%s: window [%s, %s)", op,
			window.Start.Format(model.WindowTimeLayout), window.End.Format(model.WindowTimeLayout))
	}
	for _, job := range jobs {
		logger.Infof("%s: would count %s format=%s threads=%d period=%s batch=%s",
			op, job.Label(), job.Format, job.JarThreads, job.Period, job.BatchNo)
	}
	for _, p := range prefailed {
		logger.Infof("%s: would record failure for %s: %s", op, p.Job.Label(), firstErrorMessage(p.Report))
	}
	if usedUpstream && o.dbCfg.Watermark.Enabled {
		logger.Infof("%s: would advance watermark to %s on success", op, window.End.Format(model.WindowTimeLayout))
	}
	logger.Infof("%s: %d job(s) planned, %d pre-failed, nothing executed", op, len(jobs), len(prefailed))
}

// maxThreads returns the largest per-job thread count, at least 1.
func maxThreads(jobs []model.AuditJob) int {
	m := 1
	for _, j := range jobs {
		if j.JarThreads > m {
			m = j.JarThreads
		}
	}
	return m
}

// capThreads re-caps per-job threads after the run-level clamp.
func capThreads(jobs []model.AuditJob, limit int) {
	for i := range jobs {
		if jobs[i].JarThreads > limit {
			jobs[i].JarThreads = limit
		}
	}
}
