// Package orchestrator drives one audit run end to end: plan the window,
// fetch or synthesize completions, expand them into jobs, fan the jobs out
// to the counter, persist the rows and advance the watermark.
package orchestrator

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/tigerroll/tally/internal/config"
	"github.com/tigerroll/tally/internal/domain/model"
	"github.com/tigerroll/tally/internal/support/util/logger"
)

const moduleName = "orchestrator"

// hiveDefaultDelimiter is the field separator Hive writes when a textfile
// table does not declare one (^A).
const hiveDefaultDelimiter = "\x01"

var placeholderRe = regexp.MustCompile(`\$\{[^}]+\}`)

// Prefailed is a job that failed during expansion, before any subprocess
// ran. Its report is written to the ledger like any other outcome.
type Prefailed struct {
	Job    model.AuditJob
	Report model.CountReport
}

// JobBuilder expands completion records into audit jobs using the catalog.
type JobBuilder struct {
	index    map[string]model.ScheduleEntry
	order    []string
	defaults config.Defaults
	cliDate  string
	now      time.Time
}

// NewJobBuilder creates a builder for one run. cliDate is the --date value
// or empty; now anchors all default period derivation.
func NewJobBuilder(catalog *config.Catalog, cliDate string, now time.Time) *JobBuilder {
	order := make([]string, 0, len(catalog.Schedules))
	for _, s := range catalog.Schedules {
		order = append(order, s.TaskName)
	}
	return &JobBuilder{
		index:    catalog.ScheduleIndex(),
		order:    order,
		defaults: catalog.Defaults,
		cliDate:  cliDate,
		now:      now,
	}
}

// Build expands records into runnable jobs. Records without a catalog entry
// and records whose period type disagrees with the catalog are skipped with
// a warning; tables whose partition template cannot be fully resolved yield
// a pre-failed outcome instead of a job so the gap is visible in the ledger.
func (b *JobBuilder) Build(records []model.CompletionRecord) ([]model.AuditJob, []Prefailed) {
	const op = "JobBuilder.Build"
	var jobs []model.AuditJob
	var prefailed []Prefailed
	for _, rec := range records {
		entry, ok := b.index[rec.TaskName]
		if !ok {
			logger.Warnf("%s: no catalog entry for task '%s' (batch '%s'), skipping", op, rec.TaskName, rec.BatchNo)
			continue
		}
		if entry.PeriodType != rec.PeriodType {
			logger.Warnf("%s: task '%s' completed as %s but catalog says %s, skipping batch '%s'",
				op, rec.TaskName, rec.PeriodType, entry.PeriodType, rec.BatchNo)
			continue
		}
		period := b.resolvePeriod(rec)
		vals := period.Placeholders()
		for _, table := range entry.Tables {
			resolved, missing := resolveTemplate(table.PartitionTemplate, vals)
			job := model.AuditJob{
				TaskName:    entry.TaskName,
				InterfaceID: entry.InterfaceID,
				PlatformID:  entry.PlatformID,
				PartnerID:   entry.PartnerID,
				TableName:   table.Name,
				HDFSPath:    joinHDFS(table.HDFSBasePath, resolved),
				Format:      table.Format,
				Delimiter:   effectiveDelimiter(table),
				Period:      period,
				BatchNo:     rec.BatchNo,
				JarThreads:  b.threadsFor(table),
			}
			if len(missing) > 0 {
				msg := "unresolved placeholder: " + strings.Join(missing, ", ")
				logger.Warnf("%s: %s: %s", op, job.Label(), msg)
				prefailed = append(prefailed, Prefailed{
					Job:    job,
					Report: model.NewFailedReport(job.HDFSPath, msg),
				})
				continue
			}
			jobs = append(jobs, job)
		}
	}
	return jobs, prefailed
}

// SynthesizeAll fabricates one completion per catalog entry, in catalog
// order, for runs that bypass the upstream fetch.
func (b *JobBuilder) SynthesizeAll() []model.CompletionRecord {
	records := make([]model.CompletionRecord, 0, len(b.order))
	for _, name := range b.order {
		records = append(records, b.synthesizeFor(b.index[name]))
	}
	return records
}

// SynthesizeTasks fabricates completions for the named catalog entries.
// Unknown names are a usage error.
func (b *JobBuilder) SynthesizeTasks(names []string) ([]model.CompletionRecord, error) {
	var unknown []string
	records := make([]model.CompletionRecord, 0, len(names))
	for _, name := range names {
		entry, ok := b.index[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		records = append(records, b.synthesizeFor(entry))
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("tasks not in catalog: %s", strings.Join(unknown, ", "))
	}
	return records, nil
}

// synthesizeFor builds the record an upstream would have produced for the
// entry's default period: batch_no encodes the resolved period and the
// completion instant is now.
func (b *JobBuilder) synthesizeFor(entry model.ScheduleEntry) model.CompletionRecord {
	rec := model.CompletionRecord{
		TaskName:   entry.TaskName,
		PeriodType: entry.PeriodType,
		CompleteDt: b.now,
	}
	rec.BatchNo = synthBatchNo(b.resolvePeriod(rec))
	return rec
}

// resolvePeriod derives the period instance for one record. Hourly periods
// always come from the completion instant; daily and monthly ones follow
// the precedence --date, then the batch number, then the catalog default,
// then yesterday / the previous month.
func (b *JobBuilder) resolvePeriod(rec model.CompletionRecord) model.Period {
	switch rec.PeriodType {
	case model.PeriodHourly:
		return model.NewHourlyPeriod(
			rec.CompleteDt.Format(model.DateLayout),
			rec.CompleteDt.Format(model.HourLayout),
		)
	case model.PeriodMonthly:
		return model.NewMonthlyPeriod(b.resolveMonth(rec.BatchNo))
	default:
		return model.NewDailyPeriod(b.resolveDailyDate(rec.BatchNo))
	}
}

func (b *JobBuilder) resolveDailyDate(batchNo string) string {
	if b.cliDate != "" {
		return b.cliDate
	}
	if _, err := time.Parse(model.DateLayout, batchNo); err == nil {
		return batchNo
	}
	if pinned := b.pinnedDate(); pinned != "" {
		return pinned
	}
	return model.Yesterday(b.now)
}

func (b *JobBuilder) resolveMonth(batchNo string) string {
	if len(b.cliDate) >= 6 {
		return b.cliDate[:6]
	}
	if _, err := time.Parse(model.MonthLayout, batchNo); err == nil {
		return batchNo
	}
	if pinned := b.pinnedDate(); pinned != "" {
		return pinned[:6]
	}
	return model.PreviousMonth(b.now)
}

// pinnedDate returns the catalog default date when it is a literal date,
// empty for the yesterday sentinel or malformed values.
func (b *JobBuilder) pinnedDate() string {
	d := b.defaults.DataDate
	if d == "" || d == config.YesterdaySentinel {
		return ""
	}
	if _, err := time.Parse(model.DateLayout, d); err != nil {
		return ""
	}
	return d
}

// threadsFor picks the counter thread count for a table, bounded by the
// catalog limit.
func (b *JobBuilder) threadsFor(table model.TableSpec) int {
	t := table.Threads
	if t <= 0 {
		t = b.defaults.JarOptions.Threads
	}
	if t < 1 {
		t = 1
	}
	if max := b.defaults.Limits.MaxJarThreads; max > 0 && t > max {
		t = max
	}
	return t
}

// synthBatchNo encodes a period the way well-formed upstreams encode their
// batch numbers.
func synthBatchNo(p model.Period) string {
	switch p.Type {
	case model.PeriodMonthly:
		return p.Month
	case model.PeriodHourly:
		return p.Date + "_" + p.Hour
	default:
		return p.Date
	}
}

// effectiveDelimiter fills the Hive default separator for textfile tables
// that do not declare one.
func effectiveDelimiter(table model.TableSpec) string {
	if table.Format == model.FormatTextfile && table.Delimiter == "" {
		return hiveDefaultDelimiter
	}
	return table.Delimiter
}

// resolveTemplate substitutes period placeholders and reports any left
// unresolved, in order of appearance.
func resolveTemplate(template string, vals map[string]string) (string, []string) {
	if template == "" {
		return "", nil
	}
	resolved := template
	for k, v := range vals {
		resolved = strings.ReplaceAll(resolved, "${"+k+"}", v)
	}
	return resolved, placeholderRe.FindAllString(resolved, -1)
}

// joinHDFS joins a table base path and a resolved partition fragment with
// exactly one slash.
func joinHDFS(base, partition string) string {
	base = strings.TrimRight(base, "/")
	if partition == "" {
		return base
	}
	return base + "/" + strings.TrimLeft(partition, "/")
}
