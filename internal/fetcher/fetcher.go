// Package fetcher pulls task completions from the upstream scheduler log and
// plans the incremental time window they are pulled for.
package fetcher

import (
	"context"

	"github.com/tigerroll/tally/internal/domain/model"
)

const moduleName = "fetcher"

// TaskFetcher retrieves completion records for a half-open window
// [Start, End). dataDate is substituted for {data_date} in templates that
// filter on a business date; it may be empty.
type TaskFetcher interface {
	FetchCompleted(ctx context.Context, window model.Window, dataDate string) ([]model.CompletionRecord, error)
	Close() error
}

// Deduplicate collapses records sharing (task_name, period_type, batch_no),
// keeping the one with the latest complete_dt. The overlap re-scan makes
// duplicates routine, and upstream re-runs of the same batch must not audit
// twice. First-appearance order of keys is preserved.
func Deduplicate(records []model.CompletionRecord) []model.CompletionRecord {
	if len(records) <= 1 {
		return records
	}
	out := make([]model.CompletionRecord, 0, len(records))
	index := make(map[model.CompletionKey]int, len(records))
	for _, r := range records {
		k := r.Key()
		if i, ok := index[k]; ok {
			if r.CompleteDt.After(out[i].CompleteDt) {
				out[i] = r
			}
			continue
		}
		index[k] = len(out)
		out = append(out, r)
	}
	return out
}
