// Package counter runs the external HDFS counter and normalizes its output
// into count reports. A failed count is a report, never an error: one bad
// path must not take down the rest of the run.
package counter

import (
	"context"

	"github.com/tigerroll/tally/internal/domain/model"
)

const moduleName = "counter"

// Counter executes one audit job and returns its normalized report.
// Implementations honor ctx for cancellation and enforce their own
// per-job timeout.
type Counter interface {
	Count(ctx context.Context, job model.AuditJob) model.CountReport
}
