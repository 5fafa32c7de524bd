// Package sink persists audit rows to the MySQL ledger. The ledger is
// append-only: every run inserts fresh rows and deduplication is left to
// downstream consumers.
package sink

import (
	"context"

	"github.com/tigerroll/tally/internal/domain/entity"
)

const moduleName = "sink"

// Sink is the ledger port the orchestrator writes through.
type Sink interface {
	// Append inserts one row.
	Append(ctx context.Context, row *entity.AuditResult) error
	// AppendMany inserts rows in batches.
	AppendMany(ctx context.Context, rows []*entity.AuditResult) error
	// MigrateLedger applies pending ledger schema migrations.
	MigrateLedger(ctx context.Context) error
	// Close releases the underlying connection pool.
	Close() error
}
