package fetcher

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/tigerroll/tally/internal/config"
	"github.com/tigerroll/tally/internal/domain/model"
	"github.com/tigerroll/tally/internal/support/util/exception"
	"github.com/tigerroll/tally/internal/support/util/logger"
)

// ClickHouseFetcher pulls completion records from the scheduler's
// task_complete_log. The connection is opened lazily on first use so that
// runs which never fetch (dry planning, explicit task lists against a warm
// ledger) do not require a reachable cluster.
type ClickHouseFetcher struct {
	cfg config.ClickHouseConfig
	db  *sql.DB
}

// NewClickHouseFetcher creates a fetcher for the configured cluster.
func NewClickHouseFetcher(cfg config.ClickHouseConfig) *ClickHouseFetcher {
	return &ClickHouseFetcher{cfg: cfg}
}

// NewClickHouseFetcherFromDB wraps an existing connection. Used by tests.
func NewClickHouseFetcherFromDB(cfg config.ClickHouseConfig, db *sql.DB) *ClickHouseFetcher {
	return &ClickHouseFetcher{cfg: cfg, db: db}
}

// FetchCompleted renders the completion query for the window and returns the
// matching records. Rows with an unknown period_type are logged and dropped
// rather than failing the whole pull.
func (f *ClickHouseFetcher) FetchCompleted(ctx context.Context, window model.Window, dataDate string) ([]model.CompletionRecord, error) {
	const op = "ClickHouseFetcher.FetchCompleted"
	db, err := f.ensure(ctx)
	if err != nil {
		return nil, err
	}

	query := renderQuery(f.cfg.QueryTemplate, window, dataDate)
	logger.Debugf("%s: query: %s", op, query)

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, exception.NewAuditErrorf(moduleName, "%s: completion query failed", op, true, err)
	}
	defer rows.Close()

	var records []model.CompletionRecord
	loc := window.Start.Location()
	for rows.Next() {
		var (
			taskName   string
			periodType string
			batchNo    string
			completeDt time.Time
		)
		if err := rows.Scan(&taskName, &periodType, &batchNo, &completeDt); err != nil {
			return nil, exception.NewAuditErrorf(moduleName, "%s: failed to scan completion row", op, err)
		}
		pt := model.PeriodType(periodType)
		if !pt.IsValid() {
			logger.Warnf("%s: task '%s' batch '%s' has unknown period_type '%s', skipping", op, taskName, batchNo, periodType)
			continue
		}
		records = append(records, model.CompletionRecord{
			TaskName:   taskName,
			PeriodType: pt,
			BatchNo:    batchNo,
			CompleteDt: completeDt.In(loc),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, exception.NewAuditErrorf(moduleName, "%s: completion row iteration failed", op, true, err)
	}
	logger.Infof("%s: fetched %d completion record(s) for window [%s, %s)",
		op, len(records),
		window.Start.Format(model.WindowTimeLayout), window.End.Format(model.WindowTimeLayout))
	return records, nil
}

// ensure opens the connection on first use. All configured hosts are handed
// to the driver with in-order failover, so a dead first replica falls
// through to the next.
func (f *ClickHouseFetcher) ensure(ctx context.Context) (*sql.DB, error) {
	const op = "ClickHouseFetcher.ensure"
	if f.db != nil {
		return f.db, nil
	}
	if len(f.cfg.Hosts) == 0 {
		return nil, exception.NewAuditErrorf(moduleName, "%s: no clickhouse hosts configured", op)
	}
	addrs := make([]string, 0, len(f.cfg.Hosts))
	for _, h := range f.cfg.Hosts {
		if !strings.Contains(h, ":") {
			h = fmt.Sprintf("%s:%d", h, f.cfg.Port)
		}
		addrs = append(addrs, h)
	}
	db := clickhouse.OpenDB(&clickhouse.Options{
		Addr: addrs,
		Auth: clickhouse.Auth{
			Database: f.cfg.Database,
			Username: f.cfg.User,
			Password: f.cfg.Password,
		},
		DialTimeout:      time.Duration(f.cfg.DialTimeoutMs) * time.Millisecond,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	})
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, exception.NewAuditErrorf(moduleName, "%s: no clickhouse host reachable (%s)", op, strings.Join(addrs, ", "), true, err)
	}
	logger.Debugf("%s: connected to clickhouse (%s)", op, strings.Join(addrs, ", "))
	f.db = db
	return f.db, nil
}

// renderQuery substitutes the window bounds and optional business date into
// the query template.
func renderQuery(template string, window model.Window, dataDate string) string {
	return strings.NewReplacer(
		"{start_time}", window.Start.Format(model.WindowTimeLayout),
		"{end_time}", window.End.Format(model.WindowTimeLayout),
		"{data_date}", dataDate,
	).Replace(template)
}

// Close releases the connection if one was opened.
func (f *ClickHouseFetcher) Close() error {
	if f.db == nil {
		return nil
	}
	err := f.db.Close()
	f.db = nil
	return err
}
