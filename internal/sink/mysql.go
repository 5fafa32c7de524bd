package sink

import (
	"context"
	"database/sql"
	"errors"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	glogger "gorm.io/gorm/logger"

	"github.com/tigerroll/tally/internal/config"
	"github.com/tigerroll/tally/internal/domain/entity"
	"github.com/tigerroll/tally/internal/domain/model"
	"github.com/tigerroll/tally/internal/support/util/exception"
	"github.com/tigerroll/tally/internal/support/util/logger"
)

// appendBatchSize bounds multi-row inserts.
const appendBatchSize = 100

// MySQLSink writes audit rows through GORM. The pool is opened without
// dialing so that dry runs and config checks never require a reachable
// ledger; the first insert establishes the connection.
type MySQLSink struct {
	db    *gorm.DB
	sqlDB *sql.DB
}

// NewMySQLSink builds a sink from the runtime config.
func NewMySQLSink(cfg config.MySQLConfig) (*MySQLSink, error) {
	const op = "sink.NewMySQLSink"
	dsn := mysqldriver.Config{
		User:                 cfg.User,
		Passwd:               cfg.Password,
		Net:                  "tcp",
		Addr:                 cfg.Addr(),
		DBName:               cfg.Database,
		ParseTime:            true,
		Loc:                  time.Local,
		Timeout:              10 * time.Second,
		AllowNativePasswords: true,
		Params:               map[string]string{"charset": "utf8mb4"},
	}
	sqlDB, err := sql.Open("mysql", dsn.FormatDSN())
	if err != nil {
		return nil, exception.NewAuditErrorf(moduleName, "%s: failed to open mysql pool for %s", op, cfg.Addr(), err)
	}
	sqlDB.SetMaxOpenConns(cfg.PoolSize)
	sqlDB.SetMaxIdleConns(cfg.PoolSize)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	gormDB, err := gorm.Open(gormmysql.New(gormmysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		DisableAutomaticPing: true,
		Logger:               glogger.Default.LogMode(glogger.Silent),
	})
	if err != nil {
		sqlDB.Close()
		return nil, exception.NewAuditErrorf(moduleName, "%s: failed to initialize gorm", op, err)
	}
	logger.Debugf("%s: ledger pool ready for %s/%s (pool_size=%d)", op, cfg.Addr(), cfg.Database, cfg.PoolSize)
	return &MySQLSink{db: gormDB, sqlDB: sqlDB}, nil
}

// NewMySQLSinkFromDB wraps an existing GORM handle. Used by tests.
func NewMySQLSinkFromDB(db *gorm.DB) *MySQLSink {
	sqlDB, _ := db.DB()
	return &MySQLSink{db: db, sqlDB: sqlDB}
}

// Append inserts one ledger row.
func (s *MySQLSink) Append(ctx context.Context, row *entity.AuditResult) error {
	const op = "MySQLSink.Append"
	if err := s.db.WithContext(ctx).Table(entity.AuditResultTable).Create(row).Error; err != nil {
		return exception.NewAuditErrorf(moduleName, "%s: failed to append row for %s/%s", op, row.TaskName, row.TableName, true, err)
	}
	return nil
}

// AppendMany inserts rows in batches of appendBatchSize.
func (s *MySQLSink) AppendMany(ctx context.Context, rows []*entity.AuditResult) error {
	const op = "MySQLSink.AppendMany"
	if len(rows) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Table(entity.AuditResultTable).CreateInBatches(rows, appendBatchSize).Error; err != nil {
		return exception.NewAuditErrorf(moduleName, "%s: failed to append %d rows", op, len(rows), true, err)
	}
	return nil
}

// AppendOrReplace inserts a row, updating the existing one on duplicate key.
// The stock ledger declares no unique key, so this behaves exactly like
// Append; deployments that add their own (task, table, batch) unique index
// get last-write-wins semantics instead of duplicate rows.
func (s *MySQLSink) AppendOrReplace(ctx context.Context, row *entity.AuditResult) error {
	const op = "MySQLSink.AppendOrReplace"
	err := s.db.WithContext(ctx).
		Table(entity.AuditResultTable).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(row).Error
	if err != nil {
		return exception.NewAuditErrorf(moduleName, "%s: failed to upsert row for %s/%s", op, row.TaskName, row.TableName, true, err)
	}
	return nil
}

// LatestResult returns the most recent ledger row for a task/table pair, or
// nil when the pair has never been audited.
func (s *MySQLSink) LatestResult(ctx context.Context, taskName, tableName string) (*entity.AuditResult, error) {
	const op = "MySQLSink.LatestResult"
	var row entity.AuditResult
	err := s.db.WithContext(ctx).
		Table(entity.AuditResultTable).
		Where("task_name = ? AND table_name = ?", taskName, tableName).
		Order("id DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, exception.NewAuditErrorf(moduleName, "%s: query failed for %s/%s", op, taskName, tableName, err)
	}
	return &row, nil
}

// ResultsByPartner returns all rows for a partner on a YYYYMMDD business
// date, newest first.
func (s *MySQLSink) ResultsByPartner(ctx context.Context, partnerID, dataDate string) ([]entity.AuditResult, error) {
	const op = "MySQLSink.ResultsByPartner"
	day, err := time.Parse(model.DateLayout, dataDate)
	if err != nil {
		return nil, exception.NewAuditErrorf(moduleName, "%s: invalid data date '%s'", op, dataDate, err)
	}
	var rows []entity.AuditResult
	err = s.db.WithContext(ctx).
		Table(entity.AuditResultTable).
		Where("partner_id = ? AND data_date = ?", partnerID, day.Format("2006-01-02")).
		Order("id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, exception.NewAuditErrorf(moduleName, "%s: query failed for partner '%s'", op, partnerID, err)
	}
	return rows, nil
}

// Close releases the pool.
func (s *MySQLSink) Close() error {
	if s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}
