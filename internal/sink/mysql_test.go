// Package sink_test provides unit tests for the MySQL ledger sink, using a
// mocked SQL connection underneath GORM.
package sink_test

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"

	"github.com/tigerroll/tally/internal/domain/entity"
	"github.com/tigerroll/tally/internal/domain/model"
	"github.com/tigerroll/tally/internal/sink"
	"github.com/tigerroll/tally/internal/support/util/exception"
)

// setupSinkMock builds a sink backed by a mocked SQL connection.
func setupSinkMock(t *testing.T) (*sink.MySQLSink, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		DisableAutomaticPing: true,
		Logger:               glogger.Default.LogMode(glogger.Silent),
	})
	require.NoError(t, err)

	return sink.NewMySQLSinkFromDB(gormDB), mock
}

func sampleRow(task, table string) *entity.AuditResult {
	job := model.AuditJob{
		TaskName:  task,
		TableName: table,
		HDFSPath:  "/warehouse/" + table + "/dt=20250810",
		Format:    model.FormatORC,
		Period:    model.NewDailyPeriod("20250810"),
		BatchNo:   "20250810",
	}
	report := model.CountReport{Status: model.StatusSuccess, RowCount: 100, FileCount: 2}
	return entity.NewAuditResult(job, report)
}

func TestAppend(t *testing.T) {
	s, mock := setupSinkMock(t)
	defer func() {
		mock.ExpectClose()
		assert.NoError(t, s.Close())
	}()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `audit_result`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.Append(context.Background(), sampleRow("dwd_trade_order_di", "dwd.trade_order_di"))
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendInsertError(t *testing.T) {
	s, mock := setupSinkMock(t)
	defer func() {
		mock.ExpectClose()
		assert.NoError(t, s.Close())
	}()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `audit_result`")).
		WillReturnError(errors.New("server has gone away"))
	mock.ExpectRollback()

	err := s.Append(context.Background(), sampleRow("dwd_trade_order_di", "dwd.trade_order_di"))
	require.Error(t, err)
	// Insert failures are transient: the orchestrator records them but the
	// run-level classification treats them as retryable.
	assert.True(t, exception.IsTemporary(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendMany(t *testing.T) {
	s, mock := setupSinkMock(t)
	defer func() {
		mock.ExpectClose()
		assert.NoError(t, s.Close())
	}()

	rows := []*entity.AuditResult{
		sampleRow("task_a", "dwd.table_a"),
		sampleRow("task_b", "dwd.table_b"),
	}

	// Two rows fit one batch: a single multi-row insert.
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `audit_result`")).
		WillReturnResult(sqlmock.NewResult(1, 2))
	mock.ExpectCommit()

	err := s.AppendMany(context.Background(), rows)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendManyEmpty(t *testing.T) {
	s, mock := setupSinkMock(t)
	defer func() {
		mock.ExpectClose()
		assert.NoError(t, s.Close())
	}()

	// No rows, no SQL.
	err := s.AppendMany(context.Background(), nil)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendOrReplace(t *testing.T) {
	s, mock := setupSinkMock(t)
	defer func() {
		mock.ExpectClose()
		assert.NoError(t, s.Close())
	}()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `audit_result`") + ".*" + regexp.QuoteMeta("ON DUPLICATE KEY UPDATE")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.AppendOrReplace(context.Background(), sampleRow("dwd_trade_order_di", "dwd.trade_order_di"))
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestResult(t *testing.T) {
	s, mock := setupSinkMock(t)
	defer func() {
		mock.ExpectClose()
		assert.NoError(t, s.Close())
	}()

	rows := sqlmock.NewRows([]string{"id", "task_name", "table_name", "status", "row_count"}).
		AddRow(42, "dwd_trade_order_di", "dwd.trade_order_di", "success", 1000)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `audit_result` WHERE task_name = ? AND table_name = ?")).
		WillReturnRows(rows)

	got, err := s.LatestResult(context.Background(), "dwd_trade_order_di", "dwd.trade_order_di")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint64(42), got.ID)
	assert.Equal(t, "success", got.Status)
	assert.Equal(t, int64(1000), got.RowCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestResultNotFound(t *testing.T) {
	s, mock := setupSinkMock(t)
	defer func() {
		mock.ExpectClose()
		assert.NoError(t, s.Close())
	}()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `audit_result`")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	got, err := s.LatestResult(context.Background(), "never_audited", "dwd.nothing")
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResultsByPartner(t *testing.T) {
	s, mock := setupSinkMock(t)
	defer func() {
		mock.ExpectClose()
		assert.NoError(t, s.Close())
	}()

	rows := sqlmock.NewRows([]string{"id", "partner_id", "status"}).
		AddRow(7, "P001", "success").
		AddRow(3, "P001", "failed")
	// The YYYYMMDD business date is bound in DATE column format.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `audit_result` WHERE partner_id = ? AND data_date = ?")).
		WithArgs("P001", "2025-08-10").
		WillReturnRows(rows)

	got, err := s.ResultsByPartner(context.Background(), "P001", "20250810")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(7), got[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResultsByPartnerBadDate(t *testing.T) {
	s, mock := setupSinkMock(t)
	defer func() {
		mock.ExpectClose()
		assert.NoError(t, s.Close())
	}()

	_, err := s.ResultsByPartner(context.Background(), "P001", "2025-08-10")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid data date")
	assert.NoError(t, mock.ExpectationsWereMet())
}
