// Package entity defines the persistence shapes written to the audit ledger.
package entity

import (
	"encoding/json"
	"time"

	"github.com/tigerroll/tally/internal/domain/model"
	"github.com/tigerroll/tally/internal/support/util/exception"
)

// AuditResultTable is the ledger table name.
const AuditResultTable = "audit_result"

// ErrorMsgMaxBytes bounds the JSON error payload stored per row.
const ErrorMsgMaxBytes = 4096

// AuditResult is one append-only ledger row: the identity of the audited
// table, the resolved period fields, and the counter metrics. The table has
// no unique key; de-duplication is a consumer concern.
type AuditResult struct {
	ID             uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	TaskName       string    `gorm:"column:task_name"`
	InterfaceID    string    `gorm:"column:interface_id"`
	PlatformID     string    `gorm:"column:platform_id"`
	PartnerID      string    `gorm:"column:partner_id"`
	TableName      string    `gorm:"column:table_name"`
	HDFSPath       string    `gorm:"column:hdfs_path"`
	PeriodType     string    `gorm:"column:period_type"`
	BatchNo        string    `gorm:"column:batch_no"`
	DataDate       *string   `gorm:"column:data_date"`
	DataMonth      *string   `gorm:"column:data_month"`
	DataHour       *string   `gorm:"column:data_hour"`
	RowCount       int64     `gorm:"column:row_count"`
	FileCount      int       `gorm:"column:file_count"`
	TotalSizeBytes int64     `gorm:"column:total_size_bytes"`
	Status         string    `gorm:"column:status"`
	ErrorMsg       string    `gorm:"column:error_msg"`
	DurationMs     int64     `gorm:"column:duration_ms"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

// NewAuditResult flattens a job and its count report into a ledger row.
// The per-file error list is stored as a JSON string in error_msg, bounded
// to ErrorMsgMaxBytes.
func NewAuditResult(job model.AuditJob, report model.CountReport) *AuditResult {
	row := &AuditResult{
		TaskName:       job.TaskName,
		InterfaceID:    job.InterfaceID,
		PlatformID:     job.PlatformID,
		PartnerID:      job.PartnerID,
		TableName:      job.TableName,
		HDFSPath:       job.HDFSPath,
		PeriodType:     string(job.Period.Type),
		BatchNo:        job.BatchNo,
		DataDate:       dateColumn(job.Period.DataDate()),
		DataMonth:      optionalColumn(job.Period.DataMonth()),
		DataHour:       optionalColumn(job.Period.DataHour()),
		RowCount:       report.RowCount,
		FileCount:      report.FileCount,
		TotalSizeBytes: report.TotalSizeBytes,
		Status:         string(report.Status),
		ErrorMsg:       marshalErrors(report.Errors),
		DurationMs:     report.DurationMs,
	}
	return row
}

// marshalErrors renders the per-file error list as bounded JSON text.
// An empty list yields an empty string so the column stays NULL-ish.
func marshalErrors(errs []model.FileError) string {
	if len(errs) == 0 {
		return ""
	}
	b, err := json.Marshal(errs)
	if err != nil {
		return exception.Truncate(err.Error(), ErrorMsgMaxBytes)
	}
	return exception.Truncate(string(b), ErrorMsgMaxBytes)
}

// dateColumn converts a YYYYMMDD business date into the DATE column format.
// Empty or unparseable dates map to NULL.
func dateColumn(yyyymmdd string) *string {
	if yyyymmdd == "" {
		return nil
	}
	t, err := time.Parse(model.DateLayout, yyyymmdd)
	if err != nil {
		return nil
	}
	s := t.Format("2006-01-02")
	return &s
}

// optionalColumn maps an empty string to NULL.
func optionalColumn(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
