package model

import "time"

// CompletionRecord is an upstream scheduler's report that a named task
// finished successfully within the queried window.
type CompletionRecord struct {
	// TaskName is the upstream task identifier.
	TaskName string
	// PeriodType is the granularity the completed batch was keyed on.
	PeriodType PeriodType
	// BatchNo is the upstream batch identifier. It is opaque here, but for
	// well-formed upstreams it encodes the business date (daily: YYYYMMDD,
	// monthly: YYYYMM, hourly: YYYYMMDD_HH).
	BatchNo string
	// CompleteDt is the completion instant in the upstream timezone.
	CompleteDt time.Time
}

// Key identifies a completion within one run. Duplicate keys are collapsed
// keeping the record with the latest CompleteDt.
type CompletionKey struct {
	TaskName   string
	PeriodType PeriodType
	BatchNo    string
}

// Key returns the deduplication key of the record.
func (r CompletionRecord) Key() CompletionKey {
	return CompletionKey{TaskName: r.TaskName, PeriodType: r.PeriodType, BatchNo: r.BatchNo}
}
