package model

// ReportStatus is the normalized outcome of one count.
type ReportStatus string

const (
	StatusSuccess ReportStatus = "success"
	// StatusPartial means some files counted and some failed; RowCount is the
	// sum over the successes and Errors lists the failures.
	StatusPartial ReportStatus = "partial"
	StatusFailed  ReportStatus = "failed"
)

// IsValid reports whether the status is one the counter contract defines.
func (s ReportStatus) IsValid() bool {
	switch s {
	case StatusSuccess, StatusPartial, StatusFailed:
		return true
	}
	return false
}

// FileError is a per-file failure reported by the counter.
type FileError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// CountReport mirrors the JSON document the counter subprocess emits on
// stdout.
type CountReport struct {
	Status           ReportStatus `json:"status"`
	RowCount         int64        `json:"row_count"`
	FileCount        int          `json:"file_count"`
	SuccessFileCount int          `json:"success_file_count"`
	TotalSizeBytes   int64        `json:"total_size_bytes"`
	DurationMs       int64        `json:"duration_ms"`
	Errors           []FileError  `json:"errors,omitempty"`
}

// NewFailedReport builds the report used when a count produced no usable
// JSON: total failure, row_count -1, the message attached as a single error.
func NewFailedReport(path, message string) CountReport {
	return CountReport{
		Status:   StatusFailed,
		RowCount: -1,
		Errors:   []FileError{{Path: path, Message: message}},
	}
}

// IsSuccess reports whether the count fully succeeded.
func (r CountReport) IsSuccess() bool {
	return r.Status == StatusSuccess
}
