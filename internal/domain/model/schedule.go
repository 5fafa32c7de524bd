package model

// TableFormat is the physical storage format of an audited table.
type TableFormat string

const (
	FormatORC      TableFormat = "orc"
	FormatParquet  TableFormat = "parquet"
	FormatTextfile TableFormat = "textfile"
)

// IsValid reports whether the format is one the counter understands.
func (f TableFormat) IsValid() bool {
	switch f {
	case FormatORC, FormatParquet, FormatTextfile:
		return true
	}
	return false
}

// TableSpec describes one physical table of a schedule entry.
type TableSpec struct {
	// Name is the logical db.table identifier written to the ledger.
	Name string
	// HDFSBasePath is the table root under which partitions live.
	HDFSBasePath string
	// Format is the storage format passed to the counter.
	Format TableFormat
	// Delimiter is the field delimiter, meaningful for textfile only.
	Delimiter string
	// PartitionTemplate is the partition path relative to HDFSBasePath, with
	// ${data_date}/${data_month}/${data_hour} placeholders.
	PartitionTemplate string
	// Threads optionally overrides the per-job counter thread count.
	Threads int
}

// ScheduleEntry maps an upstream task name to the tables it produces.
type ScheduleEntry struct {
	TaskName    string
	InterfaceID string
	PlatformID  string
	PartnerID   string
	PeriodType  PeriodType
	Tables      []TableSpec
}
