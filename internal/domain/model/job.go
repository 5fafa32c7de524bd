package model

import "fmt"

// AuditJob is the unit of work handed to the counter: one fully resolved
// (path, format) pair derived from a completion record, a schedule entry and
// the resolved period. Jobs are built just-in-time before fan-out, consumed
// once, and never persisted.
type AuditJob struct {
	TaskName    string
	InterfaceID string
	PlatformID  string
	PartnerID   string
	TableName   string
	// HDFSPath is the fully resolved partition path to count.
	HDFSPath  string
	Format    TableFormat
	Delimiter string
	// Period carries the resolved data_date/data_month/data_hour set.
	Period  Period
	BatchNo string
	// JarThreads is the counter subprocess thread count for this job,
	// already clamped by the config resolver.
	JarThreads int
}

// Label returns a compact identifier for log lines.
func (j AuditJob) Label() string {
	return fmt.Sprintf("%s/%s [%s]", j.TaskName, j.TableName, j.HDFSPath)
}
