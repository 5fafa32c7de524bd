// Package config loads and validates the two configuration documents the
// orchestrator consumes: the audit catalog (schedules and defaults) and the
// runtime config (databases, counter, watermark, system).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/tally/internal/domain/model"
)

const moduleName = "config"

// YesterdaySentinel in defaults.data_date means "resolve to yesterday at
// run time" rather than a pinned date.
const YesterdaySentinel = "${yesterday}"

// Limits bounds the run's effective parallelism.
type Limits struct {
	// MaxConcurrency caps the orchestrator-level worker count N.
	MaxConcurrency int `yaml:"max_python_concurrency"`
	// MaxJarThreads caps the per-subprocess thread count T.
	MaxJarThreads int `yaml:"max_jar_threads"`
	// MaxEffectiveParallelism caps the product N x T.
	MaxEffectiveParallelism int `yaml:"max_effective_parallelism"`
}

// Clamp bounds the pair (n, t) so that n <= MaxConcurrency,
// t <= MaxJarThreads and n*t <= MaxEffectiveParallelism. The larger axis is
// reduced first: n is divided down before t is touched, and t shrinks only
// when n has already reached 1. Zero limits disable the respective cap.
func (l Limits) Clamp(n, t int) (int, int) {
	if n < 1 {
		n = 1
	}
	if t < 1 {
		t = 1
	}
	if l.MaxConcurrency > 0 && n > l.MaxConcurrency {
		n = l.MaxConcurrency
	}
	if l.MaxJarThreads > 0 && t > l.MaxJarThreads {
		t = l.MaxJarThreads
	}
	if l.MaxEffectiveParallelism > 0 && n*t > l.MaxEffectiveParallelism {
		n = l.MaxEffectiveParallelism / t
		if n < 1 {
			n = 1
			if t > l.MaxEffectiveParallelism {
				t = l.MaxEffectiveParallelism
			}
		}
	}
	return n, t
}

// JarOptions tunes the counter subprocess.
type JarOptions struct {
	// Threads is the default per-job counter thread count.
	Threads int `yaml:"threads"`
	// TimeoutSeconds is the per-job wall-clock timeout. Zero means unbounded.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Defaults is the catalog defaults block.
type Defaults struct {
	// DataDate is the default business date: a pinned YYYYMMDD or
	// YesterdaySentinel.
	DataDate    string     `yaml:"data_date"`
	Concurrency int        `yaml:"python_concurrency"`
	JarOptions  JarOptions `yaml:"jar_options"`
	Limits      Limits     `yaml:"limits"`
}

// TableConfig is one table under a catalog schedule.
type TableConfig struct {
	Name              string `yaml:"name"`
	HDFSPath          string `yaml:"hdfs_path"`
	Format            string `yaml:"format"`
	Delimiter         string `yaml:"delimiter"`
	Threads           int    `yaml:"threads"`
	PartitionTemplate string `yaml:"partition_template"`
}

// ScheduleConfig is one catalog schedule entry.
type ScheduleConfig struct {
	TaskName    string        `yaml:"task_name"`
	InterfaceID string        `yaml:"interface_id"`
	PlatformID  string        `yaml:"platform_id"`
	PartnerID   string        `yaml:"partner_id"`
	PeriodType  string        `yaml:"period_type"`
	Tables      []TableConfig `yaml:"tables"`
}

// Catalog is the audit catalog document.
type Catalog struct {
	Defaults  Defaults         `yaml:"defaults"`
	Schedules []ScheduleConfig `yaml:"schedules"`
}

// NewCatalog returns a catalog populated with defaults; YAML keys present in
// the document override them.
func NewCatalog() *Catalog {
	return &Catalog{
		Defaults: Defaults{
			DataDate:    YesterdaySentinel,
			Concurrency: 1,
			JarOptions:  JarOptions{Threads: 10},
			Limits: Limits{
				MaxConcurrency:          8,
				MaxJarThreads:           20,
				MaxEffectiveParallelism: 80,
			},
		},
	}
}

// Validate checks the catalog invariants: every schedule needs a task name,
// a valid period type and at least one table; every table needs a name, a
// base path and a valid format; partition templates may only reference
// placeholders consistent with the entry's period type. All violations are
// collected before returning.
func (c *Catalog) Validate() error {
	var result *multierror.Error
	seen := make(map[string]bool, len(c.Schedules))
	for i, s := range c.Schedules {
		where := fmt.Sprintf("schedules[%d]", i)
		if s.TaskName == "" {
			result = multierror.Append(result, fmt.Errorf("%s: task_name is required", where))
		} else {
			where = fmt.Sprintf("schedule '%s'", s.TaskName)
			if seen[s.TaskName] {
				result = multierror.Append(result, fmt.Errorf("%s: duplicate task_name", where))
			}
			seen[s.TaskName] = true
		}
		pt := model.PeriodType(s.PeriodType)
		if !pt.IsValid() {
			result = multierror.Append(result, fmt.Errorf("%s: invalid period_type '%s'", where, s.PeriodType))
		}
		if len(s.Tables) == 0 {
			result = multierror.Append(result, fmt.Errorf("%s: at least one table is required", where))
		}
		for j, t := range s.Tables {
			tWhere := fmt.Sprintf("%s tables[%d]", where, j)
			if t.Name == "" {
				result = multierror.Append(result, fmt.Errorf("%s: name is required", tWhere))
			}
			if t.HDFSPath == "" {
				result = multierror.Append(result, fmt.Errorf("%s: hdfs_path is required", tWhere))
			}
			if !model.TableFormat(t.Format).IsValid() {
				result = multierror.Append(result, fmt.Errorf("%s: invalid format '%s'", tWhere, t.Format))
			}
			if pt.IsValid() {
				if err := checkTemplatePlaceholders(pt, t.PartitionTemplate); err != nil {
					result = multierror.Append(result, fmt.Errorf("%s: %w", tWhere, err))
				}
			}
		}
	}
	return result.ErrorOrNil()
}

// checkTemplatePlaceholders enforces period/template consistency: hourly
// templates may use date, month and hour; daily templates date and month;
// monthly templates month only.
func checkTemplatePlaceholders(pt model.PeriodType, template string) error {
	usesDate := strings.Contains(template, "${data_date}")
	usesHour := strings.Contains(template, "${data_hour}")
	switch pt {
	case model.PeriodDaily:
		if usesHour {
			return fmt.Errorf("daily entry must not reference ${data_hour} in partition_template '%s'", template)
		}
	case model.PeriodMonthly:
		if usesDate || usesHour {
			return fmt.Errorf("monthly entry may only reference ${data_month} in partition_template '%s'", template)
		}
	}
	return nil
}

// ScheduleIndex converts the catalog schedules into domain entries keyed by
// task name. Validate must have passed before calling.
func (c *Catalog) ScheduleIndex() map[string]model.ScheduleEntry {
	idx := make(map[string]model.ScheduleEntry, len(c.Schedules))
	for _, s := range c.Schedules {
		entry := model.ScheduleEntry{
			TaskName:    s.TaskName,
			InterfaceID: s.InterfaceID,
			PlatformID:  s.PlatformID,
			PartnerID:   s.PartnerID,
			PeriodType:  model.PeriodType(s.PeriodType),
		}
		for _, t := range s.Tables {
			entry.Tables = append(entry.Tables, model.TableSpec{
				Name:              t.Name,
				HDFSBasePath:      t.HDFSPath,
				Format:            model.TableFormat(t.Format),
				Delimiter:         t.Delimiter,
				PartitionTemplate: t.PartitionTemplate,
				Threads:           t.Threads,
			})
		}
		idx[s.TaskName] = entry
	}
	return idx
}

// MySQLConfig configures the audit ledger connection.
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	PoolSize int    `yaml:"pool_size"`
}

// Addr returns host:port for the DSN.
func (m MySQLConfig) Addr() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

// ClickHouseConfig configures the upstream completion log. Hosts are tried
// in order; connection-level failures fall through to the next host.
type ClickHouseConfig struct {
	Hosts         []string `yaml:"hosts"`
	Port          int      `yaml:"port"`
	Database      string   `yaml:"database"`
	User          string   `yaml:"user"`
	Password      string   `yaml:"password"`
	DialTimeoutMs int      `yaml:"dial_timeout_ms"`
	// QueryTemplate is the completion query with {start_time}, {end_time}
	// and {data_date} placeholders. It must project
	// (task_name, period_type, batch_no, complete_dt).
	QueryTemplate string `yaml:"query_template"`
}

// DefaultQueryTemplate is used when the runtime config does not override the
// completion query.
const DefaultQueryTemplate = `SELECT task_name, period_type, batch_no, complete_dt
FROM task_complete_log
WHERE status = 'SUCCESS'
  AND complete_dt >= '{start_time}'
  AND complete_dt < '{end_time}'`

// CounterConfig locates the external counter subprocess.
type CounterConfig struct {
	JarPath       string `yaml:"jar_path"`
	JavaHome      string `yaml:"java_home"`
	HadoopConfDir string `yaml:"hadoop_conf_dir"`
}

// WatermarkConfig tunes the incremental pull window.
type WatermarkConfig struct {
	Enabled bool `yaml:"enabled"`
	// Path is the watermark file location. Empty means a watermark.json
	// sibling of the catalog file.
	Path                  string  `yaml:"path"`
	OverlapSeconds        int     `yaml:"overlap_seconds"`
	MaxWindowHours        float64 `yaml:"max_window_hours"`
	FallbackLookbackHours float64 `yaml:"fallback_lookback_hours"`
	// AdvanceOnFailure advances the watermark even when jobs failed.
	// Strongly discouraged; failed windows are then never re-scanned.
	AdvanceOnFailure bool `yaml:"advance_on_failure"`
}

// Overlap returns the rescan overlap as a duration.
func (w WatermarkConfig) Overlap() time.Duration {
	return time.Duration(w.OverlapSeconds) * time.Second
}

// MaxWindow returns the catch-up cap as a duration; zero disables the cap.
func (w WatermarkConfig) MaxWindow() time.Duration {
	return time.Duration(w.MaxWindowHours * float64(time.Hour))
}

// FallbackLookback returns the cold-start window as a duration.
func (w WatermarkConfig) FallbackLookback() time.Duration {
	return time.Duration(w.FallbackLookbackHours * float64(time.Hour))
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the single point of truth for window planning, business
	// date derivation and upstream query rendering.
	Timezone string        `yaml:"timezone"`
	Logging  LoggingConfig `yaml:"logging"`
}

// MetricsConfig configures one-shot metric delivery.
type MetricsConfig struct {
	// PushgatewayURL is the Prometheus Pushgateway base URL. Empty disables
	// pushing.
	PushgatewayURL string `yaml:"pushgateway_url"`
}

// DBConfig is the runtime configuration document.
type DBConfig struct {
	System     SystemConfig     `yaml:"system"`
	MySQL      MySQLConfig      `yaml:"mysql"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Counter    CounterConfig    `yaml:"counter"`
	Watermark  WatermarkConfig  `yaml:"watermark"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// NewDBConfig returns a runtime config populated with defaults; YAML keys
// present in the document override them.
func NewDBConfig() *DBConfig {
	return &DBConfig{
		System: SystemConfig{
			Timezone: "Asia/Shanghai",
			Logging:  LoggingConfig{Level: "INFO"},
		},
		MySQL: MySQLConfig{
			Host:     "127.0.0.1",
			Port:     3306,
			PoolSize: 5,
		},
		ClickHouse: ClickHouseConfig{
			Port:          9000,
			User:          "default",
			DialTimeoutMs: 10000,
			QueryTemplate: DefaultQueryTemplate,
		},
		Watermark: WatermarkConfig{
			Enabled:               true,
			OverlapSeconds:        600,
			MaxWindowHours:        24.0,
			FallbackLookbackHours: 24.0,
		},
	}
}

// Location loads the configured timezone.
func (d *DBConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(d.System.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone '%s': %w", d.System.Timezone, err)
	}
	return loc, nil
}
