// Package cli parses and validates the tally command line.
package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tigerroll/tally/internal/config"
	"github.com/tigerroll/tally/internal/domain/model"
)

// Process exit codes. Partial counts as failure: downstream release gates
// key off zero.
const (
	ExitSuccess = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// Mode is how the run decides what to audit.
type Mode int

const (
	// ModeUpstream pulls completions from the scheduler log for the
	// watermark window.
	ModeUpstream Mode = iota
	// ModeSkipFetch audits every catalog entry for the default period.
	ModeSkipFetch
	// ModeExplicit audits only the named catalog entries.
	ModeExplicit
)

func (m Mode) String() string {
	switch m {
	case ModeUpstream:
		return "upstream"
	case ModeSkipFetch:
		return "skip-fetch"
	case ModeExplicit:
		return "explicit"
	}
	return "unknown"
}

// Options is the parsed command line. Numeric watermark knobs default to -1
// meaning "use the config value".
type Options struct {
	ConfigPath   string
	DBConfigPath string
	EnvFile      string

	Tasks     []string
	Date      string
	SkipFetch bool
	DryRun    bool

	Concurrency int

	OverlapSeconds   int
	MaxWindowHours   float64
	LookbackHours    float64
	DisableWatermark bool
	ResetWatermark   bool
	WatermarkInitNow bool
	WatermarkPath    string

	JarPath       string
	JavaHome      string
	HadoopConfDir string

	MigrateLedger bool
	LogLevel      string
	ShowVersion   bool
}

// Parse reads the argument list (without the program name). flag.ErrHelp is
// returned untouched so the caller can exit cleanly after -h.
func Parse(args []string, output io.Writer) (*Options, error) {
	opts := &Options{}
	var tasks string

	fs := flag.NewFlagSet("tally", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.ConfigPath, "config", "", "audit catalog YAML path (required)")
	fs.StringVar(&opts.ConfigPath, "c", "", "shorthand for -config")
	fs.StringVar(&opts.DBConfigPath, "db-config", "", "runtime config YAML path (required)")
	fs.StringVar(&opts.EnvFile, "env-file", "", "env file to load before reading configs (default: ./.env if present)")
	fs.StringVar(&tasks, "tasks", "", "comma-separated task names to audit, bypassing the upstream fetch")
	fs.StringVar(&tasks, "t", "", "shorthand for -tasks")
	fs.StringVar(&opts.Date, "date", "", "business date YYYYMMDD (default: derived per period type)")
	fs.StringVar(&opts.Date, "d", "", "shorthand for -date")
	fs.BoolVar(&opts.SkipFetch, "skip-clickhouse", false, "audit every catalog entry instead of fetching completions")
	fs.BoolVar(&opts.DryRun, "dry-run", false, "plan and print jobs without counting, writing or advancing anything")
	fs.IntVar(&opts.Concurrency, "concurrency", 0, "worker count (default: catalog defaults)")
	fs.IntVar(&opts.Concurrency, "n", 0, "shorthand for -concurrency")
	fs.IntVar(&opts.OverlapSeconds, "watermark-overlap-seconds", -1, "watermark re-scan overlap in seconds (default: config)")
	fs.Float64Var(&opts.MaxWindowHours, "watermark-max-window-hours", -1, "catch-up window cap in hours, 0 disables (default: config)")
	fs.Float64Var(&opts.LookbackHours, "hours-lookback", -1, "cold-start lookback in hours (default: config)")
	fs.BoolVar(&opts.DisableWatermark, "disable-watermark", false, "ignore and never advance the watermark")
	fs.BoolVar(&opts.ResetWatermark, "watermark-reset", false, "delete the watermark file before planning")
	fs.BoolVar(&opts.WatermarkInitNow, "watermark-init-now", false, "initialize an absent watermark to now and exit without auditing")
	fs.StringVar(&opts.WatermarkPath, "watermark-path", "", "watermark file path (default: watermark.json next to the catalog)")
	fs.StringVar(&opts.JarPath, "jar", "", "counter jar path (default: runtime config)")
	fs.StringVar(&opts.JavaHome, "java-home", "", "JAVA_HOME for the counter subprocess (default: runtime config)")
	fs.StringVar(&opts.HadoopConfDir, "hadoop-conf-dir", "", "HADOOP_CONF_DIR for the counter subprocess (default: runtime config)")
	fs.BoolVar(&opts.MigrateLedger, "migrate-ledger", false, "apply ledger schema migrations before the run")
	fs.StringVar(&opts.LogLevel, "log-level", "", "log level: DEBUG, INFO, WARN, ERROR (default: config)")
	fs.BoolVar(&opts.ShowVersion, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		err := fmt.Errorf("unexpected positional arguments: %s", strings.Join(rest, " "))
		fmt.Fprintln(output, err)
		fs.Usage()
		return nil, err
	}
	for _, t := range strings.Split(tasks, ",") {
		if t = strings.TrimSpace(t); t != "" {
			opts.Tasks = append(opts.Tasks, t)
		}
	}
	return opts, nil
}

// Validate checks flag combinations and value shapes. Violations are usage
// errors (exit 2).
func (o *Options) Validate() error {
	if o.ShowVersion {
		return nil
	}
	if o.ConfigPath == "" {
		return fmt.Errorf("--config is required")
	}
	if o.DBConfigPath == "" {
		return fmt.Errorf("--db-config is required")
	}
	if o.Date != "" {
		if _, err := time.Parse(model.DateLayout, o.Date); err != nil {
			return fmt.Errorf("--date must be YYYYMMDD, got '%s'", o.Date)
		}
	}
	if o.Concurrency < 0 {
		return fmt.Errorf("--concurrency must be positive, got %d", o.Concurrency)
	}
	if o.OverlapSeconds < -1 {
		return fmt.Errorf("--watermark-overlap-seconds must not be negative, got %d", o.OverlapSeconds)
	}
	return nil
}

// Mode derives the run mode. --tasks wins over --skip-clickhouse; both set
// is tolerated since explicit selection is the stronger statement.
func (o *Options) Mode() Mode {
	if len(o.Tasks) > 0 {
		return ModeExplicit
	}
	if o.SkipFetch {
		return ModeSkipFetch
	}
	return ModeUpstream
}

// ApplyOverrides folds the CLI layer onto the loaded configs. Only values
// the operator actually set are applied.
func (o *Options) ApplyOverrides(catalog *config.Catalog, db *config.DBConfig) {
	if o.Concurrency > 0 {
		catalog.Defaults.Concurrency = o.Concurrency
	}
	if o.OverlapSeconds >= 0 {
		db.Watermark.OverlapSeconds = o.OverlapSeconds
	}
	if o.MaxWindowHours >= 0 {
		db.Watermark.MaxWindowHours = o.MaxWindowHours
	}
	if o.LookbackHours >= 0 {
		db.Watermark.FallbackLookbackHours = o.LookbackHours
	}
	if o.DisableWatermark {
		db.Watermark.Enabled = false
	}
	if o.WatermarkPath != "" {
		db.Watermark.Path = o.WatermarkPath
	}
	if o.JarPath != "" {
		db.Counter.JarPath = o.JarPath
	}
	if o.JavaHome != "" {
		db.Counter.JavaHome = o.JavaHome
	}
	if o.HadoopConfDir != "" {
		db.Counter.HadoopConfDir = o.HadoopConfDir
	}
	if o.LogLevel != "" {
		db.System.Logging.Level = o.LogLevel
	}
}
