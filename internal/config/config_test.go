package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/tally/internal/config"
	"github.com/tigerroll/tally/internal/domain/model"
)

// writeFile drops content into a temp file and returns its path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validCatalog = `
defaults:
  python_concurrency: 4
  jar_options:
    threads: 12
schedules:
  - task_name: dwd_trade_order_di
    interface_id: IF1001
    platform_id: P01
    partner_id: PT001
    period_type: daily
    tables:
      - name: dwd.trade_order_di
        hdfs_path: /warehouse/dwd/trade_order_di
        format: orc
        partition_template: dt=${data_date}
  - task_name: ods_click_log_hi
    interface_id: IF2001
    platform_id: P02
    partner_id: PT002
    period_type: hourly
    tables:
      - name: ods.click_log_hi
        hdfs_path: /warehouse/ods/click_log_hi/
        format: textfile
        partition_template: dt=${data_date}/hour=${data_hour}
`

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "audit.yaml", validCatalog)

	catalog, err := config.LoadCatalog(path)
	require.NoError(t, err)

	// Document values override defaults; absent keys keep them.
	assert.Equal(t, 4, catalog.Defaults.Concurrency)
	assert.Equal(t, 12, catalog.Defaults.JarOptions.Threads)
	assert.Equal(t, config.YesterdaySentinel, catalog.Defaults.DataDate)
	assert.Equal(t, 8, catalog.Defaults.Limits.MaxConcurrency)
	assert.Equal(t, 20, catalog.Defaults.Limits.MaxJarThreads)
	assert.Equal(t, 80, catalog.Defaults.Limits.MaxEffectiveParallelism)

	require.Len(t, catalog.Schedules, 2)
	idx := catalog.ScheduleIndex()
	entry, ok := idx["dwd_trade_order_di"]
	require.True(t, ok)
	assert.Equal(t, model.PeriodDaily, entry.PeriodType)
	require.Len(t, entry.Tables, 1)
	assert.Equal(t, model.FormatORC, entry.Tables[0].Format)
	// Catalog placeholders are runtime tokens, never env-expanded.
	assert.Equal(t, "dt=${data_date}", entry.Tables[0].PartitionTemplate)
}

func TestLoadCatalogPlaceholdersSurviveEnv(t *testing.T) {
	t.Setenv("data_date", "clobbered")
	dir := t.TempDir()
	path := writeFile(t, dir, "audit.yaml", validCatalog)

	catalog, err := config.LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, "dt=${data_date}", catalog.Schedules[0].Tables[0].PartitionTemplate)
}

func TestLoadCatalogMissingFile(t *testing.T) {
	_, err := config.LoadCatalog(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestCatalogValidation(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.yaml", `
schedules:
  - task_name: a
    period_type: daily
    tables:
      - name: t1
        hdfs_path: /x
        format: orc
        partition_template: dt=${data_date}/hour=${data_hour}
  - task_name: a
    period_type: weekly
    tables: []
  - task_name: b
    period_type: monthly
    tables:
      - name: ""
        hdfs_path: ""
        format: avro
        partition_template: dt=${data_date}
`)
	_, err := config.LoadCatalog(path)
	require.Error(t, err)
	msg := err.Error()
	// Every violation is collected, not just the first.
	assert.Contains(t, msg, "must not reference ${data_hour}")
	assert.Contains(t, msg, "duplicate task_name")
	assert.Contains(t, msg, "invalid period_type 'weekly'")
	assert.Contains(t, msg, "at least one table is required")
	assert.Contains(t, msg, "name is required")
	assert.Contains(t, msg, "hdfs_path is required")
	assert.Contains(t, msg, "invalid format 'avro'")
	assert.Contains(t, msg, "may only reference ${data_month}")
}

const minimalDBConfig = `
mysql:
  host: db.internal
  database: audit
  user: audit
  password: "${TEST_MYSQL_PASSWORD}"
clickhouse:
  hosts: [ch-1.internal]
  database: scheduler
watermark:
  enabled: false
`

func TestLoadDBConfig(t *testing.T) {
	t.Setenv("TEST_MYSQL_PASSWORD", "s3cret")
	dir := t.TempDir()
	path := writeFile(t, dir, "db.yaml", minimalDBConfig)

	cfg, err := config.LoadDBConfig(path)
	require.NoError(t, err)

	// ${VAR} references expand from the environment.
	assert.Equal(t, "s3cret", cfg.MySQL.Password)
	assert.Equal(t, "db.internal:3306", cfg.MySQL.Addr())
	assert.Equal(t, []string{"ch-1.internal"}, cfg.ClickHouse.Hosts)

	// Defaults fill what the document omits; present keys override even
	// when the value is the zero value.
	assert.Equal(t, 5, cfg.MySQL.PoolSize)
	assert.Equal(t, 9000, cfg.ClickHouse.Port)
	assert.Equal(t, config.DefaultQueryTemplate, cfg.ClickHouse.QueryTemplate)
	assert.False(t, cfg.Watermark.Enabled)
	assert.Equal(t, 600, cfg.Watermark.OverlapSeconds)
	assert.Equal(t, "Asia/Shanghai", cfg.System.Timezone)
}

func TestLoadDBConfigEnvOverrides(t *testing.T) {
	t.Setenv("MYSQL_HOST", "other.internal")
	t.Setenv("MYSQL_POOL_SIZE", "9")
	t.Setenv("CLICKHOUSE_HOST", "ch-a, ch-b")
	t.Setenv("WATERMARK_ENABLED", "true")
	t.Setenv("HDFS_COUNTER_JAR", "/opt/override.jar")

	dir := t.TempDir()
	path := writeFile(t, dir, "db.yaml", minimalDBConfig)

	cfg, err := config.LoadDBConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "other.internal", cfg.MySQL.Host)
	assert.Equal(t, 9, cfg.MySQL.PoolSize)
	assert.Equal(t, []string{"ch-a", "ch-b"}, cfg.ClickHouse.Hosts)
	assert.True(t, cfg.Watermark.Enabled)
	assert.Equal(t, "/opt/override.jar", cfg.Counter.JarPath)
}

func TestLoadDBConfigRejectsBadEnvValue(t *testing.T) {
	t.Setenv("MYSQL_PORT", "not-a-number")
	dir := t.TempDir()
	path := writeFile(t, dir, "db.yaml", minimalDBConfig)

	_, err := config.LoadDBConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MYSQL_PORT")
}

func TestResolveWatermarkPath(t *testing.T) {
	cfg := config.NewDBConfig()

	// Empty: sibling of the catalog.
	assert.Equal(t, "/etc/tally/watermark.json", cfg.ResolveWatermarkPath("/etc/tally/audit.yaml"))

	// Relative: against the catalog directory.
	cfg.Watermark.Path = "state/wm.json"
	assert.Equal(t, "/etc/tally/state/wm.json", cfg.ResolveWatermarkPath("/etc/tally/audit.yaml"))

	// Absolute: as given.
	cfg.Watermark.Path = "/var/lib/tally/wm.json"
	assert.Equal(t, "/var/lib/tally/wm.json", cfg.ResolveWatermarkPath("/etc/tally/audit.yaml"))
}

func TestLimitsClamp(t *testing.T) {
	limits := config.Limits{MaxConcurrency: 8, MaxJarThreads: 20, MaxEffectiveParallelism: 80}

	cases := []struct {
		name  string
		n, t  int
		wantN int
		wantT int
	}{
		{"within limits", 4, 10, 4, 10},
		{"concurrency capped", 16, 10, 8, 10},
		{"product capped reduces workers first", 8, 20, 4, 20},
		{"threads capped then product", 5, 30, 4, 20},
		{"single worker keeps threads", 1, 100, 1, 20},
		{"zero inputs become one", 0, 0, 1, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n, th := limits.Clamp(tc.n, tc.t)
			assert.Equal(t, tc.wantN, n)
			assert.Equal(t, tc.wantT, th)
			if limits.MaxEffectiveParallelism > 0 {
				assert.LessOrEqual(t, n*th, limits.MaxEffectiveParallelism)
			}
		})
	}
}

func TestLimitsClampUnbounded(t *testing.T) {
	// Zero limits disable the respective caps.
	var limits config.Limits
	n, th := limits.Clamp(100, 100)
	assert.Equal(t, 100, n)
	assert.Equal(t, 100, th)
}

func TestLimitsClampTinyProduct(t *testing.T) {
	// The product cap can be smaller than one worker's threads; threads
	// shrink only after the worker count has hit 1.
	limits := config.Limits{MaxEffectiveParallelism: 10}
	n, th := limits.Clamp(1, 100)
	assert.Equal(t, 1, n)
	assert.Equal(t, 10, th)
}
