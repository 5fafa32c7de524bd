package counter_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/tally/internal/config"
	"github.com/tigerroll/tally/internal/counter"
	"github.com/tigerroll/tally/internal/domain/model"
)

// writeFakeJava installs a shell script as <home>/bin/java plus a dummy jar,
// so the runner executes the script instead of a JVM.
func writeFakeJava(t *testing.T, script string) config.CounterConfig {
	t.Helper()
	home := t.TempDir()
	bin := filepath.Join(home, "bin")
	require.NoError(t, os.MkdirAll(bin, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bin, "java"), []byte(script), 0o755))
	jar := filepath.Join(home, "counter.jar")
	require.NoError(t, os.WriteFile(jar, []byte("jar"), 0o644))
	return config.CounterConfig{JarPath: jar, JavaHome: home}
}

func orcJob() model.AuditJob {
	return model.AuditJob{
		TaskName:   "dwd_trade_order_di",
		TableName:  "dwd.trade_order_di",
		HDFSPath:   "/warehouse/dwd/trade_order_di/dt=20250810",
		Format:     model.FormatORC,
		Period:     model.NewDailyPeriod("20250810"),
		BatchNo:    "20250810",
		JarThreads: 4,
	}
}

func TestCountSuccess(t *testing.T) {
	cfg := writeFakeJava(t, `#!/bin/sh
echo "INFO starting up"
echo '{"status":"success","row_count":1000,"file_count":4,"success_file_count":4,"total_size_bytes":2048,"duration_ms":1500}'
exit 0
`)
	runner := counter.NewJarRunner(cfg, config.JarOptions{Threads: 10})

	report := runner.Count(context.Background(), orcJob())
	assert.Equal(t, model.StatusSuccess, report.Status)
	assert.Equal(t, int64(1000), report.RowCount)
	assert.Equal(t, 4, report.FileCount)
	assert.Equal(t, int64(2048), report.TotalSizeBytes)
	// The report's own duration wins over the measured wall clock.
	assert.Equal(t, int64(1500), report.DurationMs)
}

func TestCountReportBeatsExitCode(t *testing.T) {
	// Exit 0 but the report says failed: the report is authoritative.
	cfg := writeFakeJava(t, `#!/bin/sh
echo '{"status":"failed","row_count":-1,"errors":[{"path":"/x","message":"corrupt stripe"}]}'
exit 0
`)
	runner := counter.NewJarRunner(cfg, config.JarOptions{Threads: 10})

	report := runner.Count(context.Background(), orcJob())
	assert.Equal(t, model.StatusFailed, report.Status)
	assert.Equal(t, int64(-1), report.RowCount)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "corrupt stripe", report.Errors[0].Message)
}

func TestCountLastValidJSONWins(t *testing.T) {
	cfg := writeFakeJava(t, `#!/bin/sh
echo '{"status":"success","row_count":1}'
echo '{"status":"partial","row_count":5,"file_count":3,"success_file_count":2,"errors":[{"path":"/y","message":"short read"}]}'
echo 'trailing log line'
echo '{oops not json'
exit 2
`)
	runner := counter.NewJarRunner(cfg, config.JarOptions{Threads: 10})

	report := runner.Count(context.Background(), orcJob())
	assert.Equal(t, model.StatusPartial, report.Status)
	assert.Equal(t, int64(5), report.RowCount)
	assert.Equal(t, 2, report.SuccessFileCount)
}

func TestCountNoJSONIsFailed(t *testing.T) {
	cfg := writeFakeJava(t, `#!/bin/sh
echo "nothing useful"
echo "disk quota exceeded" 1>&2
exit 3
`)
	runner := counter.NewJarRunner(cfg, config.JarOptions{Threads: 10})

	report := runner.Count(context.Background(), orcJob())
	assert.Equal(t, model.StatusFailed, report.Status)
	assert.Equal(t, int64(-1), report.RowCount)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0].Message, "exit code 3")
	assert.Contains(t, report.Errors[0].Message, "disk quota exceeded")
}

func TestCountTimeout(t *testing.T) {
	cfg := writeFakeJava(t, `#!/bin/sh
sleep 5
echo '{"status":"success","row_count":1}'
`)
	runner := counter.NewJarRunner(cfg, config.JarOptions{Threads: 10, TimeoutSeconds: 1})

	start := time.Now()
	report := runner.Count(context.Background(), orcJob())
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.Equal(t, model.StatusFailed, report.Status)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0].Message, "timed out after 1s")
}

func TestCountCancelled(t *testing.T) {
	cfg := writeFakeJava(t, `#!/bin/sh
sleep 5
echo '{"status":"success","row_count":1}'
`)
	runner := counter.NewJarRunner(cfg, config.JarOptions{Threads: 10})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	report := runner.Count(ctx, orcJob())
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.Equal(t, model.StatusFailed, report.Status)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0].Message, "cancelled")
}

func TestCountMissingJar(t *testing.T) {
	cfg := writeFakeJava(t, "#!/bin/sh\nexit 0\n")
	cfg.JarPath = filepath.Join(t.TempDir(), "absent.jar")
	runner := counter.NewJarRunner(cfg, config.JarOptions{Threads: 10})

	report := runner.Count(context.Background(), orcJob())
	assert.Equal(t, model.StatusFailed, report.Status)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0].Message, "counter jar not found")
}

func TestCountArgumentContract(t *testing.T) {
	// The fake java dumps its argument vector so the flag contract can be
	// asserted per format.
	argsFile := filepath.Join(t.TempDir(), "args")
	t.Setenv("FAKE_JAVA_ARGS_FILE", argsFile)
	cfg := writeFakeJava(t, `#!/bin/sh
printf '%s\n' "$@" > "$FAKE_JAVA_ARGS_FILE"
echo '{"status":"success","row_count":0}'
`)
	cfg.HadoopConfDir = "/etc/hadoop/conf"
	runner := counter.NewJarRunner(cfg, config.JarOptions{Threads: 10})

	job := orcJob()
	job.Format = model.FormatTextfile
	job.Delimiter = "|"
	report := runner.Count(context.Background(), job)
	require.Equal(t, model.StatusSuccess, report.Status)

	raw, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	args := strings.Split(strings.TrimSpace(string(raw)), "\n")
	assert.Equal(t, []string{
		"-jar", cfg.JarPath,
		"--path", job.HDFSPath,
		"--format", "textfile",
		"--threads", "4",
		"--delimiter", "|",
		"--hadoop-conf", "/etc/hadoop/conf",
	}, args)
}

func TestCountNoDelimiterForColumnarFormats(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	t.Setenv("FAKE_JAVA_ARGS_FILE", argsFile)
	cfg := writeFakeJava(t, `#!/bin/sh
printf '%s\n' "$@" > "$FAKE_JAVA_ARGS_FILE"
echo '{"status":"success","row_count":0}'
`)
	runner := counter.NewJarRunner(cfg, config.JarOptions{Threads: 10})

	job := orcJob()
	job.Delimiter = "|" // configured but irrelevant for orc
	report := runner.Count(context.Background(), job)
	require.Equal(t, model.StatusSuccess, report.Status)

	raw, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "--delimiter")
}
