package counter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/tigerroll/tally/internal/config"
	"github.com/tigerroll/tally/internal/domain/model"
	"github.com/tigerroll/tally/internal/support/util/logger"
)

// maxCaptureBytes bounds how much subprocess output is kept per stream.
// Anything beyond is discarded; the report line is expected well before
// this limit.
const maxCaptureBytes = 8 << 20

// stderrTailBytes is how much trailing stderr is folded into error messages.
const stderrTailBytes = 2048

// JarRunner runs the HDFS counter jar once per job. The jar prints its
// result as a single-line JSON document on stdout; that document is
// authoritative and the exit code (0 success, 2 partial, anything else
// failed) is only advisory.
type JarRunner struct {
	cfg  config.CounterConfig
	opts config.JarOptions

	validateOnce sync.Once
	validateErr  error
}

// NewJarRunner creates a runner. The jar path is validated lazily on first
// Count so that dry runs never touch the filesystem.
func NewJarRunner(cfg config.CounterConfig, opts config.JarOptions) *JarRunner {
	return &JarRunner{cfg: cfg, opts: opts}
}

// Count runs the counter for one job and normalizes whatever happened into
// a report. Subprocess failure, timeout, cancellation and malformed output
// all yield a failed report carrying the reason.
func (r *JarRunner) Count(ctx context.Context, job model.AuditJob) model.CountReport {
	const op = "JarRunner.Count"
	if err := r.validate(); err != nil {
		return model.NewFailedReport(job.HDFSPath, err.Error())
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if r.opts.TimeoutSeconds > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(r.opts.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	args := r.buildArgs(job)
	cmd := exec.Command(r.javaCommand(), args...)
	// The jar forks hadoop client helpers; a process group lets timeout and
	// cancellation kill the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = r.environ()
	stdout := &cappedBuffer{max: maxCaptureBytes}
	stderr := &cappedBuffer{max: maxCaptureBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	logger.Debugf("%s: exec %s %s", op, r.javaCommand(), strings.Join(args, " "))
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return model.NewFailedReport(job.HDFSPath, fmt.Sprintf("failed to start counter: %v", err))
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case <-runCtx.Done():
		killProcessGroup(cmd)
		<-done
		reason := fmt.Sprintf("counter timed out after %ds", r.opts.TimeoutSeconds)
		if ctx.Err() != nil {
			reason = "counter cancelled"
		}
		logger.Warnf("%s: %s for %s", op, reason, job.Label())
		return model.NewFailedReport(job.HDFSPath, fmt.Sprintf("%s; stderr: %s", reason, tail(stderr.String(), stderrTailBytes)))
	case waitErr = <-done:
	}
	elapsed := time.Since(start)

	exitCode := 0
	if waitErr != nil {
		var ee *exec.ExitError
		if !errors.As(waitErr, &ee) {
			return model.NewFailedReport(job.HDFSPath, fmt.Sprintf("counter wait failed: %v", waitErr))
		}
		exitCode = ee.ExitCode()
	}

	report, ok := parseReport(stdout.Bytes())
	if !ok {
		msg := fmt.Sprintf("no valid JSON report on stdout (exit code %d); stderr: %s", exitCode, tail(stderr.String(), stderrTailBytes))
		if stdout.truncated {
			msg += " (stdout truncated at capture limit)"
		}
		logger.Warnf("%s: %s: %s", op, job.Label(), msg)
		return model.NewFailedReport(job.HDFSPath, msg)
	}
	if implied := statusFromExitCode(exitCode); implied != report.Status {
		logger.Warnf("%s: %s: exit code %d implies status '%s' but report says '%s', trusting the report",
			op, job.Label(), exitCode, implied, report.Status)
	}
	if report.DurationMs == 0 {
		report.DurationMs = elapsed.Milliseconds()
	}
	return report
}

// validate checks the jar once per process.
func (r *JarRunner) validate() error {
	r.validateOnce.Do(func() {
		if r.cfg.JarPath == "" {
			r.validateErr = fmt.Errorf("counter jar path is not configured")
			return
		}
		if _, err := os.Stat(r.cfg.JarPath); err != nil {
			r.validateErr = fmt.Errorf("counter jar not found at '%s': %v", r.cfg.JarPath, err)
		}
	})
	return r.validateErr
}

// buildArgs assembles the jar invocation for one job. --delimiter only
// applies to textfile tables; --hadoop-conf is passed when configured.
func (r *JarRunner) buildArgs(job model.AuditJob) []string {
	args := []string{
		"-jar", r.cfg.JarPath,
		"--path", job.HDFSPath,
		"--format", string(job.Format),
		"--threads", strconv.Itoa(job.JarThreads),
	}
	if job.Format == model.FormatTextfile && job.Delimiter != "" {
		args = append(args, "--delimiter", job.Delimiter)
	}
	if r.cfg.HadoopConfDir != "" {
		args = append(args, "--hadoop-conf", r.cfg.HadoopConfDir)
	}
	return args
}

// javaCommand resolves the java binary, preferring an explicit JAVA_HOME.
func (r *JarRunner) javaCommand() string {
	if r.cfg.JavaHome != "" {
		return filepath.Join(r.cfg.JavaHome, "bin", "java")
	}
	return "java"
}

// environ passes the parent environment through, pinning the Hadoop
// variables the jar resolves its client config from.
func (r *JarRunner) environ() []string {
	env := os.Environ()
	if r.cfg.JavaHome != "" {
		env = append(env, "JAVA_HOME="+r.cfg.JavaHome)
	}
	if r.cfg.HadoopConfDir != "" {
		env = append(env, "HADOOP_CONF_DIR="+r.cfg.HadoopConfDir)
	}
	return env
}

// parseReport extracts the last valid report from the subprocess stdout.
// Candidate lines start with '{' in column 0; they are tried from the last
// backwards so trailing log noise after the report does not mask it.
func parseReport(stdout []byte) (model.CountReport, bool) {
	lines := bytes.Split(stdout, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimRight(lines[i], "\r")
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var report model.CountReport
		if err := json.Unmarshal(line, &report); err != nil {
			continue
		}
		if !report.Status.IsValid() {
			continue
		}
		return report, true
	}
	return model.CountReport{}, false
}

// statusFromExitCode maps the advisory exit code to a status.
func statusFromExitCode(code int) model.ReportStatus {
	switch code {
	case 0:
		return model.StatusSuccess
	case 2:
		return model.StatusPartial
	default:
		return model.StatusFailed
	}
}

// killProcessGroup force-kills the subprocess and everything it spawned.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	// Setpgid made the child its own group leader.
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

// tail returns the last max bytes of s.
func tail(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}

// cappedBuffer keeps the first max bytes written and silently drops the
// rest, so a chatty subprocess cannot exhaust memory.
type cappedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.max - b.buf.Len()
	if room <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) Bytes() []byte  { return b.buf.Bytes() }
func (b *cappedBuffer) String() string { return b.buf.String() }
