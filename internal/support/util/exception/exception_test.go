package exception_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/tally/internal/support/util/exception"
)

func TestNewAuditError(t *testing.T) {
	originalErr := errors.New("db connection refused")
	ae := exception.NewAuditError("sink", "failed to connect", originalErr, false, true)

	assert.Equal(t, "sink", ae.Module)
	assert.Equal(t, "failed to connect", ae.Message)
	assert.Equal(t, originalErr, ae.Unwrap())
	assert.True(t, ae.IsRetryable())
	assert.False(t, ae.IsSkippable())
	assert.Contains(t, ae.Error(), "[sink] failed to connect: db connection refused")
	assert.NotEmpty(t, ae.StackTrace)
}

func TestNewAuditErrorf(t *testing.T) {
	// Case 1: only message args
	ae1 := exception.NewAuditErrorf("fetcher", "task %s not found", "dwd_order")
	assert.False(t, ae1.IsRetryable())
	assert.False(t, ae1.IsSkippable())
	assert.Nil(t, ae1.Unwrap())
	assert.Contains(t, ae1.Error(), "[fetcher] task dwd_order not found")

	// Case 2: message args + isRetryable (a single bool is isRetryable)
	ae2 := exception.NewAuditErrorf("fetcher", "query timeout", true)
	assert.True(t, ae2.IsRetryable())
	assert.False(t, ae2.IsSkippable())

	// Case 3: message args + isSkippable + isRetryable, in that order
	ae3 := exception.NewAuditErrorf("counter", "bad record %d", 5, true, false)
	assert.False(t, ae3.IsRetryable())
	assert.True(t, ae3.IsSkippable())
	assert.Contains(t, ae3.Error(), "bad record 5")

	// Case 4: message args + originalErr
	original := errors.New("io error")
	ae4 := exception.NewAuditErrorf("watermark", "read failed", original)
	assert.Equal(t, original, ae4.Unwrap())

	// Case 5: flags and error together; the error comes last
	ae5 := exception.NewAuditErrorf("sink", "lock contention on %s", "audit_result", true, original)
	assert.True(t, ae5.IsRetryable())
	assert.Equal(t, original, ae5.Unwrap())
	assert.Contains(t, ae5.Error(), "lock contention on audit_result")
}

func TestIsAuditError(t *testing.T) {
	assert.True(t, exception.IsAuditError(exception.NewAuditErrorf("config", "bad value")))
	assert.False(t, exception.IsAuditError(errors.New("plain")))
	assert.False(t, exception.IsAuditError(nil))
}

func TestIsTemporary(t *testing.T) {
	// AuditError: the flag wins over message matching.
	retryable := exception.NewAuditErrorf("fetcher", "gone", true)
	assert.True(t, exception.IsTemporary(retryable))
	permanent := exception.NewAuditErrorf("fetcher", "timeout while parsing")
	assert.False(t, exception.IsTemporary(permanent))

	// Plain errors fall back to substring heuristics.
	assert.True(t, exception.IsTemporary(errors.New("dial tcp: connection refused")))
	assert.True(t, exception.IsTemporary(fmt.Errorf("read: unexpected EOF")))
	assert.False(t, exception.IsTemporary(errors.New("syntax error")))
	assert.False(t, exception.IsTemporary(nil))
}

func TestExtractErrorMessage(t *testing.T) {
	ae := exception.NewAuditError("sink", "insert rejected", errors.New("dup key"), false, false)
	assert.Equal(t, "insert rejected", exception.ExtractErrorMessage(ae))
	assert.Equal(t, "plain failure", exception.ExtractErrorMessage(errors.New("plain failure")))
	assert.Equal(t, "", exception.ExtractErrorMessage(nil))
}

func TestTruncate(t *testing.T) {
	// Under the limit: untouched.
	assert.Equal(t, "short", exception.Truncate("short", 100))

	// Over the limit: bounded and marked.
	long := strings.Repeat("x", 5000)
	got := exception.Truncate(long, 4096)
	assert.Len(t, got, 4096)
	assert.True(t, strings.HasSuffix(got, "...(truncated)"))

	// Limit smaller than the marker: plain cut.
	assert.Equal(t, "abc", exception.Truncate("abcdef", 3))

	// Non-positive limit disables truncation.
	assert.Equal(t, long, exception.Truncate(long, 0))
}
