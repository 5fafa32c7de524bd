// Package exception provides the custom error type and error utilities used
// across tally. Errors are tagged with the component module that raised them
// and carry retry/skip hints for the orchestration layer.
package exception

import (
	"fmt"
	"runtime"
	"strings"
)

// AuditError is the error type raised by tally components.
// It holds the module where the error occurred, a message, the wrapped
// original error, and flags indicating whether it is retryable or skippable.
type AuditError struct {
	// Module indicates the component where the error occurred
	// (e.g. "config", "fetcher", "counter", "sink", "watermark").
	Module string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped original error.
	OriginalErr error
	// isRetryable indicates whether this error is retryable.
	isRetryable bool
	// isSkippable indicates whether this error is skippable.
	isSkippable bool
	// StackTrace is the stack trace at the time of the error (for debugging).
	StackTrace string
}

// NewAuditError creates a new AuditError instance.
//
// module: The component where the error occurred.
// message: The error message.
// originalErr: The original error to wrap.
// isSkippable: Whether this error is skippable.
// isRetryable: Whether this error is retryable.
func NewAuditError(module, message string, originalErr error, isSkippable, isRetryable bool) *AuditError {
	return &AuditError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  captureStack(),
	}
}

// NewAuditErrorf creates a new AuditError using a format string.
// Optional flags and an error are extracted from the end of the variadic
// arguments 'a' in the order: [isSkippable bool], [isRetryable bool],
// [originalErr error]. The remaining arguments feed fmt.Sprintf.
//
// Examples:
//
//	NewAuditErrorf("counter", "count failed for %s", path, true, false, err)
//	-> message: "count failed for <path>", isSkippable: true, isRetryable: false, originalErr: err
//
//	NewAuditErrorf("sink", "insert rejected", sql.ErrConnDone)
//	-> message: "insert rejected", flags false, originalErr: sql.ErrConnDone
func NewAuditErrorf(module, format string, a ...interface{}) *AuditError {
	var originalErr error
	isRetryable := false
	isSkippable := false
	args := a

	// Peel optional arguments off the end: error first, then the two flags.
	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			originalErr = err
			args = args[:len(args)-1]
		}
	}
	if len(args) > 0 {
		if b, ok := args[len(args)-1].(bool); ok {
			isRetryable = b
			args = args[:len(args)-1]
		}
	}
	if len(args) > 0 {
		if b, ok := args[len(args)-1].(bool); ok {
			isSkippable = b
			args = args[:len(args)-1]
		}
	}

	return &AuditError{
		Module:      module,
		Message:     fmt.Sprintf(format, args...),
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  captureStack(),
	}
}

// captureStack records the calling goroutine's stack for diagnostics.
func captureStack() string {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// Error implements the error interface.
func (e *AuditError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Unwrap.
func (e *AuditError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable returns whether this error is retryable.
func (e *AuditError) IsRetryable() bool {
	return e.isRetryable
}

// IsSkippable returns whether this error is skippable.
func (e *AuditError) IsSkippable() bool {
	return e.isSkippable
}

// IsAuditError determines if the given error is of type AuditError.
func IsAuditError(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(*AuditError)
	return ok
}

// IsTemporary determines if an error looks transient (network hiccup,
// temporary DB connection issue). For an AuditError the IsRetryable flag
// takes precedence; otherwise common transient substrings are matched.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if ae, ok := err.(*AuditError); ok {
		return ae.IsRetryable()
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF")
}

// ExtractErrorMessage extracts the error message string from an error.
// For AuditError it returns the cleaner Message field; otherwise the
// standard Error() string.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	if ae, ok := err.(*AuditError); ok {
		return ae.Message
	}
	return err.Error()
}

// Truncate bounds a message to max bytes, appending a marker when cut.
// Ledger error payloads and log lines use this to stay within sane sizes.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	const marker = "...(truncated)"
	if max <= len(marker) {
		return s[:max]
	}
	return s[:max-len(marker)] + marker
}
