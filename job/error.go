package job

import (
	"strings"
)

// ErrorCode represents the classification of a job failure
type ErrorCode string

const (
	ErrorCodeFileNotFound    ErrorCode = "file_not_found"
	ErrorCodeParseError      ErrorCode = "parse_error"
	ErrorCodeNetworkError    ErrorCode = "network_error"
	ErrorCodeValidationError ErrorCode = "validation_error"
	ErrorCodeToolError       ErrorCode = "tool_error"
	ErrorCodeTimeout         ErrorCode = "timeout"
	ErrorCodeCancelled       ErrorCode = "cancelled"
	ErrorCodeInterrupted     ErrorCode = "interrupted"
	ErrorCodePanic           ErrorCode = "panic"
	ErrorCodeUnknown         ErrorCode = "unknown"
)

// ClassifyError categorizes a tool failure based on its message.
// The classification is stored alongside the message on the job record
// so callers can distinguish transient failures from permanent ones.
func ClassifyError(err error) ErrorCode {
	if err == nil {
		return ErrorCodeUnknown
	}

	errLower := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errLower, "deadline exceeded") ||
		strings.Contains(errLower, "timed out") ||
		strings.Contains(errLower, "timeout"):
		return ErrorCodeTimeout

	case strings.Contains(errLower, "panic"):
		return ErrorCodePanic

	case strings.Contains(errLower, "cancelled") ||
		strings.Contains(errLower, "context canceled"):
		return ErrorCodeCancelled

	case strings.Contains(errLower, "no such file") ||
		strings.Contains(errLower, "file not found"):
		return ErrorCodeFileNotFound

	case strings.Contains(errLower, "parse") ||
		strings.Contains(errLower, "unmarshal") ||
		strings.Contains(errLower, "invalid json"):
		return ErrorCodeParseError

	case strings.Contains(errLower, "network") ||
		strings.Contains(errLower, "connection"):
		return ErrorCodeNetworkError

	case strings.Contains(errLower, "validation") ||
		strings.Contains(errLower, "invalid"):
		return ErrorCodeValidationError

	case strings.Contains(errLower, "execution failed") ||
		strings.Contains(errLower, "exit status"):
		return ErrorCodeToolError

	default:
		return ErrorCodeUnknown
	}
}
