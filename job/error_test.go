package job

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/airbais/conductor/errors"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, ErrorCodeUnknown},
		{"context deadline", errors.New("context deadline exceeded"), ErrorCodeTimeout},
		{"tool timed out", errors.New("tool llmevaluator timed out after 15m0s"), ErrorCodeTimeout},
		{"panic", errors.New("panic during job execution: nil map write"), ErrorCodePanic},
		{"cancelled", errors.New("job cancelled"), ErrorCodeCancelled},
		{"missing file", errors.New("open rules.yaml: no such file or directory"), ErrorCodeFileNotFound},
		{"parse failure", errors.New("failed to parse dashboard-data.json"), ErrorCodeParseError},
		{"network", errors.New("connection refused"), ErrorCodeNetworkError},
		{"validation", errors.New("validation failed: url is required"), ErrorCodeValidationError},
		{"exit status", errors.New("tool geoevaluator execution failed: exit status 2"), ErrorCodeToolError},
		{"anything else", errors.New("something odd happened"), ErrorCodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}

func TestStatusIsTerminal(t *testing.T) {
	assert.False(t, StatusQueued.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
}

func TestIsValidStatus(t *testing.T) {
	for _, s := range []string{"queued", "running", "completed", "failed", "cancelled"} {
		assert.True(t, IsValidStatus(s), s)
	}
	assert.False(t, IsValidStatus("paused"))
	assert.False(t, IsValidStatus(""))
}
