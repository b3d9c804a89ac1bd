package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/codefionn/appforge/internal/blob"
	"github.com/codefionn/appforge/internal/sandbox"
	"github.com/codefionn/appforge/internal/store"
)

// Call is a tool invocation recognised in the model output
type Call struct {
	Tool Name                   `json:"tool"`
	Args map[string]interface{} `json:"args"`
}

// Result is the outcome of one tool call. A Result exists only after the
// side effect returned.
type Result struct {
	Tool     Name                   `json:"tool"`
	Args     map[string]interface{} `json:"args"`
	Summary  string                 `json:"summary"`
	Status   store.Status           `json:"status"`
	Output   map[string]interface{} `json:"output,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Metadata *ExecutionMetadata     `json:"metadata,omitempty"`
}

// Failed reports whether the call ended in an error
func (r *Result) Failed() bool {
	return r.Status == store.StatusError
}

// Record converts the result into its persisted form
func (r *Result) Record() store.ToolCallRecord {
	return store.ToolCallRecord{
		Tool:    string(r.Tool),
		Args:    r.Args,
		Summary: r.Summary,
		Result:  r.Output,
		Status:  r.Status,
		Error:   r.Error,
	}
}

// ExecutionMetadata captures detailed information about tool execution
type ExecutionMetadata struct {
	// Timing information
	StartTime  *time.Time `json:"start_time,omitempty"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	DurationMs int64      `json:"duration_ms,omitempty"`

	// Command/process information
	Command   string `json:"command,omitempty"`
	ExitCode  int    `json:"exit_code,omitempty"`
	PID       int    `json:"pid,omitempty"`
	ProcessID string `json:"process_id,omitempty"` // background job id

	// Output statistics
	OutputSizeBytes int `json:"output_size_bytes,omitempty"`
	OutputLineCount int `json:"output_line_count,omitempty"`
	StderrSizeBytes int `json:"stderr_size_bytes,omitempty"`

	TimeoutSeconds  int  `json:"timeout_seconds,omitempty"`
	WasTimedOut     bool `json:"was_timed_out,omitempty"`
	WasBackgrounded bool `json:"was_backgrounded,omitempty"`

	// Error classification
	ErrorType string `json:"error_type,omitempty"` // "timeout", "not_found", "invalid_path", ...
}

func newMetadata(start time.Time) *ExecutionMetadata {
	return &ExecutionMetadata{StartTime: &start}
}

func (m *ExecutionMetadata) finish() {
	end := time.Now()
	m.EndTime = &end
	if m.StartTime != nil {
		m.DurationMs = end.Sub(*m.StartTime).Milliseconds()
	}
}

func completed(call Call, summary string, output map[string]interface{}) *Result {
	return &Result{
		Tool:    call.Tool,
		Args:    call.Args,
		Summary: summary,
		Status:  store.StatusCompleted,
		Output:  output,
	}
}

func failed(call Call, err error) *Result {
	return &Result{
		Tool:    call.Tool,
		Args:    call.Args,
		Summary: fmt.Sprintf("%s failed: %v", call.Tool, err),
		Status:  store.StatusError,
		Error:   err.Error(),
		Metadata: &ExecutionMetadata{
			ErrorType: classifyError(err),
		},
	}
}

// classifyError attempts to categorize errors for better summaries
func classifyError(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, sandbox.ErrPathEscape), errors.Is(err, blob.ErrInvalidKey):
		return "invalid_path"
	case errors.Is(err, blob.ErrNotFound), errors.Is(err, store.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return "not_found"
	case errors.Is(err, errArgument):
		return "invalid_argument"
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return "timeout"
	case strings.Contains(errStr, "permission denied") || strings.Contains(errStr, "access denied"):
		return "permission"
	case strings.Contains(errStr, "network") || strings.Contains(errStr, "connection"):
		return "network"
	default:
		return "unknown"
	}
}

// CalculateOutputStats computes statistics for output content
func CalculateOutputStats(content string) (bytes int, lines int) {
	if content == "" {
		return 0, 0
	}
	bytes = len(content)
	lines = strings.Count(content, "\n") + 1
	return bytes, lines
}

var errArgument = errors.New("invalid argument")

func argError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errArgument, fmt.Sprintf(format, args...))
}

// GetStringParam returns a string argument or defaultVal
func GetStringParam(params map[string]interface{}, key string, defaultVal string) string {
	if val, ok := params[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return defaultVal
}

// GetIntParam returns an integer argument or defaultVal
func GetIntParam(params map[string]interface{}, key string, defaultVal int) int {
	if val, ok := params[key]; ok {
		switch v := val.(type) {
		case int:
			return v
		case float64:
			return int(v)
		case json.Number:
			if i, err := v.Int64(); err == nil {
				return int(i)
			}
		case string:
			var n int
			if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
				return n
			}
		}
	}
	return defaultVal
}

// GetBoolParam returns a boolean argument or defaultVal
func GetBoolParam(params map[string]interface{}, key string, defaultVal bool) bool {
	if val, ok := params[key]; ok {
		switch v := val.(type) {
		case bool:
			return v
		case string:
			switch strings.ToLower(v) {
			case "true", "yes", "1":
				return true
			case "false", "no", "0":
				return false
			}
		}
	}
	return defaultVal
}

func requireString(params map[string]interface{}, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", argError("%s is required", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", argError("%s must be a string", key)
	}
	return s, nil
}
