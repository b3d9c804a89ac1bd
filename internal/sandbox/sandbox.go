// Package sandbox is the per-project execution environment: a workspace
// directory, shell and interpreter execution, and background jobs.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

var (
	// ErrPathEscape is returned for paths that leave the workspace
	ErrPathEscape = errors.New("sandbox: path escapes workspace")
	// ErrClosed is returned by operations on a closed sandbox or registry
	ErrClosed = errors.New("sandbox: closed")
	// ErrUnsupportedLanguage is returned by RunCode for unknown languages
	ErrUnsupportedLanguage = errors.New("sandbox: unsupported language")
)

// ExecResult is the outcome of a shell command or code execution
type ExecResult struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`

	// TimedOut is set when the wait budget elapsed. For RunShell the process
	// keeps running as the background job JobID.
	TimedOut bool   `json:"timed_out,omitempty"`
	JobID    string `json:"job_id,omitempty"`
	PID      int    `json:"pid,omitempty"`
}

// ProcessInfo describes a background job
type ProcessInfo struct {
	JobID      string    `json:"job_id"`
	PID        int       `json:"pid"`
	Command    string    `json:"command"`
	StartedAt  time.Time `json:"started_at"`
	Running    bool      `json:"running"`
	ExitCode   int       `json:"exit_code"`
	StdoutTail []string  `json:"stdout_tail,omitempty"`
	StderrTail []string  `json:"stderr_tail,omitempty"`
}

// Sandbox is the execution service of one project
type Sandbox interface {
	// RunShell runs command and waits at most wait for it to finish
	RunShell(ctx context.Context, command string, wait time.Duration) (*ExecResult, error)
	// StartBackground starts command without waiting
	StartBackground(ctx context.Context, command string) (*ProcessInfo, error)
	// RunCode executes a snippet in an interpreter for language
	RunCode(ctx context.Context, language, code string, timeout time.Duration) (*ExecResult, error)
	WriteFile(ctx context.Context, path string, data []byte) error
	ReadFile(ctx context.Context, path string) ([]byte, error)
	RemoveFile(ctx context.Context, path string) error
	// PreviewURL is where the project's dev server is reachable
	PreviewURL() string
	ListProcesses(ctx context.Context) ([]ProcessInfo, error)
	Close() error
}

// CleanPath normalises a project-relative path. Leading slashes are dropped;
// paths that resolve outside the project fail with ErrPathEscape.
func CleanPath(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrPathEscape)
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, p)
	}
	return cleaned, nil
}
