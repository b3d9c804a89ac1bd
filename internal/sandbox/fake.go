package sandbox

import (
	"context"
	"fmt"
	"io/fs"
	"sync"
	"time"
)

// FakeSandbox is an in-memory Sandbox for tests. Hooks override the default
// behaviour; error fields inject failures.
type FakeSandbox struct {
	mu sync.Mutex

	Files      map[string][]byte
	Commands   []string
	Background []string
	Processes  []ProcessInfo
	Preview    string
	Closed     bool

	// ShellFunc handles RunShell; the default returns exit code 0
	ShellFunc func(ctx context.Context, command string, wait time.Duration) (*ExecResult, error)
	// CodeFunc handles RunCode; the default echoes the code on stdout
	CodeFunc func(ctx context.Context, language, code string) (*ExecResult, error)

	WriteErr      error
	ReadErr       error
	RemoveErr     error
	ListErr       error
	BackgroundErr error
}

func NewFakeSandbox() *FakeSandbox {
	return &FakeSandbox{
		Files:   make(map[string][]byte),
		Preview: "http://127.0.0.1:1",
	}
}

func (f *FakeSandbox) RunShell(ctx context.Context, command string, wait time.Duration) (*ExecResult, error) {
	f.mu.Lock()
	f.Commands = append(f.Commands, command)
	fn := f.ShellFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, command, wait)
	}
	return &ExecResult{Stdout: "ok\n"}, nil
}

func (f *FakeSandbox) StartBackground(ctx context.Context, command string) (*ProcessInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BackgroundErr != nil {
		return nil, f.BackgroundErr
	}
	f.Background = append(f.Background, command)
	info := ProcessInfo{
		JobID:     fmt.Sprintf("job-%d", len(f.Background)),
		PID:       1000 + len(f.Background),
		Command:   command,
		StartedAt: time.Now(),
		Running:   true,
	}
	f.Processes = append(f.Processes, info)
	return &info, nil
}

func (f *FakeSandbox) RunCode(ctx context.Context, language, code string, timeout time.Duration) (*ExecResult, error) {
	f.mu.Lock()
	fn := f.CodeFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, language, code)
	}
	return &ExecResult{Stdout: code}, nil
}

func (f *FakeSandbox) WriteFile(ctx context.Context, path string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WriteErr != nil {
		return f.WriteErr
	}
	f.Files[path] = append([]byte(nil), data...)
	return nil
}

func (f *FakeSandbox) ReadFile(ctx context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadErr != nil {
		return nil, f.ReadErr
	}
	data, ok := f.Files[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return data, nil
}

func (f *FakeSandbox) RemoveFile(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RemoveErr != nil {
		return f.RemoveErr
	}
	if _, ok := f.Files[path]; !ok {
		return fs.ErrNotExist
	}
	delete(f.Files, path)
	return nil
}

func (f *FakeSandbox) PreviewURL() string {
	return f.Preview
}

func (f *FakeSandbox) ListProcesses(ctx context.Context) ([]ProcessInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	return append([]ProcessInfo(nil), f.Processes...), nil
}

func (f *FakeSandbox) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// CommandLog returns a copy of the shell commands received
func (f *FakeSandbox) CommandLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Commands...)
}

// BackgroundLog returns a copy of the background commands received
func (f *FakeSandbox) BackgroundLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Background...)
}

// IsClosed reports whether Close was called
func (f *FakeSandbox) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Closed
}
