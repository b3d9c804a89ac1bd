package tools

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/codefionn/appforge/internal/blob"
	"github.com/codefionn/appforge/internal/consts"
	"github.com/codefionn/appforge/internal/logger"
	"github.com/codefionn/appforge/internal/sandbox"
	"github.com/codefionn/appforge/internal/search"
	"github.com/codefionn/appforge/internal/store"
)

// FileRecords is the file repository used by the file tools
type FileRecords interface {
	UpsertFile(ctx context.Context, f *store.File) (bool, error)
	GetFile(ctx context.Context, projectID, path string) (*store.File, error)
	ListFiles(ctx context.Context, projectID string) ([]*store.File, error)
	DeleteFile(ctx context.Context, projectID, path string) error
}

// WorkflowStore persists the command replayed on sandbox creation
type WorkflowStore interface {
	SetWorkflowCommand(ctx context.Context, projectID, command string) error
}

// Deps are the collaborators of a Dispatcher. Search may be nil.
type Deps struct {
	Blobs     blob.Store
	Files     FileRecords
	Workflows WorkflowStore
	Search    search.Provider

	ShellTimeout time.Duration
	CodeTimeout  time.Duration
}

// Scope is the project a call runs against. Sandbox may be nil when it
// could not be created.
type Scope struct {
	ProjectID string
	Sandbox   sandbox.Sandbox
}

type handlerFunc func(d *Dispatcher, ctx context.Context, scope Scope, call Call) *Result

// handlers maps every catalog entry to its implementation
func handlers() map[Name]handlerFunc {
	return map[Name]handlerFunc{
		ToolNameCreateBoilerplate: (*Dispatcher).createBoilerplate,
		ToolNameWriteFile:         (*Dispatcher).writeFileTool,
		ToolNameEditFile:          (*Dispatcher).editFile,
		ToolNameDeleteFile:        (*Dispatcher).deleteFile,
		ToolNameListFiles:         (*Dispatcher).listFiles,
		ToolNameReadFile:          (*Dispatcher).readFile,
		ToolNameRunShell:          (*Dispatcher).runShell,
		ToolNameRunCode:           (*Dispatcher).runCode,
		ToolNameWebSearch:         (*Dispatcher).webSearch,
		ToolNameConfigureWorkflow: (*Dispatcher).configureWorkflow,
	}
}

// Dispatcher executes tool calls against storage, sandbox and search
type Dispatcher struct {
	deps     Deps
	handlers map[Name]handlerFunc
	now      func() time.Time
}

// NewDispatcher creates a dispatcher. Zero timeouts take the defaults.
func NewDispatcher(deps Deps) *Dispatcher {
	if deps.ShellTimeout <= 0 {
		deps.ShellTimeout = consts.Timeout10Seconds
	}
	if deps.CodeTimeout <= 0 {
		deps.CodeTimeout = consts.Timeout30Seconds
	}
	return &Dispatcher{
		deps:     deps,
		handlers: handlers(),
		now:      time.Now,
	}
}

// HasSearch reports whether web_search is available
func (d *Dispatcher) HasSearch() bool {
	return d.deps.Search != nil
}

// Execute runs call and always returns a result. Failures, panics included,
// become error results.
func (d *Dispatcher) Execute(ctx context.Context, scope Scope, call Call) (res *Result) {
	if call.Args == nil {
		call.Args = map[string]interface{}{}
	}
	h, ok := d.handlers[call.Tool]
	if !ok {
		return failed(call, fmt.Errorf("unknown tool %q", call.Tool))
	}

	start := d.now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("tools: %s panicked: %v\n%s", call.Tool, r, debug.Stack())
			res = failed(call, fmt.Errorf("tool panicked: %v", r))
		}
		if res.Metadata == nil {
			res.Metadata = &ExecutionMetadata{}
		}
		if res.Metadata.StartTime == nil {
			res.Metadata.StartTime = &start
		}
		res.Metadata.finish()
		if res.Failed() {
			logger.Warn("tools: %s failed for project %s: %s", call.Tool, scope.ProjectID, res.Error)
		} else {
			logger.Debug("tools: %s %s (%dms)", call.Tool, res.Status, res.Metadata.DurationMs)
		}
	}()

	return h(d, ctx, scope, call)
}
