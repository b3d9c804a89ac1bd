package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/codefionn/appforge/internal/logger"
	"github.com/codefionn/appforge/internal/sandbox"
	"github.com/codefionn/appforge/internal/search"
	"github.com/codefionn/appforge/internal/store"
)

// TimedOutStderr is reported when a short command outlives its wait
const TimedOutStderr = "Command timed out (running in background)"

var errNoSandbox = errors.New("sandbox is not available")

type shellOutcome struct {
	res *sandbox.ExecResult
	err error
}

func (d *Dispatcher) runShell(ctx context.Context, scope Scope, call Call) *Result {
	command, err := requireString(call.Args, "command")
	if err != nil {
		return failed(call, err)
	}
	command = strings.TrimSpace(command)
	if command == "" {
		return failed(call, argError("command must not be empty"))
	}
	if scope.Sandbox == nil {
		return failed(call, errNoSandbox)
	}

	if ClassifyCommand(command) == CommandLong {
		return d.startWorkflow(ctx, scope, call, backgroundCommand(command))
	}
	return d.runForeground(ctx, scope, call, command)
}

// runForeground waits for a short command. The sandbox gets the wait as its
// own budget; a guard slightly above it keeps an unresponsive sandbox from
// blocking the turn.
func (d *Dispatcher) runForeground(ctx context.Context, scope Scope, call Call, command string) *Result {
	wait := d.deps.ShellTimeout
	meta := newMetadata(d.now())
	meta.Command = command
	meta.TimeoutSeconds = int(wait / time.Second)

	done := make(chan shellOutcome, 1)
	go func() {
		res, err := scope.Sandbox.RunShell(ctx, command, wait)
		done <- shellOutcome{res: res, err: err}
	}()

	guard := time.NewTimer(wait + min(wait/2, time.Second))
	defer guard.Stop()

	var out shellOutcome
	select {
	case out = <-done:
	case <-guard.C:
		logger.Warn("tools: sandbox did not answer %q within %s", command, wait)
		out.res = &sandbox.ExecResult{TimedOut: true}
	case <-ctx.Done():
		return failed(call, ctx.Err())
	}

	if out.err != nil {
		return failed(call, fmt.Errorf("command failed to run: %w", out.err))
	}
	res := out.res

	if res.TimedOut {
		meta.WasTimedOut = true
		meta.WasBackgrounded = true
		meta.ProcessID = res.JobID
		meta.PID = res.PID
		meta.OutputSizeBytes, meta.OutputLineCount = CalculateOutputStats(res.Stdout)
		r := completed(call, fmt.Sprintf("`%s` is still running in the background", command), map[string]interface{}{
			"stdout":    res.Stdout,
			"stderr":    TimedOutStderr,
			"exit_code": 0,
			"job_id":    res.JobID,
		})
		r.Metadata = meta
		return r
	}

	meta.ExitCode = res.ExitCode
	meta.PID = res.PID
	meta.OutputSizeBytes, meta.OutputLineCount = CalculateOutputStats(res.Stdout)
	meta.StderrSizeBytes = len(res.Stderr)

	summary := fmt.Sprintf("Ran `%s`", command)
	if res.ExitCode != 0 {
		summary = fmt.Sprintf("`%s` exited with code %d", command, res.ExitCode)
	}
	r := completed(call, summary, map[string]interface{}{
		"stdout":    res.Stdout,
		"stderr":    res.Stderr,
		"exit_code": res.ExitCode,
	})
	r.Metadata = meta
	return r
}

// startWorkflow launches a persistent process and records it as the
// project's workflow command.
func (d *Dispatcher) startWorkflow(ctx context.Context, scope Scope, call Call, command string) *Result {
	meta := newMetadata(d.now())
	meta.Command = command
	meta.WasBackgrounded = true

	info, err := scope.Sandbox.StartBackground(ctx, command)
	if err != nil {
		return failed(call, fmt.Errorf("failed to start %q: %w", command, err))
	}
	meta.PID = info.PID
	meta.ProcessID = info.JobID

	output := map[string]interface{}{
		"command":     command,
		"job_id":      info.JobID,
		"preview_url": scope.Sandbox.PreviewURL(),
		"workflow":    "saved",
	}
	if err := d.deps.Workflows.SetWorkflowCommand(ctx, scope.ProjectID, command); err != nil {
		logger.Warn("tools: failed to persist workflow command for %s: %v", scope.ProjectID, err)
		output["workflow"] = outcomeError
		output["workflow_error"] = err.Error()
	}

	return &Result{
		Tool:     call.Tool,
		Args:     call.Args,
		Summary:  fmt.Sprintf("Started `%s` in the background", command),
		Status:   store.StatusInProgress,
		Output:   output,
		Metadata: meta,
	}
}

func (d *Dispatcher) configureWorkflow(ctx context.Context, scope Scope, call Call) *Result {
	command, err := requireString(call.Args, "command")
	if err != nil {
		return failed(call, err)
	}
	command = backgroundCommand(command)
	if command == "" {
		return failed(call, argError("command must not be empty"))
	}

	if GetBoolParam(call.Args, "run", false) {
		if scope.Sandbox == nil {
			return failed(call, errNoSandbox)
		}
		return d.startWorkflow(ctx, scope, call, command)
	}

	if err := d.deps.Workflows.SetWorkflowCommand(ctx, scope.ProjectID, command); err != nil {
		return failed(call, err)
	}
	return completed(call, fmt.Sprintf("Workflow command set to `%s`", command), map[string]interface{}{
		"command": command,
	})
}

func (d *Dispatcher) runCode(ctx context.Context, scope Scope, call Call) *Result {
	code, err := requireString(call.Args, "code")
	if err != nil {
		return failed(call, err)
	}
	language := GetStringParam(call.Args, "language", "python")
	if scope.Sandbox == nil {
		return failed(call, errNoSandbox)
	}

	meta := newMetadata(d.now())
	meta.Command = language + " snippet"
	meta.TimeoutSeconds = int(d.deps.CodeTimeout / time.Second)

	res, err := scope.Sandbox.RunCode(ctx, language, code, d.deps.CodeTimeout)
	if err != nil {
		return failed(call, err)
	}
	meta.ExitCode = res.ExitCode
	meta.WasTimedOut = res.TimedOut
	meta.OutputSizeBytes, meta.OutputLineCount = CalculateOutputStats(res.Stdout)
	meta.StderrSizeBytes = len(res.Stderr)

	summary := fmt.Sprintf("Ran %s snippet", language)
	switch {
	case res.TimedOut:
		summary = fmt.Sprintf("%s snippet timed out after %s", language, d.deps.CodeTimeout)
	case res.ExitCode != 0:
		summary = fmt.Sprintf("%s snippet exited with code %d", language, res.ExitCode)
	}
	r := completed(call, summary, map[string]interface{}{
		"stdout":    res.Stdout,
		"stderr":    res.Stderr,
		"exit_code": res.ExitCode,
		"timed_out": res.TimedOut,
	})
	r.Metadata = meta
	return r
}

func (d *Dispatcher) webSearch(ctx context.Context, scope Scope, call Call) *Result {
	query, err := requireString(call.Args, "query")
	if err != nil {
		return failed(call, err)
	}
	if strings.TrimSpace(query) == "" {
		return failed(call, argError("query must not be empty"))
	}
	if d.deps.Search == nil {
		return failed(call, search.ErrNotConfigured)
	}

	n := search.ClampResults(GetIntParam(call.Args, "num_results", 0))
	resp, err := d.deps.Search.Search(ctx, query, n)
	if err != nil {
		return failed(call, fmt.Errorf("%s search failed: %w", d.deps.Search.Name(), err))
	}

	results := make([]interface{}, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, map[string]interface{}{
			"title":   r.Title,
			"url":     r.URL,
			"snippet": r.Snippet,
		})
	}
	return completed(call, fmt.Sprintf("Found %d results for %q", len(results), query), map[string]interface{}{
		"query":   query,
		"results": results,
	})
}
