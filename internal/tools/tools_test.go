package tools

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/appforge/internal/blob"
	"github.com/codefionn/appforge/internal/sandbox"
	"github.com/codefionn/appforge/internal/search"
	"github.com/codefionn/appforge/internal/store"
)

func TestHandlersCoverCatalog(t *testing.T) {
	table := handlers()
	for _, name := range Names() {
		_, ok := table[name]
		assert.True(t, ok, "no handler for %s", name)
		assert.True(t, IsKnown(string(name)))
	}
	assert.Len(t, table, len(Names()))
	assert.False(t, IsKnown("rm_rf"))
}

func TestCatalog(t *testing.T) {
	assert.Len(t, Catalog(true), len(Names()))
	for _, s := range Catalog(false) {
		assert.NotEqual(t, ToolNameWebSearch, s.Name)
	}
}

func TestExecute_UnknownTool(t *testing.T) {
	f := newFixture(t, nil)
	res := f.exec(t, Name("format_disk"), nil)
	assert.True(t, res.Failed())
	assert.Contains(t, res.Error, "unknown tool")
}

func TestWriteFile(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res := f.exec(t, ToolNameWriteFile, map[string]interface{}{"path": "/index.html", "content": "<div>{hi}</div>"})
	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, store.StatusCompleted, res.Status)
	assert.Equal(t, "index.html", res.Output["path"])
	assert.Equal(t, true, res.Output["created"])
	assert.Equal(t, outcomeWritten, res.Output["sandbox"])

	data, err := f.blobs.Get(ctx, blob.FileKey(f.project.ID, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<div>{hi}</div>", string(data))
	assert.Equal(t, "<div>{hi}</div>", string(f.sb.Files["index.html"]))

	rec, err := f.db.GetFile(ctx, f.project.ID, "index.html")
	require.NoError(t, err)
	assert.EqualValues(t, 15, rec.Size)
	assert.Equal(t, Checksum([]byte("<div>{hi}</div>")), rec.Checksum)

	// same content again: idempotent, no duplicate record
	res = f.exec(t, ToolNameWriteFile, map[string]interface{}{"path": "index.html", "content": "<div>{hi}</div>"})
	require.False(t, res.Failed())
	assert.Equal(t, outcomeUnchanged, res.Output["storage"])
	assert.Contains(t, res.Summary, "unchanged")

	res = f.exec(t, ToolNameWriteFile, map[string]interface{}{"path": "index.html", "content": "<p>new</p>"})
	require.False(t, res.Failed())
	assert.Equal(t, false, res.Output["created"])

	files, err := f.db.ListFiles(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestWriteFile_SandboxMirrorFailureIsReported(t *testing.T) {
	f := newFixture(t, nil)
	f.sb.WriteErr = errors.New("sandbox unreachable")

	res := f.exec(t, ToolNameWriteFile, map[string]interface{}{"path": "app.py", "content": "print(1)"})
	require.False(t, res.Failed())
	assert.Equal(t, outcomeError, res.Output["sandbox"])
	assert.Equal(t, "sandbox unreachable", res.Output["sandbox_error"])
	assert.Contains(t, res.Summary, "sandbox sync failed")
}

func TestWriteFile_StorageFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.blobs.FailPut[blob.FileKey(f.project.ID, "a.txt")] = errors.New("bucket offline")

	res := f.exec(t, ToolNameWriteFile, map[string]interface{}{"path": "a.txt", "content": "x"})
	assert.True(t, res.Failed())
	assert.Contains(t, res.Error, "bucket offline")

	_, err := f.db.GetFile(context.Background(), f.project.ID, "a.txt")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestWriteFile_InvalidArguments(t *testing.T) {
	f := newFixture(t, nil)

	res := f.exec(t, ToolNameWriteFile, map[string]interface{}{"path": "../../etc/passwd", "content": "x"})
	assert.True(t, res.Failed())
	assert.Equal(t, "invalid_path", res.Metadata.ErrorType)

	res = f.exec(t, ToolNameWriteFile, map[string]interface{}{"path": "a.txt"})
	assert.True(t, res.Failed())
	assert.Equal(t, "invalid_argument", res.Metadata.ErrorType)

	res = f.exec(t, ToolNameWriteFile, map[string]interface{}{"path": "a.txt", "content": 42.0})
	assert.True(t, res.Failed())
}

func TestEditFile(t *testing.T) {
	f := newFixture(t, nil)
	f.exec(t, ToolNameWriteFile, map[string]interface{}{"path": "main.js", "content": "let a = 1;\nlet a = 1;\n"})

	res := f.exec(t, ToolNameEditFile, map[string]interface{}{"path": "main.js", "old_str": "let a = 1;", "new_str": "let b = 2;"})
	require.False(t, res.Failed(), res.Error)

	data, err := f.blobs.Get(context.Background(), blob.FileKey(f.project.ID, "main.js"))
	require.NoError(t, err)
	assert.Equal(t, "let b = 2;\nlet a = 1;\n", string(data), "only the first occurrence is replaced")

	res = f.exec(t, ToolNameEditFile, map[string]interface{}{"path": "main.js", "old_str": "missing", "new_str": "x"})
	assert.True(t, res.Failed())
	assert.Contains(t, res.Error, "old_str not found")

	res = f.exec(t, ToolNameEditFile, map[string]interface{}{"path": "nope.js", "old_str": "a", "new_str": "b"})
	assert.True(t, res.Failed())
	assert.Equal(t, "not_found", res.Metadata.ErrorType)
}

func TestReadAndListFiles(t *testing.T) {
	f := newFixture(t, nil)

	res := f.exec(t, ToolNameListFiles, nil)
	require.False(t, res.Failed())
	assert.Equal(t, 0, res.Output["count"])

	f.exec(t, ToolNameWriteFile, map[string]interface{}{"path": "b.txt", "content": "bee"})
	f.exec(t, ToolNameWriteFile, map[string]interface{}{"path": "a.txt", "content": "ay"})

	res = f.exec(t, ToolNameListFiles, map[string]interface{}{})
	require.False(t, res.Failed())
	assert.Equal(t, 2, res.Output["count"])
	files := res.Output["files"].([]interface{})
	assert.Equal(t, "a.txt", files[0].(map[string]interface{})["path"])

	res = f.exec(t, ToolNameReadFile, map[string]interface{}{"path": "b.txt"})
	require.False(t, res.Failed())
	assert.Equal(t, "bee", res.Output["content"])

	res = f.exec(t, ToolNameReadFile, map[string]interface{}{"path": "c.txt"})
	assert.True(t, res.Failed())
}

func TestDeleteFile(t *testing.T) {
	f := newFixture(t, nil)
	f.exec(t, ToolNameWriteFile, map[string]interface{}{"path": "a.txt", "content": "x"})

	res := f.exec(t, ToolNameDeleteFile, map[string]interface{}{"path": "a.txt"})
	require.False(t, res.Failed(), res.Error)
	outcomes := res.Output["outcomes"].(map[string]interface{})
	assert.Equal(t, outcomeDeleted, outcomes["storage"])
	assert.Equal(t, outcomeDeleted, outcomes["sandbox"])
	assert.Equal(t, outcomeDeleted, outcomes["record"])

	res = f.exec(t, ToolNameDeleteFile, map[string]interface{}{"path": "a.txt"})
	assert.True(t, res.Failed())
	assert.Contains(t, res.Error, "not found")
}

func TestDeleteFile_PartialFailure(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.exec(t, ToolNameWriteFile, map[string]interface{}{"path": "a.txt", "content": "x"})
	f.sb.RemoveErr = errors.New("sandbox unreachable")

	res := f.exec(t, ToolNameDeleteFile, map[string]interface{}{"path": "a.txt"})
	require.False(t, res.Failed(), res.Error)

	outcomes := res.Output["outcomes"].(map[string]interface{})
	assert.Equal(t, outcomeDeleted, outcomes["storage"])
	assert.Equal(t, outcomeError, outcomes["sandbox"])
	assert.Equal(t, outcomeDeleted, outcomes["record"])
	errs := res.Output["errors"].(map[string]interface{})
	assert.Equal(t, "sandbox unreachable", errs["sandbox"])
	assert.Contains(t, res.Summary, "partial")

	_, err := f.db.GetFile(ctx, f.project.ID, "a.txt")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteFile_AllTargetsFailKeepsRecord(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.exec(t, ToolNameWriteFile, map[string]interface{}{"path": "a.txt", "content": "x"})
	f.sb.RemoveErr = errors.New("sandbox unreachable")
	f.blobs.FailDelete[blob.FileKey(f.project.ID, "a.txt")] = errors.New("bucket offline")

	res := f.exec(t, ToolNameDeleteFile, map[string]interface{}{"path": "a.txt"})
	assert.True(t, res.Failed())
	outcomes := res.Output["outcomes"].(map[string]interface{})
	assert.Equal(t, outcomeKept, outcomes["record"])

	_, err := f.db.GetFile(ctx, f.project.ID, "a.txt")
	assert.NoError(t, err)
}

func TestRunShell_LongRunningStartsWorkflow(t *testing.T) {
	f := newFixture(t, nil)

	start := time.Now()
	res := f.exec(t, ToolNameRunShell, map[string]interface{}{"command": "npm run dev"})
	assert.Less(t, time.Since(start), time.Second)

	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, store.StatusInProgress, res.Status)
	assert.Equal(t, []string{"npm run dev"}, f.sb.BackgroundLog())
	assert.Empty(t, f.sb.CommandLog())
	assert.True(t, res.Metadata.WasBackgrounded)

	cmd, err := f.db.WorkflowCommand(context.Background(), f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, "npm run dev", cmd)
}

func TestRunShell_UnresponsiveSandboxTimesOut(t *testing.T) {
	f := newFixture(t, nil)
	release := make(chan struct{})
	defer close(release)
	f.sb.ShellFunc = func(ctx context.Context, command string, wait time.Duration) (*sandbox.ExecResult, error) {
		<-release
		return &sandbox.ExecResult{}, nil
	}

	start := time.Now()
	res := f.exec(t, ToolNameRunShell, map[string]interface{}{"command": "ls -la"})
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 2*time.Second)
	require.False(t, res.Failed())
	assert.Equal(t, 0, res.Output["exit_code"])
	assert.Equal(t, "Command timed out (running in background)", res.Output["stderr"])
	assert.True(t, res.Metadata.WasTimedOut)
}

func TestRunShell_SandboxReportsTimeout(t *testing.T) {
	f := newFixture(t, nil)
	f.sb.ShellFunc = func(ctx context.Context, command string, wait time.Duration) (*sandbox.ExecResult, error) {
		return &sandbox.ExecResult{Stdout: "partial\n", ExitCode: -1, TimedOut: true, JobID: "job-7"}, nil
	}

	res := f.exec(t, ToolNameRunShell, map[string]interface{}{"command": "npm install"})
	require.False(t, res.Failed())
	assert.Equal(t, 0, res.Output["exit_code"])
	assert.Equal(t, TimedOutStderr, res.Output["stderr"])
	assert.Equal(t, "partial\n", res.Output["stdout"])
	assert.Equal(t, "job-7", res.Metadata.ProcessID)
}

func TestRunShell_ShortCommand(t *testing.T) {
	f := newFixture(t, nil)
	f.sb.ShellFunc = func(ctx context.Context, command string, wait time.Duration) (*sandbox.ExecResult, error) {
		assert.Equal(t, 200*time.Millisecond, wait)
		return &sandbox.ExecResult{Stdout: "a\nb\n", Stderr: "warn", ExitCode: 2}, nil
	}

	res := f.exec(t, ToolNameRunShell, map[string]interface{}{"command": "ls -la"})
	require.False(t, res.Failed())
	assert.Equal(t, 2, res.Output["exit_code"])
	assert.Equal(t, "warn", res.Output["stderr"])
	assert.Contains(t, res.Summary, "exited with code 2")
	assert.Equal(t, 2, res.Metadata.ExitCode)

	f.sb.ShellFunc = func(ctx context.Context, command string, wait time.Duration) (*sandbox.ExecResult, error) {
		return nil, errors.New("sandbox gone")
	}
	res = f.exec(t, ToolNameRunShell, map[string]interface{}{"command": "ls"})
	assert.True(t, res.Failed())
}

func TestRunShell_NoSandbox(t *testing.T) {
	f := newFixture(t, nil)
	f.scope.Sandbox = nil
	res := f.exec(t, ToolNameRunShell, map[string]interface{}{"command": "ls"})
	assert.True(t, res.Failed())

	res = f.exec(t, ToolNameWriteFile, map[string]interface{}{"path": "a.txt", "content": "x"})
	require.False(t, res.Failed())
	assert.Equal(t, outcomeUnavailable, res.Output["sandbox"])
}

func TestConfigureWorkflow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res := f.exec(t, ToolNameConfigureWorkflow, map[string]interface{}{"command": "python3 app.py"})
	require.False(t, res.Failed())
	assert.Empty(t, f.sb.BackgroundLog())
	cmd, _ := f.db.WorkflowCommand(ctx, f.project.ID)
	assert.Equal(t, "python3 app.py", cmd)

	res = f.exec(t, ToolNameConfigureWorkflow, map[string]interface{}{"command": "node server.js &", "run": true})
	require.False(t, res.Failed())
	assert.Equal(t, store.StatusInProgress, res.Status)
	assert.Equal(t, []string{"node server.js"}, f.sb.BackgroundLog())
	cmd, _ = f.db.WorkflowCommand(ctx, f.project.ID)
	assert.Equal(t, "node server.js", cmd)
}

func TestRunCode(t *testing.T) {
	f := newFixture(t, nil)
	f.sb.CodeFunc = func(ctx context.Context, language, code string) (*sandbox.ExecResult, error) {
		assert.Equal(t, "python", language)
		return &sandbox.ExecResult{Stdout: "4\n"}, nil
	}
	res := f.exec(t, ToolNameRunCode, map[string]interface{}{"code": "print(2+2)"})
	require.False(t, res.Failed())
	assert.Equal(t, "4\n", res.Output["stdout"])

	f.sb.CodeFunc = func(ctx context.Context, language, code string) (*sandbox.ExecResult, error) {
		return nil, sandbox.ErrUnsupportedLanguage
	}
	res = f.exec(t, ToolNameRunCode, map[string]interface{}{"code": "x", "language": "cobol"})
	assert.True(t, res.Failed())
}

type stubSearch struct {
	gotN int
	err  error
}

func (s *stubSearch) Search(ctx context.Context, query string, n int) (*search.Response, error) {
	s.gotN = n
	if s.err != nil {
		return nil, s.err
	}
	return &search.Response{Query: query, Results: []search.Result{
		{Title: "Vite", URL: "https://vitejs.dev", Snippet: "Next generation frontend tooling"},
	}}, nil
}
func (s *stubSearch) Name() string    { return "stub" }
func (s *stubSearch) Validate() error { return nil }

func TestWebSearch(t *testing.T) {
	searcher := &stubSearch{}
	f := newFixture(t, searcher)

	res := f.exec(t, ToolNameWebSearch, map[string]interface{}{"query": "vite", "num_results": 25.0})
	require.False(t, res.Failed())
	assert.Equal(t, 10, searcher.gotN)
	results := res.Output["results"].([]interface{})
	assert.Equal(t, "https://vitejs.dev", results[0].(map[string]interface{})["url"])

	f.exec(t, ToolNameWebSearch, map[string]interface{}{"query": "vite"})
	assert.Equal(t, 5, searcher.gotN)

	searcher.err = errors.New("rate limited")
	res = f.exec(t, ToolNameWebSearch, map[string]interface{}{"query": "vite"})
	assert.True(t, res.Failed())

	noSearch := newFixture(t, nil)
	res = noSearch.exec(t, ToolNameWebSearch, map[string]interface{}{"query": "vite"})
	assert.True(t, res.Failed())
	assert.False(t, noSearch.disp.HasSearch())
}

func TestCreateBoilerplate(t *testing.T) {
	f := newFixture(t, nil)
	res := f.exec(t, ToolNameCreateBoilerplate, map[string]interface{}{"template": "react-vite"})
	require.False(t, res.Failed(), res.Error)

	files := res.Output["files"].(map[string]interface{})
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	assert.Equal(t, []string{"index.html", "package.json", "src/App.jsx", "src/main.jsx", "vite.config.js"}, paths)
	assert.Equal(t, "npm install && npm run dev", res.Output["dev_command"])
	assert.Equal(t, CommandLong, ClassifyCommand(res.Output["dev_command"].(string)))

	records, err := f.db.ListFiles(context.Background(), f.project.ID)
	require.NoError(t, err)
	assert.Len(t, records, 5)

	res = f.exec(t, ToolNameCreateBoilerplate, map[string]interface{}{"template": "django"})
	assert.True(t, res.Failed())
	assert.Contains(t, res.Error, "express, flask, react-vite, static")
}

func TestBoilerplateDevCommandsAreLongRunning(t *testing.T) {
	for _, name := range Boilerplates() {
		assert.Equal(t, CommandLong, ClassifyCommand(boilerplates[name].DevCommand), name)
	}
}

type panickingSearch struct{ stubSearch }

func (p *panickingSearch) Search(ctx context.Context, query string, n int) (*search.Response, error) {
	panic("boom")
}

func TestExecute_RecoversPanics(t *testing.T) {
	f := newFixture(t, &panickingSearch{})
	res := f.exec(t, ToolNameWebSearch, map[string]interface{}{"query": "x"})
	assert.True(t, res.Failed())
	assert.Contains(t, res.Error, "boom")
}

func TestResultRecord(t *testing.T) {
	r := &Result{Tool: ToolNameReadFile, Args: map[string]interface{}{"path": "a"}, Summary: "Read a", Status: store.StatusCompleted, Output: map[string]interface{}{"size": 1}}
	rec := r.Record()
	assert.Equal(t, "read_file", rec.Tool)
	assert.Equal(t, store.StatusCompleted, rec.Status)
	assert.Equal(t, 1, rec.Result["size"])
}
