package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/appforge/internal/blob"
	"github.com/codefionn/appforge/internal/llm"
	"github.com/codefionn/appforge/internal/sandbox"
	"github.com/codefionn/appforge/internal/store"
	"github.com/codefionn/appforge/internal/stream"
	"github.com/codefionn/appforge/internal/tools"
)

// recordingSink keeps delivered events. With cutAfter > 0 it behaves like a
// client that disconnects after that many events.
type recordingSink struct {
	mu       sync.Mutex
	events   []*stream.Event
	cutAfter int
	dropped  int
}

func (s *recordingSink) Send(ev *stream.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cutAfter > 0 && len(s.events) >= s.cutAfter {
		s.dropped++
		return false
	}
	s.events = append(s.events, ev)
	return true
}

func (s *recordingSink) types() []stream.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]stream.EventType, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}

func (s *recordingSink) ofType(t stream.EventType) []*stream.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*stream.Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (s *recordingSink) text() string {
	var sb strings.Builder
	for _, ev := range s.ofType(stream.EventChunk) {
		sb.WriteString(ev.Content)
	}
	return sb.String()
}

type harness struct {
	db      *store.DB
	blobs   *blob.MemStore
	sb      *sandbox.FakeSandbox
	model   *llm.ScriptedClient
	orch    *Orchestrator
	project *store.Project
}

func newHarness(t *testing.T, opts Options, responses ...string) *harness {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	project, err := db.CreateProject(context.Background(), "user-1", "todo-app")
	require.NoError(t, err)

	h := &harness{
		db:      db,
		blobs:   blob.NewMemStore(),
		sb:      sandbox.NewFakeSandbox(),
		model:   llm.NewScriptedClient(7, responses...),
		project: project,
	}
	registry := sandbox.NewRegistry(func(ctx context.Context, projectID string) (sandbox.Sandbox, error) {
		return h.sb, nil
	}, db)
	t.Cleanup(func() { registry.Close() })

	dispatcher := tools.NewDispatcher(tools.Deps{
		Blobs:        h.blobs,
		Files:        db,
		Workflows:    db,
		ShellTimeout: 200 * time.Millisecond,
	})
	if opts.CountTokens == nil {
		opts.CountTokens = llm.EstimateTokenCount
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC) }
	}
	h.orch = New(db, h.model, dispatcher, registry, nil, opts)
	return h
}

func (h *harness) run(t *testing.T, content string, sink Sink) (*TurnOutcome, error) {
	t.Helper()
	return h.orch.RunTurn(context.Background(), TurnRequest{ProjectID: h.project.ID, Content: content}, sink)
}

func (h *harness) turns(t *testing.T) []*store.ChatTurn {
	t.Helper()
	turns, err := h.db.ListTurns(context.Background(), h.project.ID)
	require.NoError(t, err)
	return turns
}

func TestRunTurn_WritesFileAndPersists(t *testing.T) {
	response := `Building your app. <action>Writing the page</action><tool>write_file</tool>{"path":"index.html","content":"<div>{hi}</div>"}  Done!`
	h := newHarness(t, Options{}, response)
	sink := &recordingSink{}

	outcome, err := h.run(t, "Make me a hello page", sink)
	require.NoError(t, err)
	assert.Equal(t, StateFinalized, outcome.State)
	assert.Equal(t, 0, outcome.Errors)

	assert.Equal(t, "Building your app.   Done!", sink.text())
	toolEvents := sink.ofType(stream.EventTool)
	require.Len(t, toolEvents, 1)
	assert.Equal(t, "write_file", toolEvents[0].Tool.Name)
	assert.Equal(t, store.StatusCompleted, toolEvents[0].Tool.Status)

	types := sink.types()
	actionAt, toolAt := indexOf(types, stream.EventAction), indexOf(types, stream.EventTool)
	assert.Less(t, actionAt, toolAt)
	assert.Equal(t, []stream.EventType{stream.EventActionsCompleted, stream.EventDone}, types[len(types)-2:])

	data, err := h.blobs.Get(context.Background(), blob.FileKey(h.project.ID, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<div>{hi}</div>", string(data))

	turns := h.turns(t)
	require.Len(t, turns, 2)
	assert.Equal(t, store.RoleUser, turns[0].Role)
	assistant := turns[1]
	assert.Equal(t, store.RoleAssistant, assistant.Role)
	assert.Equal(t, "Building your app.   Done!", assistant.Content)
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, "index.html", assistant.ToolCalls[0].Args["path"])
	assert.Equal(t, []store.ActionRecord{{Text: "Writing the page", Status: store.StatusCompleted}}, assistant.Actions)

	done := sink.ofType(stream.EventDone)
	require.Len(t, done, 1)
	assert.Equal(t, assistant.ID, done[0].MessageID)
	assert.Equal(t, assistant.ID, outcome.AssistantTurn.ID)
}

func TestRunTurn_NoDanglingActions(t *testing.T) {
	h := newHarness(t, Options{}, "<action>Step one</action>working <action>Step two</action>more <action>never closed")
	sink := &recordingSink{}

	outcome, err := h.run(t, "go", sink)
	require.NoError(t, err)
	assert.Equal(t, StateFinalized, outcome.State)

	completed := sink.ofType(stream.EventActionsCompleted)
	require.Len(t, completed, 1)
	for _, a := range completed[0].Actions {
		assert.Equal(t, store.StatusCompleted, a.Status)
	}

	turns := h.turns(t)
	require.Len(t, turns, 2)
	require.Len(t, turns[1].Actions, 2)
	for _, a := range turns[1].Actions {
		assert.NotEqual(t, store.StatusInProgress, a.Status)
	}
	assert.NotEmpty(t, sink.ofType(stream.EventError), "unterminated action is reported")
}

func TestRunTurn_TruncatedToolCallIsParseError(t *testing.T) {
	h := newHarness(t, Options{}, `Sure. <tool>write_file</tool>{"path":"a.txt"`)
	sink := &recordingSink{}

	outcome, err := h.run(t, "write a", sink)
	require.NoError(t, err)
	assert.Equal(t, StateFinalized, outcome.State)
	assert.Equal(t, 1, outcome.Errors)

	assert.Empty(t, sink.ofType(stream.EventTool))
	errs := sink.ofType(stream.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "write_file", errs[0].ToolName)
	assert.Contains(t, errs[0].Excerpt, `"path":"a.txt"`)

	_, err = h.db.GetFile(context.Background(), h.project.ID, "a.txt")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Len(t, h.turns(t), 2)
}

func TestRunTurn_PersistsAfterClientDisconnect(t *testing.T) {
	response := `Starting.<action>Writing</action><tool>write_file</tool>{"path":"app.py","content":"print('hi')"} And a second file: <tool>write_file</tool>{"path":"b.txt","content":"b"} done`
	h := newHarness(t, Options{}, response)
	sink := &recordingSink{cutAfter: 1}

	outcome, err := h.run(t, "build", sink)
	require.NoError(t, err)
	assert.Equal(t, StateFinalized, outcome.State)
	assert.Positive(t, sink.dropped)

	turns := h.turns(t)
	require.Len(t, turns, 2)
	assert.Len(t, turns[1].ToolCalls, 2)
	files, err := h.db.ListFiles(context.Background(), h.project.ID)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

// stalledTransport accepts no writes until released, like a client that
// keeps the connection open but stopped reading.
type stalledTransport struct {
	release chan struct{}
	done    chan struct{}
}

func (s *stalledTransport) WriteEvent(*stream.Event) error {
	<-s.release
	return nil
}

func (s *stalledTransport) Ping() error {
	<-s.release
	return nil
}

func (s *stalledTransport) Done() <-chan struct{} { return s.done }

func TestRunTurn_PersistsWhileClientStalls(t *testing.T) {
	response := `On it. <action>Writing</action><tool>write_file</tool>{"path":"index.html","content":"<p>x</p>"} done`
	h := newHarness(t, Options{}, response)
	tr := &stalledTransport{release: make(chan struct{}), done: make(chan struct{})}
	monitor := stream.NewMonitor(tr, 5*time.Millisecond)

	type result struct {
		outcome *TurnOutcome
		err     error
	}
	finished := make(chan result, 1)
	go func() {
		outcome, err := h.run(t, "build", monitor)
		finished <- result{outcome, err}
	}()

	select {
	case res := <-finished:
		require.NoError(t, res.err)
		assert.Equal(t, StateFinalized, res.outcome.State)
	case <-time.After(5 * time.Second):
		t.Fatal("turn blocked on a stalled client")
	}

	turns := h.turns(t)
	require.Len(t, turns, 2)
	assert.Equal(t, store.RoleAssistant, turns[1].Role)

	close(tr.release)
	monitor.Close()
}

func TestRunTurn_ModelFailureBeforeOutputAborts(t *testing.T) {
	h := newHarness(t, Options{})
	h.model.Push(llm.ScriptedTurn{Err: errors.New("quota exceeded")})
	sink := &recordingSink{}

	outcome, err := h.run(t, "hello", sink)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAborted)
	require.NotNil(t, outcome)
	assert.Equal(t, StateAborted, outcome.State)
	assert.Nil(t, outcome.AssistantTurn)

	assert.Equal(t, []stream.EventType{stream.EventError}, sink.types())

	turns := h.turns(t)
	require.Len(t, turns, 1, "user message is kept")
	assert.Equal(t, store.RoleUser, turns[0].Role)
	assert.Equal(t, "hello", turns[0].Content)
}

func TestRunTurn_ModelFailureAfterOutputFinalizes(t *testing.T) {
	h := newHarness(t, Options{})
	h.model.Push(llm.ScriptedTurn{Chunks: []string{"Hello ", "<action>Half"}, Err: errors.New("connection reset")})
	sink := &recordingSink{}

	outcome, err := h.run(t, "hi", sink)
	require.NoError(t, err)
	assert.Equal(t, StateFinalized, outcome.State)

	types := sink.types()
	assert.Contains(t, types, stream.EventError)
	assert.Equal(t, stream.EventDone, types[len(types)-1])

	turns := h.turns(t)
	require.Len(t, turns, 2)
	assert.Equal(t, "Hello ", turns[1].Content)
}

func TestRunTurn_ToolFailureDoesNotStopTurn(t *testing.T) {
	h := newHarness(t, Options{}, `Reading. <tool>read_file</tool>{"path":"missing.txt"} Then writing. <tool>write_file</tool>{"path":"ok.txt","content":"ok"} Finished.`)
	sink := &recordingSink{}

	outcome, err := h.run(t, "go", sink)
	require.NoError(t, err)
	assert.Equal(t, StateFinalized, outcome.State)
	assert.Equal(t, 1, outcome.Errors)

	toolEvents := sink.ofType(stream.EventTool)
	require.Len(t, toolEvents, 2)
	assert.Equal(t, store.StatusError, toolEvents[0].Tool.Status)
	assert.Equal(t, store.StatusCompleted, toolEvents[1].Tool.Status)
	assert.Contains(t, sink.text(), "Finished.")

	calls := h.turns(t)[1].ToolCalls
	require.Len(t, calls, 2)
	assert.Equal(t, "read_file", calls[0].Tool)
	assert.Equal(t, store.StatusError, calls[0].Status)
	assert.NotEmpty(t, calls[0].Error)
	assert.Equal(t, "write_file", calls[1].Tool)
}

func TestRunTurn_LongRunningCommandIsDetached(t *testing.T) {
	h := newHarness(t, Options{}, `<action>Starting the dev server</action><tool>run_shell</tool>{"command":"npm run dev"}Your app is starting.`)
	sink := &recordingSink{}

	start := time.Now()
	_, err := h.run(t, "run it", sink)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	toolEvents := sink.ofType(stream.EventTool)
	require.Len(t, toolEvents, 1)
	assert.Equal(t, store.StatusInProgress, toolEvents[0].Tool.Status)

	cmd, err := h.db.WorkflowCommand(context.Background(), h.project.ID)
	require.NoError(t, err)
	assert.Equal(t, "npm run dev", cmd)
	assert.Equal(t, []string{"npm run dev"}, h.sb.BackgroundLog())
}

func TestRunTurn_ContextCarriesHistoryAndSandboxStatus(t *testing.T) {
	h := newHarness(t, Options{},
		`Done. <tool>write_file</tool>{"path":"index.html","content":"x"}`,
		`Updated.`,
	)
	h.sb.Processes = []sandbox.ProcessInfo{{
		JobID: "job-1", Command: "npm run dev", Running: true,
		StdoutTail: []string{"VITE ready in 300 ms"},
	}}

	_, err := h.run(t, "first", &recordingSink{})
	require.NoError(t, err)
	_, err = h.run(t, "second", &recordingSink{})
	require.NoError(t, err)

	reqs := h.model.Requests()
	require.Len(t, reqs, 2)

	first := reqs[0]
	require.Len(t, first.Messages, 1)
	assert.Contains(t, first.SystemPrompt, `"todo-app"`)
	assert.Contains(t, first.SystemPrompt, "2026-10-17")

	second := reqs[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, "user", second[0].Role)
	assert.Equal(t, "first", second[0].Content)
	assert.Equal(t, "assistant", second[1].Role)
	assert.Contains(t, second[1].Content, "[tool results]")
	assert.Contains(t, second[1].Content, "write_file: completed")

	last := second[2].Content
	assert.True(t, strings.HasPrefix(last, "second\n\n[sandbox status]"))
	assert.Contains(t, last, "running processes: 1")
	assert.Contains(t, last, "`npm run dev` (running)")
	assert.Contains(t, last, "VITE ready in 300 ms")
	assert.Contains(t, last, "not reachable")
}

func TestRunTurn_HistoryWindow(t *testing.T) {
	h := newHarness(t, Options{HistoryWindow: 2}, "ok")
	for _, msg := range []string{"one", "two", "three"} {
		_, err := h.run(t, msg, &recordingSink{})
		require.NoError(t, err)
	}

	reqs := h.model.Requests()
	last := reqs[len(reqs)-1].Messages
	require.Len(t, last, 3)
	assert.Equal(t, "two", last[0].Content)
	assert.Equal(t, "ok", last[1].Content)
}

func TestRunTurn_ContinuationRound(t *testing.T) {
	h := newHarness(t, Options{MaxRounds: 3},
		`Reading. <tool>list_files</tool>{}`,
		`There are no files yet.`,
	)
	sink := &recordingSink{}

	outcome, err := h.run(t, "what files exist?", sink)
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.Rounds, "stops once a round runs no tools")

	reqs := h.model.Requests()
	require.Len(t, reqs, 2)
	follow := reqs[1].Messages
	require.Len(t, follow, 3)
	assert.Equal(t, "assistant", follow[1].Role)
	assert.Equal(t, "Reading. ", follow[1].Content)
	assert.Contains(t, follow[2].Content, "list_files (completed)")

	turns := h.turns(t)
	require.Len(t, turns, 2)
	assert.Equal(t, "Reading. There are no files yet.", turns[1].Content)
	assert.Len(t, sink.ofType(stream.EventDone), 1)
}

func TestRunTurn_ContinuationFailureIsNotAbort(t *testing.T) {
	h := newHarness(t, Options{MaxRounds: 2})
	h.model.Push(llm.ScriptedTurn{Chunks: []string{`<tool>list_files</tool>{}`}})
	h.model.Push(llm.ScriptedTurn{Err: errors.New("overloaded")})
	sink := &recordingSink{}

	outcome, err := h.run(t, "go", sink)
	require.NoError(t, err)
	assert.Equal(t, StateFinalized, outcome.State)
	assert.Len(t, sink.ofType(stream.EventError), 1)
	assert.Len(t, h.turns(t), 2)
}

func TestRunTurn_RejectsEmptyMessage(t *testing.T) {
	h := newHarness(t, Options{}, "ok")
	_, err := h.run(t, "   ", &recordingSink{})
	assert.Error(t, err)
	assert.Empty(t, h.turns(t))
}

func TestRunTurn_UnknownProject(t *testing.T) {
	h := newHarness(t, Options{}, "ok")
	_, err := h.orch.RunTurn(context.Background(), TurnRequest{ProjectID: "nope", Content: "hi"}, &recordingSink{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunTurn_SameProjectTurnsAreSerialised(t *testing.T) {
	h := newHarness(t, Options{}, "<action>a</action>one", "<action>b</action>two")
	h.model.SetDelay(5 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.run(t, "go", &recordingSink{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	turns := h.turns(t)
	require.Len(t, turns, 4)
	roles := []store.Role{turns[0].Role, turns[1].Role, turns[2].Role, turns[3].Role}
	assert.Equal(t, []store.Role{store.RoleUser, store.RoleAssistant, store.RoleUser, store.RoleAssistant}, roles)
}

func indexOf(types []stream.EventType, want stream.EventType) int {
	for i, t := range types {
		if t == want {
			return i
		}
	}
	return -1
}
