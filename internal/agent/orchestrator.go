package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/codefionn/appforge/internal/llm"
	"github.com/codefionn/appforge/internal/logger"
	"github.com/codefionn/appforge/internal/markup"
	"github.com/codefionn/appforge/internal/sandbox"
	"github.com/codefionn/appforge/internal/store"
	"github.com/codefionn/appforge/internal/stream"
	"github.com/codefionn/appforge/internal/tools"
)

// ErrAborted is returned when the model failed before producing any output
var ErrAborted = errors.New("agent: turn aborted")

// State of a chat turn
type State int

const (
	StateIdle State = iota
	StateContextBuilt
	StateStreaming
	StateDraining
	StateFinalized
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateContextBuilt:
		return "context_built"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateFinalized:
		return "finalized"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Store is the persistence the orchestrator needs
type Store interface {
	GetProject(ctx context.Context, id string) (*store.Project, error)
	CreateTurn(ctx context.Context, t *store.ChatTurn) error
	RecentTurns(ctx context.Context, projectID string, limit int) ([]*store.ChatTurn, error)
}

// Sandboxes hands out the live sandbox of a project
type Sandboxes interface {
	GetOrCreate(ctx context.Context, projectID string) (sandbox.Sandbox, error)
}

// Sink receives client-bound events. Send reports whether the event was
// delivered; the orchestrator keeps going either way.
type Sink interface {
	Send(ev *stream.Event) bool
}

// Options tune the turn loop
type Options struct {
	HistoryWindow    int
	HistoryMaxTokens int
	MaxRounds        int
	ProbeTimeout     time.Duration
	Temperature      float64
	MaxTokens        int
	// CountTokens defaults to llm.CountTokens
	CountTokens llm.TokenCounter
	Now         func() time.Time
}

// Orchestrator runs chat turns: model stream, markup parsing, tool dispatch
// and persistence of the transcript.
type Orchestrator struct {
	store      Store
	model      llm.Client
	dispatcher *tools.Dispatcher
	sandboxes  Sandboxes
	locker     TurnLocker
	opts       Options
}

// New creates an orchestrator. sandboxes may be nil (no sandbox); locker
// defaults to a MemoryLocker.
func New(st Store, model llm.Client, dispatcher *tools.Dispatcher, sandboxes Sandboxes, locker TurnLocker, opts Options) *Orchestrator {
	if locker == nil {
		locker = NewMemoryLocker()
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 20
	}
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = 1
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 3 * time.Second
	}
	if opts.CountTokens == nil {
		opts.CountTokens = llm.CountTokens
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		store:      st,
		model:      model,
		dispatcher: dispatcher,
		sandboxes:  sandboxes,
		locker:     locker,
		opts:       opts,
	}
}

// TurnRequest is a user message submitted to a project
type TurnRequest struct {
	ProjectID   string
	Content     string
	Attachments []store.Attachment
}

// TurnOutcome describes how a turn ended
type TurnOutcome struct {
	State         State
	UserTurn      *store.ChatTurn
	AssistantTurn *store.ChatTurn
	Rounds        int
	Errors        int
}

// turn is the mutable state of one RunTurn call
type turn struct {
	o     *Orchestrator
	sink  Sink
	scope tools.Scope
	state State

	text       strings.Builder
	roundStart int
	actions    []store.ActionRecord
	calls      []store.ToolCallRecord
	round      []*tools.Result
	errCount   int
}

func (t *turn) transition(next State) {
	logger.Debug("agent: project %s turn %s -> %s", t.scope.ProjectID, t.state, next)
	t.state = next
}

// RunTurn executes one chat turn. ctx bounds the server-side work only: a
// client that goes away is reported through sink and never stops the turn.
// Persistence of the assistant turn survives cancellation of ctx.
//
// A nil outcome means the turn never started and nothing was sent to sink.
func (o *Orchestrator) RunTurn(ctx context.Context, req TurnRequest, sink Sink) (*TurnOutcome, error) {
	if strings.TrimSpace(req.Content) == "" && len(req.Attachments) == 0 {
		return nil, errors.New("message content is required")
	}
	project, err := o.store.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}

	unlock, err := o.locker.Lock(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("project %s is busy: %w", project.ID, err)
	}
	defer unlock()

	t := &turn{o: o, sink: sink, scope: tools.Scope{ProjectID: project.ID}}
	outcome := &TurnOutcome{}

	userTurn := &store.ChatTurn{
		ProjectID:   project.ID,
		Role:        store.RoleUser,
		Content:     req.Content,
		Attachments: req.Attachments,
	}
	if err := o.store.CreateTurn(ctx, userTurn); err != nil {
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}
	outcome.UserTurn = userTurn

	completion, err := o.buildContext(ctx, project, userTurn, t)
	if err != nil {
		sink.Send(stream.Error("failed to build context", "", ""))
		return outcome, err
	}
	t.transition(StateContextBuilt)

	for round := 0; round < o.opts.MaxRounds; round++ {
		t.round = nil
		if round == 0 {
			t.transition(StateStreaming)
		}
		produced, err := t.streamRound(ctx, completion)
		outcome.Rounds++

		if err != nil {
			if round == 0 && !produced {
				logger.Error("agent: model call failed for project %s: %v", project.ID, err)
				t.transition(StateAborted)
				sink.Send(stream.Error("model call failed: "+err.Error(), "", ""))
				outcome.State = StateAborted
				outcome.Errors = t.errCount + 1
				return outcome, fmt.Errorf("%w: %v", ErrAborted, err)
			}
			logger.Warn("agent: model stream for project %s failed in round %d: %v", project.ID, round+1, err)
			t.errCount++
			sink.Send(stream.Error("model stream interrupted: "+err.Error(), "", ""))
			break
		}
		if len(t.round) == 0 || round+1 >= o.opts.MaxRounds {
			break
		}

		completion.Messages = append(completion.Messages,
			&llm.Message{Role: "assistant", Content: t.roundText()},
			&llm.Message{Role: "user", Content: renderRoundResults(t.round)},
		)
	}
	t.transition(StateDraining)

	assistant, err := t.finalize(context.WithoutCancel(ctx))
	outcome.Errors = t.errCount
	if err != nil {
		return outcome, err
	}
	t.transition(StateFinalized)
	outcome.State = StateFinalized
	outcome.AssistantTurn = assistant
	return outcome, nil
}

func (o *Orchestrator) buildContext(ctx context.Context, project *store.Project, userTurn *store.ChatTurn, t *turn) (*llm.CompletionRequest, error) {
	turns, err := o.store.RecentTurns(ctx, project.ID, o.opts.HistoryWindow+1)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	prior := make([]*store.ChatTurn, 0, len(turns))
	for _, h := range turns {
		if h.ID != userTurn.ID {
			prior = append(prior, h)
		}
	}
	if len(prior) > o.opts.HistoryWindow {
		prior = prior[len(prior)-o.opts.HistoryWindow:]
	}
	messages := historyMessages(prior, o.opts.HistoryMaxTokens, o.opts.CountTokens)

	var (
		state    *sandbox.State
		probeErr error
	)
	if o.sandboxes != nil {
		sb, err := o.sandboxes.GetOrCreate(ctx, project.ID)
		if err != nil {
			logger.Warn("agent: sandbox unavailable for project %s: %v", project.ID, err)
			probeErr = err
		} else {
			t.scope.Sandbox = sb
			state, probeErr = sandbox.Probe(ctx, sb, o.opts.ProbeTimeout)
			if probeErr != nil {
				logger.Warn("agent: sandbox probe failed for project %s: %v", project.ID, probeErr)
			}
		}
	} else {
		probeErr = errors.New("no sandbox configured")
	}

	content := userContent(userTurn.Content, userTurn.Attachments) + "\n\n" + sandboxAnnex(state, probeErr)
	messages = append(messages, &llm.Message{Role: "user", Content: content})

	system, err := BuildSystemPrompt(project.Name, o.dispatcher.HasSearch(), o.opts.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to render system prompt: %w", err)
	}
	return &llm.CompletionRequest{
		Messages:     messages,
		SystemPrompt: system,
		Temperature:  o.opts.Temperature,
		MaxTokens:    o.opts.MaxTokens,
	}, nil
}

// streamRound runs one model call through a fresh parser. produced reports
// whether any fragment arrived.
func (t *turn) streamRound(ctx context.Context, req *llm.CompletionRequest) (produced bool, err error) {
	parser := markup.NewParser(tools.IsKnown)
	t.roundStart = t.text.Len()

	err = t.o.model.Stream(ctx, req, func(chunk string) error {
		produced = true
		t.handle(ctx, parser.Feed(chunk))
		return nil
	})
	if err == nil || produced {
		t.handle(ctx, parser.Flush())
	}
	return produced, err
}

func (t *turn) roundText() string {
	return t.text.String()[t.roundStart:]
}

func (t *turn) handle(ctx context.Context, events []markup.Event) {
	for _, ev := range events {
		switch ev.Kind {
		case markup.KindText:
			t.text.WriteString(ev.Text)
			t.sink.Send(stream.Chunk(ev.Text))
		case markup.KindAction:
			t.actions = append(t.actions, store.ActionRecord{Text: ev.Text, Status: store.StatusInProgress})
			t.sink.Send(stream.Action(ev.Text))
		case markup.KindToolCall:
			t.dispatch(ctx, ev)
		case markup.KindError:
			t.errCount++
			t.sink.Send(stream.Error(ev.Message, ev.Tool, ev.Excerpt))
		}
	}
}

// dispatch runs one tool call. Calls of a turn never overlap.
func (t *turn) dispatch(ctx context.Context, ev markup.Event) {
	res := t.o.dispatcher.Execute(ctx, t.scope, tools.Call{Tool: tools.Name(ev.Tool), Args: ev.Args})
	t.round = append(t.round, res)
	t.calls = append(t.calls, res.Record())

	t.sink.Send(&stream.Event{
		Type: stream.EventTool,
		Tool: &stream.ToolEvent{
			Name:    string(res.Tool),
			Summary: res.Summary,
			Status:  res.Status,
			Output:  res.Output,
			Error:   res.Error,
		},
	})
	if res.Failed() {
		t.errCount++
		t.sink.Send(stream.Error(res.Error, string(res.Tool), ""))
	}
}

// finalize resolves every open action and persists the assistant turn
func (t *turn) finalize(ctx context.Context) (*store.ChatTurn, error) {
	for i := range t.actions {
		if t.actions[i].Status == store.StatusInProgress {
			t.actions[i].Status = store.StatusCompleted
		}
	}

	assistant := &store.ChatTurn{
		ProjectID: t.scope.ProjectID,
		Role:      store.RoleAssistant,
		Content:   t.text.String(),
		ToolCalls: t.calls,
		Actions:   t.actions,
	}
	if err := t.o.store.CreateTurn(ctx, assistant); err != nil {
		logger.Error("agent: failed to persist assistant turn for project %s: %v", t.scope.ProjectID, err)
		t.sink.Send(stream.Error("failed to save the assistant reply", "", ""))
		return nil, fmt.Errorf("failed to persist assistant turn: %w", err)
	}

	t.sink.Send(&stream.Event{Type: stream.EventActionsCompleted, Actions: t.actions})
	t.sink.Send(stream.Done(assistant.ID))
	logger.Info("agent: project %s turn finalized: %d tool calls, %d actions, %d errors",
		t.scope.ProjectID, len(t.calls), len(t.actions), t.errCount)
	return assistant, nil
}
