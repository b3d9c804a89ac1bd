package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/codefionn/appforge/internal/logger"
)

// Factory creates the sandbox of a project
type Factory func(ctx context.Context, projectID string) (Sandbox, error)

// WorkflowSource provides the command to replay when a sandbox is created
type WorkflowSource interface {
	WorkflowCommand(ctx context.Context, projectID string) (string, error)
}

// Registry holds at most one live sandbox per project. Creation and disposal
// for the same project are serialised; different projects do not contend.
type Registry struct {
	factory   Factory
	workflows WorkflowSource

	keyLocks sync.Map // project id -> *sync.Mutex

	mu        sync.RWMutex
	sandboxes map[string]Sandbox
	closed    bool
}

// NewRegistry creates a registry. workflows may be nil.
func NewRegistry(factory Factory, workflows WorkflowSource) *Registry {
	return &Registry{
		factory:   factory,
		workflows: workflows,
		sandboxes: make(map[string]Sandbox),
	}
}

// LocalFactory creates LocalSandbox instances below root
func LocalFactory(root string, opts LocalOptions) Factory {
	return func(ctx context.Context, projectID string) (Sandbox, error) {
		return NewLocal(root, projectID, opts)
	}
}

func (r *Registry) lockKey(projectID string) *sync.Mutex {
	v, _ := r.keyLocks.LoadOrStore(projectID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu
}

// Get returns the live sandbox of a project, if any
func (r *Registry) Get(projectID string) (Sandbox, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sb, ok := r.sandboxes[projectID]
	return sb, ok
}

// GetOrCreate returns the live sandbox or creates one. A fresh sandbox
// replays the project's workflow command as a background job.
func (r *Registry) GetOrCreate(ctx context.Context, projectID string) (Sandbox, error) {
	if sb, ok := r.Get(projectID); ok {
		return sb, nil
	}

	mu := r.lockKey(projectID)
	defer mu.Unlock()

	r.mu.RLock()
	sb, ok := r.sandboxes[projectID]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if ok {
		return sb, nil
	}

	sb, err := r.factory(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox for %s: %w", projectID, err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		sb.Close()
		return nil, ErrClosed
	}
	r.sandboxes[projectID] = sb
	r.mu.Unlock()

	logger.Info("sandbox: created sandbox for project %s", projectID)
	r.replayWorkflow(ctx, projectID, sb)
	return sb, nil
}

func (r *Registry) replayWorkflow(ctx context.Context, projectID string, sb Sandbox) {
	if r.workflows == nil {
		return
	}
	command, err := r.workflows.WorkflowCommand(ctx, projectID)
	if err != nil {
		logger.Warn("sandbox: failed to load workflow command for %s: %v", projectID, err)
		return
	}
	if command == "" {
		return
	}
	if _, err := sb.StartBackground(ctx, command); err != nil {
		logger.Warn("sandbox: failed to replay workflow %q for %s: %v", command, projectID, err)
		return
	}
	logger.Info("sandbox: replayed workflow command for %s: %s", projectID, command)
}

// Dispose closes and forgets the project's sandbox
func (r *Registry) Dispose(projectID string) error {
	mu := r.lockKey(projectID)
	defer mu.Unlock()

	r.mu.Lock()
	sb, ok := r.sandboxes[projectID]
	delete(r.sandboxes, projectID)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	logger.Info("sandbox: disposing sandbox for project %s", projectID)
	return sb.Close()
}

// Close disposes every sandbox and rejects further creation
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	ids := make([]string, 0, len(r.sandboxes))
	for id := range r.sandboxes {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := r.Dispose(id); err != nil {
			errs = append(errs, fmt.Errorf("dispose %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of live sandboxes
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sandboxes)
}
