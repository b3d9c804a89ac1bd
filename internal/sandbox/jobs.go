package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/codefionn/appforge/internal/logger"
)

// stopGrace is how long a job gets between SIGTERM and SIGKILL
const stopGrace = 3 * time.Second

// maxFinishedJobs bounds how many completed jobs stay listed
const maxFinishedJobs = 32

// Job is a process started by the sandbox. Its lifetime is independent of
// the request that started it.
type Job struct {
	ID        string
	Command   string
	Dir       string
	StartedAt time.Time
	PID       int
	PGID      int

	stdout *tailBuffer
	stderr *tailBuffer
	done   chan struct{}

	mu            sync.RWMutex
	exitCode      int
	waitErr       error
	finishedAt    time.Time
	stopRequested bool
	cmd           *exec.Cmd
}

// Done is closed when the process exited
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finished, timeout elapsed or ctx ended.
// It reports whether the job finished.
func (j *Job) Wait(ctx context.Context, timeout time.Duration) bool {
	var timerC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}
	select {
	case <-j.done:
		return true
	case <-timerC:
		return false
	case <-ctx.Done():
		return false
	}
}

// Running reports whether the process is still alive
func (j *Job) Running() bool {
	select {
	case <-j.done:
		return false
	default:
		return true
	}
}

// Result returns the captured output; exit code is -1 while running
func (j *Job) Result() *ExecResult {
	j.mu.RLock()
	defer j.mu.RUnlock()

	res := &ExecResult{
		Stdout: j.stdout.String(),
		Stderr: j.stderr.String(),
		JobID:  j.ID,
		PID:    j.PID,
	}
	if j.finishedAt.IsZero() {
		res.ExitCode = -1
		res.Duration = time.Since(j.StartedAt)
	} else {
		res.ExitCode = j.exitCode
		res.Duration = j.finishedAt.Sub(j.StartedAt)
		if j.waitErr != nil {
			res.Stderr += fmt.Sprintf("\ncommand error: %v", j.waitErr)
		}
	}
	return res
}

// Info summarises the job with up to tailLines trailing output lines
func (j *Job) Info(tailLines int) ProcessInfo {
	j.mu.RLock()
	exitCode := j.exitCode
	j.mu.RUnlock()

	running := j.Running()
	if running {
		exitCode = -1
	}
	return ProcessInfo{
		JobID:      j.ID,
		PID:        j.PID,
		Command:    j.Command,
		StartedAt:  j.StartedAt,
		Running:    running,
		ExitCode:   exitCode,
		StdoutTail: j.stdout.Lines(tailLines),
		StderrTail: j.stderr.Lines(tailLines),
	}
}

// Stop terminates the job's process group, escalating to SIGKILL after a grace period
func (j *Job) Stop() error {
	if !j.Running() {
		return nil
	}
	j.mu.Lock()
	j.stopRequested = true
	cmd := j.cmd
	j.mu.Unlock()

	if err := j.signal(cmd, false); err != nil {
		logger.Debug("sandbox: SIGTERM for job %s failed: %v", j.ID, err)
	}
	select {
	case <-j.done:
		return nil
	case <-time.After(stopGrace):
	}
	if err := j.signal(cmd, true); err != nil && j.Running() {
		return fmt.Errorf("failed to kill job %s: %w", j.ID, err)
	}
	select {
	case <-j.done:
		return nil
	case <-time.After(stopGrace):
		// a descendant outside the group may still hold the output pipes
		return fmt.Errorf("job %s did not exit after SIGKILL", j.ID)
	}
}

func (j *Job) signal(cmd *exec.Cmd, force bool) error {
	if j.PGID > 0 {
		if err := terminateGroup(j.PGID, force); err == nil {
			return nil
		}
	}
	if cmd == nil || cmd.Process == nil {
		return errors.New("no process")
	}
	if force {
		return cmd.Process.Kill()
	}
	return cmd.Process.Signal(interruptSignal())
}

// Jobs is the job table of one sandbox
type Jobs struct {
	mu        sync.Mutex
	jobs      map[string]*Job
	seq       int
	maxOutput int
	closed    bool
}

// NewJobs creates a job table keeping maxOutput bytes of each output stream
func NewJobs(maxOutput int) *Jobs {
	return &Jobs{
		jobs:      make(map[string]*Job),
		maxOutput: maxOutput,
	}
}

// Start launches name with args in dir. The process is not bound to any
// request context.
func (t *Jobs) Start(command, dir string, env []string, name string, args ...string) (*Job, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	t.seq++
	id := fmt.Sprintf("job-%d", t.seq)
	t.mu.Unlock()

	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.Env = env
	setProcessGroup(cmd)

	job := &Job{
		ID:      id,
		Command: command,
		Dir:     dir,
		stdout:  newTailBuffer(t.maxOutput),
		stderr:  newTailBuffer(t.maxOutput),
		done:    make(chan struct{}),
		cmd:     cmd,
	}
	cmd.Stdout = job.stdout
	cmd.Stderr = job.stderr

	job.StartedAt = time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start command: %w", err)
	}
	job.PID = cmd.Process.Pid
	job.PGID = processGroupOf(job.PID)

	t.mu.Lock()
	t.jobs[id] = job
	t.pruneLocked()
	t.mu.Unlock()

	go func() {
		err := cmd.Wait()
		job.mu.Lock()
		job.finishedAt = time.Now()
		job.exitCode = 0
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				job.exitCode = exitErr.ExitCode()
			} else {
				job.exitCode = -1
				job.waitErr = err
			}
		}
		job.cmd = nil
		job.mu.Unlock()
		close(job.done)
		logger.Debug("sandbox: job %s (pid=%d) exited with code %d", id, job.PID, job.exitCode)
	}()

	logger.Debug("sandbox: started job %s (pid=%d): %s", id, job.PID, command)
	return job, nil
}

// Get returns a job by id
func (t *Jobs) Get(id string) (*Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[id]
	return job, ok
}

// Forget removes a job from the table without stopping it
func (t *Jobs) Forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.jobs, id)
}

// List returns jobs ordered by start time
func (t *Jobs) List() []*Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	jobs := make([]*Job, 0, len(t.jobs))
	for _, j := range t.jobs {
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(a, b int) bool {
		return jobs[a].StartedAt.Before(jobs[b].StartedAt)
	})
	return jobs
}

// Running counts live jobs
func (t *Jobs) Running() int {
	n := 0
	for _, j := range t.List() {
		if j.Running() {
			n++
		}
	}
	return n
}

// StopAll stops every job and refuses new ones
func (t *Jobs) StopAll() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, j := range t.List() {
		wg.Add(1)
		go func(j *Job) {
			defer wg.Done()
			if err := j.Stop(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(j)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// pruneLocked drops the oldest finished jobs beyond maxFinishedJobs
func (t *Jobs) pruneLocked() {
	var finished []*Job
	for _, j := range t.jobs {
		if !j.Running() {
			finished = append(finished, j)
		}
	}
	if len(finished) <= maxFinishedJobs {
		return
	}
	sort.Slice(finished, func(a, b int) bool {
		return finished[a].StartedAt.Before(finished[b].StartedAt)
	})
	for _, j := range finished[:len(finished)-maxFinishedJobs] {
		delete(t.jobs, j.ID)
	}
}
