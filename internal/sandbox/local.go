package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codefionn/appforge/internal/logger"
)

// LocalOptions configures a LocalSandbox
type LocalOptions struct {
	Shell          string
	PreviewHost    string
	PreviewPort    int       // used when Ports is nil
	Ports          *PortPool // assigns each project its own preview port
	MaxOutputBytes int
	Env            []string // defaults to the server environment

	// Wrap rewrites the argv of every started process, e.g. to run it
	// through a confinement helper
	Wrap func(workspace string, argv []string) []string
}

// ConfineWrapper runs processes through "<exe> sandbox-exec", which applies
// Landlock to the workspace before exec'ing the real command.
func ConfineWrapper(exe string, bestEffort bool) func(string, []string) []string {
	return func(workspace string, argv []string) []string {
		args := []string{exe, "sandbox-exec", "--workspace", workspace}
		if bestEffort {
			args = append(args, "--best-effort")
		}
		args = append(args, "--")
		return append(args, argv...)
	}
}

// interpreters maps run_code languages to a file extension and launcher
var interpreters = map[string]struct {
	ext  string
	argv []string
}{
	"python":     {".py", []string{"python3"}},
	"python3":    {".py", []string{"python3"}},
	"javascript": {".js", []string{"node"}},
	"js":         {".js", []string{"node"}},
	"node":       {".js", []string{"node"}},
	"ruby":       {".rb", []string{"ruby"}},
	"php":        {".php", []string{"php"}},
	"bash":       {".sh", []string{"bash"}},
	"sh":         {".sh", []string{"sh"}},
}

// LocalSandbox executes commands as local processes inside a per-project
// workspace directory.
type LocalSandbox struct {
	projectID string
	dir       string
	root      *os.Root
	opts      LocalOptions
	jobs      *Jobs
	snippets  atomic.Int64
	log       *logger.Logger

	mu     sync.RWMutex
	closed bool
}

// NewLocal creates (or reopens) the workspace root/<projectID>
func NewLocal(root, projectID string, opts LocalOptions) (*LocalSandbox, error) {
	if _, err := CleanPath(projectID); err != nil || strings.Contains(projectID, "/") {
		return nil, fmt.Errorf("invalid project id %q", projectID)
	}
	dir, err := filepath.Abs(filepath.Join(root, projectID))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	wsRoot, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open workspace: %w", err)
	}
	if opts.Ports != nil {
		port, err := opts.Ports.Acquire(projectID)
		if err != nil {
			wsRoot.Close()
			return nil, err
		}
		opts.PreviewPort = port
	}
	if opts.Shell == "" {
		opts.Shell = "sh"
	}
	if opts.PreviewHost == "" {
		opts.PreviewHost = "127.0.0.1"
	}
	if opts.Env == nil {
		opts.Env = os.Environ()
	}
	if opts.PreviewPort > 0 {
		opts.Env = append(append([]string(nil), opts.Env...), "PORT="+strconv.Itoa(opts.PreviewPort))
	}

	return &LocalSandbox{
		projectID: projectID,
		dir:       dir,
		root:      wsRoot,
		opts:      opts,
		jobs:      NewJobs(opts.MaxOutputBytes),
		log:       logger.Global().WithPrefix("sandbox:" + projectID),
	}, nil
}

// Dir returns the workspace directory
func (s *LocalSandbox) Dir() string {
	return s.dir
}

// Jobs exposes the job table
func (s *LocalSandbox) Jobs() *Jobs {
	return s.jobs
}

func (s *LocalSandbox) start(command string, argv []string) (*Job, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if s.opts.Wrap != nil {
		argv = s.opts.Wrap(s.dir, argv)
	}
	return s.jobs.Start(command, s.dir, s.opts.Env, argv[0], argv[1:]...)
}

func (s *LocalSandbox) RunShell(ctx context.Context, command string, wait time.Duration) (*ExecResult, error) {
	job, err := s.start(command, []string{s.opts.Shell, "-c", command})
	if err != nil {
		return nil, err
	}

	if !job.Wait(ctx, wait) {
		s.log.Info("command still running after %s, continuing as %s: %s", wait, job.ID, command)
		res := job.Result()
		res.TimedOut = true
		return res, nil
	}

	// finished foreground commands do not stay in the process list
	s.jobs.Forget(job.ID)
	res := job.Result()
	res.JobID = ""
	return res, nil
}

func (s *LocalSandbox) StartBackground(ctx context.Context, command string) (*ProcessInfo, error) {
	job, err := s.start(command, []string{s.opts.Shell, "-c", command})
	if err != nil {
		return nil, err
	}
	s.log.Info("started background job %s (pid=%d): %s", job.ID, job.PID, command)
	info := job.Info(0)
	return &info, nil
}

func (s *LocalSandbox) RunCode(ctx context.Context, language, code string, timeout time.Duration) (*ExecResult, error) {
	interp, ok := interpreters[strings.ToLower(strings.TrimSpace(language))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}

	const snippetDir = ".appforge/snippets"
	if err := s.root.MkdirAll(snippetDir, 0755); err != nil {
		return nil, err
	}
	rel := fmt.Sprintf("%s/snippet-%d%s", snippetDir, s.snippets.Add(1), interp.ext)
	if err := s.root.WriteFile(rel, []byte(code), 0644); err != nil {
		return nil, err
	}
	defer s.root.Remove(rel)

	argv := append(append([]string(nil), interp.argv...), filepath.Join(s.dir, filepath.FromSlash(rel)))
	job, err := s.start(language+" snippet", argv)
	if err != nil {
		return nil, err
	}
	defer s.jobs.Forget(job.ID)

	if !job.Wait(ctx, timeout) {
		if err := job.Stop(); err != nil {
			s.log.Warn("failed to stop snippet %s: %v", job.ID, err)
		}
		res := job.Result()
		res.TimedOut = true
		res.JobID = ""
		return res, nil
	}
	res := job.Result()
	res.JobID = ""
	return res, nil
}

// File operations go through the workspace root, which refuses symlinks
// and ".." that lead outside of it.

func (s *LocalSandbox) WriteFile(ctx context.Context, p string, data []byte) error {
	rel, err := CleanPath(p)
	if err != nil {
		return err
	}
	if dir := path.Dir(rel); dir != "." {
		if err := s.root.MkdirAll(dir, 0755); err != nil {
			return escapeError(p, err)
		}
	}
	return escapeError(p, s.root.WriteFile(rel, data, 0644))
}

func (s *LocalSandbox) ReadFile(ctx context.Context, p string) ([]byte, error) {
	rel, err := CleanPath(p)
	if err != nil {
		return nil, err
	}
	data, err := s.root.ReadFile(rel)
	return data, escapeError(p, err)
}

func (s *LocalSandbox) RemoveFile(ctx context.Context, p string) error {
	rel, err := CleanPath(p)
	if err != nil {
		return err
	}
	info, err := s.root.Lstat(rel)
	if err != nil {
		return escapeError(p, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", p)
	}
	return escapeError(p, s.root.Remove(rel))
}

// escapeError reports a root escape as ErrPathEscape. Other errors pass
// through so IsNotExist keeps working.
func escapeError(p string, err error) error {
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return err
	}
	var pe *fs.PathError
	if errors.As(err, &pe) && strings.Contains(pe.Err.Error(), "escapes") {
		return fmt.Errorf("%w: %q", ErrPathEscape, p)
	}
	return err
}

func (s *LocalSandbox) PreviewURL() string {
	return fmt.Sprintf("http://%s:%d", s.opts.PreviewHost, s.opts.PreviewPort)
}

func (s *LocalSandbox) ListProcesses(ctx context.Context) ([]ProcessInfo, error) {
	jobs := s.jobs.List()
	infos := make([]ProcessInfo, 0, len(jobs))
	for _, j := range jobs {
		infos = append(infos, j.Info(5))
	}
	return infos, nil
}

// Close stops all jobs. The workspace directory is kept.
func (s *LocalSandbox) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := errors.Join(s.jobs.StopAll(), s.root.Close())
	if s.opts.Ports != nil {
		s.opts.Ports.Release(s.projectID)
	}
	s.log.Debug("sandbox closed")
	return err
}

// IsNotExist reports whether err means a missing file in any sandbox backend
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
