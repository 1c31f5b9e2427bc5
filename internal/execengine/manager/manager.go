// Package manager builds and tears down individual sandboxes: scratch
// directory allocation, language-specific preamble staging, Isolation
// Driver spawn, and the bounded wait for a pool candidate's ready marker.
package manager

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"coderunner/internal/execengine/isolation"
	"coderunner/internal/execengine/langspec"
	"coderunner/internal/execengine/spec"
	appErr "coderunner/pkg/errors"
	"coderunner/pkg/utils/logger"

	"github.com/google/shlex"
	"go.uber.org/zap"
)

// State is a Sandbox's position in its lifecycle.
type State int

const (
	Warming State = iota
	Ready
	InUse
	Destroyed
)

func (s State) String() string {
	switch s {
	case Warming:
		return "warming"
	case Ready:
		return "ready"
	case InUse:
		return "in_use"
	case Destroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Sandbox is a single isolated process tree and the scratch directory it
// owns. A Sandbox is single-use: once Destroy has run it is never
// returned to a pool and its process is reaped.
type Sandbox struct {
	ID         string
	Language   string
	ScratchDir string
	CreatedAt  time.Time
	TTL        time.Duration

	mu    sync.Mutex
	state State

	stdin   *os.File
	stdout  *bufio.Reader
	rawOut  *os.File
	destroy func()
}

// State returns the sandbox's current lifecycle state.
func (s *Sandbox) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Sandbox) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Stdio exposes the interactive sandbox's framed-protocol pipes. Only
// populated for pool-candidate (interactive-language) sandboxes.
func (s *Sandbox) Stdio() (*os.File, *bufio.Reader) {
	return s.stdin, s.stdout
}

// Expired reports whether the sandbox has outlived its TTL.
func (s *Sandbox) Expired() bool {
	return time.Since(s.CreatedAt) > s.TTL
}

// NewSandboxWithStdio builds a Ready sandbox directly from already-open
// stdio handles and an existing scratch directory, bypassing the
// Isolation Driver spawn. Exposed for tests that exercise the REPL
// Executor's framed protocol against a fake interpreter process rather
// than a real sandboxed one.
func NewSandboxWithStdio(id, language, scratchDir string, stdin *os.File, stdout *bufio.Reader, destroy func()) *Sandbox {
	return &Sandbox{
		ID:         id,
		Language:   language,
		ScratchDir: scratchDir,
		CreatedAt:  time.Now(),
		state:      Ready,
		stdin:      stdin,
		stdout:     stdout,
		destroy:    destroy,
	}
}

// Manager constructs and destroys sandboxes on behalf of the pool and
// one-shot executor.
type Manager struct {
	engine     isolation.Engine
	repository langspec.Repository
	baseDir    string

	warmupTimeout time.Duration

	idSeq atomic.Uint64

	interpreterScriptOnce sync.Once
	interpreterScriptPath string
	interpreterScriptErr  error
}

// Config controls Manager behavior.
type Config struct {
	BaseDir       string
	WarmupTimeout time.Duration
}

// New builds a Manager.
func New(engine isolation.Engine, repository langspec.Repository, cfg Config) *Manager {
	if cfg.WarmupTimeout <= 0 {
		cfg.WarmupTimeout = 10 * time.Second
	}
	if cfg.BaseDir == "" {
		cfg.BaseDir = filepath.Join(os.TempDir(), "coderunner-sandboxes")
	}
	return &Manager{
		engine:        engine,
		repository:    repository,
		baseDir:       cfg.BaseDir,
		warmupTimeout: cfg.WarmupTimeout,
	}
}

// allocate creates the scratch directory and empty Sandbox shell shared
// by both interactive and one-shot construction paths.
func (m *Manager) allocate(language string, ttl time.Duration) (*Sandbox, error) {
	id := fmt.Sprintf("%s-%d-%d", language, time.Now().UnixNano(), m.idSeq.Add(1))
	scratchDir := filepath.Join(m.baseDir, id)
	if err := os.MkdirAll(scratchDir, 0750); err != nil {
		return nil, appErr.Wrap(err, appErr.SpawnFailed).WithMessage("create scratch directory")
	}
	return &Sandbox{
		ID:         id,
		Language:   language,
		ScratchDir: scratchDir,
		CreatedAt:  time.Now(),
		TTL:        ttl,
		state:      Warming,
		destroy:    func() { os.RemoveAll(scratchDir) },
	}, nil
}

// AllocateScratch builds a scratch-only sandbox for the One-Shot
// Executor: no process is spawned here, since compile and run are
// separate Isolation Driver invocations the executor issues itself
// against the returned scratch directory.
func (m *Manager) AllocateScratch(ctx context.Context, language string) (*Sandbox, error) {
	if _, err := m.repository.GetLanguageSpec(language); err != nil {
		return nil, err
	}
	sb, err := m.allocate(language, 0)
	if err != nil {
		return nil, err
	}
	sb.setState(Ready)
	return sb, nil
}

// CreateInteractive allocates a scratch directory, stages the
// interpreter server preamble, and spawns it via the Isolation Driver.
// It blocks until the warmup ready marker appears on stdout or the
// configured warmup timeout elapses.
func (m *Manager) CreateInteractive(ctx context.Context, language string, ttl time.Duration) (*Sandbox, error) {
	langSpec, err := m.repository.GetLanguageSpec(language)
	if err != nil {
		return nil, err
	}
	if !langSpec.Interactive {
		return nil, appErr.New(appErr.ConfigInvalid).WithMessage("language is not interactive").WithDetail("language", language)
	}
	profile, err := m.repository.GetTaskProfile(langspec.TaskTypeWarmup, language)
	if err != nil {
		return nil, err
	}

	sb, err := m.allocate(language, ttl)
	if err != nil {
		return nil, err
	}
	scratchDir := sb.ScratchDir

	cmd, err := m.stageCommand(langSpec, scratchDir)
	if err != nil {
		os.RemoveAll(scratchDir)
		return nil, err
	}

	runSpec := spec.RunSpec{
		ExecutionID: sb.ID,
		Step:        "main",
		WorkDir:     scratchDir,
		Cmd:         cmd,
		Env:         langSpec.Env,
		Profile:     langspec.ProfileName(language, langspec.TaskTypeWarmup),
		Limits:      profile.DefaultLimits,
	}

	stdinPath := filepath.Join(scratchDir, ".stdin")
	stdoutPath := filepath.Join(scratchDir, ".stdout")
	if err := syscall.Mkfifo(stdinPath, 0600); err != nil {
		os.RemoveAll(scratchDir)
		return nil, appErr.Wrap(err, appErr.SpawnFailed).WithMessage("create stdin fifo")
	}
	if err := syscall.Mkfifo(stdoutPath, 0600); err != nil {
		os.RemoveAll(scratchDir)
		return nil, appErr.Wrap(err, appErr.SpawnFailed).WithMessage("create stdout fifo")
	}
	runSpec.StdinPath = stdinPath
	runSpec.StdoutPath = stdoutPath

	launchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	var runErr error
	go func() {
		defer close(done)
		_, runErr = m.engine.Run(launchCtx, runSpec)
	}()

	// These opens rendezvous with the matching opens the sandbox-init
	// helper performs on the same fifo paths; order between the two
	// sides does not matter, only that both happen concurrently.
	stdinW, err := os.OpenFile(stdinPath, os.O_WRONLY, 0)
	if err != nil {
		cancel()
		os.RemoveAll(scratchDir)
		return nil, appErr.Wrap(err, appErr.SpawnFailed).WithMessage("open stdin fifo")
	}
	stdoutR, err := os.OpenFile(stdoutPath, os.O_RDONLY, 0)
	if err != nil {
		cancel()
		stdinW.Close()
		os.RemoveAll(scratchDir)
		return nil, appErr.Wrap(err, appErr.SpawnFailed).WithMessage("open stdout fifo")
	}

	sb.stdin = stdinW
	sb.rawOut = stdoutR
	sb.stdout = bufio.NewReader(stdoutR)
	sb.destroy = func() {
		cancel()
		_ = m.engine.Kill(context.Background(), sb.ID)
		_ = stdinW.Close()
		_ = stdoutR.Close()
		os.RemoveAll(scratchDir)
	}

	if err := m.awaitReady(sb, langSpec); err != nil {
		sb.destroy()
		return nil, err
	}

	select {
	case <-done:
		if runErr != nil {
			sb.destroy()
			return nil, appErr.Wrap(runErr, appErr.SpawnFailed)
		}
	default:
	}

	sb.setState(Ready)
	return sb, nil
}

// stageCommand returns the command line to spawn the interpreter
// server, writing the staged script into scratchDir first.
func (m *Manager) stageCommand(langSpec langspec.LanguageSpec, scratchDir string) ([]string, error) {
	scriptPath, err := m.interpreterScript()
	if err != nil {
		return nil, err
	}
	staged := filepath.Join(scratchDir, "interpreter_server.py")
	if err := copyFile(scriptPath, staged); err != nil {
		return nil, appErr.Wrap(err, appErr.SpawnFailed).WithMessage("stage interpreter server")
	}
	tpl := strings.NewReplacer("{src}", staged, "{bin}", staged, "{extraFlags}", "").Replace(langSpec.RunCmdTpl)
	cmd, err := shlex.Split(tpl)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.ConfigInvalid).WithMessage("parse interactive run command template")
	}
	return cmd, nil
}

func (m *Manager) interpreterScript() (string, error) {
	m.interpreterScriptOnce.Do(func() {
		dir, err := os.MkdirTemp("", "interpreter-server-*")
		if err != nil {
			m.interpreterScriptErr = err
			return
		}
		path := filepath.Join(dir, "interpreter_server.py")
		if err := os.WriteFile(path, interpreterServerSource, 0640); err != nil {
			m.interpreterScriptErr = err
			return
		}
		m.interpreterScriptPath = path
	})
	return m.interpreterScriptPath, m.interpreterScriptErr
}

func (m *Manager) awaitReady(sb *Sandbox, langSpec langspec.LanguageSpec) error {
	readyCh := make(chan error, 1)
	go func() {
		line, err := sb.stdout.ReadString('\n')
		if err != nil {
			readyCh <- err
			return
		}
		if line != readyMarker+"\n" {
			readyCh <- fmt.Errorf("unexpected warmup line: %q", line)
			return
		}
		readyCh <- nil
	}()

	select {
	case err := <-readyCh:
		if err != nil {
			return appErr.Wrap(err, appErr.SandboxUnhealthy).WithDetail("language", langSpec.ID)
		}
		return nil
	case <-time.After(m.warmupTimeout):
		return appErr.New(appErr.SandboxUnhealthy).WithMessage("warmup timed out").WithDetail("language", langSpec.ID)
	}
}

// Destroy marks the sandbox Destroyed, cancels its isolation run and
// kills its cgroup, closes its stdio fifos, and removes the scratch
// directory. The kill is immediate: no termination signal or grace
// period precedes it. Idempotent.
func (m *Manager) Destroy(ctx context.Context, sb *Sandbox) {
	if sb.State() == Destroyed {
		return
	}
	sb.setState(Destroyed)
	if sb.destroy != nil {
		sb.destroy()
	}
	logger.Info(ctx, "sandbox destroyed", zap.String("id", sb.ID), zap.String("language", sb.Language))
}

const readyMarker = "__INTERPRETER_READY__"

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0640)
}
