// Package orchestrator implements the single request path: validate,
// resolve session, acquire a sandbox, dispatch to the REPL or One-Shot
// Executor, persist returned state, and guarantee sandbox release on
// every exit path. Grounded on the reference judge worker's
// validate-stage-run-collect-cleanup shape, generalized from a
// compile/run/score pipeline to a single execute-and-capture-state one.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"coderunner/internal/execengine/execresult"
	"coderunner/internal/execengine/langspec"
	"coderunner/internal/execengine/manager"
	"coderunner/internal/execengine/spec"
	appErr "coderunner/pkg/errors"
	"coderunner/pkg/utils/logger"
)

// SandboxPool is the subset of pool.Pool the orchestrator depends on.
type SandboxPool interface {
	Acquire(ctx context.Context, language string) (*manager.Sandbox, error)
	Release(ctx context.Context, language string, sb *manager.Sandbox)
}

// OneShotRunner is the subset of oneshot.Executor the orchestrator depends on.
type OneShotRunner interface {
	Run(ctx context.Context, sb *manager.Sandbox, code string, limits spec.ResourceLimit, stdinData string) (execresult.Result, error)
}

// REPLRunner is the subset of repl.Executor the orchestrator depends on.
type REPLRunner interface {
	Run(ctx context.Context, sb *manager.Sandbox, code string, state []byte, captureState bool, inputFiles map[string][]byte, wallTime time.Duration) (execresult.Result, error)
}

// SessionStore is the subset of statestore.Store the orchestrator depends on.
type SessionStore interface {
	Save(ctx context.Context, sessionID string, data []byte) error
	Load(ctx context.Context, sessionID string) ([]byte, error)
}

// Request is one inbound execution request.
type Request struct {
	Language        string
	Code            string
	SessionID       string // empty means start a fresh session
	CaptureState    bool
	Stdin           string
	InputFiles      map[string][]byte
	Limits          spec.ResourceLimit
	DefaultWallTime time.Duration // used for the REPL path when Limits.WallTimeMs is unset
}

// Result is the response returned to the caller.
type Result struct {
	execresult.Result
	SessionID string
	Warnings  []string
}

// Config bounds request validation.
type Config struct {
	MaxCodeBytes int64
}

// Orchestrator wires the Pool, State Store and both Executors into the
// single request path described by the Execution Orchestrator.
type Orchestrator struct {
	pool       SandboxPool
	repository langspec.Repository
	store      SessionStore
	oneshot    OneShotRunner
	repl       REPLRunner
	cfg        Config
}

// New builds an Orchestrator.
func New(p SandboxPool, repository langspec.Repository, store SessionStore, oneshotExec OneShotRunner, replExec REPLRunner, cfg Config) *Orchestrator {
	if cfg.MaxCodeBytes <= 0 {
		cfg.MaxCodeBytes = 1 << 20
	}
	return &Orchestrator{pool: p, repository: repository, store: store, oneshot: oneshotExec, repl: replExec, cfg: cfg}
}

// maxSandboxAttempts bounds the single retry on a SandboxUnhealthy
// failure with a freshly acquired sandbox, per the error table's
// "internally retried once with a fresh sandbox" contract.
const maxSandboxAttempts = 2

// Execute runs the nine-step request path.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (Result, error) {
	// 1. validate request bounds
	if err := o.validate(req); err != nil {
		return Result{}, err
	}

	langSpec, err := o.repository.GetLanguageSpec(req.Language)
	if err != nil {
		return Result{}, appErr.Wrap(err, appErr.LanguageNotSupported).WithDetail("language", req.Language)
	}

	// 2. resolve session
	sessionID := req.SessionID
	fresh := sessionID == ""
	if fresh {
		sessionID = uuid.NewString()
	}
	var warnings []string
	var state []byte
	if !fresh {
		state, warnings = o.loadSession(ctx, sessionID, warnings)
	}

	// 3-6, 8: acquire, execute, release — retried once on SandboxUnhealthy
	var execResult execresult.Result
	for attempt := 1; ; attempt++ {
		execResult, err = o.executeOnce(ctx, req, langSpec, state)
		if err == nil || attempt >= maxSandboxAttempts || !appErr.Is(err, appErr.SandboxUnhealthy) {
			break
		}
		logger.Warn(ctx, "sandbox unhealthy, retrying with a fresh sandbox",
			zap.String("language", req.Language), zap.Int("attempt", attempt))
	}
	if err != nil {
		return Result{}, err
	}

	// 7. persist returned snapshot; a persistence failure is a warning,
	// never a failed response.
	if langSpec.Interactive && req.CaptureState && execResult.State != nil {
		if saveErr := o.store.Save(ctx, sessionID, execResult.State); saveErr != nil {
			logger.Warn(ctx, "failed to persist session state", zap.String("session_id", sessionID), zap.Error(saveErr))
			warnings = append(warnings, "session state was not saved: "+saveErr.Error())
		}
	}
	if execResult.FilesLimit {
		warnings = append(warnings, "output file collection was truncated by the configured limit")
	}

	// 9. return result
	return Result{Result: execResult, SessionID: sessionID, Warnings: warnings}, nil
}

// loadSession resolves step 2: a miss on either tier, or a degraded
// store, falls back to a fresh session with a warning rather than
// failing the request, per the StorageUnavailable error-table entry.
func (o *Orchestrator) loadSession(ctx context.Context, sessionID string, warnings []string) ([]byte, []string) {
	state, err := o.store.Load(ctx, sessionID)
	switch {
	case err == nil:
		return state, warnings
	case appErr.Is(err, appErr.SessionNotFound), appErr.Is(err, appErr.NotFound):
		return nil, warnings
	case appErr.Is(err, appErr.StorageUnavailable):
		return nil, append(warnings, "state storage unavailable, starting a fresh session")
	default:
		return nil, append(warnings, "failed to load session state, starting a fresh session")
	}
}

// executeOnce implements steps 3-6 and 8: acquire a sandbox, dispatch to
// the appropriate executor, and destroy the sandbox on every exit path
// via scoped acquisition — the sandbox is never returned to the pool
// regardless of outcome.
func (o *Orchestrator) executeOnce(ctx context.Context, req Request, langSpec langspec.LanguageSpec, state []byte) (execresult.Result, error) {
	sb, err := o.pool.Acquire(ctx, req.Language)
	if err != nil {
		return execresult.Result{}, err
	}
	defer o.pool.Release(context.Background(), req.Language, sb)

	if langSpec.Interactive {
		wallTime := time.Duration(req.Limits.WallTimeMs) * time.Millisecond
		if wallTime <= 0 {
			wallTime = req.DefaultWallTime
		}
		if wallTime <= 0 {
			wallTime = 10 * time.Second
		}
		// The REPL's response read has no bound of its own; wrap the
		// request ctx so a hung sandbox (e.g. an infinite loop inside
		// exec()) is abandoned at wallTime instead of blocking forever.
		runCtx, cancel := context.WithTimeout(ctx, wallTime)
		defer cancel()
		return o.repl.Run(runCtx, sb, req.Code, state, req.CaptureState, req.InputFiles, wallTime)
	}
	return o.oneshot.Run(ctx, sb, req.Code, req.Limits, req.Stdin)
}

func (o *Orchestrator) validate(req Request) error {
	if req.Language == "" {
		return appErr.New(appErr.ExecBadRequest).WithMessage("language is required")
	}
	if req.Code == "" {
		return appErr.New(appErr.ExecBadRequest).WithMessage("code is required")
	}
	if int64(len(req.Code)) > o.cfg.MaxCodeBytes {
		return appErr.New(appErr.CodeTooLarge).WithDetail("max_bytes", o.cfg.MaxCodeBytes)
	}
	return nil
}
