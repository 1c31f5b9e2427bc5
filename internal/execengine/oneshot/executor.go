// Package oneshot implements the One-Shot Executor: for non-interactive
// languages it stages source in a fresh scratch-only sandbox, compiles
// if the language requires it, runs the program to completion, and
// collects produced files from a pre/post scratch-directory scan.
package oneshot

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/shlex"

	"coderunner/internal/execengine/execresult"
	"coderunner/internal/execengine/isolation"
	"coderunner/internal/execengine/langspec"
	"coderunner/internal/execengine/manager"
	"coderunner/internal/execengine/spec"
	appErr "coderunner/pkg/errors"
)

// Config bounds output collection across every execution.
type Config struct {
	MaxOutputFiles  int
	MaxOutputFileMB int64
	CompileLogName  string
}

// Executor runs one non-interactive-language program to completion.
type Executor struct {
	engine     isolation.Engine
	repository langspec.Repository
	cfg        Config
}

// New builds an Executor.
func New(engine isolation.Engine, repository langspec.Repository, cfg Config) *Executor {
	if cfg.MaxOutputFiles <= 0 {
		cfg.MaxOutputFiles = 32
	}
	if cfg.MaxOutputFileMB <= 0 {
		cfg.MaxOutputFileMB = 10
	}
	if cfg.CompileLogName == "" {
		cfg.CompileLogName = "compile.log"
	}
	return &Executor{engine: engine, repository: repository, cfg: cfg}
}

// Run stages code into sb's scratch directory, compiles it if the
// language requires a compile step, runs it, and returns the
// collected result. sb must have been built via Manager.AllocateScratch
// and is never interacted with again after this returns — the caller
// owns releasing it to the pool, which destroys it.
func (e *Executor) Run(ctx context.Context, sb *manager.Sandbox, code string, limits spec.ResourceLimit, stdinData string) (execresult.Result, error) {
	langSpec, err := e.repository.GetLanguageSpec(sb.Language)
	if err != nil {
		return execresult.Result{}, err
	}

	sourcePath := filepath.Join(sb.ScratchDir, langSpec.SourceFile)
	if err := os.WriteFile(sourcePath, []byte(code), 0640); err != nil {
		return execresult.Result{}, appErr.Wrap(err, appErr.InternalServerError).WithMessage("write source file")
	}

	before, err := execresult.ScanDir(sb.ScratchDir)
	if err != nil {
		return execresult.Result{}, appErr.Wrap(err, appErr.InternalServerError).WithMessage("scan scratch directory")
	}

	if langSpec.CompileEnabled {
		res, compileErr := e.compile(ctx, sb, langSpec, limits)
		if compileErr != nil {
			return execresult.Result{}, compileErr
		}
		if res.ExitCode != 0 {
			return execresult.Result{
				Stdout:    res.Stdout,
				Stderr:    res.Stderr,
				ExitCode:  res.ExitCode,
				TimedOut:  res.TimedOut,
				OomKilled: res.OomKilled,
			}, nil
		}
	}

	runRes, stdinPath, err := e.run(ctx, sb, langSpec, limits, stdinData)
	if stdinPath != "" {
		defer os.Remove(stdinPath)
	}
	if err != nil {
		return execresult.Result{}, err
	}

	after, err := execresult.ScanDir(sb.ScratchDir)
	if err != nil {
		return execresult.Result{}, appErr.Wrap(err, appErr.InternalServerError).WithMessage("scan scratch directory")
	}
	changed := execresult.Diff(before, after)
	files, limited := execresult.CollectFiles(sb.ScratchDir, changed, e.cfg.MaxOutputFiles, e.cfg.MaxOutputFileMB*1024*1024)

	return execresult.Result{
		Stdout:     runRes.Stdout,
		Stderr:     runRes.Stderr,
		ExitCode:   runRes.ExitCode,
		Files:      files,
		FilesLimit: limited,
		TimedOut:   runRes.TimedOut,
		OomKilled:  runRes.OomKilled,
	}, nil
}

func (e *Executor) compile(ctx context.Context, sb *manager.Sandbox, langSpec langspec.LanguageSpec, limits spec.ResourceLimit) (isolation.RunResult, error) {
	profile, err := e.repository.GetTaskProfile(langspec.TaskTypeCompile, sb.Language)
	if err != nil {
		return isolation.RunResult{}, err
	}
	cmd, err := buildCommand(langSpec.CompileCmdTpl, sb.ScratchDir, langSpec)
	if err != nil {
		return isolation.RunResult{}, err
	}

	runSpec := spec.RunSpec{
		ExecutionID: sb.ID,
		Step:        "compile",
		WorkDir:     sb.ScratchDir,
		Cmd:         cmd,
		Env:         langSpec.Env,
		StderrPath:  filepath.Join(sb.ScratchDir, e.cfg.CompileLogName),
		Profile:     langspec.ProfileName(sb.Language, langspec.TaskTypeCompile),
		Limits:      mergeCompileLimits(profile.DefaultLimits),
	}
	res, err := e.engine.Run(ctx, runSpec)
	if err != nil {
		return res, appErr.Wrap(err, appErr.CompilationError).WithMessage("compile step failed")
	}
	if res.ExitCode != 0 {
		if logBytes, readErr := os.ReadFile(runSpec.StderrPath); readErr == nil {
			res.Stderr = string(logBytes)
		}
	}
	return res, nil
}

func (e *Executor) run(ctx context.Context, sb *manager.Sandbox, langSpec langspec.LanguageSpec, limits spec.ResourceLimit, stdinData string) (isolation.RunResult, string, error) {
	profile, err := e.repository.GetTaskProfile(langspec.TaskTypeRun, sb.Language)
	if err != nil {
		return isolation.RunResult{}, "", err
	}
	cmd, err := buildCommand(langSpec.RunCmdTpl, sb.ScratchDir, langSpec)
	if err != nil {
		return isolation.RunResult{}, "", err
	}

	runSpec := spec.RunSpec{
		ExecutionID: sb.ID,
		Step:        "run",
		WorkDir:     sb.ScratchDir,
		Cmd:         cmd,
		Env:         langSpec.Env,
		Profile:     langspec.ProfileName(sb.Language, langspec.TaskTypeRun),
		Limits:      mergeRunLimits(profile.DefaultLimits, limits),
	}

	var stdinPath string
	if stdinData != "" {
		stdinPath = filepath.Join(sb.ScratchDir, ".run-stdin")
		if err := os.WriteFile(stdinPath, []byte(stdinData), 0600); err != nil {
			return isolation.RunResult{}, "", appErr.Wrap(err, appErr.InternalServerError).WithMessage("write stdin file")
		}
		runSpec.StdinPath = stdinPath
	}

	res, err := e.engine.Run(ctx, runSpec)
	if err != nil {
		return res, stdinPath, appErr.Wrap(err, appErr.RuntimeError).WithMessage("run step failed")
	}
	return res, stdinPath, nil
}

func buildCommand(tpl string, scratchDir string, langSpec langspec.LanguageSpec) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, appErr.New(appErr.ConfigInvalid).WithMessage("command template is required")
	}
	expanded := strings.NewReplacer(
		"{src}", filepath.Join(scratchDir, langSpec.SourceFile),
		"{bin}", filepath.Join(scratchDir, langSpec.BinaryFile),
		"{extraFlags}", "",
	).Replace(tpl)
	cmd, err := shlex.Split(expanded)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.ConfigInvalid).WithMessage("parse command template")
	}
	if len(cmd) == 0 {
		return nil, appErr.New(appErr.ConfigInvalid).WithMessage("command is empty after expansion")
	}
	return cmd, nil
}

// mergeCompileLimits keeps the compile step on the profile's own
// budget: the compile step is bounded separately from the run step
// and its wall-clock may legitimately exceed the run step's.
func mergeCompileLimits(defaults spec.ResourceLimit) spec.ResourceLimit {
	return defaults
}

func mergeRunLimits(defaults, override spec.ResourceLimit) spec.ResourceLimit {
	merged := defaults
	if override.CPUTimeMs > 0 {
		merged.CPUTimeMs = override.CPUTimeMs
	}
	if override.WallTimeMs > 0 {
		merged.WallTimeMs = override.WallTimeMs
	}
	if override.MemoryMB > 0 {
		merged.MemoryMB = override.MemoryMB
	}
	if override.OutputMB > 0 {
		merged.OutputMB = override.OutputMB
	}
	return merged
}
