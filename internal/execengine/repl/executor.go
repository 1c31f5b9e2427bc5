// Package repl implements the REPL Executor: talks the Interpreter
// Server's framed stdio protocol over an acquired pool sandbox to run
// one call inside its persistent namespace.
package repl

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"time"

	"coderunner/internal/execengine/execresult"
	"coderunner/internal/execengine/interpreter"
	"coderunner/internal/execengine/manager"
	appErr "coderunner/pkg/errors"
)

// Config bounds output collection.
type Config struct {
	MaxOutputFiles  int
	MaxOutputFileMB int64
}

// Executor runs requests against pre-warmed interactive sandboxes.
type Executor struct {
	cfg Config
}

// New builds an Executor.
func New(cfg Config) *Executor {
	if cfg.MaxOutputFiles <= 0 {
		cfg.MaxOutputFiles = 32
	}
	if cfg.MaxOutputFileMB <= 0 {
		cfg.MaxOutputFileMB = 10
	}
	return &Executor{cfg: cfg}
}

// Run serializes inputFiles into sb's scratch directory, sends exactly
// one request frame, and reads exactly one response frame within
// wallTime. Any failure here — timeout, EOF, malformed frame — means
// the sandbox's stdio stream is in an indeterminate state; the caller
// must destroy it rather than return it to the pool.
func (e *Executor) Run(ctx context.Context, sb *manager.Sandbox, code string, state []byte, captureState bool, inputFiles map[string][]byte, wallTime time.Duration) (execresult.Result, error) {
	for name, data := range inputFiles {
		full := filepath.Join(sb.ScratchDir, name)
		if err := os.MkdirAll(filepath.Dir(full), 0750); err != nil {
			return execresult.Result{}, appErr.Wrap(err, appErr.InternalServerError).WithMessage("stage input file")
		}
		if err := os.WriteFile(full, data, 0640); err != nil {
			return execresult.Result{}, appErr.Wrap(err, appErr.InternalServerError).WithMessage("stage input file")
		}
	}

	before, err := execresult.ScanDir(sb.ScratchDir)
	if err != nil {
		return execresult.Result{}, appErr.Wrap(err, appErr.InternalServerError).WithMessage("scan scratch directory")
	}

	stdin, stdout := sb.Stdio()
	req := interpreter.Request{Code: code, CaptureState: captureState}
	if len(state) > 0 {
		req.State = base64.StdEncoding.EncodeToString(state)
	}

	if err := interpreter.WriteRequest(stdin, req); err != nil {
		return execresult.Result{}, err
	}

	deadline := time.Now().Add(wallTime)
	resp, err := interpreter.ReadResponse(ctx, stdout, deadline)
	if err != nil {
		return execresult.Result{}, err
	}

	after, scanErr := execresult.ScanDir(sb.ScratchDir)
	if scanErr != nil {
		return execresult.Result{}, appErr.Wrap(scanErr, appErr.InternalServerError).WithMessage("scan scratch directory")
	}
	changed := execresult.Diff(before, after)
	files, limited := execresult.CollectFiles(sb.ScratchDir, changed, e.cfg.MaxOutputFiles, e.cfg.MaxOutputFileMB*1024*1024)

	result := execresult.Result{
		Stdout:     resp.Stdout,
		Stderr:     resp.Stderr,
		ExitCode:   resp.ExitCode,
		Files:      files,
		FilesLimit: limited,
	}
	if resp.State != nil {
		decoded, err := base64.StdEncoding.DecodeString(*resp.State)
		if err != nil {
			return execresult.Result{}, appErr.Wrap(err, appErr.StateDecodeFailed).WithMessage("decode returned state")
		}
		result.State = decoded
	}
	return result, nil
}
