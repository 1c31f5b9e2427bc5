//go:build !linux

package isolation

import (
	"context"

	"coderunner/internal/execengine/spec"
	appErr "coderunner/pkg/errors"
)

type stubEngine struct{}

// NewEngine on non-Linux platforms returns an engine that always fails:
// the isolation primitives (namespaces, cgroups) this package depends on
// are Linux-only.
func NewEngine(cfg Config, resolver ProfileResolver) (Engine, error) {
	return &stubEngine{}, nil
}

func (e *stubEngine) Run(ctx context.Context, runSpec spec.RunSpec) (RunResult, error) {
	return RunResult{}, appErr.New(appErr.SandboxUnhealthy).WithMessage("sandbox isolation is only supported on linux")
}

func (e *stubEngine) Kill(ctx context.Context, execID string) error {
	return appErr.New(appErr.SandboxUnhealthy).WithMessage("sandbox isolation is only supported on linux")
}
