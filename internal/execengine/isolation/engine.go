// Package isolation implements the Isolation Driver: it builds argument
// vectors for the external isolation binary (namespaces, seccomp policy,
// cgroup limits, bind mounts, user mapping), spawns it, and reports back
// exit status, captured stdio and resource usage.
package isolation

import (
	"context"

	"coderunner/internal/execengine/security"
	"coderunner/internal/execengine/spec"
)

// Engine runs a RunSpec inside an isolated sandbox process and reports the
// outcome. A single Engine instance backs every sandbox launch in the
// service; it holds no per-execution state between calls.
type Engine interface {
	// Run spawns the external isolation binary and waits for it to finish
	// or be killed by a wall-clock or cgroup limit.
	Run(ctx context.Context, runSpec spec.RunSpec) (RunResult, error)
	// Kill destroys every sandbox process tree associated with execID,
	// used for client-disconnect/admin-kill cancellation.
	Kill(ctx context.Context, execID string) error
}

// RunResult captures raw sandbox execution data. It is intentionally
// smaller than a judge-style result: no verdict mapping happens here, only
// raw facts the One-Shot Executor / REPL Executor interpret.
type RunResult struct {
	ExitCode   int
	TimeMs     int64
	WallTimeMs int64
	MemoryKB   int64
	OutputKB   int64
	Stdout     string
	Stderr     string
	OomKilled  bool
	TimedOut   bool
}

// ProfileResolver resolves a profile name ("{language}-{taskType}") into an
// isolation profile.
type ProfileResolver interface {
	Resolve(profileName string) (security.IsolationProfile, error)
}

// Config controls sandbox engine behavior.
type Config struct {
	CgroupRoot           string
	SeccompDir           string
	HelperPath           string
	SandboxBaseDir       string
	StdoutStderrMaxBytes int64
	EnableSeccomp        bool
	EnableCgroup         bool
	EnableNamespaces     bool
}
