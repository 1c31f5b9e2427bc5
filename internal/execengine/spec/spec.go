// Package spec defines the execution specification and resource limits
// that cross the boundary into the Isolation Driver.
package spec

// ResourceLimit describes hard limits enforced by the sandbox.
type ResourceLimit struct {
	CPUTimeMs  int64
	WallTimeMs int64
	MemoryMB   int64
	StackMB    int64
	OutputMB   int64
	PIDs       int64
}

// MountSpec describes a bind mount inside the sandbox.
type MountSpec struct {
	Source   string
	Target   string
	ReadOnly bool
}

// RunSpec is the unified execution specification for one sandbox invocation.
// One execution may issue more than one RunSpec (compile, then run).
type RunSpec struct {
	ExecutionID string
	Step        string // "compile", "run", or "main" (interactive sandbox)
	WorkDir     string
	Cmd         []string
	Env         []string
	StdinPath   string
	StdoutPath  string
	StderrPath  string
	BindMounts  []MountSpec
	Profile     string
	Limits      ResourceLimit
	// DisableNetwork is carried on the spec but not read: the isolation
	// driver takes network isolation from the resolved profile only, and
	// sandbox-init's request has no such RunSpec field.
	DisableNetwork bool
}
