// Package langspec defines per-language execution profiles: which binary
// compiles or runs a language, the command templates used to invoke it, and
// the isolation profile that backs each language/task-type pair.
package langspec

import (
	"coderunner/internal/execengine/spec"
)

// TaskType identifies the sandbox task category for a language.
type TaskType string

const (
	TaskTypeCompile TaskType = "compile"
	TaskTypeRun     TaskType = "run"
	TaskTypeWarmup  TaskType = "warmup"
)

// LanguageSpec describes how to compile (if needed) and run one language.
type LanguageSpec struct {
	ID             string // "py", "js", "ts", "go", "java", "c", "cpp", "php", "rs", "r", "f90", "d"
	Interactive    bool   // true only for the pool-backed interactive language
	CompileEnabled bool
	SourceFile     string // name written under the sandbox work dir, e.g. "main.py"
	BinaryFile     string // name of the compiled artifact, e.g. "main"
	// CompileCmdTpl / RunCmdTpl are shlex-parsed after {src}/{bin}/{extraFlags}
	// placeholder substitution.
	CompileCmdTpl    string
	RunCmdTpl        string
	Env              []string
	TimeMultiplier   float64
	MemoryMultiplier float64
}

// TaskProfile binds a language/task-type pair to sandbox resources and an
// isolation profile name.
type TaskProfile struct {
	LanguageID     string
	TaskType       TaskType
	RootFS         string
	SeccompProfile string
	DefaultLimits  spec.ResourceLimit
}

// Repository resolves language specs and task profiles.
type Repository interface {
	GetLanguageSpec(id string) (LanguageSpec, error)
	GetTaskProfile(taskType TaskType, languageID string) (TaskProfile, error)
}
