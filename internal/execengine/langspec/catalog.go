package langspec

import (
	"coderunner/internal/execengine/security"
	"coderunner/internal/execengine/spec"
)

// defaultRootFS and defaultSeccompProfile name the single sandbox image
// and syscall filter every language shares; per-language isolation
// divergence is not yet a requirement of this catalog.
const (
	defaultRootFS         = "default"
	defaultSeccompProfile = "default"
)

var defaultLimits = spec.ResourceLimit{
	CPUTimeMs:  10_000,
	WallTimeMs: 10_000,
	MemoryMB:   256,
	StackMB:    64,
	OutputMB:   10,
	PIDs:       32,
}

// DefaultTaskProfiles returns one run profile (and, where the language
// compiles, one compile profile) per DefaultLanguageSpecs entry, all
// sharing the single default isolation profile.
func DefaultTaskProfiles() []TaskProfile {
	var profiles []TaskProfile
	for _, l := range DefaultLanguageSpecs() {
		profiles = append(profiles, TaskProfile{
			LanguageID:     l.ID,
			TaskType:       TaskTypeRun,
			RootFS:         defaultRootFS,
			SeccompProfile: defaultSeccompProfile,
			DefaultLimits:  defaultLimits,
		})
		if l.CompileEnabled {
			compileLimits := defaultLimits
			compileLimits.WallTimeMs = 20_000
			compileLimits.MemoryMB = 512
			profiles = append(profiles, TaskProfile{
				LanguageID:     l.ID,
				TaskType:       TaskTypeCompile,
				RootFS:         defaultRootFS,
				SeccompProfile: defaultSeccompProfile,
				DefaultLimits:  compileLimits,
			})
		}
		if l.Interactive {
			profiles = append(profiles, TaskProfile{
				LanguageID:     l.ID,
				TaskType:       TaskTypeWarmup,
				RootFS:         defaultRootFS,
				SeccompProfile: defaultSeccompProfile,
				DefaultLimits:  defaultLimits,
			})
		}
	}
	return profiles
}

// DefaultIsolationProfiles returns the security.IsolationProfile set
// keyed by ProfileName(languageID, taskType), ready to hand to
// security.NewStaticResolver.
func DefaultIsolationProfiles() map[string]security.IsolationProfile {
	profiles := make(map[string]security.IsolationProfile)
	for _, p := range DefaultTaskProfiles() {
		profiles[ProfileName(p.LanguageID, p.TaskType)] = security.IsolationProfile{
			RootFS:         p.RootFS,
			SeccompProfile: p.SeccompProfile,
			DisableNetwork: true,
			TmpfsSizeMB:    256,
		}
	}
	return profiles
}

// DefaultLanguageSpecs returns the twelve-language catalog this service
// supports out of the box. Python is the sole interactive, pool-backed
// language; every other language runs through the One-Shot Executor.
// Command templates are shlex-parsed after {src}/{bin}/{extraFlags}
// substitution by the One-Shot Executor.
func DefaultLanguageSpecs() []LanguageSpec {
	return []LanguageSpec{
		{
			ID:          "py",
			Interactive: true,
			SourceFile:  "main.py",
			RunCmdTpl:   "python3 -u {src}",
		},
		{
			ID:         "js",
			SourceFile: "main.js",
			RunCmdTpl:  "node {src}",
		},
		{
			ID:             "ts",
			SourceFile:     "main.ts",
			CompileEnabled: true,
			BinaryFile:     "main.js",
			CompileCmdTpl:  "tsc --outFile {bin} {src}",
			RunCmdTpl:      "node {bin}",
		},
		{
			ID:             "go",
			SourceFile:     "main.go",
			CompileEnabled: true,
			BinaryFile:     "main",
			CompileCmdTpl:  "go build -o {bin} {src}",
			RunCmdTpl:      "{bin}",
			TimeMultiplier: 1.0,
		},
		{
			ID:               "java",
			SourceFile:       "Main.java",
			CompileEnabled:   true,
			BinaryFile:       "Main",
			CompileCmdTpl:    "javac -d . {src}",
			RunCmdTpl:        "java -cp . {bin}",
			MemoryMultiplier: 1.5,
		},
		{
			ID:             "c",
			SourceFile:     "main.c",
			CompileEnabled: true,
			BinaryFile:     "main",
			CompileCmdTpl:  "gcc -O2 -o {bin} {src} {extraFlags}",
			RunCmdTpl:      "{bin}",
		},
		{
			ID:             "cpp",
			SourceFile:     "main.cpp",
			CompileEnabled: true,
			BinaryFile:     "main",
			CompileCmdTpl:  "g++ -O2 -std=c++17 -o {bin} {src} {extraFlags}",
			RunCmdTpl:      "{bin}",
		},
		{
			ID:         "php",
			SourceFile: "main.php",
			RunCmdTpl:  "php {src}",
		},
		{
			ID:               "rs",
			SourceFile:       "main.rs",
			CompileEnabled:   true,
			BinaryFile:       "main",
			CompileCmdTpl:    "rustc -O -o {bin} {src}",
			RunCmdTpl:        "{bin}",
			TimeMultiplier:   1.2,
			MemoryMultiplier: 1.2,
		},
		{
			ID:         "r",
			SourceFile: "main.r",
			RunCmdTpl:  "Rscript {src}",
		},
		{
			ID:             "f90",
			SourceFile:     "main.f90",
			CompileEnabled: true,
			BinaryFile:     "main",
			CompileCmdTpl:  "gfortran -O2 -o {bin} {src}",
			RunCmdTpl:      "{bin}",
		},
		{
			ID:             "d",
			SourceFile:     "main.d",
			CompileEnabled: true,
			BinaryFile:     "main",
			CompileCmdTpl:  "dmd -of={bin} {src}",
			RunCmdTpl:      "{bin}",
		},
	}
}
