package oneshot_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"coderunner/internal/execengine/isolation"
	"coderunner/internal/execengine/langspec"
	"coderunner/internal/execengine/manager"
	"coderunner/internal/execengine/oneshot"
	"coderunner/internal/execengine/spec"
)

type fakeEngine struct {
	results    map[string]isolation.RunResult
	errs       map[string]error
	writeOnRun bool
	calls      []spec.RunSpec
}

func (f *fakeEngine) Run(ctx context.Context, rs spec.RunSpec) (isolation.RunResult, error) {
	f.calls = append(f.calls, rs)
	if rs.Step == "run" && f.writeOnRun {
		os.WriteFile(filepath.Join(rs.WorkDir, "out.txt"), []byte("produced"), 0640)
	}
	return f.results[rs.Step], f.errs[rs.Step]
}

func (f *fakeEngine) Kill(ctx context.Context, execID string) error { return nil }

func newRepo() langspec.Repository {
	return langspec.NewStaticRepository(
		[]langspec.LanguageSpec{
			{ID: "c", CompileEnabled: true, SourceFile: "main.c", BinaryFile: "main", CompileCmdTpl: "gcc {src} -o {bin}", RunCmdTpl: "{bin}"},
			{ID: "js", CompileEnabled: false, SourceFile: "main.js", RunCmdTpl: "node {src}"},
		},
		[]langspec.TaskProfile{
			{LanguageID: "c", TaskType: langspec.TaskTypeCompile, DefaultLimits: spec.ResourceLimit{WallTimeMs: 5000}},
			{LanguageID: "c", TaskType: langspec.TaskTypeRun, DefaultLimits: spec.ResourceLimit{WallTimeMs: 1000}},
			{LanguageID: "js", TaskType: langspec.TaskTypeRun, DefaultLimits: spec.ResourceLimit{WallTimeMs: 1000}},
		},
	)
}

func newSandbox(t *testing.T, language string) *manager.Sandbox {
	t.Helper()
	dir := t.TempDir()
	mgr := manager.New(nil, newRepo(), manager.Config{BaseDir: dir})
	sb, err := mgr.AllocateScratch(context.Background(), language)
	if err != nil {
		t.Fatalf("allocate scratch: %v", err)
	}
	return sb
}

func TestRunCompileFailureSkipsRunStep(t *testing.T) {
	sb := newSandbox(t, "c")
	eng := &fakeEngine{
		results: map[string]isolation.RunResult{
			"compile": {ExitCode: 1, Stderr: "syntax error"},
		},
	}
	ex := oneshot.New(eng, newRepo(), oneshot.Config{})
	res, err := ex.Run(context.Background(), sb, "int main( {", spec.ResourceLimit{}, "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ExitCode == 0 {
		t.Fatal("expected non-zero exit code for compile failure")
	}
	for _, call := range eng.calls {
		if call.Step == "run" {
			t.Fatal("run step must not be invoked after compile failure")
		}
	}
}

func TestRunCollectsProducedFiles(t *testing.T) {
	sb := newSandbox(t, "js")
	eng := &fakeEngine{
		results: map[string]isolation.RunResult{
			"run": {ExitCode: 0, Stdout: "hello\n"},
		},
		writeOnRun: true,
	}
	ex := oneshot.New(eng, newRepo(), oneshot.Config{})

	res, err := ex.Run(context.Background(), sb, "console.log('hello')", spec.ResourceLimit{}, "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d", res.ExitCode)
	}
	found := false
	for _, f := range res.Files {
		if f.Name == "out.txt" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected out.txt in produced files, got %v", res.Files)
	}
}
