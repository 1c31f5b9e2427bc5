package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"coderunner/internal/execengine/execresult"
	"coderunner/internal/execengine/langspec"
	"coderunner/internal/execengine/manager"
	"coderunner/internal/execengine/orchestrator"
	"coderunner/internal/execengine/spec"
	appErr "coderunner/pkg/errors"
)

type fakePool struct {
	sb          *manager.Sandbox
	acquireErr  error
	released    int
	acquireCall int
}

func (p *fakePool) Acquire(ctx context.Context, language string) (*manager.Sandbox, error) {
	p.acquireCall++
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	return p.sb, nil
}

func (p *fakePool) Release(ctx context.Context, language string, sb *manager.Sandbox) {
	p.released++
}

type fakeOneShot struct {
	result execresult.Result
	err    error
}

func (f *fakeOneShot) Run(ctx context.Context, sb *manager.Sandbox, code string, limits spec.ResourceLimit, stdinData string) (execresult.Result, error) {
	return f.result, f.err
}

type fakeREPL struct {
	results []execresult.Result
	errs    []error
	calls   int
}

func (f *fakeREPL) Run(ctx context.Context, sb *manager.Sandbox, code string, state []byte, captureState bool, inputFiles map[string][]byte, wallTime time.Duration) (execresult.Result, error) {
	i := f.calls
	f.calls++
	var res execresult.Result
	var err error
	if i < len(f.results) {
		res = f.results[i]
	}
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return res, err
}

type fakeStore struct {
	saved   map[string][]byte
	saveErr error
	loadErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: make(map[string][]byte)}
}

func (s *fakeStore) Save(ctx context.Context, sessionID string, data []byte) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved[sessionID] = data
	return nil
}

func (s *fakeStore) Load(ctx context.Context, sessionID string) ([]byte, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	data, ok := s.saved[sessionID]
	if !ok {
		return nil, appErr.New(appErr.SessionNotFound)
	}
	return data, nil
}

func newRepo() langspec.Repository {
	return langspec.NewStaticRepository(
		[]langspec.LanguageSpec{
			{ID: "py", Interactive: true},
			{ID: "c", Interactive: false, CompileEnabled: true},
		},
		nil,
	)
}

func newSandbox() *manager.Sandbox {
	return manager.NewSandboxWithStdio("sb-1", "py", "/tmp/sb-1", nil, nil, func() {})
}

func TestExecuteOneShotPath(t *testing.T) {
	pool := &fakePool{sb: newSandbox()}
	oneshot := &fakeOneShot{result: execresult.Result{Stdout: "hi", ExitCode: 0}}
	repl := &fakeREPL{}
	store := newFakeStore()

	orch := orchestrator.New(pool, newRepo(), store, oneshot, repl, orchestrator.Config{})
	res, err := orch.Execute(context.Background(), orchestrator.Request{Language: "c", Code: "int main(){}"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Stdout != "hi" {
		t.Fatalf("expected stdout hi, got %q", res.Stdout)
	}
	if res.SessionID == "" {
		t.Fatal("expected a generated session id")
	}
	if pool.released != 1 {
		t.Fatalf("expected sandbox released exactly once, got %d", pool.released)
	}
}

func TestExecuteInteractivePathPersistsState(t *testing.T) {
	pool := &fakePool{sb: newSandbox()}
	oneshot := &fakeOneShot{}
	repl := &fakeREPL{results: []execresult.Result{{Stdout: "42\n", ExitCode: 0, State: []byte("namespace-bytes")}}}
	store := newFakeStore()

	orch := orchestrator.New(pool, newRepo(), store, oneshot, repl, orchestrator.Config{})
	res, err := orch.Execute(context.Background(), orchestrator.Request{
		Language:     "py",
		Code:         "x = 42",
		CaptureState: true,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", res.Warnings)
	}
	saved, ok := store.saved[res.SessionID]
	if !ok {
		t.Fatal("expected state saved under the returned session id")
	}
	if string(saved) != "namespace-bytes" {
		t.Fatalf("unexpected saved state: %q", saved)
	}
}

func TestExecuteLoadsExistingSession(t *testing.T) {
	pool := &fakePool{sb: newSandbox()}
	oneshot := &fakeOneShot{}
	repl := &fakeREPL{results: []execresult.Result{{Stdout: "42\n", ExitCode: 0}}}
	store := newFakeStore()
	store.saved["s1"] = []byte("previous-namespace")

	orch := orchestrator.New(pool, newRepo(), store, oneshot, repl, orchestrator.Config{})
	res, err := orch.Execute(context.Background(), orchestrator.Request{
		Language:  "py",
		Code:      "print(x)",
		SessionID: "s1",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.SessionID != "s1" {
		t.Fatalf("expected session id s1 echoed back, got %q", res.SessionID)
	}
}

func TestExecuteRejectsOversizedCode(t *testing.T) {
	pool := &fakePool{sb: newSandbox()}
	orch := orchestrator.New(pool, newRepo(), newFakeStore(), &fakeOneShot{}, &fakeREPL{}, orchestrator.Config{MaxCodeBytes: 4})
	_, err := orch.Execute(context.Background(), orchestrator.Request{Language: "c", Code: "too long"})
	if !appErr.Is(err, appErr.CodeTooLarge) {
		t.Fatalf("expected CodeTooLarge, got %v", err)
	}
	if pool.acquireCall != 0 {
		t.Fatal("validation failure must not touch the pool")
	}
}

func TestExecuteRetriesOnceOnSandboxUnhealthy(t *testing.T) {
	pool := &fakePool{sb: newSandbox()}
	oneshot := &fakeOneShot{}
	repl := &fakeREPL{
		results: []execresult.Result{{}, {Stdout: "ok", ExitCode: 0}},
		errs:    []error{appErr.New(appErr.SandboxUnhealthy), nil},
	}
	store := newFakeStore()

	orch := orchestrator.New(pool, newRepo(), store, oneshot, repl, orchestrator.Config{})
	res, err := orch.Execute(context.Background(), orchestrator.Request{Language: "py", Code: "x = 1"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Stdout != "ok" {
		t.Fatalf("expected the retried attempt's result, got %q", res.Stdout)
	}
	if repl.calls != 2 {
		t.Fatalf("expected exactly one retry (2 calls), got %d", repl.calls)
	}
	if pool.acquireCall != 2 || pool.released != 2 {
		t.Fatalf("expected a fresh sandbox acquired+released per attempt, got acquire=%d release=%d", pool.acquireCall, pool.released)
	}
}

func TestExecuteSavesNoStateOnTimeoutError(t *testing.T) {
	pool := &fakePool{sb: newSandbox()}
	repl := &fakeREPL{errs: []error{appErr.New(appErr.TimeoutExceeded)}}
	store := newFakeStore()

	orch := orchestrator.New(pool, newRepo(), store, &fakeOneShot{}, repl, orchestrator.Config{})
	_, err := orch.Execute(context.Background(), orchestrator.Request{Language: "py", Code: "while True: pass", CaptureState: true})
	if !appErr.Is(err, appErr.TimeoutExceeded) {
		t.Fatalf("expected TimeoutExceeded, got %v", err)
	}
	if len(store.saved) != 0 {
		t.Fatal("expected no state saved on a timed-out execution")
	}
}
