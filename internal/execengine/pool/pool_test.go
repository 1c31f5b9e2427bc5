package pool_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"coderunner/internal/execengine/isolation"
	"coderunner/internal/execengine/langspec"
	"coderunner/internal/execengine/manager"
	"coderunner/internal/execengine/pool"
	"coderunner/internal/execengine/spec"
)

// fakeEngine stands in for the Isolation Driver: instead of spawning
// sandbox-init, it opens the stdin and stdout fifos the Manager already
// created (stdin first, the order sandbox-init uses), writes the warmup
// ready marker, and holds the sandbox open until the run context is
// cancelled (Release/Destroy).
type fakeEngine struct {
	mu      sync.Mutex
	started int
}

func (f *fakeEngine) Run(ctx context.Context, runSpec spec.RunSpec) (isolation.RunResult, error) {
	f.mu.Lock()
	f.started++
	f.mu.Unlock()

	in, err := os.OpenFile(runSpec.StdinPath, os.O_RDONLY, 0)
	if err != nil {
		return isolation.RunResult{}, err
	}
	defer in.Close()
	out, err := os.OpenFile(runSpec.StdoutPath, os.O_WRONLY, 0)
	if err != nil {
		return isolation.RunResult{}, err
	}
	defer out.Close()
	if _, err := out.WriteString("__INTERPRETER_READY__\n"); err != nil {
		return isolation.RunResult{}, err
	}
	<-ctx.Done()
	return isolation.RunResult{}, nil
}

func (f *fakeEngine) Kill(ctx context.Context, execID string) error { return nil }

func newTestPool(t *testing.T, target, launchers int) (*pool.Pool, *fakeEngine) {
	t.Helper()
	engine := &fakeEngine{}
	repo := langspec.NewStaticRepository(langspec.DefaultLanguageSpecs(), langspec.DefaultTaskProfiles())
	mgr := manager.New(engine, repo, manager.Config{
		BaseDir:       t.TempDir(),
		WarmupTimeout: 2 * time.Second,
	})
	p := pool.New(mgr, []pool.Config{
		{
			Language:       "py",
			Target:         target,
			Launchers:      launchers,
			TTL:            time.Minute,
			AcquireTimeout: 2 * time.Second,
		},
	})
	return p, engine
}

func TestPoolWarmupThenAcquireIsImmediate(t *testing.T) {
	p, _ := newTestPool(t, 2, 2)
	p.Warmup(context.Background())
	t.Cleanup(func() { p.Shutdown(context.Background()) })

	stats := p.Stats()["py"]
	if stats.Ready != 2 {
		t.Fatalf("ready = %d, want 2 after warmup", stats.Ready)
	}

	sb, err := p.Acquire(context.Background(), "py")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if sb.Language != "py" {
		t.Errorf("language = %s, want py", sb.Language)
	}
}

func TestPoolAcquireIsSingleUse(t *testing.T) {
	p, _ := newTestPool(t, 1, 1)
	p.Warmup(context.Background())
	t.Cleanup(func() { p.Shutdown(context.Background()) })

	sb, err := p.Acquire(context.Background(), "py")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	p.Release(context.Background(), "py", sb)

	// Release destroys the sandbox unconditionally; it must never be
	// handed out a second time. Acquire again and confirm a distinct
	// sandbox ID is issued instead.
	sb2, err := p.Acquire(context.Background(), "py")
	if err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}
	if sb2.ID == sb.ID {
		t.Fatalf("acquire returned the same sandbox after release: %s", sb.ID)
	}
}

func TestPoolAcquireIsFIFO(t *testing.T) {
	p, _ := newTestPool(t, 0, 2)
	t.Cleanup(func() { p.Shutdown(context.Background()) })

	const waiters = 3
	order := make(chan int, waiters)
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		idx := i
		go func() {
			defer wg.Done()
			sb, err := p.Acquire(context.Background(), "py")
			if err != nil {
				t.Errorf("waiter %d acquire failed: %v", idx, err)
				return
			}
			order <- idx
			p.Release(context.Background(), "py", sb)
		}()
		// Stagger arrival so waiters enqueue in a known order; the pool
		// has zero warm targets, so every acquire blocks on replenishment.
		time.Sleep(20 * time.Millisecond)
	}
	wg.Wait()
	close(order)

	var got []int
	for v := range order {
		got = append(got, v)
	}
	if len(got) != waiters {
		t.Fatalf("got %d completions, want %d", len(got), waiters)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("completion order = %v, want FIFO 0..%d", got, waiters-1)
		}
	}
}

func TestPoolAcquireOneShotLanguageBypassesPool(t *testing.T) {
	p, _ := newTestPool(t, 1, 1)
	t.Cleanup(func() { p.Shutdown(context.Background()) })

	sb, err := p.Acquire(context.Background(), "cpp")
	if err != nil {
		t.Fatalf("acquire cpp failed: %v", err)
	}
	if sb.Language != "cpp" {
		t.Errorf("language = %s, want cpp", sb.Language)
	}
	if stats := p.Stats(); len(stats) != 1 {
		t.Errorf("stats should only track pool-backed languages, got %v", stats)
	}
}
