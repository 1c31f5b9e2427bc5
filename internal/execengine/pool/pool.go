// Package pool maintains a pre-warmed population of interactive-language
// sandboxes so acquisition completes in single-digit milliseconds, and
// constructs fresh one-shot sandboxes for every other language on demand.
package pool

import (
	"context"
	"math"
	"sync"
	"time"

	"coderunner/internal/execengine/manager"
	appErr "coderunner/pkg/errors"
	"coderunner/pkg/utils/logger"

	"go.uber.org/zap"
)

// Config controls one language's pool population.
type Config struct {
	Language       string
	Target         int
	Launchers      int // bounded replenishment parallelism, default = Target
	TTL            time.Duration
	AcquireTimeout time.Duration
	BackoffBase    time.Duration
	BackoffCeiling time.Duration
}

type languagePool struct {
	cfg Config

	mu      sync.Mutex
	ready   []*manager.Sandbox
	waiters []chan *manager.Sandbox // FIFO ticket queue

	launchTokens chan struct{}
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// Pool hands out single-use sandboxes per language: pre-warmed for the
// interactive language, freshly constructed for every other language.
type Pool struct {
	mgr *manager.Manager

	mu        sync.Mutex
	languages map[string]*languagePool

	sweepDone  chan struct{}
	sweepOnce  sync.Once
	sweepGroup sync.WaitGroup
}

// sweepInterval bounds how long a Ready sandbox can sit past its TTL
// before an otherwise-idle pool (no Acquire calls to notice it inline)
// evicts and replenishes it.
const sweepInterval = time.Second

// New builds a Pool and starts its background TTL sweep. Each entry in
// cfgs seeds one language's target population; languages with no entry
// are served as one-shot only.
func New(mgr *manager.Manager, cfgs []Config) *Pool {
	p := &Pool{mgr: mgr, languages: make(map[string]*languagePool), sweepDone: make(chan struct{})}
	for _, cfg := range cfgs {
		p.languages[cfg.Language] = newLanguagePool(cfg)
	}
	p.sweepGroup.Add(1)
	go p.sweepLoop()
	return p
}

// sweepLoop periodically evicts expired Ready sandboxes across every
// language, independent of Acquire — a language nobody is currently
// requesting still ages its Ready population out on schedule.
func (p *Pool) sweepLoop() {
	defer p.sweepGroup.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.sweepDone:
			return
		case <-ticker.C:
			p.mu.Lock()
			pools := make([]*languagePool, 0, len(p.languages))
			for _, lp := range p.languages {
				pools = append(pools, lp)
			}
			p.mu.Unlock()
			for _, lp := range pools {
				lp.evictExpired(p.mgr)
			}
		}
	}
}

func newLanguagePool(cfg Config) *languagePool {
	if cfg.Launchers <= 0 {
		cfg.Launchers = cfg.Target
	}
	if cfg.Launchers <= 0 {
		cfg.Launchers = 1
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 5 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 200 * time.Millisecond
	}
	if cfg.BackoffCeiling <= 0 {
		cfg.BackoffCeiling = 10 * time.Second
	}
	return &languagePool{
		cfg:          cfg,
		launchTokens: make(chan struct{}, cfg.Launchers),
		shutdown:     make(chan struct{}),
	}
}

// Acquire hands out a sandbox for language. Interactive languages pop a
// Ready sandbox or wait FIFO for one; every other language gets a fresh
// one-shot sandbox built on demand.
func (p *Pool) Acquire(ctx context.Context, language string) (*manager.Sandbox, error) {
	lp := p.languagePoolFor(language)
	if lp == nil {
		return p.mgr.AllocateScratch(ctx, language)
	}
	return lp.acquire(ctx, p.mgr, language)
}

// Release destroys the sandbox and, for pool-backed languages, schedules
// replenishment if the Ready+Warming population has dropped below
// target (queued waiters count as extra demand). Sandboxes are never
// returned to the pool.
func (p *Pool) Release(ctx context.Context, language string, sb *manager.Sandbox) {
	p.mgr.Destroy(ctx, sb)
	if lp := p.languagePoolFor(language); lp != nil {
		lp.mu.Lock()
		below := len(lp.ready)+len(lp.launchTokens) < lp.cfg.Target+len(lp.waiters)
		lp.mu.Unlock()
		if below {
			lp.replenishOne(p.mgr)
		}
	}
}

// Warmup launches every configured language's population up to target,
// bounded by each language's launcher parallelism.
func (p *Pool) Warmup(ctx context.Context) {
	p.mu.Lock()
	pools := make([]*languagePool, 0, len(p.languages))
	for _, lp := range p.languages {
		pools = append(pools, lp)
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, lp := range pools {
		for i := 0; i < lp.cfg.Target; i++ {
			wg.Add(1)
			go func(lp *languagePool) {
				defer wg.Done()
				lp.launchTokens <- struct{}{}
				sb, err := p.mgr.CreateInteractive(ctx, lp.cfg.Language, lp.cfg.TTL)
				<-lp.launchTokens
				if err != nil {
					lp.replenishOne(p.mgr)
					return
				}
				lp.deliver(sb)
			}(lp)
		}
	}
	wg.Wait()
}

// Shutdown stops the TTL sweep and replenishment, and destroys every
// Ready and Warming sandbox across all languages.
func (p *Pool) Shutdown(ctx context.Context) {
	p.sweepOnce.Do(func() { close(p.sweepDone) })
	p.sweepGroup.Wait()

	p.mu.Lock()
	pools := make([]*languagePool, 0, len(p.languages))
	for _, lp := range p.languages {
		pools = append(pools, lp)
	}
	p.mu.Unlock()

	for _, lp := range pools {
		lp.shutdownOnce.Do(func() { close(lp.shutdown) })
		lp.mu.Lock()
		ready := lp.ready
		lp.ready = nil
		waiters := lp.waiters
		lp.waiters = nil
		lp.mu.Unlock()

		for _, w := range waiters {
			close(w)
		}
		for _, sb := range ready {
			p.mgr.Destroy(ctx, sb)
		}
	}
}

// LanguageStats reports one language's pool population for health
// reporting.
type LanguageStats struct {
	Ready   int
	Waiting int
	Target  int
}

// Stats reports the current Ready/waiting population per pool-backed
// language.
func (p *Pool) Stats() map[string]LanguageStats {
	p.mu.Lock()
	pools := make(map[string]*languagePool, len(p.languages))
	for lang, lp := range p.languages {
		pools[lang] = lp
	}
	p.mu.Unlock()

	stats := make(map[string]LanguageStats, len(pools))
	for lang, lp := range pools {
		lp.mu.Lock()
		stats[lang] = LanguageStats{Ready: len(lp.ready), Waiting: len(lp.waiters), Target: lp.cfg.Target}
		lp.mu.Unlock()
	}
	return stats
}

func (p *Pool) languagePoolFor(language string) *languagePool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.languages[language]
}

// acquire implements the FIFO-fair wait: a waiter is handed a private
// buffered channel and enqueued; replenishment and releases always feed
// the oldest outstanding channel first, so order of arrival is a
// property of queue position rather than scheduler luck.
func (lp *languagePool) acquire(ctx context.Context, mgr *manager.Manager, language string) (*manager.Sandbox, error) {
	lp.mu.Lock()
	if n := len(lp.ready); n > 0 {
		sb := lp.ready[n-1]
		lp.ready = lp.ready[:n-1]
		lp.mu.Unlock()
		if sb.Expired() {
			mgr.Destroy(ctx, sb)
			lp.replenishOne(mgr)
			return lp.acquire(ctx, mgr, language)
		}
		return sb, nil
	}
	ticket := make(chan *manager.Sandbox, 1)
	lp.waiters = append(lp.waiters, ticket)
	lp.mu.Unlock()

	lp.replenishOne(mgr)

	timer := time.NewTimer(lp.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case sb, ok := <-ticket:
		if !ok || sb == nil {
			return nil, appErr.New(appErr.PoolExhausted).WithDetail("language", language).WithMessage("pool shutting down")
		}
		return sb, nil
	case <-timer.C:
		lp.removeWaiter(ticket)
		return nil, appErr.New(appErr.PoolExhausted).WithDetail("language", language).WithMessage("acquire timed out")
	case <-ctx.Done():
		lp.removeWaiter(ticket)
		return nil, ctx.Err()
	}
}

// evictExpired removes every Ready sandbox that has aged past TTL,
// destroys it, and replenishes one-for-one. Runs off the sweep ticker
// so a language with no recent Acquire calls still has its Ready
// population evicted on schedule rather than on next use.
func (lp *languagePool) evictExpired(mgr *manager.Manager) {
	lp.mu.Lock()
	var expired []*manager.Sandbox
	fresh := lp.ready[:0:0]
	for _, sb := range lp.ready {
		if sb.Expired() {
			expired = append(expired, sb)
		} else {
			fresh = append(fresh, sb)
		}
	}
	lp.ready = fresh
	lp.mu.Unlock()

	for _, sb := range expired {
		mgr.Destroy(context.Background(), sb)
		lp.replenishOne(mgr)
	}
}

func (lp *languagePool) removeWaiter(ticket chan *manager.Sandbox) {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	for i, w := range lp.waiters {
		if w == ticket {
			lp.waiters = append(lp.waiters[:i], lp.waiters[i+1:]...)
			return
		}
	}
}

// deliver hands a freshly-warmed sandbox to the oldest waiter if any,
// otherwise appends it to the Ready queue.
func (lp *languagePool) deliver(sb *manager.Sandbox) {
	lp.mu.Lock()
	for len(lp.waiters) > 0 {
		ticket := lp.waiters[0]
		lp.waiters = lp.waiters[1:]
		lp.mu.Unlock()
		ticket <- sb
		close(ticket)
		return
	}
	lp.ready = append(lp.ready, sb)
	lp.mu.Unlock()
}

// replenishOne launches at most one replenishment sandbox, bounded by
// the language's launcher token pool, retrying with exponential backoff
// on failure up to the configured ceiling. A failed launch never blocks
// Acquire, which may still time out.
func (lp *languagePool) replenishOne(mgr *manager.Manager) {
	select {
	case lp.launchTokens <- struct{}{}:
	default:
		return // launcher parallelism already saturated
	}

	go func() {
		defer func() { <-lp.launchTokens }()

		backoff := lp.cfg.BackoffBase
		for attempt := 0; ; attempt++ {
			select {
			case <-lp.shutdown:
				return
			default:
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			sb, err := mgr.CreateInteractive(ctx, lp.cfg.Language, lp.cfg.TTL)
			cancel()
			if err == nil {
				lp.deliver(sb)
				return
			}

			logger.Warn(context.Background(), "sandbox launch failed, retrying",
				zap.String("language", lp.cfg.Language), zap.Int("attempt", attempt), zap.Error(err))

			select {
			case <-lp.shutdown:
				return
			case <-time.After(backoff):
			}
			backoff = time.Duration(math.Min(float64(backoff*2), float64(lp.cfg.BackoffCeiling)))
		}
	}()
}
