package discovery

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"tvlink/internal/core/domain"
	"tvlink/internal/core/ports"
	"tvlink/internal/infrastructure/monitoring"
)

// Callbacks are the engine's event surface. Any of them may be nil.
// OnSuggest fires when exactly one candidate exists shortly after the engine
// starts; it is a suggestion only, the engine never connects by itself.
type Callbacks struct {
	OnFound   func(*domain.Candidate)
	OnLost    func(*domain.Candidate)
	OnSuggest func(*domain.Candidate)
}

// EngineConfig collects the tunables of the discovery engine.
type EngineConfig struct {
	AdvertisePort   int
	Retention       time.Duration
	SweepInterval   time.Duration
	AutoSelectDelay time.Duration
}

// Engine owns the live candidate set. It merges the passive advertisement
// path with active scan results, ages out stale passive entries, and emits
// add/remove events. External layers only read snapshots.
type Engine struct {
	cfg       EngineConfig
	scanner   *Scanner
	listener  *Listener
	store     ports.CandidateStore // optional quick-scan seed source
	callbacks Callbacks
	logger    *zap.SugaredLogger
	metrics   *monitoring.Metrics

	mu         sync.Mutex
	candidates map[domain.CandidateID]*domain.Candidate
	started    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewEngine(cfg EngineConfig, scanner *Scanner, store ports.CandidateStore, callbacks Callbacks, logger *zap.SugaredLogger, metrics *monitoring.Metrics) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:        cfg,
		scanner:    scanner,
		store:      store,
		callbacks:  callbacks,
		logger:     logger,
		metrics:    metrics,
		candidates: make(map[domain.CandidateID]*domain.Candidate),
		ctx:        ctx,
		cancel:     cancel,
	}
	e.listener = NewListener(cfg.AdvertisePort, e.handleAnnounce, e.handleWithdraw, logger)
	return e
}

// Start begins passive listening, the retention sweep, and the one-shot
// auto-select check. Active scans are caller-triggered via Scan.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.mu.Unlock()

	if err := e.listener.Start(); err != nil {
		return err
	}

	e.wg.Add(1)
	go e.sweepLoop()

	if e.cfg.AutoSelectDelay > 0 {
		e.wg.Add(1)
		go e.autoSelectCheck()
	}
	return nil
}

// Stop tears down the listener and all engine timers. Idempotent.
func (e *Engine) Stop() {
	e.cancel()
	e.listener.Stop()
	e.wg.Wait()
}

// Scan runs one active fan-out. quick uses remembered addresses plus a short
// curated list; otherwise the full /24 around the local address is probed.
// onProgress may be nil.
func (e *Engine) Scan(ctx context.Context, quick bool, onProgress Progress) ([]*domain.Candidate, error) {
	self, err := LocalIPv4()
	if err != nil {
		return nil, err
	}

	var hosts []string
	if quick {
		hosts = QuickHosts(self, e.rememberedAddresses(ctx))
	} else {
		hosts = SubnetHosts(self)
	}

	e.logger.Infow("starting active scan", "quick", quick, "hosts", len(hosts))
	return e.scanner.Scan(ctx, hosts, func(c *domain.Candidate) {
		e.upsert(c)
	}, onProgress), nil
}

// Snapshot returns a copy of the live candidate set.
func (e *Engine) Snapshot() []*domain.Candidate {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*domain.Candidate, 0, len(e.candidates))
	for _, c := range e.candidates {
		cp := *c
		out = append(out, &cp)
	}
	return out
}

func (e *Engine) handleAnnounce(adv Advertisement, from net.IP) {
	if adv.DeviceType != domain.DeviceTypeMarker {
		e.logger.Debugw("ignoring advertisement without device marker", "name", adv.Name, "device_type", adv.DeviceType)
		return
	}
	e.upsert(&domain.Candidate{
		ID:           domain.CandidateIdentity(adv.Name, from.String(), adv.Port),
		Name:         adv.Name,
		Address:      from.String(),
		Port:         adv.Port,
		Capabilities: adv.Capabilities,
		Version:      adv.Version,
		Method:       domain.MethodPassive,
		LastSeen:     time.Now(),
	})
}

func (e *Engine) handleWithdraw(name string) {
	e.mu.Lock()
	c, ok := e.candidates[domain.CandidateID(name)]
	if ok {
		delete(e.candidates, domain.CandidateID(name))
	}
	n := len(e.candidates)
	e.mu.Unlock()

	if !ok {
		return
	}
	e.metrics.SetCandidates(n)
	e.logger.Infow("candidate withdrew", "id", c.ID)
	if e.callbacks.OnLost != nil {
		e.callbacks.OnLost(c)
	}
}

// upsert applies the merge rule: the passive entry wins identity metadata,
// the freshest LastSeen from either path is kept.
func (e *Engine) upsert(c *domain.Candidate) {
	e.mu.Lock()
	existing, ok := e.candidates[c.ID]
	if ok {
		merged := *existing
		if existing.Method == domain.MethodActive && c.Method == domain.MethodPassive {
			// Passive identity metadata supersedes what the probe inferred.
			merged = *c
		}
		if c.LastSeen.After(merged.LastSeen) {
			merged.LastSeen = c.LastSeen
		}
		e.candidates[c.ID] = &merged
		e.mu.Unlock()
		return
	}
	e.candidates[c.ID] = c
	n := len(e.candidates)
	e.mu.Unlock()

	e.metrics.SetCandidates(n)
	e.logger.Infow("candidate discovered", "id", c.ID, "endpoint", c.Endpoint(), "method", c.Method)

	if e.store != nil {
		if err := e.store.Save(e.ctx, c); err != nil {
			e.logger.Warnw("failed to remember candidate", "id", c.ID, "error", err)
		}
	}
	if e.callbacks.OnFound != nil {
		e.callbacks.OnFound(c)
	}
}

func (e *Engine) sweepLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.evictStale()
		}
	}
}

// evictStale removes passive entries with no refresh inside the retention
// window. Active entries persist until withdrawn or superseded; they have no
// advertisement stream to refresh them.
func (e *Engine) evictStale() {
	cutoff := time.Now().Add(-e.cfg.Retention)

	var lost []*domain.Candidate
	e.mu.Lock()
	for id, c := range e.candidates {
		if c.Method == domain.MethodPassive && c.LastSeen.Before(cutoff) {
			delete(e.candidates, id)
			lost = append(lost, c)
		}
	}
	n := len(e.candidates)
	e.mu.Unlock()

	if len(lost) == 0 {
		return
	}
	e.metrics.SetCandidates(n)
	for _, c := range lost {
		e.logger.Infow("candidate aged out", "id", c.ID, "last_seen", c.LastSeen)
		if e.callbacks.OnLost != nil {
			e.callbacks.OnLost(c)
		}
	}
}

func (e *Engine) autoSelectCheck() {
	defer e.wg.Done()

	timer := time.NewTimer(e.cfg.AutoSelectDelay)
	defer timer.Stop()

	select {
	case <-e.ctx.Done():
		return
	case <-timer.C:
	}

	e.mu.Lock()
	var only *domain.Candidate
	if len(e.candidates) == 1 {
		for _, c := range e.candidates {
			cp := *c
			only = &cp
		}
	}
	e.mu.Unlock()

	if only != nil && e.callbacks.OnSuggest != nil {
		e.logger.Infow("single candidate, suggesting auto-connect", "id", only.ID)
		e.callbacks.OnSuggest(only)
	}
}

func (e *Engine) rememberedAddresses(ctx context.Context) []string {
	if e.store == nil {
		return nil
	}
	known, err := e.store.List(ctx)
	if err != nil {
		e.logger.Warnw("failed to load remembered devices", "error", err)
		return nil
	}
	addrs := make([]string, 0, len(known))
	for _, c := range known {
		addrs = append(addrs, c.Address)
	}
	return addrs
}
