package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/robfig/cron/v3"

	"postpilot/internal/automation"
	logx "postpilot/pkg/logx"
)

func New(cfg Config, deps Deps, log logx.Logger) (*Service, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := checkDeps(deps); err != nil {
		return nil, err
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg,
		deps:  deps,
		log:   log,
		nowFn: time.Now,
		st: stats{
			counts:     map[automation.Outcome]uint64{},
			lastFire:   map[string]time.Time{},
			ruleErrors: map[string]string{},
		},
	}, nil
}

func checkDeps(d Deps) error {
	switch {
	case d.Rules == nil:
		return fmt.Errorf("engine: rule source is required")
	case d.Channels == nil:
		return fmt.Errorf("engine: channel directory is required")
	case d.Anchors == nil:
		return fmt.Errorf("engine: anchor event source is required")
	case d.Generator == nil:
		return fmt.Errorf("engine: content generator is required")
	case d.Limiter == nil:
		return fmt.Errorf("engine: rate limiter is required")
	case d.Dispatcher == nil:
		return fmt.Errorf("engine: dispatcher is required")
	case d.Approvals == nil:
		return fmt.Errorf("engine: approval sink is required")
	case d.Log == nil:
		return fmt.Errorf("engine: execution log is required")
	}
	return nil
}

// IsActive reports whether the tick loop is currently running.
func (s *Service) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCh != nil && s.stopDone == nil
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()
	s.log.Debug("start requested",
		logx.Bool("enabled", cur.Enabled),
		logx.Int("rule_workers", cur.RuleWorkers),
		logx.Duration("tick", cur.TickInterval))

	// If a Stop() is in progress, wait for it to complete (prevents double
	// worker pools).
	for {
		s.mu.Lock()
		if s.stopCh == nil {
			break
		}
		done := s.stopDone
		// already running (no stop in progress)
		if done == nil {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		select {
		case <-done:
			// loop and try again
		case <-ctx.Done():
			return
		}
	}
	defer s.mu.Unlock()

	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	workers := s.cfg.RuleWorkers
	// Fresh queue per run so stale claimed firings from a previous run are
	// not executed after a stop/start toggle.
	s.queue = make(chan firing, 64)

	runCtx := s.runCtx
	stopCh := s.stopCh
	queue := s.queue

	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in engine worker",
						logx.Int("worker", idx),
						logx.Any("panic", r),
						logx.Stack(string(debug.Stack())))
				}
			}()
			s.worker(runCtx, stopCh, queue)
		}()
	}

	s.c = cron.New()
	_, _ = s.c.AddFunc(everySpec(s.cfg.TickInterval), func() { s.runTick(runCtx) })
	_, _ = s.c.AddFunc(everySpec(s.cfg.Retention.Interval), func() { s.runRetention(runCtx) })
	s.c.Start()

	s.log.Info("engine started",
		logx.Int("rule_workers", workers),
		logx.Duration("tick", s.cfg.TickInterval),
		logx.Duration("retention_every", s.cfg.Retention.Interval))
}

func everySpec(d time.Duration) string {
	return "@every " + d.String()
}

func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.log.Info("stop requested")
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	// If a stop is already in progress, just wait (best-effort).
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
	// Initiate stop.
	done := make(chan struct{})
	s.stopDone = done
	stopCh := s.stopCh
	cancel := s.runCancel
	c := s.c
	// prevent new cron-driven ticks quickly
	s.c = nil
	s.runCancel = nil
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}
	if c != nil {
		<-c.Stop().Done()
	}

	// Finalize cleanup in background so Stop() can return on timeout safely.
	go func() {
		s.workerWG.Wait()
		s.mu.Lock()
		s.stopCh = nil
		s.runCtx = nil
		s.queue = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
		s.log.Info("engine stopped", logx.Duration("took", time.Since(start)))
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
		// stop continues in background
		return
	}
}

// Apply updates runtime-tunable knobs; pool sizes take effect on next Start.
func (s *Service) Apply(cfg Config) error {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}

// config returns the current knobs. Ticks and executions snapshot it once at
// the top and work from the copy, so Apply never races a running tick.
func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan firing) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case f := <-queue:
			s.execute(ctx, f)
		}
	}
}

func (s *Service) enqueue(f firing) {
	s.mu.Lock()
	q := s.queue
	stopCh := s.stopCh
	s.mu.Unlock()
	if q == nil {
		s.log.Debug("engine not running; dropping firing", logx.String("rule", f.f.Rule.ID))
		return
	}
	select {
	case q <- f:
		return
	default:
	}
	// The claim is already held: dropping here would burn the dedup window
	// with nothing executed or recorded. Wait for a worker; only a stop of
	// the engine abandons the firing.
	s.log.Warn("engine queue full; waiting for a worker",
		logx.String("rule", f.f.Rule.ID),
		logx.String("key", f.f.DedupKey),
		logx.Int("queue_cap", cap(q)))
	if stopCh == nil {
		q <- f
		return
	}
	select {
	case q <- f:
	case <-stopCh:
		s.log.Warn("engine stopping; dropping claimed firing",
			logx.String("rule", f.f.Rule.ID),
			logx.String("key", f.f.DedupKey))
	}
}
