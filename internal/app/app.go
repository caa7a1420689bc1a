// Package app is the composition root: it loads config, builds every
// component and owns their lifecycle, including hot config reload.
package app

import (
	"context"
	"strings"
	"time"

	"postpilot/internal/config"
	"postpilot/internal/engine"
	"postpilot/internal/feed"
	"postpilot/internal/generate"
	"postpilot/internal/ops"
	"postpilot/internal/ratelimit"
	"postpilot/internal/runtime/supervisor"
	"postpilot/internal/storage"
	"postpilot/internal/transport/telegram"
	logx "postpilot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	metrics *ops.Metrics
	eng     *engine.Service
	ops     *ops.Server
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage ready", logx.String("driver", sc.Driver))

	fc, err := mapFeedConfig(cfg)
	if err != nil {
		return nil, err
	}
	fixtures := feed.New(fc, log.With(logx.String("comp", "feed")))

	gen, err := generate.NewOpenAI(generate.Config{
		APIKey: cfg.OpenAI.APIKey,
		Model:  cfg.OpenAI.Model,
	}, log.With(logx.String("comp", "generate")))
	if err != nil {
		return nil, err
	}

	lc, err := mapLimiterConfig(cfg)
	if err != nil {
		return nil, err
	}
	limiter := ratelimit.New(lc)

	dispatcher, err := telegram.New(telegram.Config{
		Token: cfg.Telegram.Token,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	metrics := ops.NewMetrics()

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(engCfg, engine.Deps{
		Rules:      store,
		Channels:   store,
		Anchors:    fixtures,
		Generator:  gen,
		Limiter:    limiter,
		Dispatcher: dispatcher,
		Approvals:  store,
		Log:        store,
		Metrics:    metrics,
	}, log.With(logx.String("comp", "engine")))
	if err != nil {
		return nil, err
	}

	opsCfg, err := mapOpsConfig(cfg)
	if err != nil {
		return nil, err
	}
	opsSrv := ops.New(opsCfg, eng, metrics, log.With(logx.String("comp", "ops")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
		metrics: metrics,
		eng:     eng,
		ops:     opsSrv,
	}, nil
}

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	// Transactional reload: every section must map cleanly before the new
	// config is committed and published.
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapEngineConfig(cfg); err != nil {
			return err
		}
		if _, err := mapFeedConfig(cfg); err != nil {
			return err
		}
		if _, err := mapLimiterConfig(cfg); err != nil {
			return err
		}
		if _, err := mapOpsConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	if a.ops.Enabled() {
		a.ops.Start(a.sup.Context())
	}
	if cfg := a.cfgm.Get(); cfg != nil && cfg.Engine.Enabled {
		a.eng.Start(a.sup.Context())
	} else {
		a.log.Info("engine disabled via config")
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: only the latest config matters.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}
			lastApplied = newCfg

			a.applyReload(ctx, newCfg, sections)

			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

func (a *App) applyReload(ctx context.Context, cfg *config.Config, sections []string) {
	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
		case "engine":
			prevActive := a.eng.IsActive()
			engCfg, err := mapEngineConfig(cfg)
			if err != nil {
				// Validator already vetted this; a failure here means the
				// config changed between publish and apply.
				a.log.Warn("invalid engine config; keeping previous", logx.Err(err))
				continue
			}
			if err := a.eng.Apply(engCfg); err != nil {
				a.log.Warn("engine config rejected; keeping previous", logx.Err(err))
				continue
			}
			if prevActive && !engCfg.Enabled {
				a.log.Info("engine disabled via config")
				stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				a.eng.Stop(stopCtx)
				cancel()
			} else if !prevActive && engCfg.Enabled {
				a.log.Info("engine enabled via config")
				a.eng.Start(ctx)
			}
		case "storage", "telegram", "openai", "feed", "rate_limit", "ops":
			a.log.Warn("config section changed; restart required for changes to take effect",
				logx.String("section", s))
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("app stopping")

	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	a.eng.Stop(stopCtx)
	a.ops.Stop(stopCtx)

	var err error
	if a.sup != nil {
		err = a.sup.Stop(stopCtx)
	}
	if cerr := a.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}
