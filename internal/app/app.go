package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pushbridge/internal/bridge"
	"pushbridge/internal/config"
	"pushbridge/internal/eventbus"
	"pushbridge/internal/observability/pprof"
	"pushbridge/internal/render"
	localrender "pushbridge/internal/render/local"
	memrender "pushbridge/internal/render/memory"
	tgrender "pushbridge/internal/render/telegram"
	"pushbridge/internal/runtime/supervisor"
	"pushbridge/internal/transport"
	memtransport "pushbridge/internal/transport/memory"
	"pushbridge/internal/transport/rabbit"
	logx "pushbridge/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	tr transport.Transport
	rd render.Renderer

	brg   *bridge.Service
	pprof *pprof.Service
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
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

	bus := eventbus.New()

	tr, err := buildTransport(cfg, log)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	rd, err := buildRenderer(cfg, log)
	if err != nil {
		logSvc.Close()
		return nil, err
	}

	brg, err := bridge.New(mapBridgeConfig(cfg), tr, rd, bus, logSvc.Logger())
	if err != nil {
		logSvc.Close()
		return nil, err
	}

	pprofCfg, err := mapPprofConfig(cfg)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	pprofSvc := pprof.New(pprofCfg, log.With(logx.String("comp", "pprof")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		tr:      tr,
		rd:      rd,
		brg:     brg,
		pprof:   pprofSvc,
	}, nil
}

// Bridge exposes the bridge service for embedding callers (handler
// registration, token access, initial-open queries).
func (a *App) Bridge() *bridge.Service { return a.brg }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	if err := a.brg.Start(a.sup.Context()); err != nil {
		return err
	}
	if a.pprof != nil && a.pprof.Enabled() {
		a.pprof.Start(a.sup.Context())
	}

	// Optional: log events for observability/debug (components can also subscribe themselves).
	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					// Keep this debug-level to avoid noise on busy queues.
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
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
				a.applyReload(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyReload applies a validated config update to the running services.
// Driver selection (transport/renderer) cannot change without a restart.
func (a *App) applyReload(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range sections {
		switch s {
		case "transport", "renderer":
			a.log.Warn("driver config changed; restart required for changes to take effect",
				logx.String("section", s))
		case "resync":
			a.log.Warn("resync schedules changed; restart required for changes to take effect")
		}
	}

	// apply logging updates
	a.logs.Apply(logx.Config{
		Level:   newCfg.Logging.Level,
		Console: newCfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: newCfg.Logging.File.Enabled,
			Path:    newCfg.Logging.File.Path,
		},
	})

	// apply dispatch pacing (live)
	a.brg.Apply(mapBridgeConfig(newCfg))

	// apply channel set changes (live; reconciles the renderer registry)
	for _, s := range sections {
		if s == "channels" {
			if err := a.brg.ApplySettings(ctx, newCfg.EffectiveChannels()); err != nil {
				a.log.Warn("channel settings rejected; keeping previous", logx.Err(err))
			}
			break
		}
	}

	// apply pprof updates (live)
	if a.pprof != nil {
		ppc, err := mapPprofConfig(newCfg)
		if err != nil {
			a.log.Warn("invalid pprof config; keeping previous", logx.Any("err", err))
		} else {
			a.pprof.Reconfigure(ctx, ppc)
		}
	}

	if a.bus != nil {
		a.bus.Publish(eventbus.Event{Type: "config.reloaded", Data: sections})
	}
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.String("err", err.Error()))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			elapsed := time.Since(start)
			a.log.Warn(
				"stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.String("err", stepCtx.Err().Error()),
				logx.Duration("elapsed", elapsed),
			)
			// Leak logging: observe when/if the step eventually finishes.
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.String("err", err.Error()), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Stop the bridge before canceling the run context so queued transport
	// events still get drained and displayed.
	step("bridge", 5*time.Second, func(c context.Context) error { return a.brg.Stop(c) })

	a.sup.Cancel()

	step("pprof", 1*time.Second, func(c context.Context) error {
		if a.pprof != nil {
			a.pprof.Stop(c)
		}
		return nil
	})

	// Finally, wait for supervised goroutines (config watch/reload, event log).
	step("supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if cnt := a.sup.Counters(); cnt.Active > 0 {
			a.log.Warn("goroutines still active at shutdown",
				logx.Int64("active", cnt.Active),
				logx.Uint64("started", cnt.Started))
		}
		return err
	})

	if a.bus != nil {
		if n := a.bus.Dropped(); n > 0 {
			a.log.Warn("event bus dropped events during run", logx.Uint64("dropped", n))
		}
	}

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func buildTransport(cfg *config.Config, log logx.Logger) (transport.Transport, error) {
	drv := strings.ToLower(strings.TrimSpace(cfg.Transport.Driver))
	switch drv {
	case "", "memory":
		return memtransport.New(), nil
	case "rabbit":
		heartbeat, err := config.ParseDurationOrDefault("transport.heartbeat", cfg.Transport.Heartbeat, 10*time.Second)
		if err != nil {
			return nil, err
		}
		dialTimeout, err := config.ParseDurationOrDefault("transport.dial_timeout", cfg.Transport.DialTimeout, 5*time.Second)
		if err != nil {
			return nil, err
		}
		return rabbit.New(rabbit.Config{
			URL:         cfg.Transport.URL,
			Queue:       cfg.Transport.Queue,
			OpenedQueue: cfg.Transport.OpenedQueue,
			Heartbeat:   heartbeat,
			DialTimeout: dialTimeout,
			Prefetch:    cfg.Transport.Prefetch,
		}, log.With(logx.String("comp", "rabbit")))
	default:
		return nil, fmt.Errorf("unknown transport.driver: %s", cfg.Transport.Driver)
	}
}

func buildRenderer(cfg *config.Config, log logx.Logger) (render.Renderer, error) {
	drv := strings.ToLower(strings.TrimSpace(cfg.Renderer.Driver))
	switch drv {
	case "", "memory":
		return memrender.New(), nil
	case "local":
		busy, err := config.ParseDurationOrDefault("renderer.busy_timeout", cfg.Renderer.BusyTimeout, time.Second)
		if err != nil {
			return nil, err
		}
		return localrender.Open(localrender.Config{
			Path:        cfg.Renderer.Path,
			BusyTimeout: busy,
		}, log.With(logx.String("comp", "render")))
	case "telegram":
		pollTimeout, err := config.ParseDurationOrDefault("renderer.poll_timeout", cfg.Renderer.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		return tgrender.New(tgrender.Config{
			Token:       cfg.Renderer.Token,
			ChatID:      cfg.Renderer.ChatID,
			ThreadID:    cfg.Renderer.ThreadID,
			PollTimeout: pollTimeout,
		}, log.With(logx.String("comp", "telegram")))
	default:
		return nil, fmt.Errorf("unknown renderer.driver: %s", cfg.Renderer.Driver)
	}
}

func mapBridgeConfig(cfg *config.Config) bridge.Config {
	out := bridge.Config{
		Settings:    cfg.EffectiveChannels(),
		Resync:      cfg.Resync.Channels,
		TokenRotate: cfg.Resync.Token,
	}
	if d := cfg.Dispatch; d != nil {
		out.QueueSize = d.QueueSize
		out.TapQueueSize = d.TapQueueSize
		out.DisplayRate = d.DisplayRate
		out.DisplayBurst = d.DisplayBurst
	}
	return out
}
