// Package pprof serves the runtime profiling endpoints over HTTP on demand.
// The server is optional, hot-reconfigurable and guarded against accidental
// public exposure.
package pprof

import (
	"context"
	"net"
	"net/http"
	"runtime"
	"sync"
	"time"

	rtsup "pushbridge/internal/runtime/supervisor"
	logx "pushbridge/pkg/logx"
)

// Config controls the optional pprof HTTP server. Binding beyond loopback
// requires a token or an explicit AllowInsecure.
type Config struct {
	Enabled       bool
	Addr          string
	Prefix        string
	Token         string
	AllowInsecure bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	MutexProfileFraction int
	BlockProfileRate     int
	MemProfileRate       int
}

// restartNeeded reports whether b can only take effect through a server
// restart. Runtime rates apply live and are excluded.
func restartNeeded(a, b Config) bool {
	return a.Addr != b.Addr ||
		canonicalPrefix(a.Prefix) != canonicalPrefix(b.Prefix) ||
		a.Token != b.Token ||
		a.AllowInsecure != b.AllowInsecure ||
		a.ReadTimeout != b.ReadTimeout ||
		a.WriteTimeout != b.WriteTimeout ||
		a.IdleTimeout != b.IdleTimeout
}

func applyRuntimeRates(cfg Config) {
	// Zero keeps the Go default; disabling via -1 is not exposed.
	if cfg.MutexProfileFraction >= 0 {
		runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)
	}
	if cfg.BlockProfileRate >= 0 {
		runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	}
	if cfg.MemProfileRate > 0 {
		runtime.MemProfileRate = cfg.MemProfileRate
	}
}

type Service struct {
	log logx.Logger

	mu       sync.Mutex
	cfg      Config
	ln       net.Listener
	srv      *http.Server
	sup      *rtsup.Supervisor
	stopDone chan struct{}
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log, cfg: cfg}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Addr reports the bound listen address, or "" while the server is down.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Reconfigure applies cfg, starting, stopping or bouncing the server as the
// diff demands. Safe during hot reload.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	// Profiling rates apply even with the server disabled.
	applyRuntimeRates(cfg)

	s.mu.Lock()
	prev := s.cfg
	running := s.srv != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
	case !running:
		s.Start(ctx)
	case restartNeeded(prev, cfg):
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// Start launches the server under a self-healing restart loop. It is
// idempotent, waits out an in-flight Stop, and does nothing while disabled.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		s.mu.Lock()
		if done := s.stopDone; done != nil {
			s.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return
			}
		}
		if s.sup != nil || !s.cfg.Enabled {
			s.mu.Unlock()
			return
		}

		s.sup = rtsup.NewSupervisor(ctx,
			rtsup.WithLogger(s.log),
			rtsup.WithCancelOnError(false),
		)
		sup := s.sup
		s.mu.Unlock()

		sup.GoRestart("http.serve", s.serve,
			rtsup.WithPublishFirstError(true),
			rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		)
		return
	}
}

// Stop shuts the server down. The teardown itself runs detached so a caller
// with an expiring ctx can leave early without wedging future Starts.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.sup == nil {
		s.mu.Unlock()
		return
	}
	if done := s.stopDone; done != nil {
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	srv, ln, sup := s.srv, s.ln, s.sup
	s.mu.Unlock()

	go func() {
		defer close(done)

		if srv != nil {
			_ = srv.Shutdown(ctx)
			_ = srv.Close()
		}
		if ln != nil {
			_ = ln.Close()
		}
		if sup != nil {
			sup.Cancel()
			_ = sup.Wait(context.Background())
		}

		s.mu.Lock()
		s.ln, s.srv, s.sup, s.stopDone = nil, nil, nil, nil
		s.mu.Unlock()
		s.log.Info("pprof stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if sup != nil {
			sup.Cancel()
		}
	}
}
