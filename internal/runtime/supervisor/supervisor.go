// Package supervisor runs named goroutines under one cancelable context,
// with panic capture and an optional restart-with-backoff loop for the
// long-lived ones.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "pushbridge/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	started atomic.Uint64
	active  atomic.Int64

	errOnce  sync.Once
	firstErr atomic.Value // stores error

	waitOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

type SupervisorOption func(*Supervisor)

func WithLogger(log logx.Logger) SupervisorOption {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the supervisor context when any goroutine returns
// a non-nil error or panics. Off by default.
func WithCancelOnError(enabled bool) SupervisorOption {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func NewSupervisor(parent context.Context, opts ...SupervisorOption) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the supervisor context. It does not wait; pair with Wait.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first error any supervised goroutine surfaced, or nil.
func (s *Supervisor) Err() error {
	if err, ok := s.firstErr.Load().(error); ok {
		return err
	}
	return nil
}

// SupervisorCounters is a best-effort operational signal, not a
// synchronization primitive.
type SupervisorCounters struct {
	Active  int64  `json:"active"`
	Started uint64 `json:"started"`
}

func (s *Supervisor) Counters() SupervisorCounters {
	if s == nil {
		return SupervisorCounters{}
	}
	return SupervisorCounters{
		Active:  s.active.Load(),
		Started: s.started.Load(),
	}
}

// Go starts fn under the supervisor context. A panic is captured and recorded
// as the goroutine's error instead of crashing the process.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.started.Add(1)
	s.active.Add(1)
	s.wg.Add(1)
	go s.run(name, fn)
}

// Go0 is Go for functions with nothing to report.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

func (s *Supervisor) run(name string, fn func(ctx context.Context) error) {
	defer s.wg.Done()
	defer s.active.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			if !s.log.IsZero() {
				s.log.Error("goroutine panicked",
					logx.String("name", name),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())))
			}
			s.fail(fmt.Errorf("panic in %s: %v", name, r))
		}
	}()

	if !s.log.IsZero() {
		s.log.Debug("goroutine started", logx.String("name", name))
	}
	if err := fn(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.fail(fmt.Errorf("%s: %w", name, err))
	}
	if !s.log.IsZero() {
		s.log.Debug("goroutine stopped", logx.String("name", name))
	}
}

// RestartOption configures GoRestart.
type RestartOption func(*restartPolicy)

type restartPolicy struct {
	minBackoff  time.Duration
	maxBackoff  time.Duration
	publishErr  bool
	stopOnClean bool
}

// WithRestartBackoff bounds the exponential backoff between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if min > 0 {
			p.minBackoff = min
		}
		if max > 0 {
			p.maxBackoff = max
		}
	}
}

// WithPublishFirstError records the first error or panic on the supervisor
// while the loop keeps restarting, so failures surface without giving up.
func WithPublishFirstError(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.publishErr = enabled }
}

// WithStopOnCleanExit controls whether a nil return ends the loop (default)
// or counts as a failure and restarts. Pollers and consumers that must run
// for the whole process lifetime pass false.
func WithStopOnCleanExit(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.stopOnClean = enabled }
}

// GoRestart runs fn and restarts it after errors and panics, backing off
// exponentially with jitter, until the supervisor context ends. Meant for
// long loops (pollers, watchers, consumers) that should self-heal.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{
		minBackoff:  250 * time.Millisecond,
		maxBackoff:  30 * time.Second,
		stopOnClean: true,
	}
	for _, o := range opts {
		o(&p)
	}
	if p.minBackoff <= 0 {
		p.minBackoff = 250 * time.Millisecond
	}
	if p.maxBackoff < p.minBackoff {
		p.maxBackoff = p.minBackoff
	}

	s.Go0(name+".restart", func(ctx context.Context) {
		delay := p.minBackoff
		for ctx.Err() == nil {
			startedAt := time.Now()
			err := s.attempt(ctx, name, fn)

			// Cancellation during the run is a clean stop, whatever fn
			// returned on the way out.
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			if err == nil {
				if p.stopOnClean {
					return
				}
				err = errors.New("exited")
			}
			if p.publishErr {
				s.fail(fmt.Errorf("%s: %w", name, err))
			}

			// A run that held up for a while earns a fresh backoff, so a
			// rare failure does not pay for an old crash loop.
			if time.Since(startedAt) >= 30*time.Second {
				delay = p.minBackoff
			}

			wait := jitter(delay)
			if !s.log.IsZero() {
				s.log.Warn("goroutine restarting",
					logx.String("name", name),
					logx.Duration("backoff", wait),
					logx.Any("err", err))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}

			delay *= 2
			if delay > p.maxBackoff {
				delay = p.maxBackoff
			}
		}
	})
}

// attempt runs fn once, folding a panic into the returned error.
func (s *Supervisor) attempt(ctx context.Context, name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if !s.log.IsZero() {
				s.log.Error("goroutine panicked (restart)",
					logx.String("name", name),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())))
			}
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// jitter stretches d by up to 20%.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(int64(d)/5+1))
}

// Stop cancels the context and waits like Wait.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every supervised goroutine has exited, then returns the
// first recorded error. A done ctx unblocks early with its error.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.Err()
	}
}

func (s *Supervisor) fail(err error) {
	if err == nil {
		return
	}
	s.errOnce.Do(func() { s.firstErr.Store(err) })
	if s.cancelOnErr {
		s.cancel()
	}
}
