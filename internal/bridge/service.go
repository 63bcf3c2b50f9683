package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"pushbridge/internal/channels"
	"pushbridge/internal/eventbus"
	"pushbridge/internal/payload"
	"pushbridge/internal/remote"
	"pushbridge/internal/render"
	"pushbridge/internal/runtime/supervisor"
	"pushbridge/internal/transport"
	"pushbridge/pkg/logx"
)

// displayTimeout bounds a single renderer Display call.
const displayTimeout = 10 * time.Second

// Config controls the dispatch pipeline.
type Config struct {
	// Settings is the desired channel set used for channel resolution and,
	// when the renderer manages channels, reconciliation.
	Settings channels.Settings

	QueueSize    int // transport event buffer
	TapQueueSize int // renderer tap buffer

	// DisplayRate paces renderer Display calls (per second). Zero disables
	// pacing. DisplayBurst defaults to the integer rate when unset.
	DisplayRate  float64
	DisplayBurst int

	// Resync and TokenRotate are optional cron specs for periodic channel
	// reconciliation and transport token rotation.
	Resync      string
	TokenRotate string
}

func applyDefaults(cfg *Config) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.TapQueueSize <= 0 {
		cfg.TapQueueSize = 64
	}
	if cfg.DisplayRate < 0 {
		cfg.DisplayRate = 0
	}
	if cfg.DisplayRate > 0 && cfg.DisplayBurst <= 0 {
		cfg.DisplayBurst = int(cfg.DisplayRate)
		if cfg.DisplayBurst < 1 {
			cfg.DisplayBurst = 1
		}
	}
}

// MessageEvent is emitted on the event bus for dispatch lifecycle events.
// Keep it small; Data may be logged/serialized by subscribers.
type MessageEvent struct {
	MessageID      string    `json:"message_id,omitempty"`
	NotificationID int32     `json:"notification_id,omitempty"`
	Stream         string    `json:"stream,omitempty"` // "message", "background" or "open"
	At             time.Time `json:"at"`
	Error          string    `json:"error,omitempty"`
}

// ReconcileEvent is emitted after a channel reconciliation pass.
type ReconcileEvent struct {
	Ensured int       `json:"ensured"`
	Deleted int       `json:"deleted"`
	Kept    int       `json:"kept,omitempty"`
	At      time.Time `json:"at"`
}

// TokenEvent is emitted when the transport registration token rotates. The
// token value itself stays off the bus.
type TokenEvent struct {
	IssuedAt time.Time `json:"issued_at"`
	At       time.Time `json:"at"`
}

// Service connects a push transport to a notification renderer. Transport
// events are resolved against the configured channel set, displayed, and
// handed to the registered handlers; renderer taps come back as "opened"
// callbacks.
type Service struct {
	log logx.Logger
	tr  transport.Transport
	rd  render.Renderer
	bus eventbus.Bus
	rec *channels.Reconciler

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	smu      sync.RWMutex
	settings channels.Settings

	fg    msgSlot
	bg    msgSlot
	opens openSlot

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor
	sched   *schedules
	events  chan transport.Event
	taps    chan render.Tap

	staleDrops atomic.Uint64
}

// New wires a service from its collaborators. The bus may be nil; lifecycle
// events are then skipped. Channel management is discovered by capability:
// renderers that do not implement channels.Manager simply skip
// reconciliation.
func New(cfg Config, tr transport.Transport, rd render.Renderer, bus eventbus.Bus, log logx.Logger) (*Service, error) {
	if tr == nil {
		return nil, errors.New("bridge: transport is nil")
	}
	if rd == nil {
		return nil, errors.New("bridge: renderer is nil")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	applyDefaults(&cfg)
	if err := cfg.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("channel settings: %w", err)
	}
	if err := ValidateSchedule(cfg.Resync); err != nil {
		return nil, fmt.Errorf("resync schedule: %w", err)
	}
	if err := ValidateSchedule(cfg.TokenRotate); err != nil {
		return nil, fmt.Errorf("token rotate schedule: %w", err)
	}

	s := &Service{
		log:      log.With(logx.String("comp", "bridge")),
		tr:       tr,
		rd:       rd,
		bus:      bus,
		cfg:      cfg,
		settings: cfg.Settings,
	}
	if cfg.DisplayRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.DisplayRate), cfg.DisplayBurst)
	}
	if mgr, ok := rd.(channels.Manager); ok {
		s.rec = channels.NewReconciler(mgr, log)
	} else {
		s.log.Info("renderer does not manage channels; reconciliation disabled")
	}
	return s, nil
}

// Start brings up the renderer and transport and runs the dispatch loop
// until Stop. It reconciles channels before the first message can arrive.
// Start is idempotent while running.
func (s *Service) Start(ctx context.Context) error {
	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		return nil
	}
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	sup := supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(s.log),
		supervisor.WithCancelOnError(false),
	)
	events := make(chan transport.Event, cfg.QueueSize)
	taps := make(chan render.Tap, cfg.TapQueueSize)

	s.running = true
	s.sup = sup
	s.events = events
	s.taps = taps
	s.runMu.Unlock()

	if err := s.rd.Start(ctx, taps); err != nil {
		s.abortStart(sup)
		return fmt.Errorf("start renderer: %w", err)
	}
	if err := s.Resync(ctx); err != nil {
		_ = s.rd.Stop(ctx)
		s.abortStart(sup)
		return err
	}
	if err := s.tr.Start(ctx, events); err != nil {
		_ = s.rd.Stop(ctx)
		s.abortStart(sup)
		return fmt.Errorf("start transport: %w", err)
	}

	sup.Go0("bridge.dispatch", func(ctx context.Context) {
		s.dispatch(ctx, events, taps)
	})
	s.startSchedules(sup)

	s.log.Info("bridge started",
		logx.Int("queue", cfg.QueueSize),
		logx.Float64("display_rate", cfg.DisplayRate))
	s.publish("bridge.started", MessageEvent{At: time.Now()})
	return nil
}

func (s *Service) abortStart(sup *supervisor.Supervisor) {
	sup.Cancel()
	s.runMu.Lock()
	s.running = false
	s.sup = nil
	s.events = nil
	s.taps = nil
	s.runMu.Unlock()
}

// Stop shuts the pipeline down: transport intake first, then the dispatch
// loop, then a synchronous drain of whatever was still queued. Bounded by
// ctx. The queues are never closed; a transport that missed its own stop
// deadline can still write without consequence.
func (s *Service) Stop(ctx context.Context) error {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return nil
	}
	s.running = false
	sup := s.sup
	sched := s.sched
	events := s.events
	taps := s.taps
	s.sup = nil
	s.sched = nil
	s.events = nil
	s.taps = nil
	s.runMu.Unlock()

	s.stopSchedules(ctx, sched)

	if err := s.tr.Stop(ctx); err != nil {
		s.log.Warn("transport stop", logx.Err(err))
	}

	// Halt dispatch before draining so Stop is the only reader left.
	if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("dispatch shutdown", logx.Err(err))
	}

	// The renderer is still up: queued messages get their display.
	drained := 0
	for done := false; !done; {
		select {
		case ev := <-events:
			s.handleEvent(ctx, ev)
			drained++
		default:
			done = true
		}
	}

	if err := s.rd.Stop(ctx); err != nil {
		s.log.Warn("renderer stop", logx.Err(err))
	}
	for done := false; !done; {
		select {
		case tap := <-taps:
			s.handleTap(tap)
			drained++
		default:
			done = true
		}
	}
	if drained > 0 {
		s.log.Debug("backlog drained during stop", logx.Int("count", drained))
	}

	if n := s.staleDrops.Load(); n > 0 {
		s.log.Info("bridge stopped", logx.Uint64("stale_drops", n))
	} else {
		s.log.Info("bridge stopped")
	}
	s.publish("bridge.stopped", MessageEvent{At: time.Now()})
	return nil
}

func (s *Service) dispatch(ctx context.Context, events <-chan transport.Event, taps <-chan render.Tap) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			s.handleEvent(ctx, ev)
		case tap := <-taps:
			s.handleTap(tap)
		}
	}
}

func (s *Service) handleEvent(ctx context.Context, ev transport.Event) {
	if ev.Message == nil {
		return
	}
	switch ev.Kind {
	case transport.EventOpened:
		s.handleOpened(ev.Message)
	default:
		s.handleMessage(ctx, ev)
	}
}

func (s *Service) handleMessage(ctx context.Context, ev transport.Event) {
	msg := ev.Message
	slot, stream := &s.fg, "message"
	if ev.Background {
		slot, stream = &s.bg, "background"
	}
	// Snapshot the handler generation at intake: if the handler is swapped
	// while this message is mapped and displayed, the delivery is stale and
	// must be dropped.
	gen := slot.snapshot()

	req, err := remote.Resolve(msg, s.currentSettings(), s.knownChannels())
	switch {
	case err != nil:
		var badge *remote.BadgeError
		if errors.As(err, &badge) {
			s.log.Error("message rejected",
				logx.String("msg_id", msg.ID),
				logx.String("badge", badge.Raw),
				logx.Err(err))
		} else {
			s.log.Error("message mapping failed", logx.String("msg_id", msg.ID), logx.Err(err))
		}
		s.publish("bridge.display_failed", MessageEvent{
			MessageID: msg.ID, Stream: stream, At: time.Now(), Error: err.Error(),
		})
		return
	case req == nil:
		// Data-only message: nothing to display, but handlers still run.
		s.log.Debug("display suppressed", logx.String("msg_id", msg.ID), logx.String("stream", stream))
		s.publish("bridge.suppressed", MessageEvent{MessageID: msg.ID, Stream: stream, At: time.Now()})
	default:
		if lim := s.limiterRef(); lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return
			}
		}
		dctx, cancel := context.WithTimeout(ctx, displayTimeout)
		err := s.rd.Display(dctx, *req)
		cancel()
		if err != nil {
			s.log.Error("display failed",
				logx.String("msg_id", msg.ID),
				logx.Int32("id", req.ID),
				logx.Err(err))
			s.publish("bridge.display_failed", MessageEvent{
				MessageID: msg.ID, NotificationID: req.ID, Stream: stream,
				At: time.Now(), Error: err.Error(),
			})
		} else {
			s.log.Info("notification displayed",
				logx.String("msg_id", msg.ID),
				logx.Int32("id", req.ID),
				logx.String("channel", channelOf(req)))
			s.publish("bridge.displayed", MessageEvent{
				MessageID: msg.ID, NotificationID: req.ID, Stream: stream, At: time.Now(),
			})
		}
	}

	if _, stale := slot.deliver(gen, msg); stale {
		s.noteStale(stream, MessageEvent{MessageID: msg.ID, Stream: stream})
	}
}

func (s *Service) handleTap(tap render.Tap) {
	gen := s.opens.snapshot()
	data, err := payload.Decode(tap.Payload)
	if err != nil {
		s.log.Warn("tap payload rejected", logx.Int32("id", tap.ID), logx.Err(err))
		return
	}
	delivered, stale := s.opens.deliver(gen, Open{Data: data})
	switch {
	case stale:
		s.noteStale("open", MessageEvent{NotificationID: tap.ID, Stream: "open"})
	case delivered:
		s.log.Info("notification opened", logx.Int32("id", tap.ID))
		s.publish("bridge.opened", MessageEvent{NotificationID: tap.ID, Stream: "open", At: time.Now()})
	default:
		s.log.Debug("tap without open handler", logx.Int32("id", tap.ID))
	}
}

func (s *Service) handleOpened(msg *remote.Message) {
	gen := s.opens.snapshot()
	delivered, stale := s.opens.deliver(gen, Open{Data: msg.Data, Message: msg})
	switch {
	case stale:
		s.noteStale("open", MessageEvent{MessageID: msg.ID, Stream: "open"})
	case delivered:
		s.log.Info("notification opened", logx.String("msg_id", msg.ID))
		s.publish("bridge.opened", MessageEvent{MessageID: msg.ID, Stream: "open", At: time.Now()})
	default:
		s.log.Debug("open event without handler", logx.String("msg_id", msg.ID))
	}
}

func (s *Service) noteStale(stream string, ev MessageEvent) {
	s.staleDrops.Add(1)
	s.log.Debug("stale delivery dropped",
		logx.String("stream", stream),
		logx.String("msg_id", ev.MessageID))
	ev.At = time.Now()
	s.publish("bridge.dropped_stale", ev)
}

// OnMessage registers the foreground message handler. Passing nil
// unregisters. Replacing a handler drops in-flight deliveries aimed at its
// predecessor.
func (s *Service) OnMessage(fn MessageHandler) { s.fg.set(fn) }

// OnBackground registers the handler for messages replayed from the
// transport backlog. It is registered independently of OnMessage.
func (s *Service) OnBackground(fn MessageHandler) { s.bg.set(fn) }

// OnOpened registers the handler invoked when the user acts on a displayed
// notification or the transport reports an open.
func (s *Service) OnOpened(fn OpenHandler) { s.opens.set(fn) }

// RequestPermission asks the transport for display permission.
func (s *Service) RequestPermission(ctx context.Context) (transport.PermissionStatus, error) {
	st, err := s.tr.RequestPermission(ctx)
	if err != nil {
		return st, fmt.Errorf("request permission: %w", err)
	}
	s.log.Info("permission resolved", logx.String("status", string(st)))
	return st, nil
}

// Token returns the transport's current registration token.
func (s *Service) Token(ctx context.Context) (transport.Token, error) {
	return s.tr.Token(ctx)
}

// RotateToken invalidates the current registration token and returns its
// replacement.
func (s *Service) RotateToken(ctx context.Context) (transport.Token, error) {
	tok, err := s.tr.InvalidateToken(ctx)
	if err != nil {
		return tok, fmt.Errorf("invalidate token: %w", err)
	}
	s.log.Info("registration token rotated", logx.Time("issued_at", tok.IssuedAt))
	s.publish("bridge.token_refreshed", TokenEvent{IssuedAt: tok.IssuedAt, At: time.Now()})
	return tok, nil
}

// Cancel removes a displayed notification by id.
func (s *Service) Cancel(ctx context.Context, id int32) error {
	return s.rd.Cancel(ctx, id)
}

// InitialOpen reports whether this process exists because the user acted on
// a notification. The renderer's launch record wins over the transport's
// initial message; the transport side is consumed on first read.
func (s *Service) InitialOpen(ctx context.Context) (Open, bool, error) {
	enc, ok, err := s.rd.Launch(ctx)
	if err != nil {
		return Open{}, false, fmt.Errorf("renderer launch: %w", err)
	}
	if ok {
		data, err := payload.Decode(enc)
		if err != nil {
			return Open{}, false, fmt.Errorf("launch payload: %w", err)
		}
		return Open{Data: data}, true, nil
	}

	msg, err := s.tr.InitialMessage(ctx)
	if err != nil {
		return Open{}, false, fmt.Errorf("initial message: %w", err)
	}
	if msg == nil {
		return Open{}, false, nil
	}
	return Open{Data: msg.Data, Message: msg}, true, nil
}

// ApplySettings swaps the desired channel set and reconciles the renderer
// against it.
func (s *Service) ApplySettings(ctx context.Context, desired channels.Settings) error {
	if err := desired.Validate(); err != nil {
		return fmt.Errorf("channel settings: %w", err)
	}
	s.smu.Lock()
	s.settings = desired
	s.smu.Unlock()
	return s.Resync(ctx)
}

// Apply updates the pacing knobs at runtime. Queue sizes and schedules take
// effect on the next Start.
func (s *Service) Apply(cfg Config) {
	applyDefaults(&cfg)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.DisplayRate == s.cfg.DisplayRate && cfg.DisplayBurst == s.cfg.DisplayBurst {
		return
	}
	s.cfg.DisplayRate = cfg.DisplayRate
	s.cfg.DisplayBurst = cfg.DisplayBurst
	if cfg.DisplayRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.DisplayRate), cfg.DisplayBurst)
	} else {
		s.limiter = nil
	}
	s.log.Info("display pacing updated",
		logx.Float64("rate", cfg.DisplayRate),
		logx.Int("burst", cfg.DisplayBurst))
}

// StaleDrops reports how many in-flight deliveries were dropped because
// their handler generation went stale.
func (s *Service) StaleDrops() uint64 { return s.staleDrops.Load() }

func (s *Service) currentSettings() channels.Settings {
	s.smu.RLock()
	defer s.smu.RUnlock()
	return s.settings
}

// knownChannels is the registry as the last reconcile pass left it, or nil
// when the renderer does not manage channels.
func (s *Service) knownChannels() []channels.Channel {
	if s.rec == nil {
		return nil
	}
	return s.rec.Known()
}

func (s *Service) limiterRef() *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limiter
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}

func channelOf(req *render.Request) string {
	if req.Android == nil {
		return ""
	}
	return req.Android.ChannelID
}
