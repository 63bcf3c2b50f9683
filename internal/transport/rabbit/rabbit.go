// Package rabbit provides the AMQP transport. Messages are consumed from a
// durable queue; the delivery token doubles as the broker consumer tag, so
// invalidating it visibly re-registers the consumer.
package rabbit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"pushbridge/internal/remote"
	"pushbridge/internal/runtime/supervisor"
	"pushbridge/internal/transport"
	logx "pushbridge/pkg/logx"
)

type Config struct {
	URL         string
	Queue       string
	OpenedQueue string // optional; remote "opened" reports
	Heartbeat   time.Duration
	DialTimeout time.Duration
	Prefetch    int
}

// errTokenRotated makes the consume loop re-register under the fresh tag.
var errTokenRotated = errors.New("token rotated")

// tokenState pairs a token with a broadcast channel closed on rotation.
type tokenState struct {
	tok     transport.Token
	rotated chan struct{}
}

type Transport struct {
	cfg Config
	log logx.Logger

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor

	mu  sync.Mutex
	cur *tokenState
}

func New(cfg Config, log logx.Logger) (*Transport, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("transport.url is required for the rabbit driver")
	}
	if strings.TrimSpace(cfg.Queue) == "" {
		return nil, errors.New("transport.queue is required for the rabbit driver")
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 10 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 32
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	t := &Transport{cfg: cfg, log: log.With(logx.String("comp", "transport.rabbit"))}
	t.cur = mint()
	return t, nil
}

func mint() *tokenState {
	return &tokenState{
		tok:     transport.Token{Value: "pushbridge-" + uuid.NewString(), IssuedAt: time.Now()},
		rotated: make(chan struct{}),
	}
}

func (t *Transport) Start(ctx context.Context, out chan<- transport.Event) error {
	if ctx == nil {
		ctx = context.Background()
	}
	t.runMu.Lock()
	if t.running {
		t.runMu.Unlock()
		return nil
	}
	t.running = true
	t.sup = supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(t.log),
		supervisor.WithCancelOnError(false),
	)
	sup := t.sup
	t.runMu.Unlock()

	sup.GoRestart("consume."+t.cfg.Queue, func(c context.Context) error {
		return t.consume(c, t.cfg.Queue, transport.EventMessage, out)
	},
		supervisor.WithRestartBackoff(time.Second, time.Minute),
		supervisor.WithPublishFirstError(true),
		supervisor.WithStopOnCleanExit(false),
	)

	if t.cfg.OpenedQueue != "" {
		sup.GoRestart("consume."+t.cfg.OpenedQueue, func(c context.Context) error {
			return t.consume(c, t.cfg.OpenedQueue, transport.EventOpened, out)
		},
			supervisor.WithRestartBackoff(time.Second, time.Minute),
			supervisor.WithPublishFirstError(true),
			supervisor.WithStopOnCleanExit(false),
		)
	}
	return nil
}

func (t *Transport) Stop(ctx context.Context) error {
	t.runMu.Lock()
	sup := t.sup
	t.sup = nil
	wasRunning := t.running
	t.running = false
	t.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()

	grace := 3 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			t.log.Warn("amqp stop timed out", logx.Err(err))
			return nil
		}
		t.log.Warn("amqp stop error", logx.Err(err))
	}
	return nil
}

// consume owns one connection per queue. Any broker failure surfaces as an
// error so the supervisor redials with backoff; token rotation does the same
// under the new consumer tag.
func (t *Transport) consume(ctx context.Context, queue string, kind transport.EventKind, out chan<- transport.Event) error {
	conn, err := amqp.DialConfig(t.cfg.URL, amqp.Config{
		Heartbeat: t.cfg.Heartbeat,
		Dial:      amqp.DefaultDial(t.cfg.DialTimeout),
	})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %q: %w", queue, err)
	}
	if err := ch.Qos(t.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}

	t.mu.Lock()
	state := t.cur
	t.mu.Unlock()

	deliveries, err := ch.Consume(queue, state.tok.Value, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %q: %w", queue, err)
	}

	attachedAt := time.Now()
	t.log.Info("consuming", logx.String("queue", queue), logx.String("consumer", state.tok.Value))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-state.rotated:
			_ = ch.Cancel(state.tok.Value, false)
			return errTokenRotated
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			msg, err := decodeDelivery(d)
			if err != nil {
				// Poison message: reject without requeue so the queue drains.
				t.log.Warn("undecodable delivery dropped", logx.String("queue", queue), logx.Err(err))
				_ = d.Nack(false, false)
				continue
			}
			ev := transport.Event{
				Kind:       kind,
				Message:    msg,
				Background: isBacklog(d, attachedAt),
			}
			select {
			case out <- ev:
				_ = d.Ack(false)
			case <-ctx.Done():
				_ = d.Nack(false, true)
				return nil
			}
		}
	}
}

func (t *Transport) RequestPermission(ctx context.Context) (transport.PermissionStatus, error) {
	conn, err := amqp.DialConfig(t.cfg.URL, amqp.Config{
		Heartbeat: t.cfg.Heartbeat,
		Dial:      amqp.DefaultDial(t.cfg.DialTimeout),
	})
	if err != nil {
		t.log.Warn("permission probe failed", logx.Err(err))
		return transport.PermissionDenied, nil
	}
	_ = conn.Close()
	return transport.PermissionGranted, nil
}

func (t *Transport) Token(ctx context.Context) (transport.Token, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cur.tok, nil
}

func (t *Transport) InvalidateToken(ctx context.Context) (transport.Token, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	close(t.cur.rotated)
	t.cur = mint()
	t.log.Info("token rotated", logx.String("consumer", t.cur.tok.Value))
	return t.cur.tok, nil
}

// InitialMessage is unsupported: queued messages replay through the backlog
// path instead.
func (t *Transport) InitialMessage(ctx context.Context) (*remote.Message, error) {
	return nil, nil
}

func decodeDelivery(d amqp.Delivery) (*remote.Message, error) {
	var msg remote.Message
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	if msg.ID == "" {
		msg.ID = d.MessageId
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Normalize()
	return &msg, nil
}

// isBacklog flags deliveries that were already queued before this consumer
// attached. Publishers may also mark replays explicitly.
func isBacklog(d amqp.Delivery, attachedAt time.Time) bool {
	if v, ok := d.Headers["background"]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return !d.Timestamp.IsZero() && d.Timestamp.Before(attachedAt)
}
