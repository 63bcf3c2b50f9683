// Package memory provides an in-process transport. Tests and local
// development inject messages directly instead of consuming a broker.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"pushbridge/internal/remote"
	"pushbridge/internal/transport"
)

type Transport struct {
	mu      sync.Mutex
	out     chan<- transport.Event
	status  transport.PermissionStatus
	token   transport.Token
	initial *remote.Message
}

func New() *Transport {
	return &Transport{
		status: transport.PermissionProvisional,
		token:  mintToken(),
	}
}

func mintToken() transport.Token {
	return transport.Token{Value: uuid.NewString(), IssuedAt: time.Now()}
}

func (t *Transport) Start(ctx context.Context, out chan<- transport.Event) error {
	t.mu.Lock()
	t.out = out
	t.mu.Unlock()
	return nil
}

func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	t.out = nil
	t.mu.Unlock()
	return nil
}

func (t *Transport) RequestPermission(ctx context.Context) (transport.PermissionStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status, nil
}

func (t *Transport) Token(ctx context.Context) (transport.Token, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.token, nil
}

func (t *Transport) InvalidateToken(ctx context.Context) (transport.Token, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = mintToken()
	return t.token, nil
}

func (t *Transport) InitialMessage(ctx context.Context) (*remote.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	msg := t.initial
	t.initial = nil
	return msg, nil
}

// ---- test / development hooks ----

// SetPermission fixes what RequestPermission reports.
func (t *Transport) SetPermission(s transport.PermissionStatus) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

// SeedInitial sets the message InitialMessage hands out (once).
func (t *Transport) SeedInitial(msg *remote.Message) {
	if msg != nil {
		msg.Normalize()
	}
	t.mu.Lock()
	t.initial = msg
	t.mu.Unlock()
}

// Inject delivers a message as a live (foreground) delivery. It reports
// false when the transport is stopped or the consumer is saturated.
func (t *Transport) Inject(msg *remote.Message) bool {
	return t.emit(transport.Event{Kind: transport.EventMessage, Message: msg})
}

// InjectBackground delivers a message flagged as replayed backlog.
func (t *Transport) InjectBackground(msg *remote.Message) bool {
	return t.emit(transport.Event{Kind: transport.EventMessage, Message: msg, Background: true})
}

// InjectOpened reports a notification opened on the remote side.
func (t *Transport) InjectOpened(msg *remote.Message) bool {
	return t.emit(transport.Event{Kind: transport.EventOpened, Message: msg})
}

func (t *Transport) emit(ev transport.Event) bool {
	if ev.Message != nil {
		ev.Message.Normalize()
	}
	t.mu.Lock()
	out := t.out
	t.mu.Unlock()
	if out == nil {
		return false
	}
	select {
	case out <- ev:
		return true
	default:
		return false
	}
}
