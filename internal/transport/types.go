package transport

import (
	"context"
	"time"

	"pushbridge/internal/remote"
)

type EventKind string

const (
	EventMessage EventKind = "message"
	EventOpened  EventKind = "opened"
)

// Event is one inbound transport signal.
type Event struct {
	Kind    EventKind
	Message *remote.Message
	// Background marks deliveries the transport replayed from backlog
	// (queued while no consumer was attached) rather than received live.
	Background bool
}

type PermissionStatus string

const (
	PermissionGranted     PermissionStatus = "granted"
	PermissionDenied      PermissionStatus = "denied"
	PermissionProvisional PermissionStatus = "provisional"
)

// Token is the identity under which this consumer receives pushes.
type Token struct {
	Value    string
	IssuedAt time.Time
}

type Transport interface {
	Start(ctx context.Context, out chan<- Event) error
	Stop(ctx context.Context) error

	// RequestPermission asks the push service for delivery authorization.
	RequestPermission(ctx context.Context) (PermissionStatus, error)

	// Token returns the current delivery identity, minting one if needed.
	Token(ctx context.Context) (Token, error)
	// InvalidateToken revokes the current token and mints a fresh one.
	InvalidateToken(ctx context.Context) (Token, error)

	// InitialMessage returns the message this process was started for, if
	// the transport knows of one. The message is consumed on first read.
	InitialMessage(ctx context.Context) (*remote.Message, error)
}
