package render

import (
	"context"
	"time"

	"pushbridge/internal/channels"
)

type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
	VisibilitySecret  Visibility = "secret"
)

// Priority is the notification-level prominence step. It mirrors the
// five-step channel importance scale: importance classifies the channel,
// priority the single notification.
type Priority string

const (
	PriorityMin     Priority = "min"
	PriorityLow     Priority = "low"
	PriorityDefault Priority = "default"
	PriorityHigh    Priority = "high"
	PriorityMax     Priority = "max"
)

// Rank returns the ordinal position (1..5) for a valid priority, 0 otherwise.
func (p Priority) Rank() int {
	switch p {
	case PriorityMin:
		return 1
	case PriorityLow:
		return 2
	case PriorityDefault:
		return 3
	case PriorityHigh:
		return 4
	case PriorityMax:
		return 5
	}
	return 0
}

// AndroidDetails carries the resolved presentation parameters for
// channel-based renderers. Priority and Importance always move in lockstep;
// both derive from the sender's requested priority.
type AndroidDetails struct {
	ChannelID   string
	ChannelName string
	Priority    Priority
	Importance  channels.Importance
	PlaySound   bool
	Sound       string     // empty means the renderer's default sound
	Visibility  Visibility // empty means the renderer's default
	SmallIcon   string
	Tag         string
	Ticker      string
}

// AppleDetails carries the resolved presentation parameters for badge-based
// renderers.
type AppleDetails struct {
	PlaySound bool
	Sound     string // empty means the renderer's default sound
	Badge     *int   // nil leaves the badge untouched
}

// Request is one fully resolved notification ready for display.
type Request struct {
	ID      int32
	Title   string
	Body    string
	Android *AndroidDetails
	Apple   *AppleDetails
	Payload string // opaque, must round-trip unchanged through the renderer
}

// Tap is emitted when the user activates a displayed notification.
type Tap struct {
	ID      int32
	Payload string
	At      time.Time
}

// Renderer displays notifications and reports taps back on the channel
// passed to Start.
//
// Renderers that manage a channel registry additionally implement
// channels.Manager; callers discover that capability with a type assertion.
type Renderer interface {
	Start(ctx context.Context, taps chan<- Tap) error
	Stop(ctx context.Context) error

	Display(ctx context.Context, req Request) error
	Cancel(ctx context.Context, id int32) error

	// Launch reports the payload of the notification this process was
	// started from. ok is false when the process was started normally or
	// the renderer cannot tell.
	Launch(ctx context.Context) (payload string, ok bool, err error)
}
