package channels

import (
	"context"
	"fmt"
)

// Importance is the five-step ordinal scale a channel is registered with.
// It controls how intrusively the renderer presents notifications routed
// through that channel.
type Importance string

const (
	ImportanceMin     Importance = "min"
	ImportanceLow     Importance = "low"
	ImportanceDefault Importance = "default"
	ImportanceHigh    Importance = "high"
	ImportanceMax     Importance = "max"
)

func (i Importance) Valid() bool {
	switch i {
	case ImportanceMin, ImportanceLow, ImportanceDefault, ImportanceHigh, ImportanceMax:
		return true
	}
	return false
}

// Rank returns the ordinal position (1..5) for a valid importance, 0 otherwise.
func (i Importance) Rank() int {
	switch i {
	case ImportanceMin:
		return 1
	case ImportanceLow:
		return 2
	case ImportanceDefault:
		return 3
	case ImportanceHigh:
		return 4
	case ImportanceMax:
		return 5
	}
	return 0
}

// Channel is one notification channel as registered with the renderer.
type Channel struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Importance Importance `json:"importance"`
}

// Settings is the desired channel state: one default channel that mapping
// falls back to, plus any number of additional channels.
type Settings struct {
	Default  Channel   `json:"default"`
	Channels []Channel `json:"channels"`
}

// Validate checks structural invariants: every channel needs an id and a
// name, importance must be one of the known steps, and ids must be unique
// across the default and additional channels.
func (s Settings) Validate() error {
	seen := make(map[string]struct{}, len(s.Channels)+1)
	for _, ch := range s.Desired() {
		if ch.ID == "" {
			return fmt.Errorf("channel %q: empty id", ch.Name)
		}
		if ch.Name == "" {
			return fmt.Errorf("channel %q: empty name", ch.ID)
		}
		if !ch.Importance.Valid() {
			return fmt.Errorf("channel %q: unknown importance %q", ch.ID, ch.Importance)
		}
		if _, dup := seen[ch.ID]; dup {
			return fmt.Errorf("channel id %q declared twice", ch.ID)
		}
		seen[ch.ID] = struct{}{}
	}
	return nil
}

// Desired returns the full desired channel set, default first.
func (s Settings) Desired() []Channel {
	out := make([]Channel, 0, len(s.Channels)+1)
	out = append(out, s.Default)
	out = append(out, s.Channels...)
	return out
}

// Lookup finds a desired channel by id.
func (s Settings) Lookup(id string) (Channel, bool) {
	if id == "" {
		return Channel{}, false
	}
	if s.Default.ID == id {
		return s.Default, true
	}
	for _, ch := range s.Channels {
		if ch.ID == id {
			return ch, true
		}
	}
	return Channel{}, false
}

// Manager is the channel-registry capability a renderer may expose.
// Renderers that cannot manage channels simply do not implement it; callers
// discover the capability with a type assertion.
type Manager interface {
	// EnsureChannel creates the channel or updates it in place. Ensuring an
	// identical channel twice is a no-op.
	EnsureChannel(ctx context.Context, ch Channel) error
	// Channels lists the currently registered channels.
	Channels(ctx context.Context) ([]Channel, error)
	// DeleteChannel removes a channel by id. Deleting an unknown id is not
	// an error.
	DeleteChannel(ctx context.Context, id string) error
}
