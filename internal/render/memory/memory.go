// Package memory provides an in-process renderer. It backs tests and local
// development: notifications land in a ledger instead of on a screen, and
// taps are injected programmatically.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"pushbridge/internal/channels"
	"pushbridge/internal/render"
)

// Renderer implements render.Renderer and channels.Manager entirely in
// process memory.
type Renderer struct {
	mu        sync.Mutex
	taps      chan<- render.Tap
	registry  map[string]channels.Channel
	active    map[int32]render.Request
	ledger    []render.Request
	launch    string
	hasLaunch bool
}

func New() *Renderer {
	return &Renderer{
		registry: map[string]channels.Channel{},
		active:   map[int32]render.Request{},
	}
}

func (r *Renderer) Start(ctx context.Context, taps chan<- render.Tap) error {
	r.mu.Lock()
	r.taps = taps
	r.mu.Unlock()
	return nil
}

func (r *Renderer) Stop(ctx context.Context) error {
	r.mu.Lock()
	r.taps = nil
	r.mu.Unlock()
	return nil
}

func (r *Renderer) Display(ctx context.Context, req render.Request) error {
	r.mu.Lock()
	r.active[req.ID] = req
	r.ledger = append(r.ledger, req)
	r.mu.Unlock()
	return nil
}

func (r *Renderer) Cancel(ctx context.Context, id int32) error {
	r.mu.Lock()
	delete(r.active, id)
	r.mu.Unlock()
	return nil
}

func (r *Renderer) Launch(ctx context.Context) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.launch, r.hasLaunch, nil
}

// ---- channels.Manager ----

func (r *Renderer) EnsureChannel(ctx context.Context, ch channels.Channel) error {
	r.mu.Lock()
	r.registry[ch.ID] = ch
	r.mu.Unlock()
	return nil
}

func (r *Renderer) Channels(ctx context.Context) ([]channels.Channel, error) {
	r.mu.Lock()
	out := make([]channels.Channel, 0, len(r.registry))
	for _, ch := range r.registry {
		out = append(out, ch)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Renderer) DeleteChannel(ctx context.Context, id string) error {
	r.mu.Lock()
	delete(r.registry, id)
	r.mu.Unlock()
	return nil
}

// ---- test / development hooks ----

// Tap simulates the user activating a displayed notification. It reports
// false when the notification is unknown or the renderer is not started.
func (r *Renderer) Tap(id int32) bool {
	r.mu.Lock()
	taps := r.taps
	req, ok := r.active[id]
	r.mu.Unlock()
	if !ok || taps == nil {
		return false
	}
	select {
	case taps <- render.Tap{ID: id, Payload: req.Payload, At: time.Now()}:
		return true
	default:
		return false
	}
}

// SetLaunch seeds the launched-from-notification payload returned by Launch.
func (r *Renderer) SetLaunch(payload string) {
	r.mu.Lock()
	r.launch = payload
	r.hasLaunch = true
	r.mu.Unlock()
}

// Displayed returns the ledger of every display call in order.
func (r *Renderer) Displayed() []render.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]render.Request(nil), r.ledger...)
}

// Active returns the currently displayed (not canceled) notifications.
func (r *Renderer) Active() []render.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]render.Request, 0, len(r.active))
	for _, req := range r.active {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
