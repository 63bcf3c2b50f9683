package bridge

import (
	"sync"

	"pushbridge/internal/remote"
)

// MessageHandler receives delivered messages after dispatch has mapped and
// displayed them.
type MessageHandler func(msg *remote.Message)

// OpenHandler receives notifications the user acted on, either locally
// (renderer tap) or remotely.
type OpenHandler func(open Open)

// Open describes one acted-on notification.
type Open struct {
	Data    map[string]string // decoded opaque payload
	Message *remote.Message   // set when the remote side reported the open
}

// msgSlot holds the current message handler. Every registration bumps the
// generation; a delivery stamped with an older generation is stale and must
// be dropped instead of invoked.
type msgSlot struct {
	mu  sync.Mutex
	gen uint64
	fn  MessageHandler
}

// set installs fn (nil unregisters) and returns the new generation.
func (s *msgSlot) set(fn MessageHandler) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.fn = fn
	return s.gen
}

// snapshot returns the generation a new delivery should be stamped with.
func (s *msgSlot) snapshot() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// deliver invokes the current handler if the delivery's generation is still
// current. stale reports that a newer handler was registered while the
// delivery was in flight.
func (s *msgSlot) deliver(gen uint64, msg *remote.Message) (delivered, stale bool) {
	s.mu.Lock()
	fn, cur := s.fn, s.gen
	s.mu.Unlock()
	if cur != gen {
		return false, true
	}
	if fn == nil {
		return false, false
	}
	fn(msg)
	return true, false
}

// openSlot is the msgSlot counterpart for open reports.
type openSlot struct {
	mu  sync.Mutex
	gen uint64
	fn  OpenHandler
}

func (s *openSlot) set(fn OpenHandler) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.fn = fn
	return s.gen
}

func (s *openSlot) snapshot() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func (s *openSlot) deliver(gen uint64, open Open) (delivered, stale bool) {
	s.mu.Lock()
	fn, cur := s.fn, s.gen
	s.mu.Unlock()
	if cur != gen {
		return false, true
	}
	if fn == nil {
		return false, false
	}
	fn(open)
	return true, false
}
