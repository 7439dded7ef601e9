package claude

import "sync"

// Stop is a cooperative cancellation flag shared between the transport
// layer (the stop button) and an in-flight run. It may be triggered any
// number of times from any goroutine; only the first trigger has effect.
type Stop struct {
	once sync.Once
	ch   chan struct{}
}

// NewStop creates an untriggered stop signal.
func NewStop() *Stop {
	return &Stop{ch: make(chan struct{})}
}

// Trigger requests cancellation. Safe to call more than once.
func (s *Stop) Trigger() {
	s.once.Do(func() { close(s.ch) })
}

// C returns a channel that is closed once cancellation was requested.
func (s *Stop) C() <-chan struct{} {
	return s.ch
}

// Triggered reports whether cancellation was requested.
func (s *Stop) Triggered() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}
