package confirm

import (
	"context"
	"sync"
)

// Signal is a single-assignment result that resolves once, from any goroutine.
// Resolutions after the first are ignored.
type Signal struct {
	once sync.Once
	done chan struct{}
	err  error
}

func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Resolve sets the result to err (nil is success). It reports whether this call set it.
func (s *Signal) Resolve(err error) bool {
	var resolved bool
	s.once.Do(func() {
		s.err = err
		resolved = true
		close(s.done)
	})

	return resolved
}

// Done is closed once the signal is resolved.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Resolved reports whether the signal is resolved yet, and with which result.
func (s *Signal) Resolved() (bool, error) {
	select {
	case <-s.done:
		return true, s.err
	default:
		return false, nil
	}
}

// Wait blocks until the signal resolves or ctx is done. When ctx ends first it returns an
// error wrapping ErrTimeout and leaves the signal unresolved.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		// a resolution racing the deadline wins
		if ok, err := s.Resolved(); ok {
			return err
		}
		return WaitError("completion", ctx.Err())
	}
}
