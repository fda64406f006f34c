package engine

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrStopped     = errors.New("task engine stopped")
	ErrStopping    = errors.New("task engine stopping")
	ErrQueueFull   = errors.New("task engine queue full")
	ErrOverlapSkip = errors.New("task skipped: previous run still in flight")
)

// RetryAfterError is implemented by errors carrying their own retry delay.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

// hintedError decorates a task error with retry instructions.
type hintedError struct {
	err   error
	final bool
	after time.Duration
}

func (e *hintedError) Unwrap() error { return e.err }

func (e *hintedError) Error() string {
	if e.final {
		return "final: " + e.err.Error()
	}
	return fmt.Sprintf("retry in %s: %v", e.after, e.err)
}

func (e *hintedError) RetryAfter() time.Duration { return e.after }

// NoRetry makes err final. A broadcast that already delivered to some
// recipients returns this so it is never sent twice.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return &hintedError{err: err, final: true}
}

// IsNoRetry reports whether err was wrapped by NoRetry.
func IsNoRetry(err error) bool {
	var h *hintedError
	for e := err; errors.As(e, &h); e = h.err {
		if h.final {
			return true
		}
	}
	return false
}

// RetryAfter attaches a suggested delay, such as a Telegram flood wait.
// The engine still caps it at RetryMaxDelay.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	return &hintedError{err: err, after: max(after, 0)}
}

// cause strips the engine's own wrappers so history keeps the task's message.
func cause(err error) error {
	for {
		h, ok := err.(*hintedError)
		if !ok {
			return err
		}
		err = h.err
	}
}
