package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Errors
var (
	ErrStreamTimeout    = errors.New("stream idle timeout")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrRetriesExhausted = errors.New("retry budget exhausted")
)

// AuthError is a 401/403-class failure. Always fatal, never retried.
type AuthError struct {
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("stream auth rejected: status %d", e.StatusCode)
}

// TransientError is a network or protocol failure worth retrying when
// reconnect is enabled.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("stream %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RawLine is one newline-delimited payload with its receive timestamp.
type RawLine struct {
	Data       []byte
	ReceivedAt time.Time // Local timestamp when the line was read
}

// Transport is a single long-lived connection to one stream endpoint.
// A transport is used for at most one connection; the supervisor creates a
// fresh one per attempt.
type Transport interface {
	// Connect opens the stream. Blocks until the response headers arrive.
	Connect(ctx context.Context) error

	// Lines returns the channel of raw lines. Closed when the read loop ends.
	Lines() <-chan RawLine

	// Errors returns a channel carrying the failure that ended the stream.
	Errors() <-chan error

	// Close aborts any in-flight read. Idempotent.
	Close() error
}

// TransportFactory builds a fresh transport for each connection attempt.
type TransportFactory func() Transport

// RetryLimit is a tagged retry bound: either unlimited or bounded at n
// consecutive reconnect attempts.
type RetryLimit struct {
	bounded bool
	n       int
}

// Unlimited reconnects forever.
func Unlimited() RetryLimit {
	return RetryLimit{}
}

// Bounded terminates the session once n consecutive reconnects have failed
// to produce a classified message.
func Bounded(n int) RetryLimit {
	return RetryLimit{bounded: true, n: n}
}

// Exhausted reports whether attempt (1-based count of consecutive
// reconnects) exceeds the bound.
func (r RetryLimit) Exhausted(attempt int) bool {
	return r.bounded && attempt > r.n
}

func (r RetryLimit) String() string {
	if !r.bounded {
		return "unlimited"
	}
	return fmt.Sprintf("bounded(%d)", r.n)
}

// LifecycleEvent describes one reconnect wait. Published to the observer
// strictly before the corresponding backoff sleep.
type LifecycleEvent struct {
	SessionID uuid.UUID
	Mode      string
	Attempt   int
	Delay     time.Duration // Total sleep, jitter included
	Cause     error
}

// Observer receives stream lifecycle and error notifications. Methods are
// invoked from the supervisor goroutine and must not block.
type Observer interface {
	// OnReconnectWait fires before each backoff sleep.
	OnReconnectWait(ev LifecycleEvent)

	// OnStreamError fires for each transport failure.
	OnStreamError(cause error)

	// OnMalformedLine fires for each undecodable line that was skipped.
	OnMalformedLine()
}

// NopObserver ignores all notifications.
type NopObserver struct{}

func (NopObserver) OnReconnectWait(LifecycleEvent) {}
func (NopObserver) OnStreamError(error)            {}
func (NopObserver) OnMalformedLine()               {}
