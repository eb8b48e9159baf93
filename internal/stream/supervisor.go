package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fxlab/oanda-stream/internal/classify"
	"github.com/fxlab/oanda-stream/internal/model"
)

// errShutdown ends the run loop when Shutdown is called. Never surfaced to
// the caller.
var errShutdown = errors.New("supervisor shutdown")

// SupervisorConfig configures one stream session.
type SupervisorConfig struct {
	Mode           string        // "pricing" or "transactions"
	Reconnect      bool          // When false, the first failure is terminal
	MaxRetries     RetryLimit    // Consecutive reconnect bound
	BackoffBase    time.Duration // First retry delay
	BackoffMax     time.Duration // Delay cap before jitter
	SessionTimeout time.Duration // Total session wall clock (0 = disabled)
	BufferSize     int           // Output message channel buffer
}

// DefaultSupervisorConfig returns sensible defaults.
func DefaultSupervisorConfig(mode string) SupervisorConfig {
	return SupervisorConfig{
		Mode:        mode,
		Reconnect:   true,
		MaxRetries:  Unlimited(),
		BackoffBase: 500 * time.Millisecond,
		BackoffMax:  15 * time.Second,
		BufferSize:  1024,
	}
}

// Supervisor owns one stream session: it creates a fresh transport per
// attempt, classifies lines, and reconnects with exponential backoff.
// The supervisor and classifier persist across reconnects; transports do not.
type Supervisor struct {
	cfg        SupervisorConfig
	factory    TransportFactory
	classifier *classify.Classifier
	observer   Observer
	logger     *slog.Logger

	sessionID uuid.UUID
	out       chan model.StreamMessage

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewSupervisor creates a supervisor for one subscribed stream.
func NewSupervisor(
	cfg SupervisorConfig,
	factory TransportFactory,
	classifier *classify.Classifier,
	observer Observer,
	logger *slog.Logger,
) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = NopObserver{}
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1
	}
	return &Supervisor{
		cfg:        cfg,
		factory:    factory,
		classifier: classifier,
		observer:   observer,
		logger:     logger.With("mode", cfg.Mode),
		sessionID:  uuid.New(),
		out:        make(chan model.StreamMessage, cfg.BufferSize),
		shutdown:   make(chan struct{}),
	}
}

// SessionID identifies this session in lifecycle events and sample rows.
func (s *Supervisor) SessionID() uuid.UUID {
	return s.sessionID
}

// Messages returns the classified message channel. Closed when Run returns.
func (s *Supervisor) Messages() <-chan model.StreamMessage {
	return s.out
}

// Shutdown stops the session. Idempotent and callable from any goroutine.
// Once acknowledged, no further reconnects are scheduled and no further
// messages are delivered.
func (s *Supervisor) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
	})
}

// Run drives the session until a terminal condition. Returns nil on
// shutdown or context cancellation; otherwise the fatal error.
func (s *Supervisor) Run(ctx context.Context) error {
	defer close(s.out)

	if s.cfg.SessionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SessionTimeout)
		defer cancel()
	}

	attempt := 0
	for {
		transport := s.factory()
		cause := transport.Connect(ctx)
		if cause == nil {
			cause = s.consume(ctx, transport, &attempt)
		}
		transport.Close()

		switch {
		case errors.Is(cause, errShutdown):
			s.logger.Info("session shut down")
			return nil
		case ctx.Err() != nil:
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				s.logger.Warn("session timeout exceeded")
				return fmt.Errorf("session timeout: %w", ctx.Err())
			}
			s.logger.Info("session canceled")
			return nil
		}

		s.observer.OnStreamError(cause)

		var authErr *AuthError
		if errors.As(cause, &authErr) {
			s.logger.Error("stream auth rejected", "status", authErr.StatusCode)
			return cause
		}
		if !s.cfg.Reconnect {
			return cause
		}
		if s.cfg.MaxRetries.Exhausted(attempt + 1) {
			s.logger.Error("retry budget exhausted",
				"attempts", attempt+1,
				"limit", s.cfg.MaxRetries,
			)
			return fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, attempt+1, cause)
		}

		delay := backoffDelay(s.cfg.BackoffBase, s.cfg.BackoffMax, attempt)
		sleep := delay
		if delay > 0 {
			sleep += time.Duration(rand.Int64N(int64(delay)))
		}

		// Lifecycle event publication strictly precedes the sleep.
		s.observer.OnReconnectWait(LifecycleEvent{
			SessionID: s.sessionID,
			Mode:      s.cfg.Mode,
			Attempt:   attempt,
			Delay:     sleep,
			Cause:     cause,
		})
		s.logger.Warn("stream disconnected, reconnecting",
			"attempt", attempt,
			"delay", sleep,
			"cause", cause,
		)

		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			// Loop once more to resolve cancel vs. session deadline.
			continue
		case <-s.shutdown:
			s.logger.Info("session shut down")
			return nil
		}
		attempt++
	}
}

// consume drains one connected transport. Resets the attempt counter after
// the first successfully classified message of the connection. A failure is
// not surfaced until the line channel closes: the read loop buffers lines
// it has already received, and those precede the disconnect, so they must
// reach the consumer before the supervisor tears the transport down.
func (s *Supervisor) consume(ctx context.Context, transport Transport, attempt *int) error {
	classified := false
	lines, errs := transport.Lines(), transport.Errors()
	var failure error
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.shutdown:
			return errShutdown
		case failure = <-errs:
			// Hold the error and keep draining; a nil channel never
			// fires, so from here only Lines() can select.
			errs = nil
		case line, ok := <-lines:
			if !ok {
				if failure != nil {
					return failure
				}
				// Read loop ended; the terminal error follows on Errors().
				select {
				case err := <-errs:
					return err
				case <-s.shutdown:
					return errShutdown
				case <-ctx.Done():
					return ctx.Err()
				}
			}

			msg, ok := s.classifier.Classify(line.Data, line.ReceivedAt)
			if !ok {
				s.observer.OnMalformedLine()
				continue
			}
			if !classified {
				classified = true
				*attempt = 0
			}

			// Never deliver after a shutdown acknowledgement.
			select {
			case <-s.shutdown:
				return errShutdown
			default:
			}

			select {
			case s.out <- msg:
			case <-s.shutdown:
				return errShutdown
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// backoffDelay computes min(base * 2^attempt, max) without jitter.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if max > 0 && attempt > 62 {
		return max
	}
	delay := base << uint(attempt)
	if delay <= 0 || (max > 0 && delay > max) {
		return max
	}
	return delay
}
