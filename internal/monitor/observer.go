package monitor

import (
	"log/slog"

	"github.com/fxlab/oanda-stream/internal/stream"
)

// StreamObserver adapts a Registry to the stream lifecycle interface for
// one mode. Panics on the metrics path are recovered so that observability
// bugs never take down the supervisor.
type StreamObserver struct {
	mode     string
	registry *Registry
	logger   *slog.Logger
}

// NewStreamObserver creates an observer feeding the given registry.
func NewStreamObserver(mode string, registry *Registry, logger *slog.Logger) *StreamObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamObserver{mode: mode, registry: registry, logger: logger}
}

// OnReconnectWait records the backoff sleep preceding a reconnect attempt.
func (o *StreamObserver) OnReconnectWait(ev stream.LifecycleEvent) {
	defer o.recover("reconnect_wait")
	o.registry.RecordReconnectWait(o.mode)
	o.logger.Info("reconnect wait",
		"mode", o.mode,
		"attempt", ev.Attempt,
		"delay", ev.Delay,
		"cause", ev.Cause,
	)
}

// OnStreamError records one transport failure.
func (o *StreamObserver) OnStreamError(cause error) {
	defer o.recover("stream_error")
	o.registry.RecordStreamError(o.mode, cause)
}

// OnMalformedLine records one skipped undecodable line.
func (o *StreamObserver) OnMalformedLine() {
	defer o.recover("malformed_line")
	o.registry.RecordMalformedLine(o.mode)
}

func (o *StreamObserver) recover(op string) {
	if rec := recover(); rec != nil {
		o.logger.Error("observer panic recovered", "mode", o.mode, "op", op, "panic", rec)
	}
}
