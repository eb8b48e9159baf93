package router

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fxlab/oanda-stream/internal/model"
)

// MetricsSink receives per-message observations. Implemented by the monitor
// registry; the router only depends on this narrow surface.
type MetricsSink interface {
	// RecordMessage counts one classified message for throughput.
	RecordMessage(mode, instrument string, receivedAt time.Time)

	// RecordLatency ingests one server-timestamped message and returns
	// the derived sample.
	RecordLatency(mode, instrument string, serverTime, receivedAt time.Time) model.LatencySample
}

// Config holds buffer sizing for one Router.
type Config struct {
	// Mode tags all observations from this router ("pricing" or
	// "transactions").
	Mode string

	PriceBufferSize       int // default 5000
	TransactionBufferSize int // default 1000
	SampleBufferSize      int // default 5000
}

// DefaultConfig returns default buffer sizes for the given mode.
func DefaultConfig(mode string) Config {
	return Config{
		Mode:                  mode,
		PriceBufferSize:       5000,
		TransactionBufferSize: 1000,
		SampleBufferSize:      5000,
	}
}

// Buffers exposes the router's output buffers to writers.
type Buffers struct {
	Prices       *GrowableBuffer[model.StreamMessage]
	Transactions *GrowableBuffer[model.StreamMessage]
	Samples      *GrowableBuffer[model.LatencySample]
}

// Stats contains runtime counters for one Router.
type Stats struct {
	MessagesReceived   int64
	PricesRouted       int64
	TransactionsRouted int64
	Heartbeats         int64
	Unknown            int64
	ObserverPanics     int64
	PriceBuffer        BufferStats
	TransactionBuffer  BufferStats
	SampleBuffer       BufferStats
}

// Router consumes one supervisor's message channel and routes by kind.
type Router interface {
	// Start begins routing from the input channel.
	Start(ctx context.Context) error

	// Stop shuts the router down, closing the output buffers after the
	// route loop exits or the context expires.
	Stop(ctx context.Context) error

	// Buffers returns the output buffers for writers to drain.
	Buffers() Buffers

	// Stats returns current counters.
	Stats() Stats
}

type router struct {
	cfg    Config
	logger *slog.Logger

	input <-chan model.StreamMessage
	sink  MetricsSink

	priceBuf  *GrowableBuffer[model.StreamMessage]
	txBuf     *GrowableBuffer[model.StreamMessage]
	sampleBuf *GrowableBuffer[model.LatencySample]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.RWMutex
	received       int64
	prices         int64
	transactions   int64
	heartbeats     int64
	unknown        int64
	observerPanics int64
}

// New creates a Router. sink may be nil when no observability is attached.
func New(cfg Config, input <-chan model.StreamMessage, sink MetricsSink, logger *slog.Logger) Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PriceBufferSize < 1 {
		cfg.PriceBufferSize = DefaultConfig(cfg.Mode).PriceBufferSize
	}
	if cfg.TransactionBufferSize < 1 {
		cfg.TransactionBufferSize = DefaultConfig(cfg.Mode).TransactionBufferSize
	}
	if cfg.SampleBufferSize < 1 {
		cfg.SampleBufferSize = DefaultConfig(cfg.Mode).SampleBufferSize
	}

	return &router{
		cfg:       cfg,
		logger:    logger,
		input:     input,
		sink:      sink,
		priceBuf:  NewGrowableBuffer[model.StreamMessage](cfg.PriceBufferSize),
		txBuf:     NewGrowableBuffer[model.StreamMessage](cfg.TransactionBufferSize),
		sampleBuf: NewGrowableBuffer[model.LatencySample](cfg.SampleBufferSize),
	}
}

func (r *router) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.routeLoop()

	r.logger.Info("router started",
		"mode", r.cfg.Mode,
		"price_buffer", r.cfg.PriceBufferSize,
		"transaction_buffer", r.cfg.TransactionBufferSize,
		"sample_buffer", r.cfg.SampleBufferSize,
	)
	return nil
}

func (r *router) Stop(ctx context.Context) error {
	r.logger.Info("stopping router", "mode", r.cfg.Mode)

	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("router stopped", "mode", r.cfg.Mode)
	case <-ctx.Done():
		r.logger.Warn("router stop timed out", "mode", r.cfg.Mode)
	}

	r.priceBuf.Close()
	r.txBuf.Close()
	r.sampleBuf.Close()
	return nil
}

func (r *router) Buffers() Buffers {
	return Buffers{
		Prices:       r.priceBuf,
		Transactions: r.txBuf,
		Samples:      r.sampleBuf,
	}
}

func (r *router) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		MessagesReceived:   r.received,
		PricesRouted:       r.prices,
		TransactionsRouted: r.transactions,
		Heartbeats:         r.heartbeats,
		Unknown:            r.unknown,
		ObserverPanics:     r.observerPanics,
		PriceBuffer:        r.priceBuf.Stats(),
		TransactionBuffer:  r.txBuf.Stats(),
		SampleBuffer:       r.sampleBuf.Stats(),
	}
}

func (r *router) routeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case msg, ok := <-r.input:
			if !ok {
				r.logger.Info("input channel closed", "mode", r.cfg.Mode)
				return
			}
			r.route(msg)
		}
	}
}

func (r *router) route(msg model.StreamMessage) {
	r.mu.Lock()
	r.received++
	r.mu.Unlock()

	r.observe(msg)

	switch msg.Kind {
	case model.KindPrice:
		if r.priceBuf.Send(msg) {
			r.mu.Lock()
			r.prices++
			r.mu.Unlock()
		}
	case model.KindTransaction:
		if r.txBuf.Send(msg) {
			r.mu.Lock()
			r.transactions++
			r.mu.Unlock()
		}
	case model.KindHeartbeat:
		// Heartbeats only feed the latency path.
		r.mu.Lock()
		r.heartbeats++
		r.mu.Unlock()
	default:
		r.mu.Lock()
		r.unknown++
		r.mu.Unlock()
		r.logger.Debug("unknown message kind", "mode", r.cfg.Mode)
	}
}

// observe feeds the metrics sink. A panic in metrics or gate code is
// recovered and counted so the data path keeps flowing.
func (r *router) observe(msg model.StreamMessage) {
	if r.sink == nil {
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.mu.Lock()
			r.observerPanics++
			r.mu.Unlock()
			r.logger.Error("observer panic recovered",
				"mode", r.cfg.Mode,
				"panic", rec,
			)
		}
	}()

	r.sink.RecordMessage(r.cfg.Mode, msg.Instrument, msg.ReceivedAt)
	if !msg.ServerTime.IsZero() {
		sample := r.sink.RecordLatency(r.cfg.Mode, msg.Instrument, msg.ServerTime, msg.ReceivedAt)
		r.sampleBuf.Send(sample)
	}
}
