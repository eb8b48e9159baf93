package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Stream messages
// -----------------------------------------------------------------------------

// MessageKind discriminates stream message payloads. The kind is fixed at
// classification time and never inferred from later context.
type MessageKind string

const (
	KindPrice       MessageKind = "PRICE"
	KindTransaction MessageKind = "TRANSACTION"
	KindHeartbeat   MessageKind = "HEARTBEAT"
	KindUnknown     MessageKind = "UNKNOWN"
)

// PriceLevel is one side of the book at a single price.
type PriceLevel struct {
	Price     float64
	Liquidity int64
}

// StreamMessage is a single classified message from a broker stream.
// Raw always holds the payload verbatim, including for UNKNOWN messages
// (forward-compatibility contract).
type StreamMessage struct {
	Kind       MessageKind
	Raw        json.RawMessage
	ReceivedAt time.Time // Local timestamp when the line was read

	// ServerTime is the broker timestamp carried by the payload.
	// Zero when the payload has none or it failed to parse.
	ServerTime time.Time

	// PRICE fields
	Instrument string
	Bids       []PriceLevel
	Asks       []PriceLevel

	// TRANSACTION fields
	TransactionID   string
	TransactionType string
	AccountID       string
}

// -----------------------------------------------------------------------------
// Latency samples and snapshots
// -----------------------------------------------------------------------------

// LatencySample is one latency observation for a (mode, instrument) stream.
// Immutable once created.
type LatencySample struct {
	ID         uuid.UUID
	Mode       string // "pricing" or "transactions"
	Instrument string

	ReceivedAt time.Time // Local receive timestamp
	ServerTime time.Time // Broker timestamp from the payload

	RawMs         float64 // ReceivedAt - ServerTime, signed milliseconds
	ClampedMs     float64 // RawMs floored at zero
	EffectiveMs   float64 // max(0, RawMs - ClockOffsetMs)
	ClockOffsetMs float64 // Window minimum of RawMs at sample time (skew estimate)
	SkewMs        float64 // abs(RawMs) when RawMs < 0, else 0

	Backlog bool // EffectiveMs at or above the backlog threshold
	Outlier bool // EffectiveMs at or above the outlier threshold
}

// LatencyStats holds last/p95/mean for one latency series. Valid is false
// when the window holds no usable samples.
type LatencyStats struct {
	LastMs float64
	P95Ms  float64
	MeanMs float64
	Valid  bool
}

// StreamMetricsSnapshot is a point-in-time aggregate for one
// (mode, instrument) stream. Produced atomically by StreamMetrics.
type StreamMetricsSnapshot struct {
	Mode       string
	Instrument string
	TakenAt    time.Time

	MessagesTotal  int64
	MessagesPerSec float64
	Errors         int64
	ReconnectWaits int64
	BacklogTotal   int64
	OutlierTotal   int64

	ClockOffsetMs float64
	LastError     string

	// Statistics computed over non-outlier samples in the current window.
	Raw       LatencyStats
	Clamped   LatencyStats
	Effective LatencyStats
}
