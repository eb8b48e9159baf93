package classify

import (
	"encoding/json"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/fxlab/oanda-stream/internal/model"
)

// transactionTypes is the broker's transaction vocabulary. A payload with an
// "id" field and one of these types classifies as TRANSACTION.
var transactionTypes = make(map[string]struct{})

func init() {
	for _, t := range []string{
		"CREATE", "CLOSE", "REOPEN", "CLIENT_CONFIGURE", "TRANSFER_FUNDS",
		"MARKET_ORDER", "LIMIT_ORDER", "STOP_ORDER",
		"ORDER_FILL", "ORDER_CANCEL",
		"TAKE_PROFIT_ORDER", "STOP_LOSS_ORDER", "TRAILING_STOP_LOSS_ORDER",
		"ORDER_CLIENT_EXTENSIONS_MODIFY", "TRADE_CLIENT_EXTENSIONS_MODIFY",
		"MARGIN_CALL_ENTER", "MARGIN_CALL_EXIT", "DAILY_FINANCING",
	} {
		transactionTypes[t] = struct{}{}
	}
}

// Classifier parses raw lines into typed StreamMessages. Safe for use from a
// single reader goroutine; the error counter may be read from anywhere.
type Classifier struct {
	errors atomic.Int64
}

// NewClassifier creates a classifier with a zeroed error counter.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Errors returns the number of undecodable lines seen so far.
func (c *Classifier) Errors() int64 {
	return c.errors.Load()
}

// Classify parses one raw line. Returns ok=false only for undecodable JSON,
// which is counted and must be skipped by the caller. Every decodable line
// yields a message; unrecognized shapes come back as UNKNOWN.
func (c *Classifier) Classify(data []byte, receivedAt time.Time) (model.StreamMessage, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		if !json.Valid(data) {
			c.errors.Add(1)
			return model.StreamMessage{}, false
		}
		// Valid JSON but not an object (array, string, number).
		return unknown(data, receivedAt), true
	}

	raw := make(json.RawMessage, len(data))
	copy(raw, data)

	switch typeField(fields) {
	case "PRICE":
		return classifyPrice(raw, fields, receivedAt), true
	case "HEARTBEAT":
		return model.StreamMessage{
			Kind:       model.KindHeartbeat,
			Raw:        raw,
			ReceivedAt: receivedAt,
			ServerTime: timeField(fields, "time"),
		}, true
	}

	if msg, ok := classifyTransaction(raw, fields, receivedAt); ok {
		return msg, true
	}

	return unknown(raw, receivedAt), true
}

// classifyPrice builds a PRICE message, downgrading to UNKNOWN when any
// required field (instrument, time, bids, asks) is absent.
func classifyPrice(raw json.RawMessage, fields map[string]json.RawMessage, receivedAt time.Time) model.StreamMessage {
	for _, required := range []string{"instrument", "time", "bids", "asks"} {
		if _, ok := fields[required]; !ok {
			return unknown(raw, receivedAt)
		}
	}

	msg := model.StreamMessage{
		Kind:       model.KindPrice,
		Raw:        raw,
		ReceivedAt: receivedAt,
		ServerTime: timeField(fields, "time"),
		Instrument: stringField(fields, "instrument"),
		Bids:       levelsField(fields, "bids"),
		Asks:       levelsField(fields, "asks"),
	}
	return msg
}

// classifyTransaction matches payloads that carry an id plus a recognized
// transaction type.
func classifyTransaction(raw json.RawMessage, fields map[string]json.RawMessage, receivedAt time.Time) (model.StreamMessage, bool) {
	if _, ok := fields["id"]; !ok {
		return model.StreamMessage{}, false
	}
	txType := typeField(fields)
	if _, ok := transactionTypes[txType]; !ok {
		return model.StreamMessage{}, false
	}

	return model.StreamMessage{
		Kind:            model.KindTransaction,
		Raw:             raw,
		ReceivedAt:      receivedAt,
		ServerTime:      timeField(fields, "time"),
		Instrument:      stringField(fields, "instrument"),
		TransactionID:   stringField(fields, "id"),
		TransactionType: txType,
		AccountID:       stringField(fields, "accountID"),
	}, true
}

func unknown(data []byte, receivedAt time.Time) model.StreamMessage {
	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	return model.StreamMessage{
		Kind:       model.KindUnknown,
		Raw:        raw,
		ReceivedAt: receivedAt,
	}
}

func typeField(fields map[string]json.RawMessage) string {
	return stringField(fields, "type")
}

func stringField(fields map[string]json.RawMessage, key string) string {
	rawValue, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(rawValue, &s); err != nil {
		return ""
	}
	return s
}

// timeField parses a broker RFC 3339 timestamp. Returns the zero time when
// absent or unparseable; callers treat zero as "no server time".
func timeField(fields map[string]json.RawMessage, key string) time.Time {
	value := stringField(fields, key)
	if value == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return ts
}

// levelWire is the wire format for one book level. The broker sends prices
// as decimal strings.
type levelWire struct {
	Price     string `json:"price"`
	Liquidity int64  `json:"liquidity"`
}

func levelsField(fields map[string]json.RawMessage, key string) []model.PriceLevel {
	rawValue, ok := fields[key]
	if !ok {
		return nil
	}
	var wire []levelWire
	if err := json.Unmarshal(rawValue, &wire); err != nil {
		return nil
	}
	levels := make([]model.PriceLevel, 0, len(wire))
	for _, lv := range wire {
		price, err := strconv.ParseFloat(lv.Price, 64)
		if err != nil {
			continue
		}
		levels = append(levels, model.PriceLevel{Price: price, Liquidity: lv.Liquidity})
	}
	return levels
}
