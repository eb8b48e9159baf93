// Package router fans classified stream messages out to writer buffers and
// feeds the observability path.
//
// One Router consumes the message channel of one stream supervisor. Price
// and transaction messages land in growable buffers drained by the database
// writers; every timestamped message additionally produces a latency sample
// for the metrics registry. Failures on the observability path are recovered
// and counted so they can never stall message delivery.
package router
