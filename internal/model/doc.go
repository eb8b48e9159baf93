// Package model defines shared data types used across the stream monitor.
//
// Conventions:
//   - Latencies: float64 milliseconds (signed only where named Raw)
//   - Timestamps: time.Time; ServerTime is in the broker's clock domain,
//     everything else is the local clock
//   - IDs: uuid.UUID for latency samples, string for instruments
package model
