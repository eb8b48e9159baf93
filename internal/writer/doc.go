// Package writer implements batch writers for latency telemetry.
//
// Writers:
//   - Sample writer: append-only log of latency samples (TimescaleDB)
//   - Snapshot writer: periodic metrics snapshots (TimescaleDB)
//
// All writers use append-only semantics (never update, only insert) and
// batch rows with a size threshold plus a flush interval.
package writer
