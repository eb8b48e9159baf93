// Package monitor ties the observability pieces together.
//
// A Registry owns one StreamMetrics/Gate pair per (mode, instrument) key,
// created lazily on first observation, and mirrors counters to Prometheus.
// StreamObserver adapts registry counters to the stream lifecycle interface.
// The Snapshotter periodically captures metrics snapshots, refreshes the
// exported gauges, and hands the snapshots to the database writer.
package monitor
