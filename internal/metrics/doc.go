// Package metrics maintains per-stream latency statistics and exports
// Prometheus metrics for monitoring endpoints.
//
// StreamMetrics keeps a rolling window bounded by sample count. Windowed
// statistics (last/p95/mean) are computed over non-outlier samples only;
// outliers stay in the raw sample log and the outlier/backlog counters.
// Snapshot always presents one consistent point-in-time view.
package metrics
