// Package stream implements the broker stream transport and its reconnect
// supervisor.
//
// The transport:
//   - Holds one long-lived chunked HTTP response per connection
//   - Yields raw newline-delimited JSON lines with receive timestamps
//   - Surfaces failures as typed errors (auth, timeout, transient)
//
// The supervisor:
//   - Recreates the transport on failure with exponential backoff + jitter
//   - Publishes a lifecycle event before every backoff sleep
//   - Honors retry limits, a total session timeout, and idempotent shutdown
package stream
