// Package gate maintains a latency-driven trade admission decision.
//
// A Gate consumes latency samples for one (mode, instrument) stream and
// keeps a tri-state decision: OK, WARN (advisory spike or sustained
// elevation), or BLOCKED (execution disabled). Transitions into and out of
// BLOCKED require a streak of consecutive qualifying samples, so a single
// slow or fast message never flips the state.
package gate
