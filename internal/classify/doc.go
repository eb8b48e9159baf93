// Package classify turns raw stream lines into typed messages.
//
// The classifier never fails the stream: undecodable lines are counted and
// dropped, and parseable payloads that do not match a known shape degrade to
// UNKNOWN with the raw payload preserved.
package classify
