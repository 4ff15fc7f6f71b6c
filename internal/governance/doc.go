// Package governance provides the resilience primitives applied around model
// calls: retry with exponential backoff and a per-model circuit breaker.
//
// Which failures are retryable is decided by the caller from the structured
// error taxonomy; this package only supplies the mechanics.
package governance
