package domain

import "errors"

// Error taxonomy for the vault core. Every failure surfaced by the domain or
// the use cases wraps exactly one of these sentinels so callers can classify
// it with errors.Is and react accordingly:
//
//   - ErrValidation: bad input shape, caller-fixable, no state change
//   - ErrFreshness: stale or unavailable price/valuation, transaction-fatal
//   - ErrInvariant: zero divisor, insolvent position, mismatched market
//     identity - the transaction must abort, never substitute a default
//   - ErrPolicy: loss tolerance exceeded or slippage bound missed -
//     retryable by the operator with adjusted parameters
//   - ErrState: wrong vault status or frozen role
//
// Nothing in this core recovers by substituting zero, clamping a negative
// value, or proceeding on stale data.
var (
	ErrValidation   = errors.New("invalid input")
	ErrFreshness    = errors.New("value not fresh")
	ErrInvariant    = errors.New("invariant violation")
	ErrPolicy       = errors.New("policy violation")
	ErrState        = errors.New("invalid state")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrSchema       = errors.New("unsupported schema version")
)
