// Package internal contains helpers that are private to courierAuth:
// device fingerprinting and secure random selection.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: flow orchestrators for refresh and second-factor confirmation
//   - rate: Redis-backed sign-in rate limiting
//   - sealer: subkey derivation, sealing and keyed hashing
//   - stores: Redis-backed pending-MFA ticket state
//
// # What this package must NOT do
//
//   - Export types that appear in the public courierAuth API.
//   - Be imported by any package outside the courierAuth module.
package internal
