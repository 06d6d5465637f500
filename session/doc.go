// Package session provides the Redis-backed ephemeral session index: a
// per-principal sorted set of live access-token hashes scored by expiry,
// plus a cached principal snapshot.
//
// # Atomicity
//
// Every multi-step mutation (save, rotate, revoke-others) runs as a single Lua
// script so concurrent callers observe either the old or the new membership,
// never a mix. Rotation is a compare-and-swap on the old hash: exactly one of
// several concurrent rotations of the same hash succeeds.
//
// # Architecture boundaries
//
// This package owns the index and snapshot keys. It does NOT parse tokens,
// compute hashes, or touch the durable principal store; the Engine
// coordinates both stores.
//
// # What this package must NOT do
//
//   - Import courierAuth, jwt, or account (no upward imports).
//   - Store raw tokens; callers pass keyed hashes only.
package session
