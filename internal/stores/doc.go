// Package stores provides Redis-backed, short-lived record stores for the
// pending second-factor step of sign-in.
//
// # Design
//
// Each record is versioned, binary-encoded and written with a TTL. It also
// carries its own expiry, so a ticket never outlives its nominal window even
// if the Redis TTL drifts. RecordFailure uses WATCH/MULTI with retry on
// contention. Consume is a plain DEL whose result count tells concurrent
// callers apart.
//
// # What this package must NOT do
//
//   - Import courierAuth or any sibling internal package.
//   - Make authentication decisions; those belong to internal/flows.
package stores
