// Package flows contains the orchestrators behind the two multi-step Engine
// operations: refresh rotation and pending second-factor confirmation.
//
// Each flow function (RunRefresh, RunSecondFactor) accepts a typed dependency
// struct and returns a result carrying a failure kind, so the Engine maps
// kinds to sentinel errors, audit events and metrics in one place.
//
// # Architecture boundaries
//
// Flow functions coordinate the token manager, session index, ticket store and
// principal store. They do NOT own any of these resources; ownership stays with
// the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import courierAuth (to avoid import cycles).
//   - Perform I/O directly; all I/O is mediated through dependency funcs.
package flows
