// Package middleware adapts courierAuth.Engine checks to net/http handlers.
//
// # Chain
//
//   - [ClientContext] installs client IP and user agent.
//   - [ValidateToken] verifies the access token and device binding.
//   - [RequireAuth] requires a live session and loads the principal snapshot.
//   - [RestrictTo] is a pure role check.
//   - [RequireProtect] performs the protect-token double-submit check.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does not parse
// tokens or touch Redis itself; every decision is delegated to the Engine.
package middleware
