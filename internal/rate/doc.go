// Package rate provides Redis-backed fixed-window counters that throttle
// sign-in and refresh attempts.
//
// # Window semantics
//
// INCR + conditional EXPIRE on first hit. Key prefixes:
//   - rsi:{role}:{email}  sign-in per account
//   - rsp:{role}:{ip}     sign-in per client IP
//   - rrf:{role}:{id}     refresh per principal
//
// Emails are expected to be normalized by the caller.
package rate
