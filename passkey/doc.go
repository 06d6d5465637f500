// Package passkey runs WebAuthn registration and authentication ceremonies
// on top of go-webauthn.
//
// Challenges live in Redis for a fixed window and are consumed with GETDEL,
// so a captured ceremony response can be replayed at most zero times.
// Authentication additionally requires the authenticator signature counter
// to strictly increase; the increase is committed with a compare-and-set in
// the credential store.
package passkey
