// Package courierAuth is the credential and session lifecycle engine of the
// courier platform. One [Engine] serves every account kind (users, delivery
// agents, admins) through role-keyed principal stores.
//
// The engine issues a signed token triple per session (access, refresh and a
// protect token for double-submit checks), binds each token to the device
// that requested it, and tracks live sessions in a Redis index mirrored into
// the durable principal document. Second-factor sign-in goes through a sealed
// pending ticket; passkey sign-in goes through WebAuthn ceremonies.
//
// # Architecture boundaries
//
// courierAuth is the public surface: [Engine], [Builder], [Config] and the
// value types returned by engine operations. Flow ordering, key sealing, rate
// limiting and audit dispatch live under internal/. HTTP transport lives in
// the cookie, middleware and web packages, which depend on this package and
// never the other way round.
//
// # Consistency
//
// The Redis index is authoritative for whether a session is live. Every
// session mutation writes Redis first and then the durable store; a durable
// write that still fails after its retries is logged and reported as drift.
// Security reset and backup-code consumption are the exceptions and return
// the durable error.
//
// # Errors
//
// Operations return the sentinel errors declared in this package, possibly
// wrapped. [KindOf] maps any of them to a transport-neutral [Kind].
package courierAuth
