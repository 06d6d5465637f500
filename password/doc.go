// Package password hashes new credentials with Argon2id and verifies both
// Argon2id and legacy bcrypt hashes.
//
// New hashes use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Accounts imported from the previous platform carry bcrypt hashes
// ($2a$, $2b$, $2y$). They verify normally and always report NeedsUpgrade, so
// the caller can re-hash on the next successful sign-in.
//
// This package never stores passwords and never logs them.
package password
