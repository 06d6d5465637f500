package passkey

import "errors"

var (
	ErrChallengeNotFound = errors.New("passkey: challenge not found or already used")
	ErrBackend           = errors.New("passkey: challenge backend unavailable")
	ErrVerification      = errors.New("passkey: ceremony verification failed")
	ErrOriginMismatch    = errors.New("passkey: origin not allowed")
	ErrNoneRegistered    = errors.New("passkey: no passkeys registered")
	ErrUnknownCredential = errors.New("passkey: credential not registered for principal")
	ErrReplay            = errors.New("passkey: signature counter did not advance")
	ErrMalformedResponse = errors.New("passkey: malformed ceremony response")
	ErrAlreadyRegistered = errors.New("passkey: credential already registered")
)
