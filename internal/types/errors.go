package types

import "errors"

// Sentinel errors shared by repositories, services and handlers. Callers
// match with errors.Is; repositories wrap them with context via fmt.Errorf.
var (
	// ErrNotFound means the requested entity is absent. Expected and benign.
	ErrNotFound = errors.New("requested item not found")

	// ErrConflict means a uniqueness constraint was violated during a create.
	// Expected under concurrent first-logins; callers retry the read path.
	ErrConflict = errors.New("item already exists or conflict")

	// ErrMalformedInput means a provider payload was missing required fields
	// or no verified primary email could be resolved.
	ErrMalformedInput = errors.New("malformed provider response")

	// ErrStorageUnavailable means the underlying store was unreachable or
	// returned an unexpected error. Fatal for the current call.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidCredential means a token is absent, corrupt or carries a bad
	// signature.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrExpiredCredential means a token is well-formed but past its expiry.
	// Distinguished from ErrInvalidCredential so callers can trigger a
	// refresh flow specifically on expiry.
	ErrExpiredCredential = errors.New("expired credential")

	// ErrProviderUnavailable means the identity provider call itself failed.
	// Propagated without retry; retry policy belongs to the OAuth exchange.
	ErrProviderUnavailable = errors.New("identity provider unavailable")
)
