package netatmo

import "errors"

// Domain errors for the Netatmo core.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConfig is returned when the credential file or configuration is
	// missing, unreadable or malformed. It is fatal at startup and never retried.
	ErrConfig = errors.New("netatmo: configuration error")

	// ErrAuthFailure is returned when the token endpoint rejects a refresh
	// or the API rejects the bearer token.
	ErrAuthFailure = errors.New("netatmo: authentication failed")

	// ErrUpstreamData is returned when an API response does not have the
	// expected shape (missing body, unknown module id, undecodable JSON).
	ErrUpstreamData = errors.New("netatmo: unexpected upstream data")

	// ErrNetwork is returned for transport-level failures.
	ErrNetwork = errors.New("netatmo: network error")

	// ErrTimeout is returned when the caller's context expires or is
	// cancelled before an operation completes.
	ErrTimeout = errors.New("netatmo: operation timed out")
)
