// Package netatmo reads Netatmo door-tag (NACamDoorTag) sensors for one home.
//
// The package is the core of the Gray Logic Netatmo bridge. It owns the OAuth2
// credential lifecycle and a short-lived status cache that coalesces concurrent
// readers into a single upstream fetch.
//
// # Architecture
//
//	DoorSensor.Refresh ─► StatusCache.Get ─┬─► Authenticator.EnsureValid  (token endpoint)
//	                                       ├─► HomesCatalog.Load           (/api/homesdata)
//	                                       └─► HomeStatusFetcher.Fetch     (/api/homestatus)
//
// The cache holds one entry for 59 seconds. While it is being refreshed,
// every other caller waits on the same lock and then receives the refreshed
// entry, so the provider sees at most one refresh per window regardless of how
// many sensors are polled.
//
// # Credentials
//
// The credential file is JSON:
//
//	{"token":"…","refresh_token":"…","client_id":"…","client_secret":"…",
//	 "created":1700000000.123,"expires_in":10800}
//
// It is read once at startup and rewritten after every successful refresh.
//
// # Errors
//
// Failures are reported with the sentinels ErrConfig, ErrAuthFailure,
// ErrUpstreamData, ErrNetwork and ErrTimeout. Nothing in this package retries;
// retry policy belongs to the caller.
//
// # Thread Safety
//
// StatusCache and DoorSensor are safe for concurrent use. Authenticator,
// HomesCatalog and HomeStatusFetcher are not; the cache serialises them.
package netatmo
