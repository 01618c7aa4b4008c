// Package api implements the HTTP REST API and WebSocket server for the
// Netatmo door-tag bridge.
//
// This package provides:
//   - REST endpoints listing door tags and refreshing one on demand
//   - WebSocket hub pushing door-tag state changes, filtered per sensor
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// The API server reads from the door-tag bridge. The bridge hands every
// published state change to PublishStateChange, which sends it as a
// "doortag.state_changed" event to every WebSocket client watching that tag.
//
// Clients watch all door tags on connect and narrow the set with
//
//	{"type":"subscribe","id":"1","sensors":["Front"]}
//	{"type":"unsubscribe","id":"2","sensors":["Back"]}
//
// An empty list on subscribe restores all tags; on unsubscribe it mutes the
// client. A subscribe reply carries the current state of the named tags.
//
// # Error Mapping
//
// A refresh that times out against the provider answers 504. Rejected
// credentials, malformed provider data and network failures answer 502.
//
// # Security
//
// The API has no authentication and is meant for a trusted LAN, next to
// the MQTT broker. Tokens and client secrets are never returned.
package api
