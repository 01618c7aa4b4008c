// Package doortag bridges Netatmo door tags onto the Gray Logic MQTT bus.
//
// The bridge owns one DoorSensor per door tag found at start-up. A poll loop
// refreshes them through the shared status cache and publishes a retained
// state message whenever a door opens or closes.
//
//	┌─────────────────┐          ┌─────────────────┐   HTTPS
//	│   Gray Logic    │   MQTT   │ Door-tag Bridge │◄────────► Netatmo cloud
//	│      Core       │◄────────►│   (this pkg)    │
//	└─────────────────┘          └─────────────────┘
//
// # Topics
//
//   - graylogic/state/netatmo/{unique_id}: StateMessage, QoS 1, retained
//   - graylogic/discovery/netatmo: DiscoveryMessage, retained
//   - graylogic/request/netatmo/{request_id}: RequestMessage from Core
//   - graylogic/response/netatmo/{request_id}: ResponseMessage to Core
//   - graylogic/health/netatmo: HealthMessage, retained
//
// # Requests
//
// Core may send the actions "refresh" (drop the cache and poll now),
// "read_all" and "read_state" (return the last known state without polling).
//
// # Thread Safety
//
// All exported methods are safe for concurrent use.
package doortag
