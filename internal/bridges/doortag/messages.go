package doortag

import (
	"time"

	"github.com/nerrad567/gray-logic-netatmo/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-netatmo/internal/netatmo"
)

// Protocol is the protocol segment of every topic this bridge uses.
const Protocol = "netatmo"

// Device type and capability announced in discovery.
const (
	DeviceTypeDoorSensor = "door_sensor"
	CapabilityContact    = "contact"
)

// StateMessage carries one door tag's contact state to Core.
// Published retained at QoS 1 on graylogic/state/netatmo/{unique_id}.
type StateMessage struct {
	// DeviceID is the sensor's unique id (its display name).
	DeviceID string `json:"device_id"`

	// Timestamp is when the bridge saw this state, in UTC.
	Timestamp time.Time `json:"timestamp"`

	// State holds "state" (open/closed/unknown), "is_on" and "device_class".
	State map[string]any `json:"state"`

	// Protocol is always "netatmo".
	Protocol string `json:"protocol"`

	// Address is the Netatmo module id, when known.
	Address string `json:"address,omitempty"`
}

// HealthStatus is the status field of a HealthMessage.
type HealthStatus string

// Health statuses, in the order a bridge normally passes through them.
const (
	HealthStarting HealthStatus = "starting"
	HealthHealthy  HealthStatus = "healthy"

	// HealthDegraded means the broker check or the latest poll failed.
	HealthDegraded HealthStatus = "degraded"
	HealthStopping HealthStatus = "stopping"

	// HealthOffline only ever reaches the topic as the last will, sent by
	// the broker when the bridge vanishes without a clean disconnect.
	HealthOffline HealthStatus = "offline"
)

// reasonUnexpectedDisconnect is the reason carried by the last will.
const reasonUnexpectedDisconnect = "unexpected_disconnect"

// HealthMessage is the retained report on graylogic/health/netatmo (QoS 1).
type HealthMessage struct {
	Bridge         string            `json:"bridge"`
	Timestamp      time.Time         `json:"timestamp"`
	Status         HealthStatus      `json:"status"`
	Version        string            `json:"version"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	DevicesManaged int               `json:"devices_managed"`
	Statistics     *BridgeStatistics `json:"statistics,omitempty"`

	// LastPoll is when the last poll finished, successful or not.
	LastPoll *time.Time `json:"last_poll,omitempty"`

	// Reason explains a degraded status, e.g. the last poll error.
	Reason string `json:"reason,omitempty"`
}

// BridgeStatistics are counters since process start.
type BridgeStatistics struct {
	Polls           uint64 `json:"polls"`
	PollErrors      uint64 `json:"poll_errors"`
	StatesPublished uint64 `json:"states_published"`
}

// RequestMessage arrives from Core on graylogic/request/netatmo/{request_id}.
type RequestMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	// Action is one of "refresh", "read_all", "read_state".
	Action string `json:"action"`

	// DeviceID selects the sensor for "read_state".
	DeviceID string `json:"device_id,omitempty"`
}

// ResponseMessage answers a RequestMessage on
// graylogic/response/netatmo/{request_id}, not retained.
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError says why a request failed.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Codes used in ResponseError.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeAuthFailure       = "AUTH_FAILURE"
	ErrCodeUnreachable       = "UPSTREAM_UNREACHABLE"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// DiscoveryMessage lists the door tags found at start-up, retained on
// graylogic/discovery/netatmo.
type DiscoveryMessage struct {
	Timestamp time.Time `json:"timestamp"`
	Bridge    string    `json:"bridge"`

	// HomeID is the Netatmo home the tags belong to.
	HomeID  string             `json:"home_id"`
	Devices []DiscoveredDevice `json:"devices"`
}

// DiscoveredDevice is one entry of DiscoveryMessage.Devices.
type DiscoveredDevice struct {
	Protocol      string   `json:"protocol"`
	Address       string   `json:"address"`
	UniqueID      string   `json:"unique_id"`
	Type          string   `json:"type"`
	DeviceClass   string   `json:"device_class"`
	Capabilities  []string `json:"capabilities"`
	SuggestedName string   `json:"suggested_name,omitempty"`
}

// NewStateMessage builds the state message for a sensor snapshot.
func NewStateMessage(snap netatmo.SensorSnapshot) StateMessage {
	return StateMessage{
		DeviceID:  snap.UniqueID,
		Timestamp: time.Now().UTC(),
		State: map[string]any{
			"state":        string(snap.State),
			"is_on":        snap.IsOn,
			"device_class": snap.DeviceClass,
		},
		Protocol: Protocol,
		Address:  snap.DeviceID,
	}
}

// NewDiscoveryMessage builds the discovery announcement for snaps in homeID.
func NewDiscoveryMessage(bridgeID, homeID string, snaps []netatmo.SensorSnapshot) DiscoveryMessage {
	devices := make([]DiscoveredDevice, 0, len(snaps))
	for _, s := range snaps {
		devices = append(devices, DiscoveredDevice{
			Protocol:      Protocol,
			Address:       s.DeviceID,
			UniqueID:      s.UniqueID,
			Type:          DeviceTypeDoorSensor,
			DeviceClass:   s.DeviceClass,
			Capabilities:  []string{CapabilityContact},
			SuggestedName: s.Name,
		})
	}
	return DiscoveryMessage{
		Timestamp: time.Now().UTC(),
		Bridge:    bridgeID,
		HomeID:    homeID,
		Devices:   devices,
	}
}

// NewLWTMessage builds the health report the broker publishes when the
// bridge's connection dies uncleanly. It is registered at connect time, so
// its timestamp is the connect time, not the moment of failure.
func NewLWTMessage(bridgeID, version string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Version:   version,
		Reason:    reasonUnexpectedDisconnect,
	}
}

// newResponse creates a successful response for req.
func newResponse(req RequestMessage, data map[string]any) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      data,
	}
}

// newErrorResponse creates a failed response for req.
func newErrorResponse(req RequestMessage, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   false,
		Error: &ResponseError{
			Code:    code,
			Message: message,
		},
	}
}

// StateTopic is where uniqueID's state is published, e.g.
// graylogic/state/netatmo/Front.
func StateTopic(uniqueID string) string {
	return mqtt.Topics{}.BridgeState(Protocol, uniqueID)
}

// HealthTopic is graylogic/health/netatmo.
func HealthTopic() string {
	return mqtt.Topics{}.BridgeHealth(Protocol)
}

// DiscoveryTopic is graylogic/discovery/netatmo.
func DiscoveryTopic() string {
	return mqtt.Topics{}.BridgeDiscovery(Protocol)
}

// RequestSubscribeTopic matches every request sent to this bridge.
func RequestSubscribeTopic() string {
	return mqtt.Topics{}.BridgeRequests(Protocol)
}

// ResponseTopic is where the answer to requestID goes.
func ResponseTopic(requestID string) string {
	return mqtt.Topics{}.BridgeResponse(Protocol, requestID)
}
