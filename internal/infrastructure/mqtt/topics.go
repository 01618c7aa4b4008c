package mqtt

// Root is the first level of every Gray Logic topic.
const Root = "graylogic"

// Topics builds bridge topics of the form graylogic/{kind}/{protocol}[/{id}].
//
//	mqtt.Topics{}.BridgeState("netatmo", "70:ee:50:00:00:01")
//	// graylogic/state/netatmo/70:ee:50:00:00:01
type Topics struct{}

func (Topics) join(parts ...string) string {
	topic := Root
	for _, p := range parts {
		topic += "/" + p
	}
	return topic
}

// BridgeState is where a bridge publishes one device's state, retained.
func (t Topics) BridgeState(protocol, id string) string {
	return t.join("state", protocol, id)
}

// BridgeRequests matches every request addressed to a bridge.
func (t Topics) BridgeRequests(protocol string) string {
	return t.join("request", protocol, "+")
}

// BridgeResponse carries the answer to request requestID.
func (t Topics) BridgeResponse(protocol, requestID string) string {
	return t.join("response", protocol, requestID)
}

// BridgeHealth holds a bridge's retained health message.
func (t Topics) BridgeHealth(protocol string) string {
	return t.join("health", protocol)
}

// BridgeDiscovery holds a bridge's retained device list.
func (t Topics) BridgeDiscovery(protocol string) string {
	return t.join("discovery", protocol)
}
