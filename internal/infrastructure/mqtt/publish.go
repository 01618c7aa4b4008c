package mqtt

import "fmt"

// maxPayloadSize is the largest body Publish accepts.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and blocks until the broker acknowledges it
// (QoS 1 and 2) or the write is flushed (QoS 0).
//
// Parameters:
//   - topic: concrete topic, no wildcards
//   - payload: at most 1 MiB
//   - qos: 0 to 2
//   - retained: the broker keeps the message for late subscribers
//
// Returns:
//   - error: ErrInvalidTopic, ErrInvalidQoS, ErrNotConnected, or
//     ErrPublishFailed for an oversized payload, a refusal or no ack in time
//
// Example:
//
//	err := client.Publish(doortag.StateTopic("70:ee:50:00:00:01"), body, 1, true)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkTopicQoS(topic, qos); err != nil {
		return err
	}
	if n := len(payload); n > maxPayloadSize {
		return fmt.Errorf("%w: %d byte payload over the %d byte limit", ErrPublishFailed, n, maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	return await(c.client.Publish(topic, qos, retained, payload), ackTimeout, ErrPublishFailed)
}
