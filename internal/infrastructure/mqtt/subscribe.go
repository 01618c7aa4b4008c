package mqtt

import "fmt"

// Subscribe routes messages on topic to handler and remembers the route so
// it is replayed after a reconnect. Subscribing again to the same topic
// replaces the handler.
//
// Parameters:
//   - topic: filter, + and # wildcards allowed
//   - qos: highest QoS the broker may deliver at (0 to 2)
//   - handler: called once per message on a paho goroutine
//
// Returns:
//   - error: ErrInvalidTopic, ErrInvalidQoS, ErrNotConnected, or
//     ErrSubscribeFailed for a nil handler or a refused SUBSCRIBE
//
// Example:
//
//	err := client.Subscribe(doortag.RequestSubscribeTopic(), 1, bridge.handleMQTTMessage)
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := checkTopicQoS(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, topic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	// Remember first so a reconnect racing the SUBACK still replays it.
	c.routesMu.Lock()
	c.routes[topic] = route{qos: qos, handler: handler}
	c.routesMu.Unlock()

	if err := await(c.client.Subscribe(topic, qos, c.wrapHandler(handler)), ackTimeout, ErrSubscribeFailed); err != nil {
		c.forget(topic)
		return err
	}
	return nil
}

// Unsubscribe drops the route for topic and tells the broker. Messages the
// broker already sent may still reach the old handler.
//
// Parameters:
//   - topic: exactly as passed to Subscribe
//
// Returns:
//   - error: ErrInvalidTopic, ErrNotConnected or ErrUnsubscribeFailed
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.forget(topic)
	return await(c.client.Unsubscribe(topic), ackTimeout, ErrUnsubscribeFailed)
}

func (c *Client) forget(topic string) {
	c.routesMu.Lock()
	delete(c.routes, topic)
	c.routesMu.Unlock()
}

// checkTopicQoS rejects an empty topic or a QoS above 2.
func checkTopicQoS(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}
