// Package mqtt connects the Netatmo bridge to the Gray Logic broker.
//
// It wraps paho.mqtt.golang with:
//   - validation of topics, QoS and payload size before anything is sent
//   - subscriptions that survive paho's automatic reconnects
//   - an optional last will supplied by the caller
//   - panic recovery around message handlers
//
// # Topics
//
// Door tags share the broker with every other Gray Logic bridge, so a
// subscriber of graylogic/state/+/+ sees them next to KNX or DALI devices:
//
//	Netatmo cloud -> door-tag bridge -> broker -> Gray Logic core
//
// # Security
//
// Enable cfg.Broker.TLS for any broker that is not on the same host.
// Payloads are plain JSON inside the transport.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, &mqtt.Will{Topic: doortag.HealthTopic(), Payload: lwt})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Publish(doortag.StateTopic(id), body, 1, true)
package mqtt
