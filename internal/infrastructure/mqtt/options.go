package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-netatmo/internal/infrastructure/config"
)

const (
	// connectTimeout bounds the initial dial and each reconnect attempt.
	connectTimeout = 10 * time.Second

	// ackTimeout bounds the wait for PUBACK, SUBACK and UNSUBACK.
	ackTimeout = 5 * time.Second

	// disconnectQuiesceMillis lets in-flight work finish on Close.
	disconnectQuiesceMillis = 1000

	keepAlive = 60 * time.Second

	maxQoS = 2

	// willQoS is used for the last will; it is always retained.
	willQoS = 1

	// clientIDPrefix starts generated client ids.
	clientIDPrefix = "graylogic-netatmo-"
)

// Will is the message the broker publishes on our behalf when the connection
// dies without a clean DISCONNECT. It is sent at QoS 1, retained.
type Will struct {
	Topic   string
	Payload []byte
}

// apply registers w on opts. A nil Will, or one without a topic, leaves the
// options untouched.
func (w *Will) apply(opts *pahomqtt.ClientOptions) {
	if w == nil || w.Topic == "" {
		return
	}
	opts.SetBinaryWill(w.Topic, w.Payload, willQoS, true)
}

// resolveClientID returns the configured id. Without one it generates a
// random id, because two bridges sharing an id would keep disconnecting each
// other.
func resolveClientID(cfg config.MQTTConfig) string {
	if id := cfg.Broker.ClientID; id != "" {
		return id
	}
	return clientIDPrefix + uuid.NewString()[:8]
}

// buildClientOptions translates the broker section of the config into paho
// options.
//
// Parameters:
//   - cfg: broker host, port, TLS flag, credentials and reconnect delays
//   - clientID: id presented in CONNECT
//
// Returns:
//   - *pahomqtt.ClientOptions: clean session, auto-reconnect enabled, no will
func buildClientOptions(cfg config.MQTTConfig, clientID string) *pahomqtt.ClientOptions {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username).SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}

// await waits up to limit for token and wraps any failure in kind.
func await(token pahomqtt.Token, limit time.Duration, kind error) error {
	if !token.WaitTimeout(limit) {
		return fmt.Errorf("%w: no answer within %v", kind, limit)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", kind, err)
	}
	return nil
}
