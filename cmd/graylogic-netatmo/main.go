// Gray Logic Netatmo bridge
//
// This is the entry point of the Netatmo door-tag bridge. It polls the
// Netatmo cloud for the open/closed state of Smart Door and Window Sensors
// ("door tags") and publishes them to the Gray Logic MQTT bus and a small
// REST/WebSocket API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/nerrad567/gray-logic-netatmo/internal/api"
	"github.com/nerrad567/gray-logic-netatmo/internal/bridges/doortag"
	"github.com/nerrad567/gray-logic-netatmo/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-netatmo/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-netatmo/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-netatmo/internal/netatmo"
)

// Build metadata, overridden with
// -ldflags "-X main.version=1.0.0 -X main.commit=$(git rev-parse --short HEAD)".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "graylogic-netatmo:", err)
		os.Exit(1)
	}
}

// run wires the service together and blocks until ctx is cancelled.
//
// Parameters:
//   - ctx: cancelled by SIGINT or SIGTERM
//
// Returns:
//   - error: a start-up failure; nil after a clean shutdown
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("Gray Logic Netatmo bridge starting",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	path := config.PathFromEnv()
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config %s: %w", path, err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("config applied", "path", path, "site", cfg.Site.ID, "bridge_id", cfg.Bridge.ID, "level", cfg.Logging.Level)

	home, err := netatmo.NewHome(netatmo.HomeOptions{
		HomeID:         cfg.Netatmo.HomeID,
		AuthFile:       cfg.Netatmo.AuthFile,
		APIURL:         cfg.Netatmo.APIURL,
		TokenURL:       cfg.Netatmo.TokenURL,
		RequestTimeout: cfg.GetRequestTimeout(),
		Logger:         log.With("component", "netatmo"),
	})
	if err != nil {
		return fmt.Errorf("initialising Netatmo home: %w", err)
	}
	log.Info("Netatmo credential ready", "home_id", cfg.Netatmo.HomeID, "auth_file", cfg.Netatmo.AuthFile)

	broker, err := connectMQTT(cfg, log)
	if err != nil {
		return err
	}
	// Deferred first, so it runs last: the bridge's stopping report and the
	// request unsubscribe still need the connection.
	defer closeMQTT(broker, log)

	bridge, err := doortag.NewBridge(doortag.BridgeOptions{
		Config:     cfg,
		MQTTClient: &mqttBridgeAdapter{client: broker},
		Cache:      home,
		Logger:     log.With("component", "doortag"),
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating door-tag bridge: %w", err)
	}
	if broker != nil {
		broker.SetOnConnect(func() {
			log.Info("MQTT connection up")
			bridge.Reconnected()
		})
	}

	var server *api.Server
	if cfg.API.Enabled {
		if server, err = api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Logger:   log.With("component", "api"),
			DoorTags: bridge,
			Version:  version,
		}); err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		// Hooked before Start so the initial states reach the hub too.
		bridge.OnStateChange(server.PublishStateChange)
	}

	if err = bridge.Start(ctx); err != nil {
		bridge.Stop()
		return fmt.Errorf("starting door-tag bridge: %w", err)
	}
	defer bridge.Stop()

	if server == nil {
		log.Info("API server disabled")
	} else {
		if err = server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if err := server.Close(); err != nil {
				log.Error("API server close failed", "error", err)
			}
		}()
	}

	log.Info("ready", "sensors", len(bridge.Sensors()))
	<-ctx.Done()
	log.Info("shutting down: API server, then bridge, then MQTT")
	return nil
}

// connectMQTT connects to the broker with the bridge's offline report as the
// last will. It returns a nil client and nil error when MQTT is disabled.
func connectMQTT(cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	if !cfg.MQTT.Enabled {
		log.Info("MQTT disabled, door-tag state is served by the API only")
		return nil, nil
	}

	will, err := offlineWill(cfg.Bridge.ID)
	if err != nil {
		return nil, err
	}
	client, err := mqtt.Connect(cfg.MQTT, will)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}

	client.SetLogger(log.With("component", "mqtt"))
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT connection down", "error", err)
	})
	log.Info("MQTT connected",
		"broker", net.JoinHostPort(cfg.MQTT.Broker.Host, strconv.Itoa(cfg.MQTT.Broker.Port)),
		"client_id", client.ClientID(),
		"will_topic", will.Topic,
	)
	return client, nil
}

// offlineWill is the health message the broker publishes if this process
// disappears without disconnecting.
func offlineWill(bridgeID string) (*mqtt.Will, error) {
	body, err := json.Marshal(doortag.NewLWTMessage(bridgeID, version))
	if err != nil {
		return nil, fmt.Errorf("encoding last will: %w", err)
	}
	return &mqtt.Will{Topic: doortag.HealthTopic(), Payload: body}, nil
}

func closeMQTT(client *mqtt.Client, log *logging.Logger) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		log.Error("MQTT close failed", "error", err)
	}
}

// mqttBridgeAdapter fits *mqtt.Client to doortag.MQTTClient, whose handlers
// return nothing. A nil client stands for disabled MQTT: every call
// succeeds and nothing is sent, so health reflects only the provider.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

func (a *mqttBridgeAdapter) Publish(topic string, body []byte, qos byte, retained bool) error {
	if a.client == nil {
		return nil
	}
	return a.client.Publish(topic, body, qos, retained)
}

func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handle func(topic string, payload []byte)) error {
	if a.client == nil {
		return nil
	}
	return a.client.Subscribe(topic, qos, func(topic string, payload []byte) error {
		handle(topic, payload)
		return nil
	})
}

func (a *mqttBridgeAdapter) Unsubscribe(topic string) error {
	if a.client == nil {
		return nil
	}
	return a.client.Unsubscribe(topic)
}

func (a *mqttBridgeAdapter) HealthCheck(ctx context.Context) error {
	if a.client == nil {
		return nil
	}
	return a.client.HealthCheck(ctx)
}
