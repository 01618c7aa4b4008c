//go:build integration

package mqtt

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// Integration tests against a real broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func TestIntegration_ConnectAndClose(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "graylogic-netatmo-int-connect"

	client, err := Connect(cfg, nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
}

func TestIntegration_ConnectRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19998

	_, err := Connect(cfg, nil)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestIntegration_MessageRoundtrip(t *testing.T) {
	cfg := testConfig()
	requests := Topics{}.BridgeRequests("netatmo-int")

	cfg.Broker.ClientID = "graylogic-netatmo-int-pub"
	pubClient, err := Connect(cfg, nil)
	if err != nil {
		t.Fatalf("Connect() publisher error = %v", err)
	}
	defer pubClient.Close()

	cfg.Broker.ClientID = "graylogic-netatmo-int-sub"
	subClient, err := Connect(cfg, nil)
	if err != nil {
		t.Fatalf("Connect() subscriber error = %v", err)
	}
	defer subClient.Close()

	expected := `{"action":"refresh"}`
	received := make(chan string, 1)
	var once sync.Once

	err = subClient.Subscribe(requests, 1, func(_ string, p []byte) error {
		once.Do(func() { received <- string(p) })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if err := pubClient.Publish("graylogic/request/netatmo-int/req-1", []byte(expected), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-received:
		if msg != expected {
			t.Errorf("Received = %q, want %q", msg, expected)
		}
	case <-time.After(5 * time.Second):
		t.Error("Timeout waiting for message")
	}

	if err := subClient.Unsubscribe(requests); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if len(subClient.routes) != 0 {
		t.Errorf("routes = %d after Unsubscribe(), want 0", len(subClient.routes))
	}
}

// A clean Close discards the will, so the retained health topic keeps
// whatever the bridge itself last published.
func TestIntegration_CleanCloseSuppressesWill(t *testing.T) {
	cfg := testConfig()
	topic := Topics{}.BridgeHealth("netatmo-int-will")

	cfg.Broker.ClientID = "graylogic-netatmo-int-will"
	client, err := Connect(cfg, &Will{Topic: topic, Payload: []byte(`{"status":"offline"}`)})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := client.Publish(topic, []byte(`{"status":"stopping"}`), 1, true); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	client.Close()

	cfg.Broker.ClientID = "graylogic-netatmo-int-watch"
	watcher, err := Connect(cfg, nil)
	if err != nil {
		t.Fatalf("Connect() watcher error = %v", err)
	}
	defer watcher.Close()

	got := make(chan string, 1)
	var once sync.Once
	err = watcher.Subscribe(topic, 1, func(_ string, p []byte) error {
		once.Do(func() { got <- string(p) })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case body := <-got:
		if body != `{"status":"stopping"}` {
			t.Errorf("retained health = %s, want the bridge's own message", body)
		}
	case <-time.After(5 * time.Second):
		t.Error("Timeout waiting for retained health")
	}
}
