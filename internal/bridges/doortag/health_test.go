package doortag

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestHealthReporter_DefaultInterval(t *testing.T) {
	h := NewHealthReporter(HealthOptions{BridgeID: "b"})
	if h.opts.Interval != defaultHealthInterval {
		t.Errorf("interval = %v, want %v", h.opts.Interval, defaultHealthInterval)
	}
}

func TestHealthReporter_Statistics(t *testing.T) {
	pub := NewMockMQTTClient()
	h := NewHealthReporter(HealthOptions{BridgeID: "b", Version: "1.2.3", Publisher: pub})
	h.SetDeviceCount(3)

	h.RecordPoll(nil)
	h.RecordPoll(errors.New("provider down"))
	h.RecordStatePublished()

	if err := h.Announce(context.Background()); err != nil {
		t.Fatalf("Announce() error = %v", err)
	}

	pubs := pub.PublishedTo(HealthTopic())
	if len(pubs) != 1 || pubs[0].QoS != 1 || !pubs[0].Retained {
		t.Fatalf("health publishes = %+v", pubs)
	}
	msg := decodeHealth(t, pubs[0])
	if msg.Status != HealthDegraded || msg.Reason != "provider down" {
		t.Errorf("status = %s %q, want degraded provider down", msg.Status, msg.Reason)
	}
	if msg.DevicesManaged != 3 || msg.Version != "1.2.3" || msg.LastPoll == nil {
		t.Errorf("message = %+v", msg)
	}
	want := BridgeStatistics{Polls: 2, PollErrors: 1, StatesPublished: 1}
	if msg.Statistics == nil || *msg.Statistics != want {
		t.Errorf("statistics = %+v, want %+v", msg.Statistics, want)
	}
}

func TestHealthReporter_Status(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name       string
		connected  bool
		ctx        context.Context
		pollErr    error
		wantStatus HealthStatus
		wantReason string
	}{
		{"healthy", true, context.Background(), nil, HealthHealthy, ""},
		{"broker down", false, context.Background(), nil, HealthDegraded, reasonBrokerDown},
		{"check cancelled", true, cancelled, nil, HealthDegraded, reasonBrokerDown},
		{"poll failed", true, context.Background(), errors.New("status 503"), HealthDegraded, "status 503"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := NewMockMQTTClient()
			pub.SetConnected(tt.connected)
			h := NewHealthReporter(HealthOptions{BridgeID: "b", Publisher: pub})
			h.RecordPoll(tt.pollErr)

			status, reason := h.Status(tt.ctx)
			if status != tt.wantStatus || reason != tt.wantReason {
				t.Errorf("Status() = %s %q, want %s %q", status, reason, tt.wantStatus, tt.wantReason)
			}
		})
	}
}

func TestHealthReporter_NilPublisher(t *testing.T) {
	h := NewHealthReporter(HealthOptions{BridgeID: "b"})

	if err := h.Announce(context.Background()); err != nil {
		t.Errorf("Announce() error = %v, want nil", err)
	}
	if status, _ := h.Status(context.Background()); status != HealthDegraded {
		t.Errorf("Status() = %s, want degraded", status)
	}
}

func TestHealthReporter_StopAfterCancel(t *testing.T) {
	pub := NewMockMQTTClient()
	h := NewHealthReporter(HealthOptions{BridgeID: "b", Publisher: pub})

	ctx, cancel := context.WithCancel(context.Background())
	h.Start(ctx)
	cancel()
	h.Stop()
	h.Stop()

	pubs := pub.PublishedTo(HealthTopic())
	if len(pubs) != 1 || decodeHealth(t, pubs[0]).Status != HealthStopping {
		t.Errorf("health publishes = %d, want one stopping", len(pubs))
	}
}

func TestNewLWTMessage(t *testing.T) {
	body, err := json.Marshal(NewLWTMessage("netatmo-test", "1.2.3"))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var msg HealthMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if msg.Status != HealthOffline || msg.Reason != reasonUnexpectedDisconnect {
		t.Errorf("status = %s %q, want offline unexpected_disconnect", msg.Status, msg.Reason)
	}
	if msg.Bridge != "netatmo-test" || msg.Version != "1.2.3" || msg.Timestamp.IsZero() {
		t.Errorf("message = %+v", msg)
	}
}
