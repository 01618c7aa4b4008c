package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-netatmo/internal/bridges/doortag"
)

const homesDataBody = `{"body":{"homes":[{"id":"home-1","modules":[
  {"id":"A","type":"NACamDoorTag","name":"Front"},
  {"id":"B","type":"NACamDoorTag","name":"Back"}]}]},"status":"ok"}`

const homeStatusBody = `{"body":{"home":{"id":"home-1","modules":[
  {"id":"A","type":"NACamDoorTag","status":"closed"},
  {"id":"B","type":"NACamDoorTag","status":"open"}]}},"status":"ok"}`

// newProvider serves the two data endpoints. The credential written by
// writeAuthFile is valid, so the token endpoint is never called.
func newProvider(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/homesdata", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, homesDataBody)
	})
	mux.HandleFunc("/api/homestatus", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, homeStatusBody)
	})
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, _ *http.Request) {
		t.Error("unexpected token refresh")
		w.WriteHeader(http.StatusBadRequest)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeAuthFile(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "netatmo-auth.json")
	body := fmt.Sprintf(`{"token":"access","refresh_token":"refresh","client_id":"id","client_secret":"secret","created":%d,"expires_in":10800}`,
		time.Now().Unix())
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write auth file: %v", err)
	}
	return path
}

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("GRAYLOGIC_NETATMO_CONFIG", path)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("GRAYLOGIC_NETATMO_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil || !strings.Contains(err.Error(), "loading config") {
		t.Fatalf("run() error = %v, want loading config error", err)
	}
}

// TestRun_MissingAuthFile verifies run fails before any network use when
// the credential file is absent.
func TestRun_MissingAuthFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, fmt.Sprintf(`
netatmo:
  home_id: home-1
  auth_file: %q
mqtt:
  enabled: false
api:
  enabled: false
logging:
  level: error
`, filepath.Join(dir, "missing.json")))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil || !strings.Contains(err.Error(), "initialising Netatmo home") {
		t.Fatalf("run() error = %v, want Netatmo init error", err)
	}
}

// TestRun_ServesDoorTags runs the whole service without MQTT against a
// fake provider and reads the door tags back through the API.
func TestRun_ServesDoorTags(t *testing.T) {
	dir := t.TempDir()
	provider := newProvider(t)
	port := freePort(t)

	writeConfig(t, dir, fmt.Sprintf(`
netatmo:
  home_id: home-1
  auth_file: %q
  api_url: %q
  token_url: %q
mqtt:
  enabled: false
api:
  enabled: true
  host: 127.0.0.1
  port: %d
logging:
  level: error
`, writeAuthFile(t, dir), provider.URL, provider.URL+"/oauth2/token", port))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/v1/doortags", port)
	var resp *http.Response
	var err error
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err = http.Get(url)
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err != nil {
		cancel()
		t.Fatalf("GET doortags: %v", err)
	}

	var body struct {
		DoorTags []struct {
			UniqueID string `json:"unique_id"`
			IsOn     bool   `json:"is_on"`
		} `json:"doortags"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if decodeErr != nil {
		t.Errorf("decode: %v", decodeErr)
	}

	want := map[string]bool{"Front": false, "Back": true}
	if len(body.DoorTags) != len(want) {
		t.Errorf("door tags = %+v, want 2", body.DoorTags)
	}
	for _, d := range body.DoorTags {
		if isOn, ok := want[d.UniqueID]; !ok || isOn != d.IsOn {
			t.Errorf("door tag %s is_on = %v", d.UniqueID, d.IsOn)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

func TestMQTTBridgeAdapter_Disabled(t *testing.T) {
	a := &mqttBridgeAdapter{}

	if err := a.Publish("graylogic/state/netatmo/Front", []byte("{}"), 1, true); err != nil {
		t.Errorf("Publish() error = %v", err)
	}
	if err := a.Subscribe("graylogic/request/netatmo/+", 1, func(string, []byte) {}); err != nil {
		t.Errorf("Subscribe() error = %v", err)
	}
	if err := a.Unsubscribe("graylogic/request/netatmo/+"); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if err := a.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v for disabled MQTT, want nil", err)
	}
}

func TestOfflineWill(t *testing.T) {
	will, err := offlineWill("netatmo-test")
	if err != nil {
		t.Fatalf("offlineWill() error = %v", err)
	}
	if will.Topic != doortag.HealthTopic() {
		t.Errorf("Topic = %q, want %q", will.Topic, doortag.HealthTopic())
	}

	var msg doortag.HealthMessage
	if err := json.Unmarshal(will.Payload, &msg); err != nil {
		t.Fatalf("will payload is not a health message: %v", err)
	}
	if msg.Status != doortag.HealthOffline || msg.Bridge != "netatmo-test" || msg.Version != version {
		t.Errorf("will = %+v", msg)
	}
}
