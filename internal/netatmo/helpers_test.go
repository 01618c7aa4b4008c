package netatmo

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testHomeID is the home id used by the fake provider fixtures.
const testHomeID = "home-1"

// baseTime is the fixed wall clock used across tests.
var baseTime = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

const homesDataFixture = `{
  "body": {
    "homes": [{
      "id": "home-1",
      "name": "Home",
      "modules": [
        {"id": "A", "type": "NACamDoorTag", "name": "Front"},
        {"id": "B", "type": "NACamDoorTag", "name": "Back"},
        {"id": "C", "type": "NACamera", "name": "Hall Camera"}
      ]
    }]
  },
  "status": "ok"
}`

const homeStatusFixture = `{
  "body": {
    "home": {
      "id": "home-1",
      "modules": [
        {"id": "A", "type": "NACamDoorTag", "status": "closed"},
        {"id": "B", "type": "NACamDoorTag", "status": "open"},
        {"id": "C", "type": "NACamera", "status": "on"}
      ]
    }
  },
  "status": "ok"
}`

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeProvider is an httptest server standing in for the Netatmo API and
// token endpoint.
type fakeProvider struct {
	server *httptest.Server

	mu            sync.Mutex
	tokenStatus   int
	tokenBody     string
	homesData     string
	homeStatus    string
	dataDelay     time.Duration
	lastTokenForm url.Values
	lastAuth      string

	tokenCalls  atomic.Int32
	homesCalls  atomic.Int32
	statusCalls atomic.Int32
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()

	p := &fakeProvider{
		tokenStatus: http.StatusOK,
		tokenBody:   `{"access_token":"new-access","refresh_token":"new-refresh","expires_in":10800,"token_type":"bearer"}`,
		homesData:   homesDataFixture,
		homeStatus:  homeStatusFixture,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		p.tokenCalls.Add(1)
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		p.mu.Lock()
		p.lastTokenForm = r.PostForm
		status, body := p.tokenStatus, p.tokenBody
		p.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	})
	mux.HandleFunc("/api/homesdata", func(w http.ResponseWriter, r *http.Request) {
		p.homesCalls.Add(1)
		p.serveData(w, r, func() string { return p.homesData })
	})
	mux.HandleFunc("/api/homestatus", func(w http.ResponseWriter, r *http.Request) {
		p.statusCalls.Add(1)
		p.serveData(w, r, func() string { return p.homeStatus })
	})

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakeProvider) serveData(w http.ResponseWriter, r *http.Request, body func() string) {
	p.mu.Lock()
	p.lastAuth = r.Header.Get("Authorization")
	delay := p.dataDelay
	payload := body()
	p.mu.Unlock()

	if r.URL.Query().Get("home_id") != testHomeID {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"code":21,"message":"Invalid home_id"}}`)
		return
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, payload)
}

func (p *fakeProvider) set(fn func(p *fakeProvider)) {
	p.mu.Lock()
	fn(p)
	p.mu.Unlock()
}

func (p *fakeProvider) tokenURL() string {
	return p.server.URL + "/oauth2/token"
}

// validCredential returns a credential that is valid at baseTime.
func validCredential() Credential {
	return Credential{
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		IssuedAt:     baseTime.Add(-time.Hour),
		ExpiresIn:    3 * time.Hour,
	}
}

// expiredCredential returns a credential that expired before baseTime.
func expiredCredential() Credential {
	c := validCredential()
	c.IssuedAt = baseTime.Add(-4 * time.Hour)
	return c
}

// writeCredential persists cred in a temp dir and returns its store.
func writeCredential(t *testing.T, cred Credential) *CredentialStore {
	t.Helper()
	store := NewCredentialStore(filepath.Join(t.TempDir(), "netatmo-auth.json"))
	if err := store.Save(cred); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	return store
}

// testRig wires a full cache against a fake provider.
type testRig struct {
	provider *fakeProvider
	clock    *fakeClock
	store    *CredentialStore
	auth     *Authenticator
	cache    *StatusCache
	logger   *recordingLogger
}

func newTestRig(t *testing.T, cred Credential) *testRig {
	t.Helper()

	p := newFakeProvider(t)
	clock := newFakeClock(baseTime)
	store := writeCredential(t, cred)
	logger := &recordingLogger{}

	auth, err := NewAuthenticator(AuthenticatorOptions{
		Store:      store,
		TokenURL:   p.tokenURL(),
		HTTPClient: p.server.Client(),
		Now:        clock.Now,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("NewAuthenticator() error = %v", err)
	}

	api := NewAPIClient(p.server.URL, p.server.Client(), auth)
	cache, err := NewStatusCache(StatusCacheOptions{
		HomeID:  testHomeID,
		Auth:    auth,
		Catalog: NewHomesCatalog(api, logger),
		Fetcher: NewHomeStatusFetcher(api, logger),
		Now:     clock.Now,
		Logger:  logger,
	})
	if err != nil {
		t.Fatalf("NewStatusCache() error = %v", err)
	}

	return &testRig{
		provider: p,
		clock:    clock,
		store:    store,
		auth:     auth,
		cache:    cache,
		logger:   logger,
	}
}

// logEntry is one captured log call.
type logEntry struct {
	level string
	msg   string
	args  map[string]any
}

// recordingLogger captures log calls for assertions.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) record(level, msg string, args []any) {
	fields := make(map[string]any, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		if key, ok := args[i].(string); ok {
			fields[key] = args[i+1]
		}
	}
	l.mu.Lock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: fields})
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.record("debug", msg, args) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.record("info", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.record("error", msg, args) }

// warnings returns the captured warn entries.
func (l *recordingLogger) warnings() []logEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []logEntry
	for _, e := range l.entries {
		if e.level == "warn" {
			out = append(out, e)
		}
	}
	return out
}

// mustJSON marshals v or fails the test.
func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	return string(b)
}

// newTestServer starts an httptest server closed at test cleanup.
func newTestServer(t *testing.T, h http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}
