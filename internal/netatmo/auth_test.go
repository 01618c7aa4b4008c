package netatmo

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"testing"
	"time"
)

func newTestAuthenticator(t *testing.T, p *fakeProvider, clock *fakeClock, cred Credential) (*Authenticator, *CredentialStore) {
	t.Helper()
	store := writeCredential(t, cred)
	auth, err := NewAuthenticator(AuthenticatorOptions{
		Store:      store,
		TokenURL:   p.tokenURL(),
		HTTPClient: p.server.Client(),
		Now:        clock.Now,
	})
	if err != nil {
		t.Fatalf("NewAuthenticator() error = %v", err)
	}
	return auth, store
}

func TestNewAuthenticator_RequiresStore(t *testing.T) {
	_, err := NewAuthenticator(AuthenticatorOptions{})
	if !errors.Is(err, ErrConfig) {
		t.Errorf("NewAuthenticator() error = %v, want ErrConfig", err)
	}
}

func TestEnsureValid_NotExpiredSkipsNetwork(t *testing.T) {
	p := newFakeProvider(t)
	clock := newFakeClock(baseTime)
	auth, _ := newTestAuthenticator(t, p, clock, validCredential())

	cred, err := auth.EnsureValid(context.Background())
	if err != nil {
		t.Fatalf("EnsureValid() error = %v", err)
	}
	if cred.AccessToken != "old-access" {
		t.Errorf("AccessToken = %q, want %q", cred.AccessToken, "old-access")
	}
	if n := p.tokenCalls.Load(); n != 0 {
		t.Errorf("token calls = %d, want 0", n)
	}
}

func TestEnsureValid_ExpiryBoundary(t *testing.T) {
	p := newFakeProvider(t)
	cred := validCredential()
	clock := newFakeClock(cred.ExpiresAt())
	auth, _ := newTestAuthenticator(t, p, clock, cred)

	if _, err := auth.EnsureValid(context.Background()); err != nil {
		t.Fatalf("EnsureValid() at expiry error = %v", err)
	}
	if n := p.tokenCalls.Load(); n != 0 {
		t.Fatalf("token calls at expiry = %d, want 0", n)
	}

	clock.Advance(time.Millisecond)
	if _, err := auth.EnsureValid(context.Background()); err != nil {
		t.Fatalf("EnsureValid() after expiry error = %v", err)
	}
	if n := p.tokenCalls.Load(); n != 1 {
		t.Errorf("token calls after expiry = %d, want 1", n)
	}
}

func TestEnsureValid_RefreshesAndPersists(t *testing.T) {
	p := newFakeProvider(t)
	clock := newFakeClock(baseTime)
	auth, store := newTestAuthenticator(t, p, clock, expiredCredential())

	cred, err := auth.EnsureValid(context.Background())
	if err != nil {
		t.Fatalf("EnsureValid() error = %v", err)
	}

	if n := p.tokenCalls.Load(); n != 1 {
		t.Errorf("token calls = %d, want 1", n)
	}
	if cred.AccessToken != "new-access" {
		t.Errorf("AccessToken = %q, want %q", cred.AccessToken, "new-access")
	}
	if cred.RefreshToken != "new-refresh" {
		t.Errorf("RefreshToken = %q, want %q", cred.RefreshToken, "new-refresh")
	}
	if !cred.IssuedAt.Equal(baseTime) {
		t.Errorf("IssuedAt = %v, want %v", cred.IssuedAt, baseTime)
	}
	if cred.ExpiresIn != 10800*time.Second {
		t.Errorf("ExpiresIn = %v, want %v", cred.ExpiresIn, 10800*time.Second)
	}
	if cred.Expired(clock.Now()) {
		t.Error("refreshed credential is already expired")
	}
	if got := auth.BearerToken(); got != "Bearer new-access" {
		t.Errorf("BearerToken() = %q, want %q", got, "Bearer new-access")
	}

	p.mu.Lock()
	form := p.lastTokenForm
	p.mu.Unlock()
	wantForm := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": "old-refresh",
		"client_id":     "client-id",
		"client_secret": "client-secret",
	}
	for key, want := range wantForm {
		if got := form.Get(key); got != want {
			t.Errorf("form %s = %q, want %q", key, got, want)
		}
	}

	persisted, err := store.Load()
	if err != nil {
		t.Fatalf("Load() after refresh error = %v", err)
	}
	if persisted.AccessToken != "new-access" || persisted.RefreshToken != "new-refresh" {
		t.Errorf("persisted tokens = %q/%q, want new-access/new-refresh", persisted.AccessToken, persisted.RefreshToken)
	}
	if persisted.ClientID != "client-id" || persisted.ClientSecret != "client-secret" {
		t.Errorf("persisted client = %q/%q, want client-id/client-secret", persisted.ClientID, persisted.ClientSecret)
	}
	if !persisted.IssuedAt.Equal(baseTime) {
		t.Errorf("persisted IssuedAt = %v, want %v", persisted.IssuedAt, baseTime)
	}
}

func TestEnsureValid_RejectedRefresh(t *testing.T) {
	p := newFakeProvider(t)
	p.set(func(p *fakeProvider) {
		p.tokenStatus = http.StatusUnauthorized
		p.tokenBody = `{"error":"invalid_grant"}`
	})
	clock := newFakeClock(baseTime)
	auth, store := newTestAuthenticator(t, p, clock, expiredCredential())

	before, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	_, err = auth.EnsureValid(context.Background())
	if !errors.Is(err, ErrAuthFailure) {
		t.Fatalf("EnsureValid() error = %v, want ErrAuthFailure", err)
	}

	if got := auth.Credential(); got.AccessToken != "old-access" || got.RefreshToken != "old-refresh" {
		t.Errorf("credential = %q/%q, want unchanged old-access/old-refresh", got.AccessToken, got.RefreshToken)
	}

	after, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Errorf("credential file changed after rejected refresh:\nbefore %s\nafter  %s", before, after)
	}
}

func TestEnsureValid_MissingExpiresIn(t *testing.T) {
	p := newFakeProvider(t)
	p.set(func(p *fakeProvider) {
		p.tokenBody = `{"access_token":"new-access","refresh_token":"new-refresh"}`
	})
	clock := newFakeClock(baseTime)
	auth, _ := newTestAuthenticator(t, p, clock, expiredCredential())

	_, err := auth.EnsureValid(context.Background())
	if !errors.Is(err, ErrUpstreamData) {
		t.Fatalf("EnsureValid() error = %v, want ErrUpstreamData", err)
	}
	if got := auth.Credential().AccessToken; got != "old-access" {
		t.Errorf("AccessToken = %q, want unchanged %q", got, "old-access")
	}
}

func TestEnsureValid_Unreachable(t *testing.T) {
	p := newFakeProvider(t)
	clock := newFakeClock(baseTime)
	auth, _ := newTestAuthenticator(t, p, clock, expiredCredential())
	p.server.Close()

	_, err := auth.EnsureValid(context.Background())
	if !errors.Is(err, ErrNetwork) {
		t.Errorf("EnsureValid() error = %v, want ErrNetwork", err)
	}
}

func TestEnsureValid_CancelledContext(t *testing.T) {
	p := newFakeProvider(t)
	clock := newFakeClock(baseTime)
	auth, _ := newTestAuthenticator(t, p, clock, expiredCredential())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := auth.EnsureValid(ctx)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("EnsureValid() error = %v, want ErrTimeout", err)
	}
}
