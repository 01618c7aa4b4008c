package netatmo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTokenURL is the Netatmo OAuth2 token endpoint.
const DefaultTokenURL = "https://api.netatmo.com/oauth2/token"

// defaultHTTPTimeout bounds every request made to the provider.
const defaultHTTPTimeout = 30 * time.Second

// AuthenticatorOptions holds the dependencies of an Authenticator.
type AuthenticatorOptions struct {
	// Store is the credential file backing the authenticator. Required.
	Store *CredentialStore

	// TokenURL overrides DefaultTokenURL.
	TokenURL string

	// HTTPClient is used for token requests. Defaults to a client with a 30s timeout.
	HTTPClient *http.Client

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time

	// Logger is optional.
	Logger Logger
}

// Authenticator keeps the Netatmo credential valid.
//
// It loads the credential once at construction, refreshes it through the
// token endpoint when it has expired and persists every refreshed credential.
//
// Thread Safety: not safe for concurrent use. StatusCache serialises access.
type Authenticator struct {
	store      *CredentialStore
	cred       Credential
	tokenURL   string
	httpClient *http.Client
	now        func() time.Time
	logger     Logger
}

// NewAuthenticator loads the credential file and returns an authenticator.
//
// Returns:
//   - *Authenticator: ready for EnsureValid
//   - error: ErrConfig if the store is missing or the file cannot be loaded
func NewAuthenticator(opts AuthenticatorOptions) (*Authenticator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: credential store is required", ErrConfig)
	}

	cred, err := opts.Store.Load()
	if err != nil {
		return nil, err
	}

	a := &Authenticator{
		store:      opts.Store,
		cred:       cred,
		tokenURL:   opts.TokenURL,
		httpClient: opts.HTTPClient,
		now:        opts.Now,
		logger:     loggerOrNop(opts.Logger),
	}
	if a.tokenURL == "" {
		a.tokenURL = DefaultTokenURL
	}
	if a.httpClient == nil {
		a.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if a.now == nil {
		a.now = time.Now
	}

	a.logger.Info("credential loaded",
		"path", opts.Store.Path(),
		"expires_at", cred.ExpiresAt().UTC().Format(time.RFC3339),
	)
	return a, nil
}

// Credential returns a copy of the current in-memory credential.
func (a *Authenticator) Credential() Credential {
	return a.cred
}

// Expired reports whether the current access token has expired.
func (a *Authenticator) Expired() bool {
	return a.cred.Expired(a.now())
}

// BearerToken returns the Authorization header value for API requests.
func (a *Authenticator) BearerToken() string {
	return "Bearer " + a.cred.AccessToken
}

// EnsureValid returns a credential that is not expired at return time,
// refreshing it first if needed.
//
// A refresh is exactly one POST to the token endpoint. On success the new
// credential is persisted before returning. On failure the in-memory
// credential is left untouched and nothing is written.
//
// Returns:
//   - Credential: the valid credential
//   - error: ErrAuthFailure, ErrUpstreamData, ErrNetwork or ErrTimeout
func (a *Authenticator) EnsureValid(ctx context.Context) (Credential, error) {
	if !a.Expired() {
		return a.cred, nil
	}

	a.logger.Info("access token expired, refreshing",
		"expired_at", a.cred.ExpiresAt().UTC().Format(time.RFC3339),
	)
	if err := a.refresh(ctx); err != nil {
		return Credential{}, err
	}
	return a.cred, nil
}

// refresh performs the refresh_token grant and commits the result.
func (a *Authenticator) refresh(ctx context.Context) error {
	conf := &oauth2.Config{
		ClientID:     a.cred.ClientID,
		ClientSecret: a.cred.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  a.tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	// A token with only a refresh token is never valid, so the token source
	// goes straight to the refresh grant.
	reqCtx := context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	tok, err := conf.TokenSource(reqCtx, &oauth2.Token{RefreshToken: a.cred.RefreshToken}).Token()
	if err != nil {
		return a.classifyRefreshError(ctx, err)
	}

	expiresIn, ok := expiresInFromToken(tok)
	if !ok {
		return fmt.Errorf("%w: token response has no expires_in", ErrUpstreamData)
	}

	next := a.cred
	next.AccessToken = tok.AccessToken
	next.RefreshToken = tok.RefreshToken
	next.IssuedAt = time.UnixMilli(a.now().UnixMilli())
	next.ExpiresIn = expiresIn
	a.cred = next

	a.logger.Info("access token refreshed",
		"expires_at", next.ExpiresAt().UTC().Format(time.RFC3339),
	)

	if err := a.store.Save(next); err != nil {
		return fmt.Errorf("%w: persisting refreshed credential: %w", ErrConfig, err)
	}
	return nil
}

// classifyRefreshError maps a token source error onto the package sentinels.
func (a *Authenticator) classifyRefreshError(ctx context.Context, err error) error {
	var rErr *oauth2.RetrieveError
	switch {
	case errors.As(err, &rErr):
		status := 0
		if rErr.Response != nil {
			status = rErr.Response.StatusCode
		}
		a.logger.Error("token refresh rejected", "status", status, "error_code", rErr.ErrorCode)
		return fmt.Errorf("%w: token endpoint returned status %d: %w", ErrAuthFailure, status, err)
	case ctx.Err() != nil:
		return fmt.Errorf("%w: refreshing token: %w", ErrTimeout, ctx.Err())
	case isTransportError(err):
		return fmt.Errorf("%w: refreshing token: %w", ErrNetwork, err)
	default:
		return fmt.Errorf("%w: refreshing token: %w", ErrUpstreamData, err)
	}
}

// expiresInFromToken extracts the wire expires_in value from a token response.
func expiresInFromToken(tok *oauth2.Token) (time.Duration, bool) {
	if tok.ExpiresIn > 0 {
		return time.Duration(tok.ExpiresIn) * time.Second, true
	}
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return time.Duration(v * float64(time.Second)), true
	case int64:
		return time.Duration(v) * time.Second, true
	}
	return 0, false
}
