package netatmo

import (
	"fmt"
	"net/http"
	"time"
)

// HomeOptions configures NewHome.
type HomeOptions struct {
	// HomeID is the provider home id. Required.
	HomeID string

	// AuthFile is the path of the credential file. Required.
	AuthFile string

	// APIURL overrides DefaultAPIURL.
	APIURL string

	// TokenURL overrides DefaultTokenURL.
	TokenURL string

	// RequestTimeout bounds each provider request. Zero means 30s.
	RequestTimeout time.Duration

	// Logger is optional.
	Logger Logger
}

// NewHome wires the credential store, authenticator, catalog, status
// fetcher and cache for one home.
//
// Returns:
//   - *StatusCache: the cache hosts read from
//   - error: ErrConfig if the credential file cannot be loaded
func NewHome(opts HomeOptions) (*StatusCache, error) {
	if opts.HomeID == "" {
		return nil, fmt.Errorf("%w: home id is required", ErrConfig)
	}
	if opts.AuthFile == "" {
		return nil, fmt.Errorf("%w: auth file is required", ErrConfig)
	}

	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	httpClient := &http.Client{Timeout: timeout}
	logger := loggerOrNop(opts.Logger)

	auth, err := NewAuthenticator(AuthenticatorOptions{
		Store:      NewCredentialStore(opts.AuthFile),
		TokenURL:   opts.TokenURL,
		HTTPClient: httpClient,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	api := NewAPIClient(opts.APIURL, httpClient, auth)

	return NewStatusCache(StatusCacheOptions{
		HomeID:  opts.HomeID,
		Auth:    auth,
		Catalog: NewHomesCatalog(api, logger),
		Fetcher: NewHomeStatusFetcher(api, logger),
		Logger:  logger,
	})
}
