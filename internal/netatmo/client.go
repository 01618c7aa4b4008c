package netatmo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// DefaultAPIURL is the Netatmo API base URL.
const DefaultAPIURL = "https://api.netatmo.com"

// maxResponseSize caps how much of a response body is read (4MB).
const maxResponseSize = 4 << 20

// BearerSource provides the Authorization header value for API requests.
// *Authenticator satisfies it.
type BearerSource interface {
	BearerToken() string
}

// APIClient performs authenticated GET requests against the Netatmo API
// and decodes the provider's response envelope.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
	bearer     BearerSource
}

// NewAPIClient creates a client for baseURL (DefaultAPIURL when empty).
// A nil httpClient gets a client with a 30s timeout.
func NewAPIClient(baseURL string, httpClient *http.Client, bearer BearerSource) *APIClient {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &APIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		bearer:     bearer,
	}
}

// apiEnvelope is the outer shape shared by every Netatmo API response.
type apiEnvelope struct {
	Body   json.RawMessage `json:"body"`
	Status string          `json:"status"`
	Error  *apiError       `json:"error"`
}

// apiError is the provider's error object.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// getBody issues GET {baseURL}{path}?home_id={homeID} and returns the raw
// "body" member of the response.
func (c *APIClient) getBody(ctx context.Context, path, homeID string) (json.RawMessage, error) {
	endpoint := c.baseURL + path + "?" + url.Values{"home_id": {homeID}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.bearer != nil {
		req.Header.Set("Authorization", c.bearer.BearerToken())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: GET %s: %w", ErrTimeout, path, ctx.Err())
		}
		return nil, fmt.Errorf("%w: GET %s: %w", ErrNetwork, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: reading %s: %w", ErrTimeout, path, ctx.Err())
		}
		return nil, fmt.Errorf("%w: reading %s: %w", ErrNetwork, path, err)
	}

	var env apiEnvelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode != http.StatusOK {
		detail := strings.TrimSpace(string(raw))
		if decodeErr == nil && env.Error != nil {
			detail = fmt.Sprintf("code %d: %s", env.Error.Code, env.Error.Message)
		}
		kind := ErrUpstreamData
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			kind = ErrAuthFailure
		}
		return nil, fmt.Errorf("%w: GET %s returned status %d (%s)", kind, path, resp.StatusCode, detail)
	}

	if decodeErr != nil {
		return nil, fmt.Errorf("%w: decoding %s response: %w", ErrUpstreamData, path, decodeErr)
	}
	if len(env.Body) == 0 || string(env.Body) == "null" {
		return nil, fmt.Errorf("%w: %s response has no body", ErrUpstreamData, path)
	}
	return env.Body, nil
}

// isTransportError reports whether err came from the HTTP transport rather
// than from a response.
func isTransportError(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
