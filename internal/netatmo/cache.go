package netatmo

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

// StatusTTL is how long a fetched status list is served without refreshing.
const StatusTTL = 59 * time.Second

// CredentialProvider returns a non-expired credential. *Authenticator satisfies it.
type CredentialProvider interface {
	EnsureValid(ctx context.Context) (Credential, error)
}

// CatalogLoader loads the door-tag catalog of a home. *HomesCatalog satisfies it.
type CatalogLoader interface {
	Load(ctx context.Context, homeID string) (*Catalog, error)
}

// StatusFetcher fetches live door-tag state. *HomeStatusFetcher satisfies it.
type StatusFetcher interface {
	Fetch(ctx context.Context, homeID string, catalog *Catalog) ([]DoorTagStatus, error)
}

// StatusCacheOptions holds the dependencies of a StatusCache.
type StatusCacheOptions struct {
	// HomeID is the provider home the cache serves. Required.
	HomeID string

	// Auth keeps the credential valid. Required.
	Auth CredentialProvider

	// Catalog loads the device names. Required.
	Catalog CatalogLoader

	// Fetcher loads the live state. Required.
	Fetcher StatusFetcher

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time

	// Logger is optional.
	Logger Logger
}

// cacheEntry is the cached payload and the instant it stops being served.
type cacheEntry struct {
	payload    []DoorTagStatus
	validUntil time.Time
}

// StatusCache is the single source of current door-tag status for one home.
//
// It serves the last fetched list for StatusTTL and refreshes it on the first
// Get after that. A refresh runs under a cache-wide lock covering the
// credential check, the catalog load, the status fetch and the entry
// replacement, so callers arriving mid-refresh wait and then receive the
// same refreshed list. Waiting honours the caller's context.
//
// Thread Safety: all methods are safe for concurrent use.
type StatusCache struct {
	homeID  string
	auth    CredentialProvider
	catalog CatalogLoader
	fetcher StatusFetcher
	now     func() time.Time
	logger  Logger

	// sem is a weight-1 semaphore used as a context-aware mutex.
	sem *semaphore.Weighted

	// entry is guarded by sem.
	entry *cacheEntry
}

// NewStatusCache creates a cache. Nothing is fetched until the first Get.
func NewStatusCache(opts StatusCacheOptions) (*StatusCache, error) {
	if opts.HomeID == "" {
		return nil, fmt.Errorf("%w: home id is required", ErrConfig)
	}
	if opts.Auth == nil || opts.Catalog == nil || opts.Fetcher == nil {
		return nil, fmt.Errorf("%w: authenticator, catalog and fetcher are required", ErrConfig)
	}

	c := &StatusCache{
		homeID:  opts.HomeID,
		auth:    opts.Auth,
		catalog: opts.Catalog,
		fetcher: opts.Fetcher,
		now:     opts.Now,
		logger:  loggerOrNop(opts.Logger),
		sem:     semaphore.NewWeighted(1),
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// HomeID returns the home this cache serves.
func (c *StatusCache) HomeID() string {
	return c.homeID
}

// Get returns the current door-tag status list.
//
// Within the TTL window it returns the stored list without network access.
// Otherwise it refreshes: credential check, catalog load, status fetch. A
// failed refresh leaves the previous entry in place and returns the error
// unchanged; stale data is never served in its place.
//
// The returned slice is shared with every other caller in the same window
// and must not be modified.
//
// Returns:
//   - []DoorTagStatus: current status list
//   - error: ErrTimeout if ctx ends while waiting, or the refresh error
func (c *StatusCache) Get(ctx context.Context) ([]DoorTagStatus, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: waiting for status refresh: %w", ErrTimeout, err)
	}
	defer c.sem.Release(1)

	now := c.now()
	if c.entry != nil && !now.After(c.entry.validUntil) {
		c.logger.Debug("serving cached status", "valid_until", c.entry.validUntil.UTC().Format(time.RFC3339))
		return c.entry.payload, nil
	}

	c.logger.Debug("status refresh required", "home_id", c.homeID)

	if _, err := c.auth.EnsureValid(ctx); err != nil {
		return nil, err
	}

	catalog, err := c.catalog.Load(ctx, c.homeID)
	if err != nil {
		return nil, err
	}

	payload, err := c.fetcher.Fetch(ctx, c.homeID, catalog)
	if err != nil {
		return nil, err
	}

	c.entry = &cacheEntry{
		payload:    payload,
		validUntil: c.now().Add(StatusTTL),
	}
	c.logger.Info("status refreshed",
		"home_id", c.homeID,
		"door_tags", len(payload),
		"catalog_size", catalog.Len(),
	)
	return payload, nil
}

// Invalidate drops the cached entry so the next Get refreshes.
//
// It waits for any in-flight refresh to finish.
func (c *StatusCache) Invalidate(ctx context.Context) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: waiting to invalidate status: %w", ErrTimeout, err)
	}
	c.entry = nil
	c.sem.Release(1)
	return nil
}
