package netatmo

import (
	"context"
	"encoding/json"
	"fmt"
)

// homesDataPath is the homes catalog endpoint.
const homesDataPath = "/api/homesdata"

// Catalog maps door-tag device ids to names for one catalog load.
// It preserves the order in which the provider listed the modules.
type Catalog struct {
	entries map[string]DeviceCatalogEntry
	order   []string
}

// NewCatalog builds a catalog from entries. Later duplicates of an id replace
// the earlier name but keep its position.
func NewCatalog(entries ...DeviceCatalogEntry) *Catalog {
	c := &Catalog{entries: make(map[string]DeviceCatalogEntry, len(entries))}
	for _, e := range entries {
		c.add(e)
	}
	return c
}

func (c *Catalog) add(e DeviceCatalogEntry) {
	if _, exists := c.entries[e.DeviceID]; !exists {
		c.order = append(c.order, e.DeviceID)
	}
	c.entries[e.DeviceID] = e
}

// Lookup returns the entry for a device id.
func (c *Catalog) Lookup(deviceID string) (DeviceCatalogEntry, bool) {
	if c == nil {
		return DeviceCatalogEntry{}, false
	}
	e, ok := c.entries[deviceID]
	return e, ok
}

// Len returns the number of door tags in the catalog.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.order)
}

// Entries returns the catalog entries in provider order.
func (c *Catalog) Entries() []DeviceCatalogEntry {
	if c == nil {
		return nil
	}
	out := make([]DeviceCatalogEntry, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.entries[id])
	}
	return out
}

// homesDataBody is the "body" of a homesdata response.
type homesDataBody struct {
	Homes []struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Modules []struct {
			ID   string `json:"id"`
			Type string `json:"type"`
			Name string `json:"name"`
		} `json:"modules"`
	} `json:"homes"`
}

// HomesCatalog loads the static door-tag catalog of a home.
//
// Every Load is one network request; caching is the StatusCache's job.
type HomesCatalog struct {
	api    *APIClient
	logger Logger
}

// NewHomesCatalog creates a catalog loader using api.
func NewHomesCatalog(api *APIClient, logger Logger) *HomesCatalog {
	return &HomesCatalog{api: api, logger: loggerOrNop(logger)}
}

// Load fetches the catalog for homeID, keeping only door-tag modules.
//
// The home whose id matches homeID is used; if none matches, the first home
// in the response is used.
//
// Returns:
//   - *Catalog: the door-tag catalog; empty (never nil) on error
//   - error: ErrUpstreamData when the response has no body or no homes,
//     ErrAuthFailure, ErrNetwork or ErrTimeout from the request itself
func (h *HomesCatalog) Load(ctx context.Context, homeID string) (*Catalog, error) {
	catalog := NewCatalog()

	raw, err := h.api.getBody(ctx, homesDataPath, homeID)
	if err != nil {
		return catalog, fmt.Errorf("loading homes catalog: %w", err)
	}

	var body homesDataBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return catalog, fmt.Errorf("%w: decoding homes catalog: %w", ErrUpstreamData, err)
	}
	if len(body.Homes) == 0 {
		return catalog, fmt.Errorf("%w: homes catalog lists no homes", ErrUpstreamData)
	}

	home := body.Homes[0]
	for _, candidate := range body.Homes {
		if candidate.ID == homeID {
			home = candidate
			break
		}
	}

	for _, mod := range home.Modules {
		if mod.Type != DoorTagModuleType {
			continue
		}
		catalog.add(DeviceCatalogEntry{DeviceID: mod.ID, Name: mod.Name})
	}

	h.logger.Debug("homes catalog loaded", "home_id", homeID, "door_tags", catalog.Len())
	return catalog, nil
}
