package netatmo

import (
	"context"
	"encoding/json"
	"fmt"
)

// homeStatusPath is the live home status endpoint.
const homeStatusPath = "/api/homestatus"

// homeStatusBody is the "body" of a homestatus response.
type homeStatusBody struct {
	Home *struct {
		ID      string         `json:"id"`
		Modules []moduleStatus `json:"modules"`
	} `json:"home"`
}

// moduleStatus is one module of a homestatus response. Status is left
// untyped so a non-string value degrades to StateUnknown instead of failing
// the whole decode.
type moduleStatus struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Status any    `json:"status"`
}

// state maps the module's status field to a DoorState.
func (m moduleStatus) state() DoorState {
	s, ok := m.Status.(string)
	if !ok {
		return StateUnknown
	}
	return ParseDoorState(s)
}

// HomeStatusFetcher fetches the live state of door tags and joins it with
// the catalog names.
type HomeStatusFetcher struct {
	api    *APIClient
	logger Logger
}

// NewHomeStatusFetcher creates a status fetcher using api.
func NewHomeStatusFetcher(api *APIClient, logger Logger) *HomeStatusFetcher {
	return &HomeStatusFetcher{api: api, logger: loggerOrNop(logger)}
}

// Fetch returns one DoorTagStatus per door-tag module reported for homeID,
// in provider order.
//
// A module whose id is not in catalog is skipped. The skip is reported to
// the logger as an ErrUpstreamData under the "error" key; the rest of the
// fetch continues.
//
// Returns:
//   - []DoorTagStatus: a new, independent slice on every call
//   - error: ErrUpstreamData when the response has no home,
//     ErrAuthFailure, ErrNetwork or ErrTimeout from the request itself
func (f *HomeStatusFetcher) Fetch(ctx context.Context, homeID string, catalog *Catalog) ([]DoorTagStatus, error) {
	raw, err := f.api.getBody(ctx, homeStatusPath, homeID)
	if err != nil {
		return nil, fmt.Errorf("fetching home status: %w", err)
	}

	var body homeStatusBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("%w: decoding home status: %w", ErrUpstreamData, err)
	}
	if body.Home == nil {
		return nil, fmt.Errorf("%w: home status has no home", ErrUpstreamData)
	}

	statuses := make([]DoorTagStatus, 0, catalog.Len())
	for _, mod := range body.Home.Modules {
		if mod.Type != DoorTagModuleType {
			continue
		}

		entry, ok := catalog.Lookup(mod.ID)
		if !ok {
			f.logger.Warn("skipping door tag missing from catalog",
				"home_id", homeID,
				"module_id", mod.ID,
				"error", fmt.Errorf("%w: module %s is not in the homes catalog", ErrUpstreamData, mod.ID),
			)
			continue
		}

		statuses = append(statuses, DoorTagStatus{
			DeviceID: mod.ID,
			Name:     entry.Name,
			State:    mod.state(),
		})
	}

	return statuses, nil
}
