package doortag

import "errors"

// Domain errors for the door-tag bridge package.
var (
	// ErrSensorNotFound is returned when a unique id matches no discovered
	// door tag.
	ErrSensorNotFound = errors.New("doortag: sensor not found")

	// ErrNotStarted is returned when an operation needs the discovered
	// sensor set but Start has not completed.
	ErrNotStarted = errors.New("doortag: bridge not started")

	// ErrDiscoveryFailed is returned by Start when the initial status fetch
	// fails and no sensors can be created.
	ErrDiscoveryFailed = errors.New("doortag: sensor discovery failed")
)
