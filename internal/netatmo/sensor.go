package netatmo

import (
	"context"
	"sync"
)

// StatusSource returns the current door-tag status list. *StatusCache satisfies it.
type StatusSource interface {
	Get(ctx context.Context) ([]DoorTagStatus, error)
}

// DoorSensor is the read model of one door tag.
//
// Its name is both the display name and the unique id. The state starts as
// the snapshot the sensor was created with and changes only through Refresh.
//
// Thread Safety: all methods are safe for concurrent use.
type DoorSensor struct {
	source StatusSource
	name   string

	mu       sync.RWMutex
	deviceID string
	state    DoorState
}

// SensorSnapshot is a point-in-time copy of a DoorSensor for hosts.
type SensorSnapshot struct {
	Name        string    `json:"name"`
	UniqueID    string    `json:"unique_id"`
	DeviceID    string    `json:"device_id,omitempty"`
	DeviceClass string    `json:"device_class"`
	IsOn        bool      `json:"is_on"`
	State       DoorState `json:"state"`
}

// NewDoorSensor creates a sensor named name with an initial state.
func NewDoorSensor(source StatusSource, name string, initial DoorState) *DoorSensor {
	return &DoorSensor{
		source: source,
		name:   name,
		state:  initial,
	}
}

// DiscoverSensors creates one sensor per door tag in the current status list.
func DiscoverSensors(ctx context.Context, source StatusSource) ([]*DoorSensor, error) {
	statuses, err := source.Get(ctx)
	if err != nil {
		return nil, err
	}

	sensors := make([]*DoorSensor, 0, len(statuses))
	for _, st := range statuses {
		s := NewDoorSensor(source, st.Name, st.State)
		s.deviceID = st.DeviceID
		sensors = append(sensors, s)
	}
	return sensors, nil
}

// Name returns the display name.
func (s *DoorSensor) Name() string {
	return s.name
}

// UniqueID returns the host-facing unique id, which is the name.
func (s *DoorSensor) UniqueID() string {
	return s.name
}

// DeviceClass returns "door".
func (s *DoorSensor) DeviceClass() string {
	return DeviceClassDoor
}

// State returns the last known state.
func (s *DoorSensor) State() DoorState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsOn reports whether the door is open.
func (s *DoorSensor) IsOn() bool {
	return s.State().IsOn()
}

// Snapshot returns a copy of the sensor's host-facing fields.
func (s *DoorSensor) Snapshot() SensorSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SensorSnapshot{
		Name:        s.name,
		UniqueID:    s.name,
		DeviceID:    s.deviceID,
		DeviceClass: DeviceClassDoor,
		IsOn:        s.state.IsOn(),
		State:       s.state,
	}
}

// Refresh asks the status source for current state and updates the sensor.
//
// The entry whose name matches the sensor is used. If there is none, or it
// reports StateUnknown, the state is left unchanged and no error is returned.
// On a source error the state is also left unchanged and the error returned.
func (s *DoorSensor) Refresh(ctx context.Context) error {
	statuses, err := s.source.Get(ctx)
	if err != nil {
		return err
	}

	for _, st := range statuses {
		if st.Name != s.name {
			continue
		}
		s.mu.Lock()
		s.deviceID = st.DeviceID
		if st.State != StateUnknown {
			s.state = st.State
		}
		s.mu.Unlock()
		return nil
	}
	return nil
}
