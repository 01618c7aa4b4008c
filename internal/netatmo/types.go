package netatmo

// DoorTagModuleType is the provider type tag identifying door-tag modules.
const DoorTagModuleType = "NACamDoorTag"

// DeviceClassDoor is the device class door sensors expose to the host.
const DeviceClassDoor = "door"

// DoorState is the open/closed state of a door tag.
type DoorState string

const (
	// StateOpen means the tag reported anything other than "closed".
	StateOpen DoorState = "open"

	// StateClosed means the tag reported "closed".
	StateClosed DoorState = "closed"

	// StateUnknown means the tag reported no usable status.
	StateUnknown DoorState = "unknown"
)

// ParseDoorState maps a provider status literal to a DoorState.
//
// "closed" maps to StateClosed, any other non-empty literal to StateOpen and
// the empty string to StateUnknown.
func ParseDoorState(status string) DoorState {
	switch status {
	case "":
		return StateUnknown
	case "closed":
		return StateClosed
	default:
		return StateOpen
	}
}

// IsOn reports whether the state is on from a door sensor's point of view.
func (s DoorState) IsOn() bool {
	return s == StateOpen
}

// DeviceCatalogEntry is a door-tag module as listed in the home's catalog.
type DeviceCatalogEntry struct {
	DeviceID string `json:"id"`
	Name     string `json:"name"`
}

// DoorTagStatus is the live state of one door tag joined with its name.
type DoorTagStatus struct {
	DeviceID string    `json:"id"`
	Name     string    `json:"name"`
	State    DoorState `json:"state"`
}

// Logger is the logging interface used by this package.
// It is satisfied by *logging.Logger and *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// nopLogger discards everything.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// loggerOrNop returns l, or a logger that discards output when l is nil.
func loggerOrNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}
