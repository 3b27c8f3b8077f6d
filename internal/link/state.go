package link

import "time"

// State is the lifecycle state of the reader link.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	// ShuttingDown is terminal. No connection attempt starts once entered.
	ShuttingDown
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case ShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// MarshalText lets State render by name in JSON and logs.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a point-in-time view of the link for status endpoints.
type Status struct {
	Reader       string    `json:"reader"`
	State        State     `json:"state"`
	Online       bool      `json:"online"`
	Since        time.Time `json:"since"`
	Attempts     int       `json:"attempts"`
	LastError    string    `json:"lastError,omitempty"`
	PendingRetry bool      `json:"pendingRetry"`
	TrackedUIDs  int       `json:"trackedUids"`
}
