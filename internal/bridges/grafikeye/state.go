package grafikeye

import "strconv"

// Control unit bounds on a single link.
const (
	MinControlUnit ControlUnit = 1
	MaxControlUnit ControlUnit = 8

	// controlUnitCount is the fixed size of the handler table.
	controlUnitCount = int(MaxControlUnit)
)

// ControlUnit identifies one physical controller on the link (1..8).
type ControlUnit int

// Valid reports whether u is in 1..8.
func (u ControlUnit) Valid() bool {
	return u >= MinControlUnit && u <= MaxControlUnit
}

func (u ControlUnit) String() string {
	return strconv.Itoa(int(u))
}

// index returns the zero-based slot for u. Callers must check Valid first.
func (u ControlUnit) index() int {
	return int(u) - 1
}

// Scene is a lighting preset code as it appears on the wire.
// Equality is exact string match.
type Scene string

// ConnectionState is the controller's view of the link.
type ConnectionState int

// Connection states. Only the controller changes state.
const (
	StateDisconnected ConnectionState = iota
	StateAuthenticating
	StateReady
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// LoginResult classifies the login handshake outcome.
type LoginResult int

// Login outcomes.
const (
	LoginOK LoginResult = iota
	LoginIncorrectCredentials
	LoginConnectionInUse
)

func (r LoginResult) String() string {
	switch r {
	case LoginOK:
		return "ok"
	case LoginIncorrectCredentials:
		return "login incorrect"
	case LoginConnectionInUse:
		return "connection in use"
	default:
		return "unknown"
	}
}
