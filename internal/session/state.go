package session

import "github.com/electra-analytics/electra/internal/models"

// State is the authentication state of the process.
type State int

const (
	// Unknown is the initial state, before the persisted token was validated.
	Unknown State = iota
	// Authenticating means a login is in flight.
	Authenticating
	// Authenticated means the user and token were validated by the backend.
	Authenticated
	// Unauthenticated means there is no valid session.
	Unauthenticated
)

func (s State) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Unauthenticated:
		return "unauthenticated"
	default:
		return "invalid"
	}
}

// Snapshot is a consistent copy of the session.
type Snapshot struct {
	State State
	User  *models.User
}

// IsAuthenticated is true iff the state is Authenticated and a user is present.
func (s Snapshot) IsAuthenticated() bool {
	return s.State == Authenticated && s.User != nil
}
