package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshSession is a server-side refresh credential.
// The session ID is the only value stored in the refresh cookie, everything else lives server-side.
type RefreshSession struct {
	SessionID uuid.UUID // UUIDv7 - this is the only value stored in the cookie
	UserID    int64     // Who is logged in

	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastUsedAt time.Time

	// Optional audit metadata
	UserAgent string
	IPAddress string
}

// IsExpired returns true if the session has expired.
func (s *RefreshSession) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}
