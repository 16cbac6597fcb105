package models

import (
	"strings"
)

// Role is the dashboard role of a user. Unknown roles are kept verbatim.
type Role string

const (
	RoleAdmin   Role = "admin"   // Full access including settings
	RoleLeader  Role = "leader"  // Team lead, sees every manager's products
	RoleManager Role = "manager" // Sees only products tagged with their allowed tags
)

// IsKnown returns true if the role is one the dashboard understands.
func (r Role) IsKnown() bool {
	switch r {
	case RoleAdmin, RoleLeader, RoleManager:
		return true
	default:
		return false
	}
}

// User is the identity record returned by GET /auth/me.
type User struct {
	ID          int64  `json:"id"`
	Email       string `json:"email"`
	Name        string `json:"name,omitempty"`
	Role        Role   `json:"role"`
	AllowedTags string `json:"allowed_tags,omitempty"` // Comma-separated manager tags
}

// DisplayName returns the name, falling back to the email address.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

// Tags splits AllowedTags into trimmed, non-empty tags.
func (u *User) Tags() []string {
	var tags []string
	for tag := range strings.SplitSeq(u.AllowedTags, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// Clone returns a copy of the user, nil safe.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	clone := *u
	return &clone
}
