package domain

import "time"

const (
	RoleAdmin  = "admin"
	RoleClient = "client"
)

// Profile is the application-side record of an identity-provider user. The
// admin flag is derived from it, never from token claims alone.
type Profile struct {
	UserID    string    `json:"id"`
	Email     string    `json:"email,omitempty"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsAdmin reports whether the profile carries the admin role.
func (p *Profile) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}
