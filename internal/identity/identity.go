// Package identity defines the normalized user and credential shapes shared
// by the credential store, the identity provider bridge, the session service,
// and the route guard. No other package may model users on raw backend
// payloads.
package identity

import "time"

// Role is the backend-assigned role of an authenticated user. The client
// never self-assigns a role; it only carries what the backend derived at
// sign-in or exchange time.
type Role string

const (
	RoleTenant Role = "tenant"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleTenant || r == RoleAdmin
}

// User is the normalized user record. All backend user shapes are mapped
// into this type by the session service before anything else sees them.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	AvatarURL string    `json:"avatar,omitempty"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// Equal reports whether two users describe the same session state.
func (u *User) Equal(other *User) bool {
	if u == nil || other == nil {
		return u == other
	}
	return u.ID == other.ID &&
		u.Name == other.Name &&
		u.Email == other.Email &&
		u.AvatarURL == other.AvatarURL &&
		u.Role == other.Role &&
		u.CreatedAt.Equal(other.CreatedAt)
}

// Credential is a provider-issued identity decoded into a stable internal
// shape. It is consumed exactly once to perform the backend credential
// exchange and is never persisted.
type Credential struct {
	ProviderID  string
	Email       string
	DisplayName string
	PictureURL  string

	// Raw is the provider's signed token, forwarded verbatim to the backend
	// exchange endpoint which performs the authoritative verification.
	Raw string
}
