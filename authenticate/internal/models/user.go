package models

import "time"

// Role is the single authority tag carried by a user.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// User is a registered account. ID is a UUIDv7 and Username is unique and
// case-sensitive.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Principal builds the request identity for u.
func (u *User) Principal() *Principal {
	return &Principal{
		UserID:      u.ID,
		Username:    u.Username,
		Role:        u.Role,
		Authorities: []string{string(u.Role)},
	}
}

// Principal is the authenticated identity attached to a request.
type Principal struct {
	UserID      string   `json:"id"`
	Username    string   `json:"username"`
	Role        Role     `json:"role"`
	Authorities []string `json:"authorities"`
}

// HasAuthority reports whether the principal was granted authority.
func (p *Principal) HasAuthority(authority string) bool {
	if p == nil {
		return false
	}
	for _, a := range p.Authorities {
		if a == authority {
			return true
		}
	}
	return false
}
