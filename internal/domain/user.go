package domain

// User is the joined auth and profile view of one identity.
type User struct {
	Username     string  `json:"username"`
	Name         string  `json:"name"`
	Organization string  `json:"organization"`
	Email        string  `json:"email"`
	Phone        string  `json:"phone"`
	Address      string  `json:"address"`
	Role         Role    `json:"role"`
	LocationID   *string `json:"locationId,omitempty"`
}

type Credentials struct {
	Username     string
	PasswordHash string
	Role         Role
}

// SessionUser is the identity snapshot copied into a session at login. It is
// not refreshed when the profile changes during the session.
type SessionUser struct {
	Username     string `json:"username"`
	Name         string `json:"name"`
	Organization string `json:"organization"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	Role         Role   `json:"role"`
}

func NewSessionUser(u User) SessionUser {
	return SessionUser{
		Username:     u.Username,
		Name:         u.Name,
		Organization: u.Organization,
		Email:        u.Email,
		Phone:        u.Phone,
		Role:         u.Role,
	}
}
