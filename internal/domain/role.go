package domain

import "fmt"

type Role string

const (
	RoleFarmer      Role = "farmer"
	RoleProcessor   Role = "processor"
	RoleDistributor Role = "distributor"
	RoleRetailer    Role = "retailer"
	RoleRegulator   Role = "regulator"
	RoleAdmin       Role = "admin"
)

var roles = []Role{
	RoleFarmer,
	RoleProcessor,
	RoleDistributor,
	RoleRetailer,
	RoleRegulator,
	RoleAdmin,
}

func ParseRole(s string) (Role, error) {
	for _, r := range roles {
		if string(r) == s {
			return r, nil
		}
	}
	return "", ValidationError{Message: fmt.Sprintf("invalid role: %s", s)}
}

func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

// Redirect is the frontend landing page for the role.
func (r Role) Redirect() string {
	return "/" + string(r) + "/dashboard"
}
