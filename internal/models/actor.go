package models

// Role is the platform role of an authenticated actor.
type Role string

const (
	RoleFarmer      Role = "farmer"
	RoleBuyer       Role = "buyer"
	RoleTransporter Role = "transporter"
	RoleCooperative Role = "cooperative"
	RoleAdmin       Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleFarmer, RoleBuyer, RoleTransporter, RoleCooperative, RoleAdmin:
		return true
	}
	return false
}

// Actor is the caller identity supplied by the identity service.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

func (a Actor) Is(role Role) bool {
	return a.Role == role
}
