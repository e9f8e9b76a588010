package domain

const (
	RolePharmacist   = "PHARMACIST"
	RolePharmacyTech = "PHARMACY_TECH"
	RoleNurse        = "NURSE"
)

type User struct {
	ID                 int64  `json:"id" db:"id"`
	Username           string `json:"username" db:"username"`
	PasswordHash       string `json:"-" db:"password_hash"`
	Role               string `json:"role" db:"role"`
	LocationID         int64  `json:"location_id" db:"location_id"`
	LocationName       string `json:"location_name,omitempty" db:"location_name"`
	LocationType       string `json:"location_type,omitempty" db:"location_type"`
	ParentHubID        *int64 `json:"parent_hub_id" db:"parent_hub_id"`
	CanDelegate        bool   `json:"can_delegate" db:"can_delegate"`
	IsSupervisor       bool   `json:"is_supervisor" db:"is_supervisor"`
	Email              string `json:"email" db:"email"`
	MobileNumber       string `json:"mobile_number" db:"mobile_number"`
	IsActive           bool   `json:"is_active" db:"is_active"`
	MustChangePassword bool   `json:"must_change_password" db:"must_change_password"`
	Version            int64  `json:"version" db:"version"`
	CreatedAt          string `json:"created_at,omitempty" db:"created_at"`
}

// ValidRole reports whether role is one of the known staff roles.
func ValidRole(role string) bool {
	switch role {
	case RolePharmacist, RolePharmacyTech, RoleNurse:
		return true
	}
	return false
}

// SeesAllStock reports whether the role's dashboard spans the whole network.
func SeesAllStock(role string) bool {
	return role == RolePharmacist || role == RolePharmacyTech
}
