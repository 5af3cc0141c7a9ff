package models

// Role names are consumed by downstream modules for authorization checks.
// The auth subsystem only assigns them; it never interprets them beyond the
// registration allow-list.
type Role struct {
	BaseModel

	Name        string `gorm:"uniqueIndex;not null" json:"name"`
	Description string `json:"description"`
	IsSystem    bool   `gorm:"default:false" json:"is_system"`

	Users []User `gorm:"many2many:user_roles;" json:"-"`
}

// Well-known role names seeded at start-up.
const (
	RoleAdmin      = "admin"
	RoleStudent    = "student"
	RoleInstructor = "instructor"
	RoleEmployer   = "employer"
	RoleStaff      = "staff"
)

// RegistrationRoles is the allow-list accepted as a role hint during
// registration. The administrator role is never requestable; the first account
// in the system receives it implicitly.
var RegistrationRoles = []string{RoleStudent, RoleInstructor, RoleEmployer, RoleStaff}

// IsRegistrationRole reports whether the hint is an acceptable self-service role.
func IsRegistrationRole(name string) bool {
	for _, role := range RegistrationRoles {
		if role == name {
			return true
		}
	}
	return false
}
