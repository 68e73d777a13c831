package models

// Roles carried in access tokens.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// User represents an authenticated customer or back-office operator.
type User struct {
	BaseModel
	Name         string `json:"name"`
	Email        string `gorm:"uniqueIndex" json:"email"`
	Phone        string `json:"phone"`
	PasswordHash string `json:"-"`
	Role         string `gorm:"type:varchar(20);default:customer" json:"role"`
}

// IsAdmin reports whether the user may use back-office endpoints.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
