package model

// User roles.
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

// User is an account. The id is the username.
type User struct {
	ID           ID     `json:"id"`
	Username     string `json:"username"`
	Role         string `json:"role"`
	PasswordHash string `json:"passwordHash"`
}

func (u User) RecordID() string { return string(u.ID) }

// WithRecordID is a no-op for users whose id is already set from the
// username.
func (u User) WithRecordID(id string) User {
	if u.ID == "" {
		u.ID = ID(u.Username)
	}
	if u.ID == "" {
		u.ID = ID(id)
	}
	return u
}

func (u User) Clone() User { return u }

// UserLess orders users by username.
func UserLess(a, b User) bool { return a.Username < b.Username }

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleEditor, RoleViewer:
		return true
	}
	return false
}
