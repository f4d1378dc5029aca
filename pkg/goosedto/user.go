package goosedto

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleSurvivor Role = "survivor"
	RoleNikita   Role = "nikita"
)

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

func (u *User) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
