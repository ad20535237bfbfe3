package models

// Role закрытое перечисление ролей пользователей.
type Role string

const (
	RoleUser       Role = "user"
	RoleStaffAdmin Role = "staff_admin"
	RoleSuperAdmin Role = "super_admin"
)

// ParseRole возвращает роль по строке из хранилища или токена.
// Неизвестное значение не дает никаких прав.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleUser, RoleStaffAdmin, RoleSuperAdmin:
		return Role(s), true
	default:
		return "", false
	}
}
