// Package authz сопоставляет роли пользователей с разрешенными действиями.
package authz

import (
	"errors"

	"github.com/magabrotheeeer/travel-planner/internal/models"
)

// ErrForbidden роль не дает права на действие.
var ErrForbidden = errors.New("forbidden")

// Capability действие, доступ к которому проверяется.
type Capability string

const (
	GenerateContent   Capability = "generate_content"
	ViewOwnUsage      Capability = "view_own_usage"
	PurchaseVideo     Capability = "purchase_video"
	ViewAnyJob        Capability = "view_any_job"
	RunReconciliation Capability = "run_reconciliation"
	ManageRoles       Capability = "manage_roles"
)

var userCapabilities = []Capability{GenerateContent, ViewOwnUsage, PurchaseVideo}

var capabilities = map[models.Role]map[Capability]bool{
	models.RoleUser:       setOf(userCapabilities...),
	models.RoleStaffAdmin: setOf(append(userCapabilities, ViewAnyJob, RunReconciliation)...),
	models.RoleSuperAdmin: setOf(append(userCapabilities, ViewAnyJob, RunReconciliation, ManageRoles)...),
}

func setOf(caps ...Capability) map[Capability]bool {
	m := make(map[Capability]bool, len(caps))
	for _, c := range caps {
		m[c] = true
	}
	return m
}

// Principal аутентифицированный пользователь запроса.
type Principal struct {
	UserID   string
	Username string
	Role     models.Role
}

// Can сообщает, разрешено ли роли действие. Неизвестная роль не имеет прав.
func Can(role models.Role, c Capability) bool {
	return capabilities[role][c]
}
