package auth

import (
	"retail-backend/internal/apperr"
	"retail-backend/internal/models"

	"github.com/gofiber/fiber/v2"
)

const (
	ctxPrincipalKey   = "auth.principal"
	ctxBranchScopeKey = "auth.branch_scope"
	ctxBootstrapKey   = "auth.bootstrap"
	ctxTargetUserKey  = "auth.target_user"
)

// Principal is the authenticated caller. Role is the role currently stored
// for the user, not the one embedded in the token.
type Principal struct {
	UserID uint
	Name   string
	Email  string
	Role   models.Role
}

func (p Principal) IsSuperAdmin() bool {
	return p.Role == models.RoleSuperAdmin
}

func setPrincipal(c *fiber.Ctx, p Principal) {
	c.Locals(ctxPrincipalKey, p)
}

// PrincipalFrom returns the caller attached by Authenticate.
func PrincipalFrom(c *fiber.Ctx) (Principal, bool) {
	p, ok := c.Locals(ctxPrincipalKey).(Principal)
	return p, ok
}

// MustPrincipal is PrincipalFrom for handlers mounted behind Authenticate.
// A missing principal means the route was wired without authentication,
// which is answered as an unauthenticated request.
func MustPrincipal(c *fiber.Ctx) (Principal, error) {
	p, ok := PrincipalFrom(c)
	if !ok {
		return Principal{}, apperr.New(apperr.CodeTokenMissing, "authentication required")
	}
	return p, nil
}

// TargetUserFrom returns the user loaded by AuthorizeUserTarget.
func TargetUserFrom(c *fiber.Ctx) (*models.User, bool) {
	u, ok := c.Locals(ctxTargetUserKey).(*models.User)
	return u, ok && u != nil
}

// IsBootstrap reports whether BootstrapGate let the request through because
// no superadmin exists yet.
func IsBootstrap(c *fiber.Ctx) bool {
	b, _ := c.Locals(ctxBootstrapKey).(bool)
	return b
}
