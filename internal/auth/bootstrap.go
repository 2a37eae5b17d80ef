package auth

import (
	"retail-backend/internal/apperr"
	"retail-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// BootstrapGate guards the superadmin creation route. While no superadmin
// exists the request passes unauthenticated and is flagged as bootstrap;
// afterwards only an authenticated superadmin gets through.
//
// The count and the later insert are not atomic: two concurrent bootstrap
// requests can both see zero and both succeed.
func (m *Middleware) BootstrapGate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		count, err := m.users.CountByRole(c.UserContext(), models.RoleSuperAdmin)
		if err != nil {
			m.log.Error("superadmin count failed", append(requestFields(c), zap.Error(err))...)
			return apperr.Internal("bootstrap state could not be checked", err)
		}

		if count == 0 {
			m.rec.AuthzDecision("bootstrap", "bootstrap")
			m.log.Info("bootstrap request, no superadmin exists yet", requestFields(c)...)
			c.Locals(ctxBootstrapKey, true)
			return c.Next()
		}

		p, err := m.authenticate(c)
		if err != nil {
			m.rec.AuthzDecision("bootstrap", "unauthenticated")
			return err
		}
		if !p.IsSuperAdmin() {
			return m.deny(c, "bootstrap", p, apperr.New(apperr.CodeCannotCreateSuperAdmin, "only a superadmin can create a superadmin account"))
		}

		m.rec.AuthzDecision("bootstrap", "allow")
		setPrincipal(c, p)
		return c.Next()
	}
}
