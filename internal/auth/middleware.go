package auth

import (
	"context"
	"errors"
	"strings"

	"retail-backend/internal/apperr"
	"retail-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// UserStore is the slice of the user repository the auth layer needs.
type UserStore interface {
	FindByID(ctx context.Context, id uint) (*models.User, error)
	CountByRole(ctx context.Context, role models.Role) (int64, error)
}

// PrivilegeChecker answers "does user X hold privilege Y".
type PrivilegeChecker interface {
	HasPrivilege(ctx context.Context, userID uint, codename string) (bool, error)
}

// BranchChecker answers "is user X assigned to branch Y".
type BranchChecker interface {
	IsAssigned(ctx context.Context, userID, branchID uint) (bool, error)
}

// Recorder receives authorization outcomes for metrics.
type Recorder interface {
	AuthzDecision(stage, outcome string)
	TokenVerification(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) AuthzDecision(string, string) {}
func (nopRecorder) TokenVerification(string)     {}

// Requirement is "caller's role is in Roles OR caller holds Privilege".
// A superadmin satisfies every requirement.
type Requirement struct {
	Roles     []models.Role
	Privilege string
}

// Require builds a Requirement from a privilege codename and the roles that
// pass without it.
func Require(privilege string, roles ...models.Role) Requirement {
	return Requirement{Roles: roles, Privilege: privilege}
}

type Middleware struct {
	tokens     *TokenService
	users      UserStore
	privileges PrivilegeChecker
	branches   BranchChecker
	log        *zap.Logger
	rec        Recorder
}

type MiddlewareConfig struct {
	Tokens     *TokenService
	Users      UserStore
	Privileges PrivilegeChecker
	Branches   BranchChecker
	Logger     *zap.Logger
	Recorder   Recorder
}

func NewMiddleware(cfg MiddlewareConfig) *Middleware {
	m := &Middleware{
		tokens:     cfg.Tokens,
		users:      cfg.Users,
		privileges: cfg.Privileges,
		branches:   cfg.Branches,
		log:        cfg.Logger,
		rec:        cfg.Recorder,
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	if m.rec == nil {
		m.rec = nopRecorder{}
	}
	return m
}

// Authenticate verifies the bearer token and attaches the caller.
func (m *Middleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := m.authenticate(c)
		if err != nil {
			return err
		}
		setPrincipal(c, p)
		return c.Next()
	}
}

func (m *Middleware) authenticate(c *fiber.Ctx) (Principal, error) {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		m.rec.TokenVerification("missing")
		return Principal{}, apperr.New(apperr.CodeTokenMissing, "authorization header is missing")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		m.rec.TokenVerification(TokenMalformed.String())
		return Principal{}, apperr.New(apperr.CodeTokenInvalid, "authorization header must be 'Bearer <token>'")
	}

	claims, err := m.tokens.Verify(strings.TrimSpace(parts[1]))
	if err != nil {
		return Principal{}, m.tokenError(c, err)
	}
	m.rec.TokenVerification("ok")

	userID, _ := claims.UserID()
	user, err := m.users.FindByID(c.UserContext(), userID)
	if err != nil {
		m.log.Error("session lookup failed", append(requestFields(c), zap.Uint("user_id", userID), zap.Error(err))...)
		return Principal{}, apperr.Internal("session could not be verified", err)
	}
	if user == nil {
		return Principal{}, apperr.New(apperr.CodeSessionSubjectNotFound, "session user no longer exists")
	}

	return Principal{
		UserID: user.ID,
		Name:   user.Name,
		Email:  user.Email,
		Role:   user.Role,
	}, nil
}

func (m *Middleware) tokenError(c *fiber.Ctx, err error) error {
	kind := TokenMalformed
	var te *TokenError
	if errors.As(err, &te) {
		kind = te.Kind
	}
	m.rec.TokenVerification(kind.String())
	m.log.Debug("token rejected", append(requestFields(c), zap.Stringer("kind", kind), zap.Error(err))...)

	switch kind {
	case TokenExpired:
		return apperr.New(apperr.CodeTokenExpired, "session has expired, please log in again")
	case TokenNotYetValid:
		return apperr.New(apperr.CodeTokenNotYetValid, "session is not valid yet")
	case TokenMalformed:
		return apperr.New(apperr.CodeTokenInvalid, "invalid session token")
	default:
		return apperr.New(apperr.CodeTokenInvalid, "invalid session token")
	}
}

// Authorize lets the request through when the caller meets req. The
// rejection is the same whichever part of the check failed.
func (m *Middleware) Authorize(req Requirement) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := MustPrincipal(c)
		if err != nil {
			return err
		}

		ok, err := m.allowed(c.UserContext(), p, req)
		if err != nil {
			m.rec.AuthzDecision("authorize", "error")
			m.log.Error("privilege lookup failed", append(requestFields(c), zap.Uint("user_id", p.UserID), zap.Error(err))...)
			return apperr.Internal("authorization could not be checked", err)
		}
		if !ok {
			return m.deny(c, "authorize", p, apperr.New(apperr.CodeForbidden, "not permitted"))
		}

		m.rec.AuthzDecision("authorize", "allow")
		return c.Next()
	}
}

// TargetPolicy describes a route acting on another user's account, grants
// or branch assignments. The user id comes from the route parameter Param.
type TargetPolicy struct {
	Param       string
	Requirement Requirement

	// AllowSelf lets a caller through on its own account without checking
	// Requirement.
	AllowSelf bool

	// Protect runs before Requirement and its rejection wins, so an
	// escalation attempt is reported by name even when the caller holds the
	// generic privilege.
	Protect func(caller Principal, target models.Role) error
}

// AuthorizeUserTarget loads the target user and applies policy. The target
// is available to the handler through TargetUserFrom.
func (m *Middleware) AuthorizeUserTarget(policy TargetPolicy) fiber.Handler {
	param := policy.Param
	if param == "" {
		param = "id"
	}

	return func(c *fiber.Ctx) error {
		p, err := MustPrincipal(c)
		if err != nil {
			return err
		}

		targetID, err := c.ParamsInt(param)
		if err != nil || targetID <= 0 {
			return apperr.Invalid("invalid user id")
		}

		target, err := m.users.FindByID(c.UserContext(), uint(targetID))
		if err != nil {
			m.rec.AuthzDecision("target", "error")
			return apperr.Internal("target user could not be loaded", err)
		}

		if policy.AllowSelf && IsSelf(p, uint(targetID)) && target != nil {
			m.rec.AuthzDecision("target", "allow_self")
			c.Locals(ctxTargetUserKey, target)
			return c.Next()
		}

		if target != nil && policy.Protect != nil {
			if err := policy.Protect(p, target.Role); err != nil {
				return m.deny(c, "target", p, err)
			}
		}

		ok, err := m.allowed(c.UserContext(), p, policy.Requirement)
		if err != nil {
			m.rec.AuthzDecision("target", "error")
			return apperr.Internal("authorization could not be checked", err)
		}
		if !ok {
			return m.deny(c, "target", p, apperr.New(apperr.CodeForbidden, "not permitted"))
		}
		if target == nil {
			return apperr.New(apperr.CodeUserNotFound, "user not found")
		}

		m.rec.AuthzDecision("target", "allow")
		c.Locals(ctxTargetUserKey, target)
		return c.Next()
	}
}

// Allowed evaluates req for p outside of a middleware chain.
func (m *Middleware) Allowed(ctx context.Context, p Principal, req Requirement) (bool, error) {
	return m.allowed(ctx, p, req)
}

func (m *Middleware) allowed(ctx context.Context, p Principal, req Requirement) (bool, error) {
	switch p.Role {
	case models.RoleSuperAdmin:
		return true, nil
	case models.RoleAdmin, models.RoleUser, models.RoleCustomer:
	default:
		return false, nil
	}

	for _, r := range req.Roles {
		if r == p.Role {
			return true, nil
		}
	}

	if req.Privilege == "" {
		return false, nil
	}
	return m.privileges.HasPrivilege(ctx, p.UserID, req.Privilege)
}

func (m *Middleware) deny(c *fiber.Ctx, stage string, p Principal, err error) error {
	code := apperr.CodeForbidden
	if e, ok := apperr.As(err); ok {
		code = e.Code
	}
	m.rec.AuthzDecision(stage, string(code))
	m.log.Warn("request denied", append(requestFields(c),
		zap.String("code", string(code)),
		zap.Uint("user_id", p.UserID),
		zap.String("role", string(p.Role)),
	)...)
	return err
}

func requestFields(c *fiber.Ctx) []zap.Field {
	fields := []zap.Field{
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
	}
	if rid, ok := c.Locals("requestid").(string); ok && rid != "" {
		fields = append(fields, zap.String("request_id", rid))
	}
	return fields
}
