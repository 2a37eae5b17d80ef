package auth

import (
	"context"
	"net/mail"
	"strings"

	"retail-backend/internal/apperr"
	"retail-backend/internal/audit"
	"retail-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const minPasswordLength = 8

// AccountStore is the user repository as seen by the auth handlers.
type AccountStore interface {
	UserStore
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
}

type PrivilegeLister interface {
	ListForUser(ctx context.Context, userID uint) ([]models.PrivilegeGrant, error)
}

type BranchLister interface {
	ListForUser(ctx context.Context, userID uint) ([]models.Branch, error)
}

type AuditWriter interface {
	WriteLog(ctx context.Context, opts audit.LogOptions) error
}

type RegisterSuperAdminRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type UserResponse struct {
	ID        uint        `json:"id"`
	Name      string      `json:"name"`
	Email     string      `json:"email"`
	Role      models.Role `json:"role"`
	CreatedAt string      `json:"created_at"`
}

func NewUserResponse(u *models.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      u.Role,
		CreatedAt: u.CreatedAt.Format("2006-01-02 15:04:05"),
	}
}

type BranchRef struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

type Handler struct {
	users      AccountStore
	privileges PrivilegeLister
	branches   BranchLister
	hasher     PasswordHasher
	tokens     *TokenService
	audit      AuditWriter
	log        *zap.Logger

	// compared against on unknown emails so login takes the same time
	dummyDigest string
}

type HandlerConfig struct {
	Users      AccountStore
	Privileges PrivilegeLister
	Branches   BranchLister
	Hasher     PasswordHasher
	Tokens     *TokenService
	Audit      AuditWriter
	Logger     *zap.Logger
}

func NewHandler(cfg HandlerConfig) (*Handler, error) {
	dummy, err := cfg.Hasher.Hash("timing-equalizer-not-a-password")
	if err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		users:       cfg.Users,
		privileges:  cfg.Privileges,
		branches:    cfg.Branches,
		hasher:      cfg.Hasher,
		tokens:      cfg.Tokens,
		audit:       cfg.Audit,
		log:         log,
		dummyDigest: dummy,
	}, nil
}

// POST /api/auth/register-superadmin (behind BootstrapGate)
func (h *Handler) RegisterSuperAdminHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var caller *Principal
		if p, ok := PrincipalFrom(c); ok {
			caller = &p
		}
		bootstrap := IsBootstrap(c)
		if err := CanCreateRole(caller, models.RoleSuperAdmin, bootstrap); err != nil {
			return err
		}

		var body RegisterSuperAdminRequest
		if err := c.BodyParser(&body); err != nil {
			return apperr.Invalid("invalid request body")
		}
		name, email, err := ValidateAccount(body.Name, body.Email, body.Password)
		if err != nil {
			return err
		}

		hash, err := h.hasher.Hash(body.Password)
		if err != nil {
			return apperr.Internal("password could not be hashed", err)
		}

		user := models.User{
			Name:         name,
			Email:        email,
			PasswordHash: hash,
			Role:         models.RoleSuperAdmin,
		}
		if err := h.users.Create(c.UserContext(), &user); err != nil {
			if _, ok := apperr.As(err); ok {
				return err
			}
			return apperr.Internal("user could not be created", err)
		}

		token, err := h.tokens.Issue(user.ID, user.Role)
		if err != nil {
			return apperr.Internal("token could not be issued", err)
		}

		opts := audit.LogOptions{
			EntityType:  "user",
			EntityID:    user.ID,
			Action:      models.AuditActionCreate,
			Description: "superadmin account created",
			After:       NewUserResponse(&user),
		}
		if caller != nil {
			opts.UserID, opts.UserName = caller.UserID, caller.Name
		} else {
			opts.Description = "bootstrap superadmin account created"
		}
		h.writeAudit(c, opts)

		h.log.Info("superadmin created", zap.Uint("user_id", user.ID), zap.Bool("bootstrap", bootstrap))

		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"user":  NewUserResponse(&user),
			"token": token,
		})
	}
}

// POST /api/auth/login
func (h *Handler) LoginHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body LoginRequest
		if err := c.BodyParser(&body); err != nil {
			return apperr.Invalid("invalid request body")
		}
		email := strings.TrimSpace(strings.ToLower(body.Email))

		user, err := h.users.FindByEmail(c.UserContext(), email)
		if err != nil {
			return apperr.Internal("login failed", err)
		}
		if user == nil {
			h.hasher.Verify(body.Password, h.dummyDigest)
			return apperr.New(apperr.CodeInvalidCredentials, "email or password is incorrect")
		}
		if !h.hasher.Verify(body.Password, user.PasswordHash) {
			return apperr.New(apperr.CodeInvalidCredentials, "email or password is incorrect")
		}

		token, err := h.tokens.Issue(user.ID, user.Role)
		if err != nil {
			return apperr.Internal("token could not be issued", err)
		}

		// The codenames are returned for the client UI only. The token does
		// not carry them; every check reads the current grants.
		grants, err := h.privileges.ListForUser(c.UserContext(), user.ID)
		if err != nil {
			return apperr.Internal("privileges could not be loaded", err)
		}

		return c.JSON(fiber.Map{
			"token":      token,
			"user":       NewUserResponse(user),
			"privileges": codenames(grants),
		})
	}
}

// GET /api/auth/me
func (h *Handler) MeHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := MustPrincipal(c)
		if err != nil {
			return err
		}

		user, err := h.users.FindByID(c.UserContext(), p.UserID)
		if err != nil {
			return apperr.Internal("user could not be loaded", err)
		}
		if user == nil {
			return apperr.New(apperr.CodeSessionSubjectNotFound, "session user no longer exists")
		}

		grants, err := h.privileges.ListForUser(c.UserContext(), p.UserID)
		if err != nil {
			return apperr.Internal("privileges could not be loaded", err)
		}
		branches, err := h.branches.ListForUser(c.UserContext(), p.UserID)
		if err != nil {
			return apperr.Internal("branches could not be loaded", err)
		}

		refs := make([]BranchRef, 0, len(branches))
		for _, b := range branches {
			refs = append(refs, BranchRef{ID: b.ID, Name: b.Name})
		}

		return c.JSON(fiber.Map{
			"user":       NewUserResponse(user),
			"privileges": codenames(grants),
			"branches":   refs,
		})
	}
}

// POST /api/auth/refresh
// Issues a fresh token for the caller with the role currently stored.
func (h *Handler) RefreshHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, err := MustPrincipal(c)
		if err != nil {
			return err
		}
		token, err := h.tokens.Issue(p.UserID, p.Role)
		if err != nil {
			return apperr.Internal("token could not be issued", err)
		}
		return c.JSON(fiber.Map{"token": token})
	}
}

func (h *Handler) writeAudit(c *fiber.Ctx, opts audit.LogOptions) {
	if h.audit == nil {
		return
	}
	if err := h.audit.WriteLog(c.UserContext(), opts); err != nil {
		h.log.Warn("audit log write failed", zap.String("entity_type", opts.EntityType), zap.Error(err))
	}
}

// ValidateAccount normalizes and checks the fields every new account needs.
// It returns the trimmed name and the lower-cased email.
func ValidateAccount(name, email, password string) (string, string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.TrimSpace(email) == "" || password == "" {
		return "", "", apperr.Invalid("name, email and password are required")
	}
	email, err := NormalizeEmail(email)
	if err != nil {
		return "", "", err
	}
	if err := ValidatePassword(password); err != nil {
		return "", "", err
	}
	return name, email, nil
}

func NormalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return "", apperr.Invalid("email is not valid")
	}
	return email, nil
}

func ValidatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apperr.Invalid("password must be at least 8 characters")
	}
	return nil
}

func codenames(grants []models.PrivilegeGrant) []string {
	out := make([]string, 0, len(grants))
	for _, g := range grants {
		out = append(out, g.Codename)
	}
	return out
}
