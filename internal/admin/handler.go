package admin

import (
	"context"

	"retail-backend/internal/audit"
	"retail-backend/internal/auth"
	"retail-backend/internal/models"
	"retail-backend/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// BranchAssigner is the branch assignment store as used by the admin
// handlers.
type BranchAssigner interface {
	ListForUser(ctx context.Context, userID uint) ([]models.Branch, error)
	IsAssigned(ctx context.Context, userID, branchID uint) (bool, error)
}

// AuditTrail writes and reads the audit log.
type AuditTrail interface {
	WriteLog(ctx context.Context, opts audit.LogOptions) error
	List(ctx context.Context, f audit.Filter) ([]models.AuditLog, error)
}

type Handler struct {
	db          *gorm.DB
	users       *repository.UserRepository
	assignments BranchAssigner
	hasher      auth.PasswordHasher
	audit       AuditTrail
	log         *zap.Logger
}

type HandlerConfig struct {
	DB          *gorm.DB
	Assignments BranchAssigner
	Hasher      auth.PasswordHasher
	Audit       AuditTrail
	Logger      *zap.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		db:          cfg.DB,
		users:       repository.NewUserRepository(cfg.DB),
		assignments: cfg.Assignments,
		hasher:      cfg.Hasher,
		audit:       cfg.Audit,
		log:         log,
	}
}

func (h *Handler) writeAudit(ctx context.Context, p auth.Principal, opts audit.LogOptions) {
	opts.UserID, opts.UserName = p.UserID, p.Name
	if err := h.audit.WriteLog(ctx, opts); err != nil {
		h.log.Warn("audit log write failed", zap.String("entity_type", opts.EntityType), zap.Error(err))
	}
}
