package inventory

import (
	"context"

	"retail-backend/internal/audit"
	"retail-backend/internal/auth"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Handler struct {
	db    *gorm.DB
	audit auth.AuditWriter
	log   *zap.Logger
}

func NewHandler(db *gorm.DB, auditWriter auth.AuditWriter, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{db: db, audit: auditWriter, log: log}
}

func (h *Handler) writeAudit(ctx context.Context, p auth.Principal, opts audit.LogOptions) {
	if h.audit == nil {
		return
	}
	opts.UserID, opts.UserName = p.UserID, p.Name
	if err := h.audit.WriteLog(ctx, opts); err != nil {
		h.log.Warn("audit log write failed", zap.String("entity_type", opts.EntityType), zap.Error(err))
	}
}
