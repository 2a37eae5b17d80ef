// Package dashboard serves read-only aggregates for the branch home screen.
package dashboard

import (
	"context"
	"time"

	"retail-backend/internal/auth"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const dateLayout = "2006-01-02"

// Authorizer evaluates a requirement outside of the route middleware.
type Authorizer interface {
	Allowed(ctx context.Context, p auth.Principal, req auth.Requirement) (bool, error)
}

type Handler struct {
	db    *gorm.DB
	authz Authorizer
	log   *zap.Logger
	now   func() time.Time
}

func NewHandler(db *gorm.DB, authz Authorizer, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{db: db, authz: authz, log: log, now: time.Now}
}
