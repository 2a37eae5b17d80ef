package models

import "time"

// UserBranch means "this user may act within this branch".
// At most one row per (user, branch).
type UserBranch struct {
	ID         uint `gorm:"primaryKey"`
	UserID     uint `gorm:"not null;uniqueIndex:idx_user_branch"`
	BranchID   uint `gorm:"not null;uniqueIndex:idx_user_branch;index"`
	Branch     Branch
	AssignedBy *uint
	CreatedAt  time.Time
}
