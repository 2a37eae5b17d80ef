package repository

import (
	"context"
	"errors"

	"retail-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BranchRepository struct {
	db *gorm.DB
}

func NewBranchRepository(db *gorm.DB) *BranchRepository {
	return &BranchRepository{db: db}
}

// FindByID returns nil, nil when the branch does not exist.
func (r *BranchRepository) FindByID(ctx context.Context, id uint) (*models.Branch, error) {
	var b models.Branch
	err := r.db.WithContext(ctx).First(&b, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

type UserBranchRepository struct {
	db *gorm.DB
}

func NewUserBranchRepository(db *gorm.DB) *UserBranchRepository {
	return &UserBranchRepository{db: db}
}

func (r *UserBranchRepository) ListForUser(ctx context.Context, userID uint) ([]models.Branch, error) {
	branches := make([]models.Branch, 0)
	err := r.db.WithContext(ctx).
		Model(&models.Branch{}).
		Joins("JOIN user_branches ON user_branches.branch_id = branches.id").
		Where("user_branches.user_id = ?", userID).
		Order("branches.name ASC").
		Find(&branches).Error
	if err != nil {
		return nil, err
	}
	return branches, nil
}

func (r *UserBranchRepository) Exists(ctx context.Context, userID, branchID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.UserBranch{}).
		Where("user_id = ? AND branch_id = ?", userID, branchID).
		Count(&count).Error
	return count > 0, err
}

// Insert adds the assignment unless it already exists and reports whether
// a row was written.
func (r *UserBranchRepository) Insert(ctx context.Context, userID, branchID uint, assignedBy *uint) (bool, error) {
	row := models.UserBranch{UserID: userID, BranchID: branchID, AssignedBy: assignedBy}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	return res.RowsAffected > 0, res.Error
}

func (r *UserBranchRepository) Delete(ctx context.Context, userID, branchID uint) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND branch_id = ?", userID, branchID).
		Delete(&models.UserBranch{})
	return res.RowsAffected > 0, res.Error
}
