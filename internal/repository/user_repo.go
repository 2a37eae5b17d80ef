package repository

import (
	"context"
	"errors"
	"fmt"

	"retail-backend/internal/apperr"
	"retail-backend/internal/models"

	"gorm.io/gorm"
)

// UserFilter narrows List. Zero values mean "any".
type UserFilter struct {
	Role     models.Role
	BranchID uint
}

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID returns nil, nil when the user does not exist.
func (r *UserRepository) FindByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByEmail returns nil, nil when no user has the email.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) List(ctx context.Context, f UserFilter) ([]models.User, error) {
	q := r.db.WithContext(ctx).Model(&models.User{})
	if f.Role != "" {
		q = q.Where("users.role = ?", f.Role)
	}
	if f.BranchID != 0 {
		q = q.Joins("JOIN user_branches ON user_branches.user_id = users.id").
			Where("user_branches.branch_id = ?", f.BranchID)
	}

	var users []models.User
	if err := q.Order("users.created_at DESC").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// Create inserts the user. A taken email surfaces as EMAIL_ALREADY_EXISTS.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	err := r.db.WithContext(ctx).Create(user).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperr.Wrap(apperr.CodeEmailAlreadyExists, "email is already registered", err)
	}
	return err
}

func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	err := r.db.WithContext(ctx).Save(user).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperr.Wrap(apperr.CodeEmailAlreadyExists, "email is already registered", err)
	}
	return err
}

// Delete removes the user together with its grants and branch assignments.
// It reports false when the user did not exist.
func (r *UserRepository) Delete(ctx context.Context, id uint) (bool, error) {
	var deleted bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", id).Delete(&models.UserPrivilege{}).Error; err != nil {
			return fmt.Errorf("delete grants: %w", err)
		}
		if err := tx.Where("user_id = ?", id).Delete(&models.UserBranch{}).Error; err != nil {
			return fmt.Errorf("delete branch assignments: %w", err)
		}
		if err := tx.Model(&models.Customer{}).Where("user_id = ?", id).Update("user_id", nil).Error; err != nil {
			return fmt.Errorf("unlink customer: %w", err)
		}
		res := tx.Delete(&models.User{}, id)
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	return deleted, err
}

func (r *UserRepository) CountByRole(ctx context.Context, role models.Role) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.User{}).Where("role = ?", role).Count(&count).Error
	return count, err
}
