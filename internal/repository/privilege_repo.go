package repository

import (
	"context"
	"errors"

	"retail-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PrivilegeRepository struct {
	db *gorm.DB
}

func NewPrivilegeRepository(db *gorm.DB) *PrivilegeRepository {
	return &PrivilegeRepository{db: db}
}

// List returns the catalog, optionally filtered by module.
func (r *PrivilegeRepository) List(ctx context.Context, module string) ([]models.Privilege, error) {
	q := r.db.WithContext(ctx).Model(&models.Privilege{})
	if module != "" {
		q = q.Where("module = ?", module)
	}
	var privs []models.Privilege
	if err := q.Order("module ASC, codename ASC").Find(&privs).Error; err != nil {
		return nil, err
	}
	return privs, nil
}

// FindByID returns nil, nil when the privilege does not exist.
func (r *PrivilegeRepository) FindByID(ctx context.Context, id uint) (*models.Privilege, error) {
	var p models.Privilege
	err := r.db.WithContext(ctx).First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateName changes the display name only. Codename and module stay as
// seeded.
func (r *PrivilegeRepository) UpdateName(ctx context.Context, id uint, name string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Privilege{}).Where("id = ?", id).Update("name", name)
	return res.RowsAffected > 0, res.Error
}

type UserPrivilegeRepository struct {
	db *gorm.DB
}

func NewUserPrivilegeRepository(db *gorm.DB) *UserPrivilegeRepository {
	return &UserPrivilegeRepository{db: db}
}

func (r *UserPrivilegeRepository) ListForUser(ctx context.Context, userID uint) ([]models.PrivilegeGrant, error) {
	grants := make([]models.PrivilegeGrant, 0)
	err := r.db.WithContext(ctx).
		Table("user_privileges").
		Select("privileges.id AS privilege_id, privileges.codename, privileges.name, privileges.module").
		Joins("JOIN privileges ON privileges.id = user_privileges.privilege_id").
		Where("user_privileges.user_id = ?", userID).
		Order("privileges.codename ASC").
		Scan(&grants).Error
	if err != nil {
		return nil, err
	}
	return grants, nil
}

func (r *UserPrivilegeRepository) HasCodename(ctx context.Context, userID uint, codename string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.UserPrivilege{}).
		Joins("JOIN privileges ON privileges.id = user_privileges.privilege_id").
		Where("user_privileges.user_id = ? AND privileges.codename = ?", userID, codename).
		Count(&count).Error
	return count > 0, err
}

// Insert adds the grant unless it already exists. It reports whether a row
// was written; the unique index makes this a single atomic step.
func (r *UserPrivilegeRepository) Insert(ctx context.Context, userID, privilegeID uint, grantedBy *uint) (bool, error) {
	row := models.UserPrivilege{UserID: userID, PrivilegeID: privilegeID, GrantedBy: grantedBy}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	return res.RowsAffected > 0, res.Error
}

// Delete removes the grant and reports whether one existed.
func (r *UserPrivilegeRepository) Delete(ctx context.Context, userID, privilegeID uint) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND privilege_id = ?", userID, privilegeID).
		Delete(&models.UserPrivilege{})
	return res.RowsAffected > 0, res.Error
}
