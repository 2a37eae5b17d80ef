package models

import "time"

type Customer struct {
	ID       uint `gorm:"primaryKey"`
	BranchID uint `gorm:"index;not null"`
	Branch   Branch
	Name     string `gorm:"size:100;not null"`
	Email    string `gorm:"size:100;index"`
	Phone    string `gorm:"size:50"`

	// Set once the customer portal has been activated.
	UserID *uint `gorm:"uniqueIndex"`
	User   *User

	CreatedAt time.Time
	UpdatedAt time.Time
}
