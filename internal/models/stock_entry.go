package models

import "time"

// StockEntry is a point-in-time stock count for one product in one branch.
type StockEntry struct {
	ID        uint `gorm:"primaryKey"`
	BranchID  uint `gorm:"index;not null"`
	Branch    Branch
	ProductID uint `gorm:"index;not null"`
	Product   Product
	Date      time.Time `gorm:"index;not null"`
	Quantity  float64   `gorm:"not null"`
	Note      string    `gorm:"size:255"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
