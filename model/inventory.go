package model

import "time"

// Inventory is a single item stack in a user's bag.
type Inventory struct {
	UserID    int64     `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	ItemID    string    `gorm:"primaryKey;size:64" json:"item_id"`
	Qty       int       `gorm:"default:1" json:"qty"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
