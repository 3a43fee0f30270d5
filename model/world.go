package model

import "time"

// ResourceUsage counts units consumed on one tile since its last full
// refresh. Rows exist only while the resource is regenerating.
type ResourceUsage struct {
	X          int       `gorm:"primaryKey;autoIncrement:false" json:"x"`
	Y          int       `gorm:"primaryKey;autoIncrement:false" json:"y"`
	ResourceID string    `gorm:"primaryKey;size:64" json:"resource_id"`
	Qty        int       `gorm:"not null" json:"qty"`
	RefreshAt  time.Time `gorm:"index" json:"refresh_at"`
	IntervalMs int64     `json:"interval_ms"`
}

func (ResourceUsage) TableName() string { return "resource_usage" }

// InProgressAction is the single timed collection a user may have running.
type InProgressAction struct {
	UserID      int64      `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	X           int        `json:"x"`
	Y           int        `json:"y"`
	ResourceID  string     `gorm:"size:64;not null" json:"resource_id"`
	StartedAt   time.Time  `gorm:"index" json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

func (InProgressAction) TableName() string { return "inprogress" }

// ZoneUser records which tile a user currently stands on.
type ZoneUser struct {
	UserID    int64     `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	X         int       `gorm:"index:idx_zone_xy" json:"x"`
	Y         int       `gorm:"index:idx_zone_xy" json:"y"`
	EnteredAt time.Time `json:"entered_at"`
}

func (ZoneUser) TableName() string { return "zone_users" }

// SystemMessage is a short-lived notice shown to one user.
type SystemMessage struct {
	ID      int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID  int64     `gorm:"index:idx_message_user;not null" json:"user_id"`
	Message string    `gorm:"type:text" json:"message"`
	Type    string    `gorm:"size:16" json:"type"`
	SentAt  time.Time `gorm:"index" json:"sent_at"`
}
