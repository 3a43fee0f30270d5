package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// QuestStatus is the per-user state of a quest instance. A missing
// QuestProgress row means the quest is available.
type QuestStatus string

const (
	QuestStatusInProgress  QuestStatus = "in_progress"
	QuestStatusCompletable QuestStatus = "completable"
	QuestStatusCompleted   QuestStatus = "completed"
)

// Rank orders statuses so transitions can be checked for regression.
func (s QuestStatus) Rank() int {
	switch s {
	case QuestStatusInProgress:
		return 1
	case QuestStatusCompletable:
		return 2
	case QuestStatusCompleted:
		return 3
	default:
		return 0
	}
}

// QuestInstance binds a quest template to concrete coordinates and an
// active window [StartsAt, EndsAt).
type QuestInstance struct {
	ID            string         `gorm:"primaryKey;size:64" json:"id"`
	TemplateID    string         `gorm:"size:64;not null;index" json:"template_id"`
	GiverNPC      string         `gorm:"size:64" json:"giver_npc"`
	GiverX        int            `json:"giver_x"`
	GiverY        int            `json:"giver_y"`
	CompletionNPC string         `gorm:"size:64" json:"completion_npc"`
	CompletionX   int            `json:"completion_x"`
	CompletionY   int            `json:"completion_y"`
	Locations     datatypes.JSON `json:"locations"` // objective index -> {"x","y"}
	Tutorial      bool           `gorm:"default:false" json:"tutorial"`
	StartsAt      time.Time      `gorm:"index:idx_instance_window" json:"starts_at"`
	EndsAt        time.Time      `gorm:"index:idx_instance_window" json:"ends_at"`
}

// ActiveAt reports whether now falls inside the instance window.
func (q *QuestInstance) ActiveAt(now time.Time) bool {
	return !now.Before(q.StartsAt) && now.Before(q.EndsAt)
}

// Placement is a concrete tile bound to one objective of an instance.
type Placement struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Placements decodes the per-objective tiles. Objectives that are not
// placed have no entry.
func (q *QuestInstance) Placements() (map[int]Placement, error) {
	out := make(map[int]Placement)
	if len(q.Locations) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(q.Locations, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetPlacements encodes the per-objective tiles into Locations.
func (q *QuestInstance) SetPlacements(p map[int]Placement) error {
	if p == nil {
		p = map[int]Placement{}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	q.Locations = datatypes.JSON(b)
	return nil
}

// QuestProgress is keyed by (user, quest instance).
type QuestProgress struct {
	UserID      int64       `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	InstanceID  string      `gorm:"primaryKey;size:64" json:"instance_id"`
	Status      QuestStatus `gorm:"size:16;not null;index" json:"status"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at"`
}

func (QuestProgress) TableName() string { return "quest_progress" }

// ObjectiveProgress is keyed by (user, quest instance, objective index).
// Required is frozen when the quest starts.
type ObjectiveProgress struct {
	UserID      int64      `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	InstanceID  string     `gorm:"primaryKey;size:64" json:"instance_id"`
	Objective   int        `gorm:"primaryKey;autoIncrement:false" json:"objective"`
	Current     int        `gorm:"not null;default:0" json:"current"`
	Required    int        `gorm:"not null" json:"required"`
	Completed   bool       `gorm:"not null;default:false" json:"completed"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

func (ObjectiveProgress) TableName() string { return "objective_progress" }
