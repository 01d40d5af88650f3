package models

import (
	"time"

	"gorm.io/datatypes"
)

// KBItem is a labeled example in the security knowledge base. Items are
// append-only; LogKey is a loose back-reference, not a foreign key.
type KBItem struct {
	ID               uint           `json:"id" gorm:"primaryKey"`
	LogKey           *string        `json:"logKey,omitempty" gorm:"size:191;index"`
	Risk             string         `json:"risk" gorm:"size:32;index"`
	IncidentCategory string         `json:"incidentCategory" gorm:"size:64;index"`
	Text             string         `json:"text" gorm:"type:text;not null"`
	Notes            string         `json:"notes,omitempty" gorm:"type:text"`
	Meta             datatypes.JSON `json:"meta,omitempty" gorm:"type:jsonb"`
	CreatedAt        time.Time      `json:"createdAt" gorm:"index;autoCreateTime:false"`
}

func (KBItem) TableName() string {
	return "kb_items"
}

// KBFilter selects knowledge-base examples. Empty fields match everything.
type KBFilter struct {
	Category string
	Risk     string
	Limit    int
}
