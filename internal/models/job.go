package models

import (
	"time"

	"github.com/lib/pq"
)

// Job is read-only metadata owned by the job/approval backend.
type Job struct {
	ID           string         `gorm:"column:id;type:text;primaryKey" bson:"id" json:"id"`
	Title        string         `gorm:"column:title;type:text" bson:"title" json:"title"`
	Company      string         `gorm:"column:company;type:text" bson:"company" json:"company"`
	Requirements pq.StringArray `gorm:"column:requirements;type:text[]" bson:"requirements,omitempty" json:"requirements,omitempty"`
	Skills       pq.StringArray `gorm:"column:skills;type:text[]" bson:"skills,omitempty" json:"skills,omitempty"`
	Status       string         `gorm:"column:status;type:text" bson:"-" json:"-"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;type:timestamptz" bson:"-" json:"-"`
}

func (Job) TableName() string { return "jobs" }
