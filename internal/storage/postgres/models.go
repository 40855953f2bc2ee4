package postgres

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JSONB is a json.RawMessage that GORM maps onto jsonb (postgres) or TEXT
// (sqlite) columns.
type JSONB json.RawMessage

// TaskModel maps to the "tasks" table.
type TaskModel struct {
	ID                   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Objective            string    `gorm:"type:text;not null"`
	RequiredCapabilities JSONB     `gorm:"type:jsonb;not null;default:'[]'"`
	RequestedStrategy    string
	Strategy             string     `gorm:"index"`
	Priority             string     `gorm:"not null;default:'medium'"`
	TimeoutMS            int64      `gorm:"not null;default:0"`
	Quorum               int        `gorm:"not null;default:0"`
	Resources            JSONB      `gorm:"type:jsonb;not null;default:'{}'"`
	Input                JSONB      `gorm:"type:jsonb;not null;default:'{}'"`
	Status               string     `gorm:"not null;default:'pending';index"`
	Progress             int        `gorm:"not null;default:0"`
	AssignedAgents       JSONB      `gorm:"type:jsonb;not null;default:'[]'"`
	Outcomes             JSONB      `gorm:"type:jsonb;not null;default:'[]'"`
	Allocations          JSONB      `gorm:"type:jsonb;not null;default:'[]'"`
	Result               string     `gorm:"type:text"`
	Error                string     `gorm:"type:text"`
	CreatedAt            time.Time  `gorm:"index"`
	StartedAt            *time.Time
	CompletedAt          *time.Time `gorm:"index"`
}

func (TaskModel) TableName() string { return "tasks" }

// CoordinationRecordModel maps to the "coordination_records" table.
// Append-only. No UpdatedAt or DeletedAt, the outcome log is immutable.
type CoordinationRecordModel struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	TaskID     uuid.UUID `gorm:"type:uuid;not null;index"`
	Strategy   string    `gorm:"not null;index:idx_coord_strategy_at"`
	Success    bool      `gorm:"not null"`
	DurationMS int64     `gorm:"not null;default:0"`
	CreatedAt  time.Time `gorm:"index:idx_coord_strategy_at"`
}

func (CoordinationRecordModel) TableName() string { return "coordination_records" }
