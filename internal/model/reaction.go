package model

import (
	"time"

	"gorm.io/gorm"
)

type ReactionTarget string

const (
	ReactionTargetContent ReactionTarget = "CONTENT"
	ReactionTargetComment ReactionTarget = "COMMENT"
)

// Reaction 表情反应；计数缓存的权威来源
type Reaction struct {
	ID           string         `gorm:"primaryKey;type:varchar(36)"`
	TargetType   ReactionTarget `gorm:"type:varchar(16);not null;index:idx_reaction_target"`
	TargetID     string         `gorm:"type:varchar(36);not null;index:idx_reaction_target"`
	ReactionName string         `gorm:"type:varchar(64);not null"`
	CreatedBy    string         `gorm:"type:varchar(36);not null"`
	CreatedAt    time.Time
	DeletedAt    gorm.DeletedAt `gorm:"index"`
}

func (Reaction) TableName() string { return "reactions" }
