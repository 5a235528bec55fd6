package model

import "time"

type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxDone    OutboxStatus = "done"
)

// OutboxEvent 与业务状态同事务写入的待投递事件
type OutboxEvent struct {
	ID          string       `gorm:"primaryKey;type:varchar(36)"`
	EventType   string       `gorm:"type:varchar(64);not null"`
	Payload     string       `gorm:"type:text;not null"`
	Status      OutboxStatus `gorm:"type:varchar(16);not null;index:idx_outbox_status_created"`
	CreatedAt   time.Time    `gorm:"index:idx_outbox_status_created"`
	ProcessedAt *time.Time
}

func (OutboxEvent) TableName() string { return "event_outbox" }
