package model

import (
	"time"

	"gorm.io/gorm"
)

type ContentStatus string

const (
	ContentStatusDraft           ContentStatus = "DRAFT"
	ContentStatusPublished       ContentStatus = "PUBLISHED"
	ContentStatusWaitingSchedule ContentStatus = "WAITING_SCHEDULE"
	ContentStatusScheduleFailed  ContentStatus = "SCHEDULE_FAILED"
)

type ContentType string

const (
	ContentTypePost    ContentType = "POST"
	ContentTypeArticle ContentType = "ARTICLE"
	ContentTypeSeries  ContentType = "SERIES"
)

// ContentErrorLog 定时发布失败时记录在内容行上的错误
type ContentErrorLog struct {
	Message string   `json:"message"`
	Code    string   `json:"code"`
	Stack   []string `json:"stack,omitempty"`
}

// Content 内容主体（引擎只关心生命周期相关字段）
type Content struct {
	ID          string        `gorm:"primaryKey;type:varchar(36)"`
	Type        ContentType   `gorm:"type:varchar(16);not null"`
	Status      ContentStatus `gorm:"type:varchar(32);not null;index:idx_content_status_schedule"`
	IsHidden    bool          `gorm:"not null;default:false"`
	CreatedBy   string        `gorm:"type:varchar(36);not null;index:idx_content_owner"`
	ScheduledAt *time.Time    `gorm:"index:idx_content_status_schedule"`
	PublishedAt *time.Time
	ErrorLog    *ContentErrorLog `gorm:"serializer:json"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   gorm.DeletedAt `gorm:"index"`

	// GroupIDs 查询时填充的活跃分组
	GroupIDs []string `gorm:"-"`
}

func (Content) TableName() string { return "contents" }

func (c *Content) IsPublished() bool { return c.Status == ContentStatusPublished }

// ContentRef newsfeed 回填所需的最小内容信息
type ContentRef struct {
	ID          string
	Type        ContentType
	PublishedAt *time.Time
}
