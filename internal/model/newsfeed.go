package model

import "time"

// NewsfeedEntry 用户 newsfeed 索引项（按 user_id 切分）
type NewsfeedEntry struct {
	ID        string `gorm:"primaryKey;type:varchar(36)"`
	UserID    string `gorm:"type:varchar(36);not null;index:idx_newsfeed_user;uniqueIndex:ux_newsfeed_user_content"`
	ContentID string `gorm:"type:varchar(36);not null;index:idx_newsfeed_content;uniqueIndex:ux_newsfeed_user_content"`
	// 复合唯一键，重复 attach 直接忽略
	// ux_newsfeed_user_content = (user_id, content_id)
	ContentType string     `gorm:"type:varchar(16);not null"`
	IsSeen      bool       `gorm:"not null;default:false"`
	IsImportant bool       `gorm:"not null;default:false"`
	PublishedAt *time.Time `gorm:"index:idx_newsfeed_user_published"`
	CreatedAt   time.Time
}

func (NewsfeedEntry) TableName() string { return "user_newsfeed" }
