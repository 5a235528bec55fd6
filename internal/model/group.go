package model

import "time"

type GroupState string

const (
	GroupStateActive   GroupState = "ACTIVE"
	GroupStateArchived GroupState = "ARCHIVED"
)

type GroupPrivacy string

const (
	GroupPrivacyOpen    GroupPrivacy = "OPEN"
	GroupPrivacyClosed  GroupPrivacy = "CLOSED"
	GroupPrivacyPrivate GroupPrivacy = "PRIVATE"
	GroupPrivacySecret  GroupPrivacy = "SECRET"
)

// Group 分组；ParentID 指向上级分组（社区根分组为空）
type Group struct {
	ID        string       `gorm:"primaryKey;type:varchar(36)"`
	ParentID  *string      `gorm:"type:varchar(36);index"`
	Privacy   GroupPrivacy `gorm:"type:varchar(16);not null;default:'OPEN'"`
	State     GroupState   `gorm:"type:varchar(16);not null;default:'ACTIVE';index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Group) TableName() string { return "groups" }

// ContentGroup 内容所属分组
type ContentGroup struct {
	ContentID  string `gorm:"primaryKey;type:varchar(36)"`
	GroupID    string `gorm:"primaryKey;type:varchar(36);index:idx_content_group_group"`
	IsArchived bool   `gorm:"not null;default:false"`
	CreatedAt  time.Time
}

func (ContentGroup) TableName() string { return "contents_groups" }

// GroupMember 分组成员；离开分组时 is_archived=true 或删除
type GroupMember struct {
	GroupID    string `gorm:"primaryKey;type:varchar(36)"`
	UserID     string `gorm:"primaryKey;type:varchar(36);index:idx_group_member_user"`
	IsArchived bool   `gorm:"not null;default:false"`
	CreatedAt  time.Time
}

func (GroupMember) TableName() string { return "group_members" }

// GroupFanoutQuery 成员/内容分页参数；follow 与 publish 扇出共用
type GroupFanoutQuery struct {
	GroupIDs      []string
	NotInGroupIDs []string
	Offset        int
	Limit         int
}
