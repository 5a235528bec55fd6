package event

import (
	"encoding/json"
	"time"
)

type Type string

const (
	ContentPublished     Type = "content.published"
	ContentRemoved       Type = "content.removed"
	ContentGroupsChanged Type = "content.groups-changed"
	ContentScheduled     Type = "content.scheduled"
	GroupPrivacyChanged  Type = "group.privacy-changed"
	GroupStateChanged    Type = "group.state-changed"
	GroupMemberJoined    Type = "group.member-joined"
	GroupMemberLeft      Type = "group.member-left"
	ReactionCreated      Type = "reaction.created"
	ReactionDeleted      Type = "reaction.deleted"
)

// Envelope 流中一条领域事件
type Envelope struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`

	// StreamID redis stream 消息 ID，仅消费侧填充
	StreamID string `json:"-"`
}

// ContentLifecycle 发布 / 撤下 / 删除 / 隐藏
type ContentLifecycle struct {
	ContentID string   `json:"contentId" validate:"required"`
	GroupIDs  []string `json:"groupIds" validate:"required,min=1,dive,required"`
}

type ContentGroupsChange struct {
	ContentID       string   `json:"contentId" validate:"required"`
	AddedGroupIDs   []string `json:"addedGroupIds" validate:"dive,required"`
	RemovedGroupIDs []string `json:"removedGroupIds" validate:"dive,required"`
	CurrentGroupIDs []string `json:"currentGroupIds" validate:"dive,required"`
}

type ContentSchedule struct {
	ContentID   string    `json:"contentId" validate:"required"`
	OwnerID     string    `json:"ownerId" validate:"required"`
	ScheduledAt time.Time `json:"scheduledAt" validate:"required"`
}

type GroupPrivacyChange struct {
	GroupID string `json:"groupId" validate:"required"`
	Privacy string `json:"privacy" validate:"required,oneof=OPEN CLOSED PRIVATE SECRET"`
}

type GroupStateChange struct {
	GroupID string `json:"groupId" validate:"required"`
	State   string `json:"state" validate:"required,oneof=ACTIVE ARCHIVED"`
}

// GroupMembership 用户加入 / 离开分组（follow / unfollow）
type GroupMembership struct {
	UserID   string   `json:"userId" validate:"required"`
	GroupIDs []string `json:"groupIds" validate:"required,min=1,dive,required"`
}

type ReactionChange struct {
	ReactionID   string `json:"reactionId" validate:"required"`
	UserID       string `json:"userId" validate:"required"`
	TargetType   string `json:"targetType" validate:"required,oneof=CONTENT COMMENT"`
	TargetID     string `json:"targetId" validate:"required"`
	ReactionName string `json:"reactionName" validate:"required"`
}
