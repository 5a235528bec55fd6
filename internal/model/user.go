package model

import "time"

type User struct {
	ID            string `gorm:"primaryKey;type:varchar(36)"`
	Username      string `gorm:"type:varchar(64);uniqueIndex"`
	IsDeactivated bool   `gorm:"not null;default:false"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (User) TableName() string { return "users" }
