package model

import (
	"time"

	"github.com/google/uuid"
)

// Timestamps are assigned by the service clock so message ordering never depends on the database.
type ChatSession struct {
	Id        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserId    uuid.UUID `gorm:"type:uuid;not null;index"` // User ownership for data isolation
	Title     *string   `gorm:"type:varchar(255)"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"not null;index;autoUpdateTime:false"`
}

func (ChatSession) TableName() string {
	return "chat_sessions"
}
