package entity

import (
	"time"

	"github.com/google/uuid"
)

type ChatSession struct {
	Id        uuid.UUID
	UserId    uuid.UUID
	Title     *string // nil until the first successful exchange
	CreatedAt time.Time
	UpdatedAt time.Time
}
