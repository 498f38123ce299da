package model

import (
	"time"

	"github.com/google/uuid"
)

// Notification is one per-user inbox entry written through the notification
// sink. Writes are fire-and-forget; failures never propagate to the business
// operation that produced them.
type Notification struct {
	ID        uuid.UUID    `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	UserID    string       `gorm:"not null;index" json:"userId"`
	Type      string       `gorm:"type:varchar(50);not null" json:"type"`
	Title     string       `gorm:"not null" json:"title"`
	Message   string       `json:"message"`
	Priority  TaskPriority `gorm:"type:varchar(20);default:'low'" json:"priority"`
	Metadata  JSONB        `gorm:"type:jsonb" json:"metadata,omitempty"`
	Read      bool         `gorm:"default:false;index" json:"read"`
	CreatedAt time.Time    `json:"createdAt"`
}

func (Notification) TableName() string {
	return "notifications"
}
