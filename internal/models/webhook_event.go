package models

import (
	"time"

	"gorm.io/datatypes"
)

// WebhookEvent is a webhook delivery persisted before it is dispatched.
type WebhookEvent struct {
	BaseModel

	WebhookID   *string        `gorm:"size:64;uniqueIndex" json:"webhook_id,omitempty"`
	Topic       string         `gorm:"size:64;not null;index:idx_webhook_topic_shop" json:"topic"`
	Shop        string         `gorm:"size:255;not null;index:idx_webhook_topic_shop" json:"shop"`
	Payload     datatypes.JSON `json:"payload"`
	Processed   bool           `gorm:"not null;default:false;index" json:"processed"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
	Error       string         `gorm:"type:text" json:"error,omitempty"`
	ArchiveKey  string         `gorm:"size:512" json:"archive_key,omitempty"`
}
