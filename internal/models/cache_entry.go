package models

import (
	"time"
)

// CacheEntry is a row of the database-backed cache store. A zero ExpiresAt
// never expires.
type CacheEntry struct {
	Key       string    `gorm:"column:cache_key;primaryKey;size:512"`
	Value     []byte    `gorm:"type:blob"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expired reports whether the entry is past its expiry at now.
func (e CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}
