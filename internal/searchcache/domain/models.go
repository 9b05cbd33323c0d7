package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Status tags a cached outcome. Transient upstream errors are never
// written, so these two values are exhaustive.
type Status string

const (
	StatusSuccess Status = "success"
	StatusNoMatch Status = "no_match"
)

// Entry is one cached lookup result. The payload is opaque and immutable
// once written; reads return it exactly as stored.
type Entry struct {
	ID             snowflake.ID    `gorm:"primaryKey" json:"id"`
	AccountID      string          `gorm:"type:text;not null;uniqueIndex:ux_search_cache_entries_key,priority:1" json:"account_id"`
	SearchTerm     string          `gorm:"type:text;not null;uniqueIndex:ux_search_cache_entries_key,priority:2" json:"search_term"`
	SearchMode     string          `gorm:"type:text;not null;uniqueIndex:ux_search_cache_entries_key,priority:3" json:"search_mode"`
	Status         Status          `gorm:"type:text;not null" json:"status"`
	Payload        json.RawMessage `gorm:"type:text;not null" json:"payload"`
	CreatedAt      time.Time       `gorm:"not null" json:"created_at"`
	LastAccessedAt time.Time       `gorm:"not null;index:idx_search_cache_entries_idle" json:"last_accessed_at"`
	AccessCount    int64           `gorm:"not null;default:0" json:"access_count"`
}

// TableName sets the database table name.
func (Entry) TableName() string { return "search_cache_entries" }
