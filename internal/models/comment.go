package models

import (
	"time"

	"gorm.io/gorm"
)

// Comment is a node in a thread's reply tree. Nodes are immutable after
// creation except for moderation tombstones (soft delete). EventEmitted
// tracks whether the comment_posted event made it into the event log; the
// aggregator's background sweep reconciles rows where it is still false.
type Comment struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	ThreadID     uint           `gorm:"not null;index" json:"thread_id"`
	ParentID     *uint          `gorm:"index" json:"parent_id,omitempty"`
	AuthorID     uint           `gorm:"not null;index" json:"author_id"`
	Body         string         `gorm:"type:text;not null" json:"body"`
	IsAIDelegate bool           `gorm:"not null;default:false" json:"is_ai_delegate"`
	EventEmitted bool           `gorm:"not null;default:false;index" json:"-"`
	CreatedAt    time.Time      `json:"created_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}
