// Package models contains data structures for the application's domain models.
package models

import (
	"time"
)

// EventType identifies the kind of domain event. The set is closed: every
// consumer switches exhaustively and rejects anything else.
type EventType string

const (
	EventCommentPosted EventType = "comment_posted"
	EventFollow        EventType = "follow"
	EventMention       EventType = "mention"
	EventSpaceStarted  EventType = "space_started"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventCommentPosted, EventFollow, EventMention, EventSpaceStarted:
		return true
	}
	return false
}

// Event is an immutable domain event in the append-only log. IDs are assigned
// by the database sequence and are strictly increasing, which makes them
// usable as read cursors.
type Event struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Type      EventType `gorm:"not null;index" json:"type"`
	ActorID   uint      `gorm:"not null" json:"actor_id"`
	TargetID  uint      `gorm:"not null;index" json:"target_id"`
	Payload   string    `gorm:"type:jsonb;default:'{}'" json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// EventPayload is the structured portion of Event.Payload that the fan-out
// engine understands. Producers may attach extra fields; they are ignored.
type EventPayload struct {
	CommentID uint   `json:"comment_id,omitempty"`
	ThreadID  uint   `json:"thread_id,omitempty"`
	SpaceID   uint   `json:"space_id,omitempty"`
	Mentions  []uint `json:"mentions,omitempty"`
	Preview   string `json:"preview,omitempty"`
}
