package models

import (
	"time"
)

// NotificationState is the delivery state of a notification. Transitions only
// move forward: pending -> delivered -> read, or pending/delivered -> failed.
// A failed notification may still become delivered when the recipient
// reconnects and the push is retried; read is terminal.
type NotificationState string

const (
	NotificationPending   NotificationState = "pending"
	NotificationDelivered NotificationState = "delivered"
	NotificationRead      NotificationState = "read"
	NotificationFailed    NotificationState = "failed"
)

// CanTransition reports whether moving from s to next is a legal forward
// transition.
func (s NotificationState) CanTransition(next NotificationState) bool {
	switch s {
	case NotificationPending:
		return next == NotificationDelivered || next == NotificationFailed
	case NotificationDelivered:
		return next == NotificationRead || next == NotificationFailed
	case NotificationFailed:
		return next == NotificationDelivered
	case NotificationRead:
		return false
	}
	return false
}

// Notification is one recipient's copy of a domain event. The unique index on
// (event_id, recipient_id) makes fan-out idempotent under retry. State is
// mutated only through the dispatcher's optimistic version-checked update.
type Notification struct {
	ID          uint              `gorm:"primaryKey" json:"id"`
	RecipientID uint              `gorm:"not null;index;uniqueIndex:idx_notifications_event_recipient" json:"recipient_id"`
	EventID     uint              `gorm:"not null;uniqueIndex:idx_notifications_event_recipient" json:"event_id"`
	Event       *Event            `gorm:"foreignKey:EventID" json:"event,omitempty"`
	State       NotificationState `gorm:"not null;default:'pending';index" json:"state"`
	Version     uint              `gorm:"not null;default:0" json:"-"`
	CreatedAt   time.Time         `json:"created_at"`
	DeliveredAt *time.Time        `json:"delivered_at,omitempty"`
}
