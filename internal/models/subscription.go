package models

import (
	"time"
)

// SubscriptionKind distinguishes why a subscriber is interested in a target.
type SubscriptionKind string

const (
	SubscriptionFollow SubscriptionKind = "follow"
	SubscriptionSpace  SubscriptionKind = "space"
)

// Subscription is follow-graph data owned by an external collaborator. The
// fan-out engine reads it to resolve recipients and never writes it.
type Subscription struct {
	ID           uint             `gorm:"primaryKey" json:"id"`
	SubscriberID uint             `gorm:"not null;uniqueIndex:idx_subscriptions_edge" json:"subscriber_id"`
	TargetID     uint             `gorm:"not null;index;uniqueIndex:idx_subscriptions_edge" json:"target_id"`
	Kind         SubscriptionKind `gorm:"not null;default:'follow';uniqueIndex:idx_subscriptions_edge" json:"kind"`
	CreatedAt    time.Time        `json:"created_at"`
}

// User carries the slice of profile data the core needs: identity and the
// AI-delegate opt-in flag. Profile management itself is out of scope.
type User struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Username        string    `gorm:"uniqueIndex;not null" json:"username"`
	DelegateEnabled bool      `gorm:"not null;default:false" json:"delegate_enabled"`
	CreatedAt       time.Time `json:"created_at"`
}
