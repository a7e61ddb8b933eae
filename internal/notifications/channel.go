package notifications

import (
	"context"
	"fmt"
)

// LiveChannel adapts the hub and notifier into the dispatcher's push
// interface. With Redis available, pushes go through pub/sub so whichever
// node holds the recipient's socket delivers; without it, delivery is local
// to this process.
type LiveChannel struct {
	hub      *Hub
	notifier *Notifier
}

// NewLiveChannel creates the adapter.
func NewLiveChannel(hub *Hub, notifier *Notifier) *LiveChannel {
	return &LiveChannel{hub: hub, notifier: notifier}
}

// IsConnected reports whether the user has an active connection anywhere.
func (c *LiveChannel) IsConnected(userID uint) bool {
	return c.hub.IsOnline(userID)
}

// Push delivers a payload to the user's connections. A publish that reaches
// zero subscribers is a failed push: presence keys can outlive the socket by
// their TTL, and reporting success here would mark the row delivered without
// anyone receiving it.
func (c *LiveChannel) Push(ctx context.Context, userID uint, payload []byte) error {
	if c.notifier != nil && c.notifier.rdb != nil {
		receivers, err := c.notifier.PublishUser(ctx, userID, string(payload))
		if err != nil {
			return err
		}
		if receivers == 0 {
			return fmt.Errorf("user %d has no live subscriber", userID)
		}
		return nil
	}
	return c.hub.Send(userID, payload)
}
