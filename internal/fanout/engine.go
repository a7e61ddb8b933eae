// Package fanout expands domain events into per-recipient notification rows.
package fanout

import (
	"context"
	"encoding/json"
	"sort"

	"discuzz/internal/models"
	"discuzz/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

// SubscriptionSource is the slice of the follow graph the engine reads.
type SubscriptionSource interface {
	FollowersOf(ctx context.Context, targetID uint) ([]uint, error)
	SpaceSubscribers(ctx context.Context, spaceID uint) ([]uint, error)
	IsSubscribed(ctx context.Context, subscriberID, targetID uint, kind models.SubscriptionKind) (bool, error)
}

// CommentSource resolves the reply chain for comment_posted events.
type CommentSource interface {
	AncestorAuthors(ctx context.Context, commentID uint) ([]uint, error)
}

// NotificationSink persists notification drafts. The implementation must skip
// rows that already exist for the same (event, recipient) pair.
type NotificationSink interface {
	CreateBatch(ctx context.Context, notifications []*models.Notification) error
}

// Engine turns one event into notification rows for every interested
// recipient. Expansion is all-or-nothing per event: a collaborator failure
// aborts before anything is written, and the event stays behind the cursor
// for the next pass.
type Engine struct {
	subs      SubscriptionSource
	comments  CommentSource
	notifs    NotificationSink
	batchSize int
}

// NewEngine creates an Engine. batchSize caps recipients written per insert
// so one viral event cannot monopolize a transaction.
func NewEngine(subs SubscriptionSource, comments CommentSource, notifs NotificationSink, batchSize int) *Engine {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Engine{subs: subs, comments: comments, notifs: notifs, batchSize: batchSize}
}

// Expand resolves recipients for the event and persists one pending
// notification per recipient. Re-running for the same event is a no-op thanks
// to the (event_id, recipient_id) uniqueness constraint.
func (e *Engine) Expand(ctx context.Context, event *models.Event) ([]*models.Notification, error) {
	ctx, end := observability.StartSpan(ctx, "fanout.Expand",
		attribute.Int64("event.id", int64(event.ID)),
		attribute.String("event.type", string(event.Type)))
	done := observability.TrackFanout(string(event.Type))
	defer done()

	recipients, err := e.resolve(ctx, event)
	if err != nil {
		end(err)
		return nil, err
	}

	notifications := make([]*models.Notification, 0, len(recipients))
	for _, recipientID := range recipients {
		notifications = append(notifications, &models.Notification{
			EventID:     event.ID,
			RecipientID: recipientID,
			State:       models.NotificationPending,
		})
	}

	for start := 0; start < len(notifications); start += e.batchSize {
		stop := start + e.batchSize
		if stop > len(notifications) {
			stop = len(notifications)
		}
		if err := e.notifs.CreateBatch(ctx, notifications[start:stop]); err != nil {
			end(err)
			return nil, err
		}
	}

	observability.FanoutRecipients.Observe(float64(len(notifications)))
	end(nil)
	return notifications, nil
}

// resolve computes the deduplicated, actor-excluded recipient set per event
// type. The switch is exhaustive; anything else is an UnknownEventType error.
func (e *Engine) resolve(ctx context.Context, event *models.Event) ([]uint, error) {
	var payload models.EventPayload
	if event.Payload != "" {
		if err := json.Unmarshal([]byte(event.Payload), &payload); err != nil {
			return nil, models.NewValidationError("malformed event payload")
		}
	}

	var recipients []uint
	switch event.Type {
	case models.EventCommentPosted:
		authors, err := e.comments.AncestorAuthors(ctx, payload.CommentID)
		if err != nil {
			return nil, models.NewRecipientResolutionError(err)
		}
		recipients = authors

	case models.EventFollow:
		recipients = []uint{event.TargetID}

	case models.EventMention:
		for _, mentioned := range payload.Mentions {
			ok, err := e.subs.IsSubscribed(ctx, mentioned, event.ActorID, models.SubscriptionFollow)
			if err != nil {
				return nil, models.NewRecipientResolutionError(err)
			}
			if ok {
				recipients = append(recipients, mentioned)
			}
		}

	case models.EventSpaceStarted:
		followers, err := e.subs.FollowersOf(ctx, event.ActorID)
		if err != nil {
			return nil, models.NewRecipientResolutionError(err)
		}
		recipients = followers
		if payload.SpaceID != 0 {
			subscribers, err := e.subs.SpaceSubscribers(ctx, payload.SpaceID)
			if err != nil {
				return nil, models.NewRecipientResolutionError(err)
			}
			recipients = append(recipients, subscribers...)
		}

	default:
		return nil, models.NewUnknownEventTypeError(string(event.Type))
	}

	return dedup(recipients, event.ActorID), nil
}

// dedup removes duplicates and the actor, returning recipients in a stable
// order.
func dedup(ids []uint, exclude uint) []uint {
	seen := make(map[uint]bool, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == exclude || id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
