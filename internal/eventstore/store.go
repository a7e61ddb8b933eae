// Package eventstore wraps the append-only event log and the fan-out read
// cursor. Events are validated and appended here; the fan-out engine reads
// them back in ID order from wherever the cursor last stopped.
package eventstore

import (
	"context"
	"encoding/json"
	"strconv"

	"discuzz/internal/middleware"
	"discuzz/internal/models"
	"discuzz/internal/observability"
	"discuzz/internal/repository"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
)

const cursorKey = "fanout:cursor"

// Store is the write and read surface of the event log.
type Store struct {
	events repository.EventRepository
	rdb    *redis.Client
}

// New creates a Store. rdb may be nil; the cursor then restarts from zero,
// which is safe because notification creation is idempotent.
func New(events repository.EventRepository, rdb *redis.Client) *Store {
	return &Store{events: events, rdb: rdb}
}

// Append validates and persists a new domain event. The returned event carries
// the database-assigned, strictly increasing ID.
func (s *Store) Append(ctx context.Context, eventType models.EventType, actorID, targetID uint, payload models.EventPayload) (*models.Event, error) {
	ctx, end := observability.StartSpan(ctx, "eventstore.Append",
		attribute.String("event.type", string(eventType)))

	raw, err := json.Marshal(payload)
	if err != nil {
		end(err)
		return nil, models.NewInternalError(err)
	}

	event := &models.Event{
		Type:     eventType,
		ActorID:  actorID,
		TargetID: targetID,
		Payload:  string(raw),
	}
	if err := s.events.Append(ctx, event); err != nil {
		end(err)
		return nil, err
	}

	observability.EventsAppended.WithLabelValues(string(eventType)).Inc()
	end(nil)
	return event, nil
}

// ReadSince returns up to limit events with ID greater than cursor, in ID
// order.
func (s *Store) ReadSince(ctx context.Context, cursor uint, limit int) ([]*models.Event, error) {
	return s.events.ListSince(ctx, cursor, limit)
}

// GetByID fetches a single event.
func (s *Store) GetByID(ctx context.Context, id uint) (*models.Event, error) {
	return s.events.GetByID(ctx, id)
}

// Cursor returns the persisted fan-out cursor, or zero when Redis is down or
// the key is missing. Restarting from zero only re-reads events whose
// notifications already exist, and those inserts no-op.
func (s *Store) Cursor(ctx context.Context) uint {
	if s.rdb == nil {
		return 0
	}
	val, err := s.rdb.Get(ctx, cursorKey).Result()
	if err != nil {
		if err != redis.Nil {
			middleware.Logger.WarnContext(ctx, "Failed to read fan-out cursor", "error", err)
		}
		return 0
	}
	cursor, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		middleware.Logger.WarnContext(ctx, "Corrupt fan-out cursor, restarting from zero", "value", val)
		return 0
	}
	return uint(cursor)
}

// CommitCursor records that fan-out has processed all events up to and
// including id. Failures are logged and swallowed; the worst case is
// re-processing.
func (s *Store) CommitCursor(ctx context.Context, id uint) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Set(ctx, cursorKey, strconv.FormatUint(uint64(id), 10), 0).Err(); err != nil {
		middleware.Logger.WarnContext(ctx, "Failed to persist fan-out cursor", "error", err, "cursor", id)
	}
}
