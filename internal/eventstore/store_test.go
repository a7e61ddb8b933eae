package eventstore

import (
	"context"
	"encoding/json"
	"testing"

	"discuzz/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEventRepo struct {
	appendFunc    func(ctx context.Context, event *models.Event) error
	listSinceFunc func(ctx context.Context, cursor uint, limit int) ([]*models.Event, error)
	getByIDFunc   func(ctx context.Context, id uint) (*models.Event, error)
}

func (s *stubEventRepo) Append(ctx context.Context, event *models.Event) error {
	return s.appendFunc(ctx, event)
}

func (s *stubEventRepo) GetByID(ctx context.Context, id uint) (*models.Event, error) {
	return s.getByIDFunc(ctx, id)
}

func (s *stubEventRepo) ListSince(ctx context.Context, cursor uint, limit int) ([]*models.Event, error) {
	return s.listSinceFunc(ctx, cursor, limit)
}

func TestStore_Append(t *testing.T) {
	var captured *models.Event
	repo := &stubEventRepo{
		appendFunc: func(_ context.Context, event *models.Event) error {
			event.ID = 42
			captured = event
			return nil
		},
	}
	store := New(repo, nil)

	event, err := store.Append(context.Background(), models.EventCommentPosted, 1, 7, models.EventPayload{
		CommentID: 9,
		ThreadID:  7,
		Mentions:  []uint{3},
	})
	require.NoError(t, err)
	assert.Equal(t, uint(42), event.ID)
	assert.Same(t, captured, event)

	var payload models.EventPayload
	require.NoError(t, json.Unmarshal([]byte(event.Payload), &payload))
	assert.Equal(t, uint(9), payload.CommentID)
	assert.Equal(t, []uint{3}, payload.Mentions)
}

func TestStore_Append_RepoError(t *testing.T) {
	repo := &stubEventRepo{
		appendFunc: func(_ context.Context, event *models.Event) error {
			return models.NewUnknownEventTypeError(string(event.Type))
		},
	}
	store := New(repo, nil)

	_, err := store.Append(context.Background(), "bogus", 1, 2, models.EventPayload{})
	assert.True(t, models.IsCode(err, models.CodeUnknownEventType))
}

func TestStore_Cursor(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := New(&stubEventRepo{}, rdb)
	ctx := context.Background()

	// Missing key starts from zero.
	assert.Equal(t, uint(0), store.Cursor(ctx))

	store.CommitCursor(ctx, 17)
	assert.Equal(t, uint(17), store.Cursor(ctx))

	// Corrupt value falls back to zero instead of erroring.
	mr.Set("fanout:cursor", "not-a-number")
	assert.Equal(t, uint(0), store.Cursor(ctx))
}

func TestStore_Cursor_NoRedis(t *testing.T) {
	store := New(&stubEventRepo{}, nil)
	ctx := context.Background()

	assert.Equal(t, uint(0), store.Cursor(ctx))
	store.CommitCursor(ctx, 5) // must not panic
}
