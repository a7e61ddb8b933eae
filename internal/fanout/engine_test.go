package fanout

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"discuzz/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSubs struct {
	followersFunc    func(ctx context.Context, targetID uint) ([]uint, error)
	spaceSubsFunc    func(ctx context.Context, spaceID uint) ([]uint, error)
	isSubscribedFunc func(ctx context.Context, subscriberID, targetID uint, kind models.SubscriptionKind) (bool, error)
}

func (s *stubSubs) FollowersOf(ctx context.Context, targetID uint) ([]uint, error) {
	return s.followersFunc(ctx, targetID)
}

func (s *stubSubs) SpaceSubscribers(ctx context.Context, spaceID uint) ([]uint, error) {
	return s.spaceSubsFunc(ctx, spaceID)
}

func (s *stubSubs) IsSubscribed(ctx context.Context, subscriberID, targetID uint, kind models.SubscriptionKind) (bool, error) {
	return s.isSubscribedFunc(ctx, subscriberID, targetID, kind)
}

type stubComments struct {
	ancestorsFunc func(ctx context.Context, commentID uint) ([]uint, error)
}

func (s *stubComments) AncestorAuthors(ctx context.Context, commentID uint) ([]uint, error) {
	return s.ancestorsFunc(ctx, commentID)
}

type memorySink struct {
	created map[string]bool // "event:recipient" keys already inserted
	batches [][]*models.Notification
	err     error
}

func newMemorySink() *memorySink {
	return &memorySink{created: make(map[string]bool)}
}

func (s *memorySink) CreateBatch(_ context.Context, notifications []*models.Notification) error {
	if s.err != nil {
		return s.err
	}
	var kept []*models.Notification
	for _, n := range notifications {
		key := fmt.Sprintf("%d:%d", n.EventID, n.RecipientID)
		if s.created[key] {
			continue
		}
		s.created[key] = true
		kept = append(kept, n)
	}
	s.batches = append(s.batches, kept)
	return nil
}

func (s *memorySink) total() int {
	return len(s.created)
}

func TestEngine_Expand_CommentPosted(t *testing.T) {
	comments := &stubComments{
		// Ancestor chain authors include the actor (20) and a duplicate.
		ancestorsFunc: func(_ context.Context, commentID uint) ([]uint, error) {
			assert.Equal(t, uint(9), commentID)
			return []uint{10, 20, 10}, nil
		},
	}
	engine := NewEngine(&stubSubs{}, comments, newMemorySink(), 500)

	event := &models.Event{
		ID:       1,
		Type:     models.EventCommentPosted,
		ActorID:  20,
		TargetID: 7,
		Payload:  `{"comment_id":9,"thread_id":7}`,
	}

	notifications, err := engine.Expand(context.Background(), event)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, uint(10), notifications[0].RecipientID)
	assert.Equal(t, models.NotificationPending, notifications[0].State)
}

func TestEngine_Expand_Follow(t *testing.T) {
	engine := NewEngine(&stubSubs{}, &stubComments{}, newMemorySink(), 500)

	event := &models.Event{ID: 2, Type: models.EventFollow, ActorID: 1, TargetID: 2}
	notifications, err := engine.Expand(context.Background(), event)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, uint(2), notifications[0].RecipientID)
}

func TestEngine_Expand_Mention(t *testing.T) {
	subs := &stubSubs{
		// Only user 5 follows the actor; user 6's mention is dropped.
		isSubscribedFunc: func(_ context.Context, subscriberID, targetID uint, kind models.SubscriptionKind) (bool, error) {
			assert.Equal(t, uint(1), targetID)
			assert.Equal(t, models.SubscriptionFollow, kind)
			return subscriberID == 5, nil
		},
	}
	engine := NewEngine(subs, &stubComments{}, newMemorySink(), 500)

	event := &models.Event{
		ID:      3,
		Type:    models.EventMention,
		ActorID: 1, TargetID: 9,
		Payload: `{"mentions":[5,6]}`,
	}
	notifications, err := engine.Expand(context.Background(), event)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, uint(5), notifications[0].RecipientID)
}

func TestEngine_Expand_SpaceStarted(t *testing.T) {
	subs := &stubSubs{
		followersFunc: func(_ context.Context, targetID uint) ([]uint, error) {
			return []uint{2, 3}, nil
		},
		spaceSubsFunc: func(_ context.Context, spaceID uint) ([]uint, error) {
			return []uint{3, 4}, nil
		},
	}
	engine := NewEngine(subs, &stubComments{}, newMemorySink(), 500)

	event := &models.Event{
		ID:      4,
		Type:    models.EventSpaceStarted,
		ActorID: 1, TargetID: 77,
		Payload: `{"space_id":77}`,
	}
	notifications, err := engine.Expand(context.Background(), event)
	require.NoError(t, err)
	require.Len(t, notifications, 3)

	var recipients []uint
	for _, n := range notifications {
		recipients = append(recipients, n.RecipientID)
	}
	assert.Equal(t, []uint{2, 3, 4}, recipients)
}

func TestEngine_Expand_UnknownType(t *testing.T) {
	engine := NewEngine(&stubSubs{}, &stubComments{}, newMemorySink(), 500)

	_, err := engine.Expand(context.Background(), &models.Event{ID: 5, Type: "poke", ActorID: 1})
	assert.True(t, models.IsCode(err, models.CodeUnknownEventType))
}

func TestEngine_Expand_RecipientResolutionError(t *testing.T) {
	sink := newMemorySink()
	comments := &stubComments{
		ancestorsFunc: func(_ context.Context, _ uint) ([]uint, error) {
			return nil, errors.New("graph store unreachable")
		},
	}
	engine := NewEngine(&stubSubs{}, comments, sink, 500)

	event := &models.Event{ID: 6, Type: models.EventCommentPosted, ActorID: 1, Payload: `{"comment_id":2}`}
	_, err := engine.Expand(context.Background(), event)
	assert.True(t, models.IsCode(err, models.CodeRecipientResolution))
	// Nothing committed on failure.
	assert.Zero(t, sink.total())
}

func TestEngine_Expand_Idempotent(t *testing.T) {
	sink := newMemorySink()
	subs := &stubSubs{
		followersFunc: func(_ context.Context, _ uint) ([]uint, error) {
			return []uint{2, 3, 4}, nil
		},
		spaceSubsFunc: func(_ context.Context, _ uint) ([]uint, error) {
			return nil, nil
		},
	}
	engine := NewEngine(subs, &stubComments{}, sink, 500)

	event := &models.Event{ID: 7, Type: models.EventSpaceStarted, ActorID: 1, TargetID: 9}
	_, err := engine.Expand(context.Background(), event)
	require.NoError(t, err)
	_, err = engine.Expand(context.Background(), event)
	require.NoError(t, err)

	// Expanding twice leaves exactly one row per recipient.
	assert.Equal(t, 3, sink.total())
}

func TestEngine_Expand_BatchesLargeRecipientSets(t *testing.T) {
	sink := newMemorySink()
	many := make([]uint, 1200)
	for i := range many {
		many[i] = uint(i + 2)
	}
	subs := &stubSubs{
		followersFunc: func(_ context.Context, _ uint) ([]uint, error) { return many, nil },
		spaceSubsFunc: func(_ context.Context, _ uint) ([]uint, error) { return nil, nil },
	}
	engine := NewEngine(subs, &stubComments{}, sink, 500)

	event := &models.Event{ID: 8, Type: models.EventSpaceStarted, ActorID: 1, TargetID: 9}
	notifications, err := engine.Expand(context.Background(), event)
	require.NoError(t, err)
	assert.Len(t, notifications, 1200)
	// 1200 recipients at a batch cap of 500 means three inserts.
	assert.Len(t, sink.batches, 3)
}
