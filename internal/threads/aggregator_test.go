package threads

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"discuzz/internal/ai"
	"discuzz/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryComments struct {
	mu     sync.Mutex
	nextID uint
	rows   map[uint]*models.Comment

	createErr error
	markErr   error
}

func newMemoryComments() *memoryComments {
	return &memoryComments{rows: make(map[uint]*models.Comment)}
}

func (m *memoryComments) Create(_ context.Context, comment *models.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	comment.ID = m.nextID
	copied := *comment
	m.rows[comment.ID] = &copied
	return nil
}

func (m *memoryComments) GetByID(_ context.Context, id uint) (*models.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return nil, models.NewNotFoundError("comment", id)
	}
	copied := *c
	return &copied, nil
}

func (m *memoryComments) ListThread(_ context.Context, threadID uint) ([]*models.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Comment
	for id := uint(1); id <= m.nextID; id++ {
		if c, ok := m.rows[id]; ok && c.ThreadID == threadID {
			copied := *c
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memoryComments) ListUnemitted(_ context.Context, limit int) ([]*models.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Comment
	for id := uint(1); id <= m.nextID && len(out) < limit; id++ {
		if c, ok := m.rows[id]; ok && !c.EventEmitted {
			copied := *c
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memoryComments) MarkEmitted(_ context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	if c, ok := m.rows[id]; ok {
		c.EventEmitted = true
	}
	return nil
}

type memoryEmitter struct {
	mu     sync.Mutex
	events []*models.Event
	err    error
}

func (m *memoryEmitter) Append(_ context.Context, eventType models.EventType, actorID, targetID uint, payload models.EventPayload) (*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	event := &models.Event{
		ID:       uint(len(m.events) + 1),
		Type:     eventType,
		ActorID:  actorID,
		TargetID: targetID,
	}
	m.events = append(m.events, event)
	return event, nil
}

func (m *memoryEmitter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

type stubDirectory struct {
	optIn map[uint]bool
}

func (s *stubDirectory) DelegateOptIn(_ context.Context, userID uint) (bool, error) {
	return s.optIn[userID], nil
}

type stubGenerator struct {
	replyFunc func(ctx context.Context, rc ai.ReplyContext) (string, error)
}

func (s *stubGenerator) GenerateReply(ctx context.Context, rc ai.ReplyContext) (string, error) {
	return s.replyFunc(ctx, rc)
}

func newTestAggregator(comments *memoryComments, emitter *memoryEmitter, optIn map[uint]bool, gen ai.Generator) *Aggregator {
	return NewAggregator(comments, &stubDirectory{optIn: optIn}, emitter, gen, time.Second)
}

func TestAggregator_Post_Root(t *testing.T) {
	comments := newMemoryComments()
	emitter := &memoryEmitter{}
	agg := newTestAggregator(comments, emitter, nil, nil)

	comment, err := agg.Post(context.Background(), 1, nil, 10, "hello world", false)
	require.NoError(t, err)
	assert.NotZero(t, comment.ID)
	assert.Equal(t, 1, emitter.count())

	stored, err := comments.GetByID(context.Background(), comment.ID)
	require.NoError(t, err)
	assert.True(t, stored.EventEmitted)
}

func TestAggregator_Post_InvalidParent(t *testing.T) {
	comments := newMemoryComments()
	emitter := &memoryEmitter{}
	agg := newTestAggregator(comments, emitter, nil, nil)
	ctx := context.Background()

	root, err := agg.Post(ctx, 1, nil, 10, "root", false)
	require.NoError(t, err)

	t.Run("missing parent", func(t *testing.T) {
		missing := uint(999)
		_, err := agg.Post(ctx, 1, &missing, 11, "reply", false)
		assert.True(t, models.IsCode(err, models.CodeInvalidParent))
	})

	t.Run("parent in another thread", func(t *testing.T) {
		_, err := agg.Post(ctx, 2, &root.ID, 11, "reply", false)
		assert.True(t, models.IsCode(err, models.CodeInvalidParent))
	})

	t.Run("valid parent", func(t *testing.T) {
		reply, err := agg.Post(ctx, 1, &root.ID, 11, "reply", false)
		require.NoError(t, err)
		assert.Equal(t, root.ID, *reply.ParentID)
	})
}

func TestAggregator_Post_EmptyBody(t *testing.T) {
	agg := newTestAggregator(newMemoryComments(), &memoryEmitter{}, nil, nil)

	_, err := agg.Post(context.Background(), 1, nil, 10, "   ", false)
	assert.True(t, models.IsCode(err, models.CodeValidation))
}

func TestAggregator_Post_EmissionFailureDoesNotFailPost(t *testing.T) {
	comments := newMemoryComments()
	emitter := &memoryEmitter{err: errors.New("event store down")}
	agg := newTestAggregator(comments, emitter, nil, nil)

	comment, err := agg.Post(context.Background(), 1, nil, 10, "hello", false)
	require.NoError(t, err)

	stored, err := comments.GetByID(context.Background(), comment.ID)
	require.NoError(t, err)
	assert.False(t, stored.EventEmitted)
}

func TestAggregator_Sweep(t *testing.T) {
	comments := newMemoryComments()
	emitter := &memoryEmitter{err: errors.New("event store down")}
	agg := newTestAggregator(comments, emitter, nil, nil)
	ctx := context.Background()

	_, err := agg.Post(ctx, 1, nil, 10, "one", false)
	require.NoError(t, err)
	_, err = agg.Post(ctx, 1, nil, 11, "two", false)
	require.NoError(t, err)
	assert.Zero(t, emitter.count())

	// Event store recovers; the sweep emits what was lost.
	emitter.mu.Lock()
	emitter.err = nil
	emitter.mu.Unlock()

	recovered := agg.SweepUnemitted(ctx)
	assert.Equal(t, 2, recovered)
	assert.Equal(t, 2, emitter.count())
	assert.Zero(t, agg.SweepUnemitted(ctx))
}

func TestAggregator_DelegateReply(t *testing.T) {
	comments := newMemoryComments()
	emitter := &memoryEmitter{}
	gen := &stubGenerator{
		replyFunc: func(_ context.Context, rc ai.ReplyContext) (string, error) {
			assert.Equal(t, "root", rc.ParentBody)
			assert.Equal(t, "reply", rc.ReplyBody)
			return "delegate answer", nil
		},
	}
	agg := newTestAggregator(comments, emitter, map[uint]bool{10: true}, gen)
	ctx := context.Background()

	root, err := agg.Post(ctx, 1, nil, 10, "root", false)
	require.NoError(t, err)
	reply, err := agg.Post(ctx, 1, &root.ID, 11, "reply", false)
	require.NoError(t, err)

	agg.WaitDelegates()

	thread, err := agg.ListThread(ctx, 1)
	require.NoError(t, err)
	require.Len(t, thread, 3)

	delegate := thread[2]
	assert.True(t, delegate.IsAIDelegate)
	assert.Equal(t, uint(10), delegate.AuthorID)
	assert.Equal(t, reply.ID, *delegate.ParentID)
	assert.Equal(t, "delegate answer", delegate.Body)
}

func TestAggregator_DelegateReply_NotOptedIn(t *testing.T) {
	comments := newMemoryComments()
	gen := &stubGenerator{
		replyFunc: func(_ context.Context, _ ai.ReplyContext) (string, error) {
			t.Error("generator must not be called")
			return "", nil
		},
	}
	agg := newTestAggregator(comments, &memoryEmitter{}, map[uint]bool{}, gen)
	ctx := context.Background()

	root, err := agg.Post(ctx, 1, nil, 10, "root", false)
	require.NoError(t, err)
	_, err = agg.Post(ctx, 1, &root.ID, 11, "reply", false)
	require.NoError(t, err)

	agg.WaitDelegates()
	thread, _ := agg.ListThread(ctx, 1)
	assert.Len(t, thread, 2)
}

func TestAggregator_DelegateReply_Timeout(t *testing.T) {
	comments := newMemoryComments()
	gen := &stubGenerator{
		replyFunc: func(ctx context.Context, _ ai.ReplyContext) (string, error) {
			<-ctx.Done()
			return "", models.NewTimeoutError("delegate reply generation")
		},
	}
	agg := NewAggregator(comments, &stubDirectory{optIn: map[uint]bool{10: true}}, &memoryEmitter{}, gen, 20*time.Millisecond)
	ctx := context.Background()

	root, err := agg.Post(ctx, 1, nil, 10, "root", false)
	require.NoError(t, err)
	// The posting path itself must not observe the timeout.
	_, err = agg.Post(ctx, 1, &root.ID, 11, "reply", false)
	require.NoError(t, err)

	agg.WaitDelegates()
	thread, _ := agg.ListThread(ctx, 1)
	// No delegate node; one-shot, no retry.
	assert.Len(t, thread, 2)
}

func TestAggregator_DelegateReply_NoLoopOnDelegateParent(t *testing.T) {
	comments := newMemoryComments()
	calls := 0
	var mu sync.Mutex
	gen := &stubGenerator{
		replyFunc: func(_ context.Context, _ ai.ReplyContext) (string, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			return "delegate answer", nil
		},
	}
	agg := newTestAggregator(comments, &memoryEmitter{}, map[uint]bool{10: true, 11: true}, gen)
	ctx := context.Background()

	root, err := agg.Post(ctx, 1, nil, 10, "root", false)
	require.NoError(t, err)
	_, err = agg.Post(ctx, 1, &root.ID, 11, "reply", false)
	require.NoError(t, err)

	agg.WaitDelegates()
	agg.WaitDelegates()

	// Exactly one generation: the delegate's own node never triggers another.
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestAggregator_ConcurrentPostsSameThread(t *testing.T) {
	comments := newMemoryComments()
	agg := newTestAggregator(comments, &memoryEmitter{}, nil, nil)
	ctx := context.Background()

	root, err := agg.Post(ctx, 1, nil, 1, "root", false)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(author uint) {
			defer wg.Done()
			_, err := agg.Post(ctx, 1, &root.ID, author, "reply", false)
			assert.NoError(t, err)
		}(uint(i + 2))
	}
	wg.Wait()

	thread, err := agg.ListThread(ctx, 1)
	require.NoError(t, err)
	require.Len(t, thread, 21)

	// Every non-root node's parent exists in the same thread.
	byID := map[uint]*models.Comment{}
	for _, c := range thread {
		byID[c.ID] = c
	}
	for _, c := range thread {
		if c.ParentID == nil {
			continue
		}
		parent, ok := byID[*c.ParentID]
		require.True(t, ok)
		assert.Equal(t, c.ThreadID, parent.ThreadID)
		assert.Less(t, *c.ParentID, c.ID)
	}
}

func TestPreview_TruncatesOnRuneBoundary(t *testing.T) {
	short := "hello"
	assert.Equal(t, short, preview(short))

	long := strings.Repeat("a", previewLength+20)
	assert.Len(t, preview(long), previewLength)

	// Multi-byte runes straddling the cut point must not be split.
	multibyte := strings.Repeat("é", previewLength)
	got := preview(multibyte)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), previewLength)
	assert.NotEmpty(t, got)
}
