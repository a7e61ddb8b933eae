// Package threads maintains comment trees: parent validation, per-thread
// insertion ordering, event emission, and AI delegate replies.
package threads

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"discuzz/internal/ai"
	"discuzz/internal/middleware"
	"discuzz/internal/models"
	"discuzz/internal/observability"
)

const (
	lockStripes   = 64
	previewLength = 140
	sweepBatch    = 100
)

// CommentStore is the slice of the comment repository the aggregator needs.
type CommentStore interface {
	Create(ctx context.Context, comment *models.Comment) error
	GetByID(ctx context.Context, id uint) (*models.Comment, error)
	ListThread(ctx context.Context, threadID uint) ([]*models.Comment, error)
	ListUnemitted(ctx context.Context, limit int) ([]*models.Comment, error)
	MarkEmitted(ctx context.Context, id uint) error
}

// DelegateDirectory answers whether a user opted into AI replies.
type DelegateDirectory interface {
	DelegateOptIn(ctx context.Context, userID uint) (bool, error)
}

// EventEmitter appends comment_posted events to the log.
type EventEmitter interface {
	Append(ctx context.Context, eventType models.EventType, actorID, targetID uint, payload models.EventPayload) (*models.Event, error)
}

// Aggregator owns all writes into comment threads. Insertion within one
// thread is serialized through a striped mutex so parent-before-child
// visibility holds; different threads proceed in parallel.
type Aggregator struct {
	comments CommentStore
	users    DelegateDirectory
	emitter  EventEmitter
	gen      ai.Generator

	replyTimeout time.Duration
	locks        [lockStripes]sync.Mutex
	delegates    sync.WaitGroup
}

// NewAggregator creates an Aggregator. gen may be nil; delegate replies are
// then disabled. replyTimeout bounds a single generation attempt (one-shot,
// no retry).
func NewAggregator(comments CommentStore, users DelegateDirectory, emitter EventEmitter, gen ai.Generator, replyTimeout time.Duration) *Aggregator {
	if replyTimeout <= 0 {
		replyTimeout = 10 * time.Second
	}
	return &Aggregator{
		comments:     comments,
		users:        users,
		emitter:      emitter,
		gen:          gen,
		replyTimeout: replyTimeout,
	}
}

// Post inserts a comment. The parent, when given, must exist in the same
// thread. Event emission happens after commit and its failure never fails
// the post; the sweep reconciles later. A reply to a delegate-enabled
// author's comment schedules an asynchronous AI reply that re-enters Post.
func (a *Aggregator) Post(ctx context.Context, threadID uint, parentID *uint, authorID uint, body string, isDelegate bool) (*models.Comment, error) {
	if threadID == 0 || authorID == 0 {
		return nil, models.NewValidationError("thread_id and author_id are required")
	}
	if strings.TrimSpace(body) == "" {
		return nil, models.NewValidationError("comment body cannot be empty")
	}

	var parent *models.Comment
	comment := &models.Comment{
		ThreadID:     threadID,
		ParentID:     parentID,
		AuthorID:     authorID,
		Body:         body,
		IsAIDelegate: isDelegate,
	}

	lock := &a.locks[threadID%lockStripes]
	lock.Lock()
	if parentID != nil {
		var err error
		parent, err = a.comments.GetByID(ctx, *parentID)
		if err != nil {
			lock.Unlock()
			return nil, models.NewInvalidParentError("parent comment does not exist")
		}
		if parent.ThreadID != threadID {
			lock.Unlock()
			return nil, models.NewInvalidParentError("parent belongs to a different thread")
		}
	}
	if err := a.comments.Create(ctx, comment); err != nil {
		lock.Unlock()
		return nil, err
	}
	lock.Unlock()

	a.emit(ctx, comment)

	if parent != nil && !isDelegate && a.gen != nil {
		a.maybeScheduleDelegateReply(ctx, parent, comment)
	}
	return comment, nil
}

// ListThread returns a thread's comments in insertion order.
func (a *Aggregator) ListThread(ctx context.Context, threadID uint) ([]*models.Comment, error) {
	return a.comments.ListThread(ctx, threadID)
}

// emit appends the comment_posted event and flags the row. Errors are logged
// and left for the sweep.
func (a *Aggregator) emit(ctx context.Context, comment *models.Comment) {
	payload := models.EventPayload{
		CommentID: comment.ID,
		ThreadID:  comment.ThreadID,
		Preview:   preview(comment.Body),
	}
	if _, err := a.emitter.Append(ctx, models.EventCommentPosted, comment.AuthorID, comment.ThreadID, payload); err != nil {
		middleware.Logger.WarnContext(ctx, "Failed to emit comment event, sweep will retry",
			"error", err, "comment_id", comment.ID)
		return
	}
	if err := a.comments.MarkEmitted(ctx, comment.ID); err != nil {
		// Worst case the sweep re-emits; fan-out dedup absorbs the duplicate
		// notifications but a second event row is possible.
		middleware.Logger.WarnContext(ctx, "Failed to flag emitted comment",
			"error", err, "comment_id", comment.ID)
	}
}

// maybeScheduleDelegateReply spawns the one-shot AI reply task when the
// parent author opted in. The task owns its own timeout-bounded context and
// re-enters Post like any other author.
func (a *Aggregator) maybeScheduleDelegateReply(ctx context.Context, parent, reply *models.Comment) {
	if parent.AuthorID == reply.AuthorID || parent.IsAIDelegate {
		return
	}
	opted, err := a.users.DelegateOptIn(ctx, parent.AuthorID)
	if err != nil {
		middleware.Logger.WarnContext(ctx, "Delegate opt-in lookup failed",
			"error", err, "user_id", parent.AuthorID)
		return
	}
	if !opted {
		return
	}

	a.delegates.Add(1)
	go func() {
		defer a.delegates.Done()
		taskCtx, cancel := context.WithTimeout(context.Background(), a.replyTimeout)
		defer cancel()

		text, err := a.gen.GenerateReply(taskCtx, ai.ReplyContext{
			ThreadID:   parent.ThreadID,
			ParentBody: parent.Body,
			ReplyBody:  reply.Body,
		})
		if err != nil {
			outcome := "error"
			if models.IsCode(err, models.CodeTimeout) {
				outcome = "timeout"
			}
			observability.DelegateReplies.WithLabelValues(outcome).Inc()
			middleware.Logger.WarnContext(taskCtx, "Delegate reply not generated",
				"error", err, "thread_id", parent.ThreadID, "comment_id", reply.ID)
			return
		}

		if _, err := a.Post(taskCtx, parent.ThreadID, &reply.ID, parent.AuthorID, text, true); err != nil {
			observability.DelegateReplies.WithLabelValues("error").Inc()
			middleware.Logger.WarnContext(taskCtx, "Failed to post delegate reply",
				"error", err, "thread_id", parent.ThreadID)
			return
		}
		observability.DelegateReplies.WithLabelValues("posted").Inc()
	}()
}

// SweepUnemitted re-emits events for committed comments whose emission was
// lost. Returns the number recovered.
func (a *Aggregator) SweepUnemitted(ctx context.Context) int {
	comments, err := a.comments.ListUnemitted(ctx, sweepBatch)
	if err != nil {
		middleware.Logger.ErrorContext(ctx, "Sweep failed to list unemitted comments", "error", err)
		return 0
	}

	recovered := 0
	for _, comment := range comments {
		payload := models.EventPayload{
			CommentID: comment.ID,
			ThreadID:  comment.ThreadID,
			Preview:   preview(comment.Body),
		}
		if _, err := a.emitter.Append(ctx, models.EventCommentPosted, comment.AuthorID, comment.ThreadID, payload); err != nil {
			middleware.Logger.WarnContext(ctx, "Sweep emission failed", "error", err, "comment_id", comment.ID)
			continue
		}
		if err := a.comments.MarkEmitted(ctx, comment.ID); err != nil {
			middleware.Logger.WarnContext(ctx, "Sweep failed to flag comment", "error", err, "comment_id", comment.ID)
			continue
		}
		observability.SweepRecovered.Inc()
		recovered++
	}
	return recovered
}

// RunSweeper runs SweepUnemitted on the given interval until ctx is done.
func (a *Aggregator) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.SweepUnemitted(ctx)
		}
	}
}

// WaitDelegates blocks until all in-flight delegate reply tasks finish. Used
// on shutdown and in tests.
func (a *Aggregator) WaitDelegates() {
	a.delegates.Wait()
}

// preview truncates on a rune boundary so multi-byte characters are never
// split mid-sequence.
func preview(body string) string {
	if len(body) <= previewLength {
		return body
	}
	cut := previewLength
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut]
}
