package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"discuzz/internal/middleware"
	"discuzz/internal/models"
	"discuzz/internal/observability"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// pushFrame is the wire envelope for a live push. DeliveryID identifies one
// push attempt so clients can spot duplicate frames after a reconnect replay.
type pushFrame struct {
	Type         string               `json:"type"`
	DeliveryID   string               `json:"delivery_id"`
	Notification *models.Notification `json:"notification"`
}

// NotificationStore is the slice of the notification repository the
// dispatcher needs.
type NotificationStore interface {
	GetByID(ctx context.Context, id uint) (*models.Notification, error)
	ListDispatchable(ctx context.Context, recipientID uint) ([]*models.Notification, error)
	UpdateState(ctx context.Context, id uint, from models.NotificationState, version uint, to models.NotificationState, deliveredAt *time.Time) error
}

// LiveChannel is the push side of recipient connectivity, implemented by the
// WebSocket hub.
type LiveChannel interface {
	IsConnected(userID uint) bool
	Push(ctx context.Context, userID uint, payload []byte) error
}

// Dispatcher delivers notifications. Each recipient gets a serial queue so
// their notifications go out in creation order; distinct recipients proceed
// in parallel under the Limiter's caps.
type Dispatcher struct {
	store       NotificationStore
	live        LiveChannel
	limiter     *Limiter
	maxAttempts int
	backoffBase time.Duration

	mu      sync.Mutex
	queues  map[uint]chan *models.Notification
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	senders sync.WaitGroup
}

const queueDepth = 1024

// NewDispatcher creates a Dispatcher. maxAttempts and backoffBase bound the
// push retry loop (3 attempts, 200ms base doubling, by default).
func NewDispatcher(store NotificationStore, live LiveChannel, limiter *Limiter, maxAttempts int, backoffBase time.Duration) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoffBase <= 0 {
		backoffBase = 200 * time.Millisecond
	}
	return &Dispatcher{
		store:       store,
		live:        live,
		limiter:     limiter,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		queues:      make(map[uint]chan *models.Notification),
	}
}

// Start makes the dispatcher accept work. It owns the background context all
// recipient queues run under.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.started = true
}

// Stop cancels all queues and waits for them to drain their current item.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	d.cancel()
	queues := d.queues
	d.queues = make(map[uint]chan *models.Notification)
	d.mu.Unlock()

	// Queues may only be closed once every in-flight Enqueue send has
	// finished; cancel above unblocks senders stuck on a full queue.
	d.senders.Wait()
	for _, q := range queues {
		close(q)
	}
	d.wg.Wait()
}

// Enqueue routes a notification onto its recipient's serial queue. Blocks
// when the queue is full rather than dropping; that backpressure reaches the
// fan-out worker. During shutdown the send is abandoned; the row stays
// pending and the next reconnect replays it.
func (d *Dispatcher) Enqueue(notification *models.Notification) {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	queue, ok := d.queues[notification.RecipientID]
	if !ok {
		queue = make(chan *models.Notification, queueDepth)
		d.queues[notification.RecipientID] = queue
		d.wg.Add(1)
		go d.runRecipient(notification.RecipientID, queue)
	}
	ctx := d.ctx
	d.senders.Add(1)
	d.mu.Unlock()
	defer d.senders.Done()

	select {
	case queue <- notification:
	case <-ctx.Done():
	}
}

// OnConnect replays the recipient's pending and failed backlog, in creation
// order, onto their queue. Called by the hub when a client (re)connects.
func (d *Dispatcher) OnConnect(ctx context.Context, recipientID uint) error {
	backlog, err := d.store.ListDispatchable(ctx, recipientID)
	if err != nil {
		return err
	}
	for _, n := range backlog {
		d.Enqueue(n)
	}
	return nil
}

// MarkRead acknowledges a notification on behalf of its recipient. A pending
// notification is promoted through delivered first (the client saw it via
// pull before any push happened). Read and failed rows reject the
// acknowledgment.
func (d *Dispatcher) MarkRead(ctx context.Context, notificationID, recipientID uint) error {
	n, err := d.store.GetByID(ctx, notificationID)
	if err != nil {
		return err
	}
	if n.RecipientID != recipientID {
		return models.NewUnauthorizedError("notification belongs to another recipient")
	}

	switch n.State {
	case models.NotificationPending:
		now := time.Now()
		if err := d.store.UpdateState(ctx, n.ID, models.NotificationPending, n.Version, models.NotificationDelivered, &now); err != nil {
			return err
		}
		return d.store.UpdateState(ctx, n.ID, models.NotificationDelivered, n.Version+1, models.NotificationRead, nil)
	case models.NotificationDelivered:
		return d.store.UpdateState(ctx, n.ID, models.NotificationDelivered, n.Version, models.NotificationRead, nil)
	default:
		return models.NewInvalidTransitionError(n.State, models.NotificationRead)
	}
}

func (d *Dispatcher) runRecipient(recipientID uint, queue chan *models.Notification) {
	defer d.wg.Done()
	for n := range queue {
		d.dispatch(d.ctx, n)
	}
}

// dispatch pushes one notification. Recipients without a live channel keep
// the row pending for pull-based retrieval.
func (d *Dispatcher) dispatch(ctx context.Context, n *models.Notification) {
	if ctx.Err() != nil {
		return
	}
	if !n.State.CanTransition(models.NotificationDelivered) {
		// Already delivered or read; nothing to push.
		return
	}
	if !d.live.IsConnected(n.RecipientID) {
		observability.DispatchAttempts.WithLabelValues("deferred").Inc()
		return
	}

	if err := d.limiter.Acquire(ctx, n.RecipientID); err != nil {
		return
	}
	defer d.limiter.Release(n.RecipientID)

	ctx, end := observability.StartSpan(ctx, "dispatch.Push",
		attribute.Int64("notification.id", int64(n.ID)),
		attribute.Int64("recipient.id", int64(n.RecipientID)))

	payload, err := json.Marshal(pushFrame{
		Type:         "notification",
		DeliveryID:   uuid.NewString(),
		Notification: n,
	})
	if err != nil {
		end(err)
		middleware.Logger.ErrorContext(ctx, "Failed to encode notification", "error", err, "notification_id", n.ID)
		return
	}

	pushErr := d.pushWithRetry(ctx, n.RecipientID, payload)
	if pushErr == nil {
		now := time.Now()
		if err := d.store.UpdateState(ctx, n.ID, n.State, n.Version, models.NotificationDelivered, &now); err != nil {
			// Lost the optimistic race; someone else moved the row.
			middleware.Logger.WarnContext(ctx, "Delivered push but state moved underneath",
				"error", err, "notification_id", n.ID)
			end(err)
			return
		}
		n.State = models.NotificationDelivered
		n.Version++
		observability.DispatchAttempts.WithLabelValues("delivered").Inc()
		end(nil)
		return
	}

	observability.DispatchAttempts.WithLabelValues("failed").Inc()
	middleware.Logger.WarnContext(ctx, "Push failed after retries",
		"error", pushErr, "notification_id", n.ID, "recipient_id", n.RecipientID)
	if n.State == models.NotificationPending {
		if err := d.store.UpdateState(ctx, n.ID, models.NotificationPending, n.Version, models.NotificationFailed, nil); err != nil {
			middleware.Logger.WarnContext(ctx, "Failed to record push failure", "error", err, "notification_id", n.ID)
			end(err)
			return
		}
		n.State = models.NotificationFailed
		n.Version++
	}
	end(pushErr)
}

// pushWithRetry attempts the push up to maxAttempts times with exponential
// backoff between attempts.
func (d *Dispatcher) pushWithRetry(ctx context.Context, recipientID uint, payload []byte) error {
	backoff := d.backoffBase
	var lastErr error
	for attempt := 0; attempt < d.maxAttempts; attempt++ {
		if attempt > 0 {
			observability.DispatchAttempts.WithLabelValues("retried").Inc()
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}
		if lastErr = d.live.Push(ctx, recipientID, payload); lastErr == nil {
			return nil
		}
	}
	return lastErr
}
