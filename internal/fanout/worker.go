package fanout

import (
	"context"
	"time"

	"discuzz/internal/middleware"
	"discuzz/internal/models"
)

// EventSource is the read side of the event log plus its persistent cursor.
type EventSource interface {
	ReadSince(ctx context.Context, cursor uint, limit int) ([]*models.Event, error)
	Cursor(ctx context.Context) uint
	CommitCursor(ctx context.Context, id uint)
}

// Expander expands one event into persisted notification drafts.
type Expander interface {
	Expand(ctx context.Context, event *models.Event) ([]*models.Notification, error)
}

// Enqueuer hands freshly created notifications to the dispatcher.
type Enqueuer interface {
	Enqueue(notification *models.Notification)
}

// Worker tails the event log and drives fan-out. The cursor advances only
// past events that expanded successfully, so transient collaborator failures
// are retried on the next pass.
type Worker struct {
	source    EventSource
	engine    Expander
	sink      Enqueuer
	interval  time.Duration
	readLimit int
}

// NewWorker creates a Worker polling at the given interval.
func NewWorker(source EventSource, engine Expander, sink Enqueuer, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Worker{
		source:    source,
		engine:    engine,
		sink:      sink,
		interval:  interval,
		readLimit: 100,
	}
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce processes one batch of events from the cursor. It returns the
// number of events fully expanded.
func (w *Worker) RunOnce(ctx context.Context) int {
	cursor := w.source.Cursor(ctx)
	events, err := w.source.ReadSince(ctx, cursor, w.readLimit)
	if err != nil {
		middleware.Logger.ErrorContext(ctx, "Failed to read events for fan-out", "error", err, "cursor", cursor)
		return 0
	}

	processed := 0
	for _, event := range events {
		notifications, err := w.engine.Expand(ctx, event)
		if err != nil {
			// Caller-logic errors cannot succeed on retry; log loudly and move
			// the cursor past them. Anything transient stops the pass so the
			// event is retried next tick.
			if models.IsCode(err, models.CodeUnknownEventType) || models.IsCode(err, models.CodeValidation) {
				middleware.Logger.ErrorContext(ctx, "Skipping unexpandable event",
					"error", err, "event_id", event.ID, "event_type", event.Type)
				w.source.CommitCursor(ctx, event.ID)
				continue
			}
			middleware.Logger.WarnContext(ctx, "Fan-out expansion failed, will retry",
				"error", err, "event_id", event.ID)
			return processed
		}

		for _, n := range notifications {
			n.Event = event
			w.sink.Enqueue(n)
		}
		w.source.CommitCursor(ctx, event.ID)
		processed++
	}
	return processed
}
