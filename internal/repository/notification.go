package repository

import (
	"context"
	"time"

	"discuzz/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NotificationRepository manages per-recipient notification rows.
type NotificationRepository interface {
	// CreateBatch inserts all rows in a single transaction. Rows that collide
	// on (event_id, recipient_id) are skipped, so re-running fan-out for an
	// event is safe.
	CreateBatch(ctx context.Context, notifications []*models.Notification) error
	GetByID(ctx context.Context, id uint) (*models.Notification, error)
	ListByRecipient(ctx context.Context, recipientID uint, states []models.NotificationState, limit int) ([]*models.Notification, error)
	ListDispatchable(ctx context.Context, recipientID uint) ([]*models.Notification, error)
	// UpdateState performs an optimistic version-checked transition. It returns
	// an InvalidTransition error when no row matched the (id, state, version)
	// predicate, meaning the row moved underneath the caller.
	UpdateState(ctx context.Context, id uint, from models.NotificationState, version uint, to models.NotificationState, deliveredAt *time.Time) error
	// MarkAllRead moves every pending and delivered row of the recipient to
	// read in one statement, bumping each row's version. Returns how many rows
	// transitioned.
	MarkAllRead(ctx context.Context, recipientID uint) (int64, error)
	CountUnread(ctx context.Context, recipientID uint) (int64, error)
}

type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository creates a new NotificationRepository.
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) CreateBatch(ctx context.Context, notifications []*models.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}, {Name: "recipient_id"}},
			DoNothing: true,
		}).Create(&notifications).Error
	})
}

func (r *notificationRepository) GetByID(ctx context.Context, id uint) (*models.Notification, error) {
	var n models.Notification
	if err := r.db.WithContext(ctx).Preload("Event").First(&n, id).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *notificationRepository) ListByRecipient(ctx context.Context, recipientID uint, states []models.NotificationState, limit int) ([]*models.Notification, error) {
	q := r.db.WithContext(ctx).
		Preload("Event").
		Where("recipient_id = ?", recipientID)
	if len(states) > 0 {
		q = q.Where("state IN ?", states)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*models.Notification
	err := q.Order("id asc").Find(&out).Error
	return out, err
}

// ListDispatchable returns the recipient's pending and failed notifications in
// creation order, the set the dispatcher replays when a client (re)connects.
func (r *notificationRepository) ListDispatchable(ctx context.Context, recipientID uint) ([]*models.Notification, error) {
	var out []*models.Notification
	err := r.db.WithContext(ctx).
		Preload("Event").
		Where("recipient_id = ? AND state IN ?", recipientID,
			[]models.NotificationState{models.NotificationPending, models.NotificationFailed}).
		Order("id asc").
		Find(&out).Error
	return out, err
}

func (r *notificationRepository) UpdateState(ctx context.Context, id uint, from models.NotificationState, version uint, to models.NotificationState, deliveredAt *time.Time) error {
	updates := map[string]interface{}{
		"state":   to,
		"version": version + 1,
	}
	if deliveredAt != nil {
		updates["delivered_at"] = *deliveredAt
	}

	res := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND state = ? AND version = ?", id, from, version).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.NewInvalidTransitionError(from, to)
	}
	return nil
}

// MarkAllRead is the bulk counterpart of the dispatcher's MarkRead. The
// version bump happens inside the same UPDATE, so it cannot race a concurrent
// per-row transition; pending rows get their delivered_at stamped on the way
// through.
func (r *notificationRepository) MarkAllRead(ctx context.Context, recipientID uint) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("recipient_id = ? AND state IN ?", recipientID,
			[]models.NotificationState{models.NotificationPending, models.NotificationDelivered}).
		Updates(map[string]interface{}{
			"state":        models.NotificationRead,
			"version":      gorm.Expr("version + 1"),
			"delivered_at": gorm.Expr("COALESCE(delivered_at, ?)", time.Now()),
		})
	return res.RowsAffected, res.Error
}

func (r *notificationRepository) CountUnread(ctx context.Context, recipientID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("recipient_id = ? AND state IN ?", recipientID,
			[]models.NotificationState{models.NotificationPending, models.NotificationDelivered}).
		Count(&count).Error
	return count, err
}
