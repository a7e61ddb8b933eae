package repository

import (
	"context"

	"discuzz/internal/models"

	"gorm.io/gorm"
)

// SubscriptionRepository reads the follow graph. The fan-out engine resolves
// recipients through this interface and never mutates the graph.
type SubscriptionRepository interface {
	FollowersOf(ctx context.Context, targetID uint) ([]uint, error)
	SpaceSubscribers(ctx context.Context, spaceID uint) ([]uint, error)
	// ParticipantsOf returns the distinct authors who have commented in a
	// thread.
	ParticipantsOf(ctx context.Context, threadID uint) ([]uint, error)
	IsSubscribed(ctx context.Context, subscriberID, targetID uint, kind models.SubscriptionKind) (bool, error)
	DelegateOptIn(ctx context.Context, userID uint) (bool, error)
	Subscribe(ctx context.Context, sub *models.Subscription) error
	Unsubscribe(ctx context.Context, subscriberID, targetID uint, kind models.SubscriptionKind) error
}

type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new SubscriptionRepository.
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

func (r *subscriptionRepository) FollowersOf(ctx context.Context, targetID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("target_id = ? AND kind = ?", targetID, models.SubscriptionFollow).
		Order("subscriber_id asc").
		Pluck("subscriber_id", &ids).Error
	return ids, err
}

func (r *subscriptionRepository) SpaceSubscribers(ctx context.Context, spaceID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("target_id = ? AND kind = ?", spaceID, models.SubscriptionSpace).
		Order("subscriber_id asc").
		Pluck("subscriber_id", &ids).Error
	return ids, err
}

func (r *subscriptionRepository) ParticipantsOf(ctx context.Context, threadID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&models.Comment{}).
		Distinct("author_id").
		Where("thread_id = ?", threadID).
		Order("author_id asc").
		Pluck("author_id", &ids).Error
	return ids, err
}

func (r *subscriptionRepository) IsSubscribed(ctx context.Context, subscriberID, targetID uint, kind models.SubscriptionKind) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("subscriber_id = ? AND target_id = ? AND kind = ?", subscriberID, targetID, kind).
		Count(&count).Error
	return count > 0, err
}

func (r *subscriptionRepository) DelegateOptIn(ctx context.Context, userID uint) (bool, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Select("delegate_enabled").First(&user, userID).Error; err != nil {
		return false, err
	}
	return user.DelegateEnabled, nil
}

func (r *subscriptionRepository) Subscribe(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *subscriptionRepository) Unsubscribe(ctx context.Context, subscriberID, targetID uint, kind models.SubscriptionKind) error {
	return r.db.WithContext(ctx).
		Where("subscriber_id = ? AND target_id = ? AND kind = ?", subscriberID, targetID, kind).
		Delete(&models.Subscription{}).Error
}
