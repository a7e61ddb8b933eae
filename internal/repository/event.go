// Package repository provides data access layer implementations for the application.
package repository

import (
	"context"

	"discuzz/internal/models"

	"gorm.io/gorm"
)

// EventRepository defines the append-only interface for the domain event log.
// There are deliberately no update or delete methods: events are immutable.
type EventRepository interface {
	Append(ctx context.Context, event *models.Event) error
	GetByID(ctx context.Context, id uint) (*models.Event, error)
	ListSince(ctx context.Context, cursor uint, limit int) ([]*models.Event, error)
}

type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}

func (r *eventRepository) Append(ctx context.Context, event *models.Event) error {
	if !event.Type.Valid() {
		return models.NewUnknownEventTypeError(string(event.Type))
	}
	if event.ActorID == 0 {
		return models.NewValidationError("actor_id is required")
	}
	if event.TargetID == 0 {
		return models.NewValidationError("target_id is required")
	}
	if event.Payload == "" {
		event.Payload = "{}"
	}
	// The primary key sequence assigns a strictly increasing ID atomically.
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *eventRepository) GetByID(ctx context.Context, id uint) (*models.Event, error) {
	var event models.Event
	if err := r.db.WithContext(ctx).First(&event, id).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *eventRepository) ListSince(ctx context.Context, cursor uint, limit int) ([]*models.Event, error) {
	var events []*models.Event
	err := r.db.WithContext(ctx).
		Where("id > ?", cursor).
		Order("id asc").
		Limit(limit).
		Find(&events).Error
	return events, err
}
