package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/auraflow/auraflow/pkg/model"
)

// EventRepository persists the event log. Rows double as the relay outbox:
// Status tracks broker delivery, Processed tracks dashboard consumption.
type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) Insert(ctx context.Context, event *model.WorkflowEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *EventRepository) History(ctx context.Context, workflowID uuid.UUID, types []model.EventType, limit int) ([]model.WorkflowEvent, error) {
	query := r.db.WithContext(ctx).Where("workflow_id = ?", workflowID)
	if len(types) > 0 {
		query = query.Where("event_type IN ?", types)
	}

	var events []model.WorkflowEvent
	err := query.
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *EventRepository) MarkProcessed(ctx context.Context, ids []uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&model.WorkflowEvent{}).
		Where("id IN ?", ids).
		Update("processed", true).Error
}

// ListPending returns undelivered events in insertion order for the relay.
func (r *EventRepository) ListPending(ctx context.Context, limit int) ([]model.WorkflowEvent, error) {
	var events []model.WorkflowEvent
	err := r.db.WithContext(ctx).
		Where("status = ?", model.EventStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *EventRepository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&model.WorkflowEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       model.EventStatusPublished,
			"published_at": &now,
		}).Error
}

func (r *EventRepository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&model.WorkflowEvent{}).
		Where("id = ?", id).
		Update("status", model.EventStatusFailed).Error
}
