package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/auraflow/auraflow/pkg/model"
)

// taskOrder matches taskqueue.OrderTasks: priority rank descending, earliest
// due first with undated tasks last, then creation time.
const taskOrder = `CASE priority
		WHEN 'critical' THEN 0
		WHEN 'high' THEN 1
		WHEN 'medium' THEN 2
		ELSE 3
	END ASC, due_date ASC NULLS LAST, created_at ASC`

type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	return r.db.WithContext(ctx).Create(task).Error
}

func (r *TaskRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Task, error) {
	var task model.Task
	err := r.db.WithContext(ctx).First(&task, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &model.NotFoundError{Kind: "task", ID: id.String()}
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *TaskRepository) Update(ctx context.Context, task *model.Task) error {
	return r.db.WithContext(ctx).Save(task).Error
}

func (r *TaskRepository) ListByUser(ctx context.Context, userID string, statuses []model.TaskStatus) ([]model.Task, error) {
	var tasks []model.Task
	err := r.db.WithContext(ctx).
		Where("assigned_to = ? AND status IN ?", userID, statuses).
		Order(taskOrder).
		Find(&tasks).Error
	return tasks, err
}

func (r *TaskRepository) ListByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]model.Task, error) {
	var tasks []model.Task
	err := r.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("created_at DESC").
		Find(&tasks).Error
	return tasks, err
}

func (r *TaskRepository) ListPendingByClinic(ctx context.Context, clinicID string) ([]model.Task, error) {
	var tasks []model.Task
	err := r.db.WithContext(ctx).
		Preload("Workflow").
		Joins("JOIN workflow_states ON workflow_states.id = task_queue.workflow_id").
		Where("task_queue.status = ? AND workflow_states.clinic_id = ?", model.TaskPending, clinicID).
		Find(&tasks).Error
	return tasks, err
}

func (r *TaskRepository) ListUnassignedPending(ctx context.Context, clinicID string) ([]model.Task, error) {
	var tasks []model.Task
	err := r.db.WithContext(ctx).
		Joins("JOIN workflow_states ON workflow_states.id = task_queue.workflow_id").
		Where("task_queue.status = ? AND (task_queue.assigned_to IS NULL OR task_queue.assigned_to = '') AND workflow_states.clinic_id = ?",
			model.TaskPending, clinicID).
		Order(taskOrder).
		Find(&tasks).Error
	return tasks, err
}

func (r *TaskRepository) UpdatePriority(ctx context.Context, id uuid.UUID, priority model.TaskPriority) error {
	return r.db.WithContext(ctx).
		Model(&model.Task{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"priority":   priority,
			"updated_at": time.Now(),
		}).Error
}

// AssignIfUnassigned claims the task only if no one holds it yet, so two
// concurrent assignment passes cannot both win.
func (r *TaskRepository) AssignIfUnassigned(ctx context.Context, id uuid.UUID, userID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Task{}).
		Where("id = ? AND (assigned_to IS NULL OR assigned_to = '')", id).
		Updates(map[string]interface{}{
			"assigned_to": userID,
			"updated_at":  time.Now(),
		})
	return result.RowsAffected > 0, result.Error
}

func (r *TaskRepository) MarkOverdue(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Task{}).
		Where("status = ? AND due_date IS NOT NULL AND due_date < ?", model.TaskPending, now).
		Updates(map[string]interface{}{
			"status":     model.TaskOverdue,
			"updated_at": now,
		})
	return result.RowsAffected, result.Error
}

// DeleteCompletedBefore removes completed tasks whose completion time has
// passed the retention cutoff. Cancelled tasks never complete and are kept.
func (r *TaskRepository) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status = ? AND completed_at < ?", model.TaskCompleted, cutoff).
		Delete(&model.Task{})
	return result.RowsAffected, result.Error
}
