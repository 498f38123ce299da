// Package bridge is the single entry point host code talks to. It owns no
// business rules; every method passes straight through to the engine, the
// task queue or the broadcaster, so callers get one surface without the three
// subsystems leaking into handler signatures.
package bridge

import (
	"context"

	"github.com/google/uuid"

	"github.com/auraflow/auraflow/pkg/broadcast"
	"github.com/auraflow/auraflow/pkg/engine"
	"github.com/auraflow/auraflow/pkg/model"
	"github.com/auraflow/auraflow/pkg/taskqueue"
)

type Bridge struct {
	engine *engine.Engine
	tasks  *taskqueue.Manager
	events *broadcast.Broadcaster
}

func New(eng *engine.Engine, tasks *taskqueue.Manager, events *broadcast.Broadcaster) *Bridge {
	return &Bridge{engine: eng, tasks: tasks, events: events}
}

// Workflow operations.

func (b *Bridge) CreateWorkflow(ctx context.Context, params engine.CreateWorkflowParams) (*model.WorkflowState, error) {
	return b.engine.CreateWorkflow(ctx, params)
}

func (b *Bridge) ExecuteTransition(ctx context.Context, workflowID uuid.UUID, action model.WorkflowActionType, actorID string, actorRoles []model.StaffRole, data model.JSONB, notes string) (*model.WorkflowState, error) {
	return b.engine.ExecuteTransition(ctx, workflowID, action, actorID, actorRoles, data, notes)
}

func (b *Bridge) GetWorkflowState(ctx context.Context, workflowID uuid.UUID) (*model.WorkflowState, error) {
	return b.engine.GetWorkflowState(ctx, workflowID)
}

func (b *Bridge) GetClinicWorkflows(ctx context.Context, filter engine.ListFilter) ([]model.WorkflowState, error) {
	return b.engine.GetClinicWorkflows(ctx, filter)
}

func (b *Bridge) StageCounts(ctx context.Context, clinicID string) (map[model.WorkflowStage]int64, error) {
	return b.engine.StageCounts(ctx, clinicID)
}

// Task operations.

func (b *Bridge) CreateTask(ctx context.Context, params taskqueue.CreateTaskParams) (*model.Task, error) {
	return b.tasks.CreateTask(ctx, params)
}

func (b *Bridge) UpdateTaskStatus(ctx context.Context, taskID uuid.UUID, status model.TaskStatus, userID, notes string) (*model.Task, error) {
	return b.tasks.UpdateTaskStatus(ctx, taskID, status, userID, notes)
}

func (b *Bridge) GetUserTasks(ctx context.Context, userID string, statuses []model.TaskStatus, priority model.TaskPriority, limit int) ([]model.Task, error) {
	return b.tasks.GetUserTasks(ctx, userID, statuses, priority, limit)
}

func (b *Bridge) GetWorkflowTasks(ctx context.Context, workflowID uuid.UUID, includeCompleted bool) ([]model.Task, error) {
	return b.tasks.GetWorkflowTasks(ctx, workflowID, includeCompleted)
}

func (b *Bridge) ReprioritizeTasks(ctx context.Context, clinicID string) (int, error) {
	return b.tasks.ReprioritizeTasks(ctx, clinicID)
}

func (b *Bridge) AutoAssignTasks(ctx context.Context, clinicID string) (int, error) {
	return b.tasks.AutoAssignTasks(ctx, clinicID)
}

// Event operations.

func (b *Bridge) GetEventHistory(ctx context.Context, workflowID uuid.UUID, types []model.EventType, limit int) ([]*model.EventPayload, error) {
	return b.events.GetEventHistory(ctx, workflowID, types, limit)
}

func (b *Bridge) MarkEventsProcessed(ctx context.Context, ids []uuid.UUID) error {
	return b.events.MarkEventsProcessed(ctx, ids)
}

func (b *Bridge) Subscribe(subscription model.DashboardSubscription) {
	b.events.Subscribe(subscription)
}

func (b *Bridge) Unsubscribe(userID string) {
	b.events.Unsubscribe(userID)
}
