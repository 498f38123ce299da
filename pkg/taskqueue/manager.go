// Package taskqueue manages the per-staff work queues that drive the customer
// journey forward: task creation from templates, completion reactions,
// deterministic reprioritization and load-balanced auto-assignment.
package taskqueue

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/auraflow/auraflow/pkg/broadcast"
	"github.com/auraflow/auraflow/pkg/metrics"
	"github.com/auraflow/auraflow/pkg/model"
	"github.com/auraflow/auraflow/pkg/progression"
)

// CompletedTaskRetention is how long completed tasks are kept after their
// completion time before cleanup removes them.
const CompletedTaskRetention = 30 * 24 * time.Hour

// TaskStore is the persistence surface the manager needs. GetByID returns
// model.NotFoundError for unknown ids.
type TaskStore interface {
	Create(ctx context.Context, task *model.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Task, error)
	Update(ctx context.Context, task *model.Task) error
	ListByUser(ctx context.Context, userID string, statuses []model.TaskStatus) ([]model.Task, error)
	ListByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]model.Task, error)
	// ListPendingByClinic returns pending tasks with their Workflow loaded.
	ListPendingByClinic(ctx context.Context, clinicID string) ([]model.Task, error)
	ListUnassignedPending(ctx context.Context, clinicID string) ([]model.Task, error)
	UpdatePriority(ctx context.Context, id uuid.UUID, priority model.TaskPriority) error
	// AssignIfUnassigned claims a task for userID only if it is still
	// unassigned, and reports whether the claim won.
	AssignIfUnassigned(ctx context.Context, id uuid.UUID, userID string) (bool, error)
	MarkOverdue(ctx context.Context, now time.Time) (int64, error)
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// StaffDirectory projects the host system's user directory for assignment.
type StaffDirectory interface {
	ListStaff(ctx context.Context, clinicID string) ([]model.Staff, error)
}

type Manager struct {
	tasks  TaskStore
	staff  StaffDirectory
	events *broadcast.Broadcaster
	logger *zap.Logger
	now    func() time.Time
}

func NewManager(tasks TaskStore, staff StaffDirectory, events *broadcast.Broadcaster, logger *zap.Logger) *Manager {
	return &Manager{
		tasks:  tasks,
		staff:  staff,
		events: events,
		logger: logger,
		now:    time.Now,
	}
}

// CreateTaskParams carries everything needed to instantiate a task from its
// template. Priority overrides the template default when set.
type CreateTaskParams struct {
	WorkflowID   uuid.UUID
	TaskType     model.TaskType
	CustomerName string
	AssignedTo   string
	Priority     model.TaskPriority
	DueDate      *time.Time
	Data         model.JSONB
	Notes        string
}

// CreateTask instantiates a task from the template for its type. The customer
// name is rendered into the title and stored in TaskData so reprioritization
// and reactions can reuse it without a join.
func (m *Manager) CreateTask(ctx context.Context, params CreateTaskParams) (*model.Task, error) {
	template, ok := progression.TemplateFor(params.TaskType)
	if !ok {
		return nil, &model.ValidationError{Field: "taskType", Reason: "unknown task type"}
	}
	if params.WorkflowID == uuid.Nil {
		return nil, &model.ValidationError{Field: "workflowId", Reason: "required"}
	}

	priority := template.DefaultPriority
	if params.Priority != "" {
		priority = params.Priority
	}

	data := model.JSONB{"customerName": params.CustomerName}
	for k, v := range params.Data {
		data[k] = v
	}

	now := m.now().UTC()
	task := &model.Task{
		ID:                uuid.New(),
		WorkflowID:        params.WorkflowID,
		AssignedTo:        params.AssignedTo,
		TaskType:          params.TaskType,
		Title:             template.RenderTitle(params.CustomerName),
		Description:       template.Description,
		Priority:          priority,
		Status:            model.TaskPending,
		DueDate:           params.DueDate,
		TaskData:          data,
		EstimatedDuration: template.EstimatedMinutes,
		Notes:             params.Notes,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := m.tasks.Create(ctx, task); err != nil {
		return nil, &model.PersistenceError{Op: "create task", Err: err}
	}
	metrics.TasksCreated.WithLabelValues(string(task.TaskType)).Inc()

	if task.AssignedTo != "" && m.events != nil {
		if err := m.events.NotifyTaskAssignment(ctx, task, params.CustomerName, ""); err != nil {
			m.logger.Warn("task assignment notification failed",
				zap.String("task_id", task.ID.String()),
				zap.Error(err),
			)
		}
	}

	return task, nil
}

// UpdateTaskStatus moves a task through its lifecycle. Completing an already
// completed task is a no-op so retried requests cannot double-fire reactions.
func (m *Manager) UpdateTaskStatus(ctx context.Context, taskID uuid.UUID, status model.TaskStatus, userID, notes string) (*model.Task, error) {
	if !model.IsValidTaskStatus(status) {
		return nil, &model.ValidationError{Field: "status", Reason: "unknown task status"}
	}

	task, err := m.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if task.Status == model.TaskCompleted {
		// Repeated completion is a retry, anything else is a rewind.
		if status == model.TaskCompleted {
			return task, nil
		}
		return nil, &model.ValidationError{Field: "status", Reason: "task is already completed"}
	}

	now := m.now().UTC()
	task.Status = status
	task.UpdatedAt = now
	if notes != "" {
		task.Notes = notes
	}
	completing := status == model.TaskCompleted && task.CompletedAt == nil
	if completing {
		task.CompletedAt = &now
		task.CompletedBy = userID
	}

	if err := m.tasks.Update(ctx, task); err != nil {
		return nil, &model.PersistenceError{Op: "update task", Err: err}
	}

	if completing {
		metrics.TasksCompleted.WithLabelValues(string(task.TaskType)).Inc()
		m.reactToCompletion(ctx, task)
	}

	return task, nil
}

// reactToCompletion runs the follow-on work for a completed task. Failures
// are logged; the completion itself already committed.
func (m *Manager) reactToCompletion(ctx context.Context, task *model.Task) {
	reaction, ok := progression.ReactionFor(task.TaskType)
	if !ok {
		return
	}

	customerName, _ := task.TaskData["customerName"].(string)

	if reaction.CreateTask != "" {
		params := CreateTaskParams{
			WorkflowID:   task.WorkflowID,
			TaskType:     reaction.CreateTask,
			CustomerName: customerName,
			AssignedTo:   task.AssignedTo,
		}
		if reaction.DueIn > 0 {
			due := m.now().UTC().Add(reaction.DueIn)
			params.DueDate = &due
		}
		if _, err := m.CreateTask(ctx, params); err != nil {
			m.logger.Error("reaction task creation failed",
				zap.String("completed_task", task.ID.String()),
				zap.String("reaction_type", string(reaction.CreateTask)),
				zap.Error(err),
			)
		}
	}

	if reaction.NotifyOwners && m.events != nil {
		err := m.events.BroadcastEvent(ctx, &model.EventPayload{
			EventType:    model.EventWorkflowUpdated,
			WorkflowID:   task.WorkflowID,
			SourceUserID: string(model.RoleSystem),
			Data: model.EventData{
				CustomerName: customerName,
				Message:      reaction.OwnerMessage,
				Priority:     model.PriorityMedium,
			},
		})
		if err != nil {
			m.logger.Warn("owner notification failed",
				zap.String("task_id", task.ID.String()),
				zap.Error(err),
			)
		}
	}
}

// GetUserTasks returns a staff member's tasks in working order. An empty
// statuses filter means all open work (pending, in_progress and overdue); an
// empty priority matches every priority; limit <= 0 means no cap.
func (m *Manager) GetUserTasks(ctx context.Context, userID string, statuses []model.TaskStatus, priority model.TaskPriority, limit int) ([]model.Task, error) {
	if len(statuses) == 0 {
		statuses = []model.TaskStatus{model.TaskPending, model.TaskInProgress, model.TaskOverdue}
	}
	tasks, err := m.tasks.ListByUser(ctx, userID, statuses)
	if err != nil {
		return nil, &model.PersistenceError{Op: "list user tasks", Err: err}
	}
	if priority != "" {
		filtered := tasks[:0]
		for _, t := range tasks {
			if t.Priority == priority {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}
	OrderTasks(tasks)
	if limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

// GetWorkflowTasks returns the tasks attached to a workflow. Completed and
// cancelled tasks are hidden unless includeCompleted is set.
func (m *Manager) GetWorkflowTasks(ctx context.Context, workflowID uuid.UUID, includeCompleted bool) ([]model.Task, error) {
	tasks, err := m.tasks.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, &model.PersistenceError{Op: "list workflow tasks", Err: err}
	}
	if !includeCompleted {
		open := tasks[:0]
		for _, t := range tasks {
			if t.Status == model.TaskCompleted || t.Status == model.TaskCancelled {
				continue
			}
			open = append(open, t)
		}
		tasks = open
	}
	return tasks, nil
}

// ReprioritizeTasks rescores every pending task in a clinic and rewrites the
// priority of those whose bucket changed. Returns how many moved.
func (m *Manager) ReprioritizeTasks(ctx context.Context, clinicID string) (int, error) {
	tasks, err := m.tasks.ListPendingByClinic(ctx, clinicID)
	if err != nil {
		return 0, &model.PersistenceError{Op: "list pending tasks", Err: err}
	}

	now := m.now().UTC()
	changed := 0
	for i := range tasks {
		task := &tasks[i]

		var urgency float64
		var stage model.WorkflowStage
		if task.Workflow != nil {
			urgency = task.Workflow.UrgencyScore()
			stage = task.Workflow.CurrentStage
		}

		score := progression.ScoreTask(task.TaskType, task.DueDate, now, urgency, stage)
		want := progression.PriorityForScore(score)
		if want == task.Priority {
			continue
		}
		if err := m.tasks.UpdatePriority(ctx, task.ID, want); err != nil {
			m.logger.Error("priority update failed",
				zap.String("task_id", task.ID.String()),
				zap.Error(err),
			)
			continue
		}
		changed++
	}
	return changed, nil
}

// AutoAssignTasks distributes unassigned pending tasks across eligible staff,
// always picking the candidate with the fewest pending tasks. Claims are
// conditional so a concurrent pass cannot double-assign.
func (m *Manager) AutoAssignTasks(ctx context.Context, clinicID string) (int, error) {
	tasks, err := m.tasks.ListUnassignedPending(ctx, clinicID)
	if err != nil {
		return 0, &model.PersistenceError{Op: "list unassigned tasks", Err: err}
	}
	if len(tasks) == 0 {
		return 0, nil
	}

	staff, err := m.staff.ListStaff(ctx, clinicID)
	if err != nil {
		return 0, &model.PersistenceError{Op: "list staff", Err: err}
	}
	if len(staff) == 0 {
		return 0, nil
	}

	pending := make(map[string]int, len(staff))
	for _, s := range staff {
		pending[s.ID] = s.PendingTasks
	}

	assigned := 0
	for i := range tasks {
		task := &tasks[i]

		template, ok := progression.TemplateFor(task.TaskType)
		if ok && !template.AutoAssign {
			continue
		}

		candidate := pickAssignee(staff, pending, progression.EligibleRoles(task.TaskType))
		if candidate == "" {
			continue
		}

		won, err := m.tasks.AssignIfUnassigned(ctx, task.ID, candidate)
		if err != nil {
			m.logger.Error("task claim failed",
				zap.String("task_id", task.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if !won {
			continue
		}

		pending[candidate]++
		assigned++
		metrics.TasksAutoAssigned.Inc()

		if m.events != nil {
			task.AssignedTo = candidate
			customerName, _ := task.TaskData["customerName"].(string)
			if err := m.events.NotifyTaskAssignment(ctx, task, customerName, ""); err != nil {
				m.logger.Warn("assignment notification failed",
					zap.String("task_id", task.ID.String()),
					zap.Error(err),
				)
			}
		}
	}
	return assigned, nil
}

// pickAssignee returns the eligible staff member with the fewest pending
// tasks. When no one holds an eligible role, any staff member qualifies. Ties
// break on directory order so repeated runs are stable.
func pickAssignee(staff []model.Staff, pending map[string]int, eligible []model.StaffRole) string {
	pick := func(filter func(model.Staff) bool) string {
		best := ""
		bestCount := 0
		for _, s := range staff {
			if !filter(s) {
				continue
			}
			if best == "" || pending[s.ID] < bestCount {
				best = s.ID
				bestCount = pending[s.ID]
			}
		}
		return best
	}

	if len(eligible) > 0 {
		if id := pick(func(s model.Staff) bool {
			return model.HasRole([]model.StaffRole{s.Role}, eligible)
		}); id != "" {
			return id
		}
	}
	return pick(func(model.Staff) bool { return true })
}

// MarkOverdueTasks flags pending tasks whose due date has passed.
func (m *Manager) MarkOverdueTasks(ctx context.Context) (int64, error) {
	count, err := m.tasks.MarkOverdue(ctx, m.now().UTC())
	if err != nil {
		return 0, &model.PersistenceError{Op: "mark overdue", Err: err}
	}
	return count, nil
}

// CleanupOldTasks removes tasks completed more than the retention window ago.
func (m *Manager) CleanupOldTasks(ctx context.Context) (int64, error) {
	cutoff := m.now().UTC().Add(-CompletedTaskRetention)
	count, err := m.tasks.DeleteCompletedBefore(ctx, cutoff)
	if err != nil {
		return 0, &model.PersistenceError{Op: "cleanup tasks", Err: err}
	}
	return count, nil
}

// OrderTasks sorts in place into working order: priority rank descending,
// then due date ascending with undated tasks last, then creation time. The
// SQL task listing applies the same ordering; this keeps in-memory paths
// consistent with it.
func OrderTasks(tasks []model.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
			return ra > rb
		}
		switch {
		case a.DueDate == nil && b.DueDate == nil:
		case a.DueDate == nil:
			return false
		case b.DueDate == nil:
			return true
		case !a.DueDate.Equal(*b.DueDate):
			return a.DueDate.Before(*b.DueDate)
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}
