// Package engine executes the customer journey state machine. Every stage
// move goes through ExecuteTransition, which validates the move against the
// progression table, commits the new stage together with its audit action in
// one atomic write, and then runs the follow-on effects: stage tasks, dashboard
// events and at most one immediate auto-trigger hop.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/auraflow/auraflow/pkg/broadcast"
	"github.com/auraflow/auraflow/pkg/metrics"
	"github.com/auraflow/auraflow/pkg/model"
	"github.com/auraflow/auraflow/pkg/progression"
	"github.com/auraflow/auraflow/pkg/taskqueue"
)

// ListFilter narrows GetClinicWorkflows. AssignedTo matches either the sales
// or the beautician assignment.
type ListFilter struct {
	ClinicID   string
	Stage      model.WorkflowStage
	AssignedTo string
	Limit      int
	Offset     int
}

// WorkflowStore persists workflow rows. GetByID returns model.NotFoundError
// for unknown ids.
type WorkflowStore interface {
	Create(ctx context.Context, state *model.WorkflowState) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.WorkflowState, error)
	// Transition writes the updated state and appends its audit action in one
	// transaction, guarded by expectedStage. A guard miss returns
	// model.ConcurrentModificationError and writes nothing.
	Transition(ctx context.Context, id uuid.UUID, expectedStage model.WorkflowStage, state *model.WorkflowState, action *model.WorkflowAction) error
	List(ctx context.Context, filter ListFilter) ([]model.WorkflowState, error)
	CountByStage(ctx context.Context, clinicID string) (map[model.WorkflowStage]int64, error)
}

// ActionStore reads and appends the audit history outside of transitions.
type ActionStore interface {
	Append(ctx context.Context, action *model.WorkflowAction) error
	ListByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]model.WorkflowAction, error)
}

type Engine struct {
	workflows WorkflowStore
	actions   ActionStore
	tasks     *taskqueue.Manager
	events    *broadcast.Broadcaster
	logger    *zap.Logger
	now       func() time.Time
}

func NewEngine(workflows WorkflowStore, actions ActionStore, tasks *taskqueue.Manager, events *broadcast.Broadcaster, logger *zap.Logger) *Engine {
	return &Engine{
		workflows: workflows,
		actions:   actions,
		tasks:     tasks,
		events:    events,
		logger:    logger,
		now:       time.Now,
	}
}

type CreateWorkflowParams struct {
	ClinicID        string
	CustomerID      string
	CustomerName    string
	CustomerEmail   string
	CustomerPhone   string
	AssignedSalesID string
	Metadata        model.JSONB
}

// CreateWorkflow opens a journey at lead_created, records the opening audit
// action and spawns the initial scan task. Task and event failures after the
// workflow row commits are logged, not returned; the workflow exists either
// way.
func (e *Engine) CreateWorkflow(ctx context.Context, params CreateWorkflowParams) (*model.WorkflowState, error) {
	switch {
	case params.ClinicID == "":
		return nil, &model.ValidationError{Field: "clinicId", Reason: "required"}
	case params.CustomerID == "":
		return nil, &model.ValidationError{Field: "customerId", Reason: "required"}
	case params.CustomerName == "":
		return nil, &model.ValidationError{Field: "customerName", Reason: "required"}
	}

	now := e.now().UTC()
	state := &model.WorkflowState{
		ID:              uuid.New(),
		ClinicID:        params.ClinicID,
		CustomerID:      params.CustomerID,
		CustomerName:    params.CustomerName,
		CustomerEmail:   params.CustomerEmail,
		CustomerPhone:   params.CustomerPhone,
		CurrentStage:    model.StageLeadCreated,
		AssignedSalesID: params.AssignedSalesID,
		Metadata:        params.Metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if state.Metadata == nil {
		state.Metadata = model.JSONB{}
	}

	if err := e.workflows.Create(ctx, state); err != nil {
		return nil, &model.PersistenceError{Op: "create workflow", Err: err}
	}
	metrics.WorkflowsCreated.Inc()

	opening := &model.WorkflowAction{
		ID:          uuid.New(),
		WorkflowID:  state.ID,
		Type:        model.ActionLeadCreated,
		PerformedBy: string(model.RoleSystem),
		PerformedAt: now,
		FromStage:   model.StageLeadCreated,
		ToStage:     model.StageLeadCreated,
	}
	if err := e.actions.Append(ctx, opening); err != nil {
		e.logger.Error("opening audit action not recorded",
			zap.String("workflow_id", state.ID.String()),
			zap.Error(err),
		)
	}

	e.spawnStageTasks(ctx, state)
	e.notifyStageChange(ctx, state, string(model.RoleSystem))

	return state, nil
}

// ExecuteTransition applies one action to a workflow. On success the returned
// state reflects the final stage, including at most one immediate
// auto-trigger hop. A lost optimistic-lock race is retried once against fresh
// state before surfacing model.ConcurrentModificationError.
func (e *Engine) ExecuteTransition(ctx context.Context, workflowID uuid.UUID, action model.WorkflowActionType, actorID string, actorRoles []model.StaffRole, data model.JSONB, notes string) (*model.WorkflowState, error) {
	started := e.now()

	state, err := e.transitionWithRetry(ctx, workflowID, action, actorID, actorRoles, data, notes)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.TransitionsTotal.WithLabelValues(string(action), result).Inc()
	metrics.TransitionDuration.WithLabelValues(string(action)).Observe(e.now().Sub(started).Seconds())
	if err != nil {
		return nil, err
	}

	// One immediate hop at most; a chain of auto stages would otherwise run
	// unbounded inside a single request.
	if next, ok := progression.AutoNext(state.CurrentStage); ok {
		hopped, err := e.autoHop(ctx, state, next)
		if err != nil {
			e.logger.Error("auto transition failed, workflow stays at current stage",
				zap.String("workflow_id", state.ID.String()),
				zap.String("action", string(next.Action)),
				zap.Error(err),
			)
			return state, nil
		}
		state = hopped
	}

	return state, nil
}

func (e *Engine) transitionWithRetry(ctx context.Context, workflowID uuid.UUID, action model.WorkflowActionType, actorID string, actorRoles []model.StaffRole, data model.JSONB, notes string) (*model.WorkflowState, error) {
	for attempt := 0; ; attempt++ {
		state, err := e.workflows.GetByID(ctx, workflowID)
		if err != nil {
			return nil, err
		}

		state, err = e.applyTransition(ctx, state, action, actorID, actorRoles, data, notes)
		var race *model.ConcurrentModificationError
		if errors.As(err, &race) && attempt == 0 {
			continue
		}
		return state, err
	}
}

// applyTransition validates and commits a single stage move on the given
// snapshot, then runs its follow-on effects.
func (e *Engine) applyTransition(ctx context.Context, state *model.WorkflowState, action model.WorkflowActionType, actorID string, actorRoles []model.StaffRole, data model.JSONB, notes string) (*model.WorkflowState, error) {
	tr, ok := progression.Find(state.CurrentStage, action)
	if !ok {
		return nil, &model.InvalidTransitionError{Stage: state.CurrentStage, Action: action}
	}

	if actorID != string(model.RoleSystem) && !model.HasRole(actorRoles, tr.RequiredRoles) {
		return nil, &model.ForbiddenError{Action: action, Required: tr.RequiredRoles}
	}

	if tr.Guard != nil {
		if err := tr.Guard(state); err != nil {
			return nil, err
		}
	}

	now := e.now().UTC()
	from := state.CurrentStage
	progression.MergeActionData(state, action, data, now)
	state.CurrentStage = tr.To
	state.UpdatedAt = now

	audit := &model.WorkflowAction{
		ID:          uuid.New(),
		WorkflowID:  state.ID,
		Type:        action,
		PerformedBy: actorID,
		PerformedAt: now,
		FromStage:   from,
		ToStage:     tr.To,
		Data:        data,
		Notes:       notes,
	}

	if err := e.workflows.Transition(ctx, state.ID, from, state, audit); err != nil {
		return nil, err
	}

	e.logger.Info("workflow transitioned",
		zap.String("workflow_id", state.ID.String()),
		zap.String("action", string(action)),
		zap.String("from", string(from)),
		zap.String("to", string(tr.To)),
		zap.String("actor", actorID),
	)

	e.spawnStageTasks(ctx, state)
	e.notifyStageChange(ctx, state, actorID)

	return state, nil
}

// autoHop executes an immediate auto-trigger transition as the system actor.
// The proposal hop synthesizes a treatment plan from the scan when none is
// attached yet.
func (e *Engine) autoHop(ctx context.Context, state *model.WorkflowState, next progression.Transition) (*model.WorkflowState, error) {
	var data model.JSONB
	if next.Action == model.ActionSendProposal && state.TreatmentPlan == nil {
		data = model.JSONB{
			"treatmentPlan": map[string]interface{}(progression.SynthesizeTreatmentPlan(state.ScanResults)),
		}
	}
	return e.applyTransition(ctx, state, next.Action, string(model.RoleSystem), nil, data, "")
}

// spawnStageTasks creates the queue work a stage calls for. Failures are
// logged; the transition already committed.
func (e *Engine) spawnStageTasks(ctx context.Context, state *model.WorkflowState) {
	if e.tasks == nil {
		return
	}
	stageTask, ok := progression.StageTaskFor(state.CurrentStage)
	if !ok {
		return
	}

	assignee := state.AssignedSalesID
	if stageTask.Assignee == progression.AssignBeautician {
		assignee = state.AssignedBeauticianID
	}

	_, err := e.tasks.CreateTask(ctx, taskqueue.CreateTaskParams{
		WorkflowID:   state.ID,
		TaskType:     stageTask.Type,
		CustomerName: state.CustomerName,
		AssignedTo:   assignee,
	})
	if err != nil {
		e.logger.Error("stage task not created",
			zap.String("workflow_id", state.ID.String()),
			zap.String("task_type", string(stageTask.Type)),
			zap.Error(err),
		)
	}
}

// notifyStageChange emits the dashboard events for the stage just reached.
// Event failures never unwind a committed transition.
func (e *Engine) notifyStageChange(ctx context.Context, state *model.WorkflowState, actorID string) {
	if e.events == nil {
		return
	}

	var err error
	switch state.CurrentStage {
	case model.StageScanned:
		err = e.events.NotifyCustomerScanned(ctx, state, actorID)
	case model.StagePaymentConfirmed:
		err = e.events.NotifyPaymentReceived(ctx, state, actorID, state.TreatmentPlanTotal())
	case model.StageTreatmentScheduled:
		err = e.events.NotifyTreatmentScheduled(ctx, state, actorID)
	case model.StageTreatmentCompleted:
		err = e.events.NotifyTreatmentCompleted(ctx, state, actorID)
	case model.StageFollowUp:
		err = e.events.NotifyUpsellOpportunity(ctx, state)
	}
	if err != nil {
		e.logger.Warn("stage event not delivered",
			zap.String("workflow_id", state.ID.String()),
			zap.String("stage", string(state.CurrentStage)),
			zap.Error(err),
		)
	}

	if err := e.events.NotifyOwnerWorkflowUpdate(ctx, state, actorID, nil); err != nil {
		e.logger.Warn("owner update not delivered",
			zap.String("workflow_id", state.ID.String()),
			zap.Error(err),
		)
	}
}

// GetWorkflowState loads a workflow with its ordered action history.
func (e *Engine) GetWorkflowState(ctx context.Context, workflowID uuid.UUID) (*model.WorkflowState, error) {
	state, err := e.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	actions, err := e.actions.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, &model.PersistenceError{Op: "list actions", Err: err}
	}
	state.Actions = actions
	return state, nil
}

// GetClinicWorkflows lists a clinic's workflows, most recently updated first.
func (e *Engine) GetClinicWorkflows(ctx context.Context, filter ListFilter) ([]model.WorkflowState, error) {
	if filter.ClinicID == "" {
		return nil, &model.ValidationError{Field: "clinicId", Reason: "required"}
	}
	if filter.Stage != "" && !model.IsValidStage(filter.Stage) {
		return nil, &model.ValidationError{Field: "stage", Reason: "unknown stage"}
	}
	workflows, err := e.workflows.List(ctx, filter)
	if err != nil {
		return nil, &model.PersistenceError{Op: "list workflows", Err: err}
	}
	return workflows, nil
}

// StageCounts returns the funnel snapshot for a clinic.
func (e *Engine) StageCounts(ctx context.Context, clinicID string) (map[model.WorkflowStage]int64, error) {
	if clinicID == "" {
		return nil, &model.ValidationError{Field: "clinicId", Reason: "required"}
	}
	counts, err := e.workflows.CountByStage(ctx, clinicID)
	if err != nil {
		return nil, &model.PersistenceError{Op: "count workflows", Err: err}
	}
	return counts, nil
}
