// Package sweeper runs the time-driven parts of the journey that no request
// triggers: firing due follow-up transitions, flagging overdue tasks and
// purging old completed ones. Due times live in workflow and task rows, so a
// restart never loses a scheduled follow-up.
package sweeper

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/auraflow/auraflow/pkg/metrics"
	"github.com/auraflow/auraflow/pkg/model"
)

// WorkflowSource lists workflows whose delayed follow-up is due.
type WorkflowSource interface {
	ListFollowUpDue(ctx context.Context, now time.Time, limit int) ([]model.WorkflowState, error)
}

// TransitionExecutor is the engine surface the sweeper drives.
type TransitionExecutor interface {
	ExecuteTransition(ctx context.Context, workflowID uuid.UUID, action model.WorkflowActionType, actorID string, actorRoles []model.StaffRole, data model.JSONB, notes string) (*model.WorkflowState, error)
}

// TaskMaintainer is the task queue's housekeeping surface.
type TaskMaintainer interface {
	MarkOverdueTasks(ctx context.Context) (int64, error)
	CleanupOldTasks(ctx context.Context) (int64, error)
}

type Sweeper struct {
	workflows WorkflowSource
	engine    TransitionExecutor
	tasks     TaskMaintainer
	logger    *zap.Logger
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

func NewSweeper(workflows WorkflowSource, engine TransitionExecutor, tasks TaskMaintainer, logger *zap.Logger, interval time.Duration, batchSize int) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Sweeper{
		workflows: workflows,
		engine:    engine,
		tasks:     tasks,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
		now:       time.Now,
	}
}

func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("sweeper starting", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper shutting down")
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one full pass. Each part is independent; a failure in one is
// logged and the others still run.
func (s *Sweeper) Sweep(ctx context.Context) {
	result := "ok"
	if err := s.fireDueFollowUps(ctx); err != nil {
		result = "error"
	}

	if marked, err := s.tasks.MarkOverdueTasks(ctx); err != nil {
		s.logger.Warn("overdue pass failed", zap.Error(err))
		result = "error"
	} else if marked > 0 {
		s.logger.Info("tasks marked overdue", zap.Int64("count", marked))
	}

	if removed, err := s.tasks.CleanupOldTasks(ctx); err != nil {
		s.logger.Warn("cleanup pass failed", zap.Error(err))
		result = "error"
	} else if removed > 0 {
		s.logger.Info("old tasks removed", zap.Int64("count", removed))
	}

	metrics.SweepRuns.WithLabelValues(result).Inc()
}

func (s *Sweeper) fireDueFollowUps(ctx context.Context) error {
	due, err := s.workflows.ListFollowUpDue(ctx, s.now().UTC(), s.batchSize)
	if err != nil {
		s.logger.Warn("failed to list due follow-ups", zap.Error(err))
		return err
	}

	for _, workflow := range due {
		_, err := s.engine.ExecuteTransition(ctx, workflow.ID, model.ActionSendFollowUp,
			string(model.RoleSystem), nil,
			model.JSONB{"followUpType": "post_treatment"}, "")
		if err != nil {
			// Caller errors mean another process already advanced it; only
			// system faults are worth a warning.
			if !model.IsCallerError(err) {
				s.logger.Warn("follow-up transition failed",
					zap.String("workflow_id", workflow.ID.String()),
					zap.Error(err),
				)
			}
			continue
		}
		metrics.FollowUpsTriggered.Inc()
		s.logger.Info("follow-up fired", zap.String("workflow_id", workflow.ID.String()))
	}
	return nil
}
