package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/auraflow/auraflow/pkg/model"
)

type fakeSource struct {
	due []model.WorkflowState
	err error
}

func (s *fakeSource) ListFollowUpDue(ctx context.Context, now time.Time, limit int) ([]model.WorkflowState, error) {
	return s.due, s.err
}

type call struct {
	workflowID uuid.UUID
	action     model.WorkflowActionType
	actorID    string
	data       model.JSONB
}

type fakeEngine struct {
	mu    sync.Mutex
	calls []call
	fail  map[uuid.UUID]error
}

func (e *fakeEngine) ExecuteTransition(ctx context.Context, workflowID uuid.UUID, action model.WorkflowActionType, actorID string, actorRoles []model.StaffRole, data model.JSONB, notes string) (*model.WorkflowState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, call{workflowID: workflowID, action: action, actorID: actorID, data: data})
	if err, ok := e.fail[workflowID]; ok {
		return nil, err
	}
	return &model.WorkflowState{ID: workflowID, CurrentStage: model.StageFollowUp}, nil
}

type fakeMaintainer struct {
	overdue int64
	removed int64
}

func (m *fakeMaintainer) MarkOverdueTasks(ctx context.Context) (int64, error) {
	return m.overdue, nil
}

func (m *fakeMaintainer) CleanupOldTasks(ctx context.Context) (int64, error) {
	return m.removed, nil
}

func TestSweepFiresDueFollowUps(t *testing.T) {
	due := []model.WorkflowState{
		{ID: uuid.New(), CurrentStage: model.StageTreatmentCompleted},
		{ID: uuid.New(), CurrentStage: model.StageTreatmentCompleted},
	}
	eng := &fakeEngine{}
	s := NewSweeper(&fakeSource{due: due}, eng, &fakeMaintainer{}, zap.NewNop(), time.Minute, 100)

	s.Sweep(context.Background())

	if len(eng.calls) != 2 {
		t.Fatalf("fired %d transitions, want 2", len(eng.calls))
	}
	for _, c := range eng.calls {
		if c.action != model.ActionSendFollowUp {
			t.Fatalf("action = %s, want send_follow_up", c.action)
		}
		if c.actorID != string(model.RoleSystem) {
			t.Fatalf("actor = %s, want system", c.actorID)
		}
		if c.data["followUpType"] != "post_treatment" {
			t.Fatalf("follow-up data = %v", c.data)
		}
	}
}

func TestSweepToleratesAlreadyAdvancedWorkflows(t *testing.T) {
	raced := uuid.New()
	healthy := uuid.New()
	eng := &fakeEngine{fail: map[uuid.UUID]error{
		raced: &model.InvalidTransitionError{Stage: model.StageFollowUp, Action: model.ActionSendFollowUp},
	}}
	source := &fakeSource{due: []model.WorkflowState{{ID: raced}, {ID: healthy}}}
	s := NewSweeper(source, eng, &fakeMaintainer{}, zap.NewNop(), time.Minute, 100)

	s.Sweep(context.Background())

	// Both are attempted; the race on the first does not stop the pass.
	if len(eng.calls) != 2 {
		t.Fatalf("attempted %d transitions, want 2", len(eng.calls))
	}
}

func TestSweepSurvivesListFailure(t *testing.T) {
	eng := &fakeEngine{}
	s := NewSweeper(&fakeSource{err: errors.New("db down")}, eng, &fakeMaintainer{overdue: 3}, zap.NewNop(), time.Minute, 100)

	// Must not panic, and the task passes still run.
	s.Sweep(context.Background())
	if len(eng.calls) != 0 {
		t.Fatal("no transitions expected when listing fails")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	s := NewSweeper(&fakeSource{}, &fakeEngine{}, &fakeMaintainer{}, zap.NewNop(), 10*time.Millisecond, 100)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on cancel")
	}
}
