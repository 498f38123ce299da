package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/auraflow/auraflow/pkg/broadcast"
	"github.com/auraflow/auraflow/pkg/model"
	"github.com/auraflow/auraflow/pkg/progression"
	"github.com/auraflow/auraflow/pkg/taskqueue"
)

// memStore backs both the workflow and action interfaces with the same
// optimistic-concurrency behavior as the SQL store.
type memStore struct {
	mu        sync.Mutex
	workflows map[uuid.UUID]*model.WorkflowState
	actions   map[uuid.UUID][]model.WorkflowAction
}

func newMemStore() *memStore {
	return &memStore{
		workflows: make(map[uuid.UUID]*model.WorkflowState),
		actions:   make(map[uuid.UUID][]model.WorkflowAction),
	}
}

func (s *memStore) Create(ctx context.Context, state *model.WorkflowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *state
	s.workflows[state.ID] = &clone
	return nil
}

func (s *memStore) GetByID(ctx context.Context, id uuid.UUID) (*model.WorkflowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.workflows[id]
	if !ok {
		return nil, &model.NotFoundError{Kind: "workflow", ID: id.String()}
	}
	clone := *state
	return &clone, nil
}

func (s *memStore) Transition(ctx context.Context, id uuid.UUID, expectedStage model.WorkflowStage, state *model.WorkflowState, action *model.WorkflowAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.workflows[id]
	if !ok {
		return &model.NotFoundError{Kind: "workflow", ID: id.String()}
	}
	if current.CurrentStage != expectedStage {
		return &model.ConcurrentModificationError{WorkflowID: id.String()}
	}
	clone := *state
	s.workflows[id] = &clone
	s.actions[id] = append(s.actions[id], *action)
	return nil
}

func (s *memStore) List(ctx context.Context, filter ListFilter) ([]model.WorkflowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.WorkflowState
	for _, state := range s.workflows {
		if filter.ClinicID != "" && state.ClinicID != filter.ClinicID {
			continue
		}
		if filter.Stage != "" && state.CurrentStage != filter.Stage {
			continue
		}
		out = append(out, *state)
	}
	return out, nil
}

func (s *memStore) CountByStage(ctx context.Context, clinicID string) (map[model.WorkflowStage]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[model.WorkflowStage]int64)
	for _, state := range s.workflows {
		if state.ClinicID == clinicID {
			counts[state.CurrentStage]++
		}
	}
	return counts, nil
}

func (s *memStore) Append(ctx context.Context, action *model.WorkflowAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[action.WorkflowID] = append(s.actions[action.WorkflowID], *action)
	return nil
}

func (s *memStore) ListByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]model.WorkflowAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.WorkflowAction(nil), s.actions[workflowID]...), nil
}

type memTaskStore struct {
	mu    sync.Mutex
	tasks []*model.Task
}

func (s *memTaskStore) Create(ctx context.Context, task *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *task
	s.tasks = append(s.tasks, &clone)
	return nil
}

func (s *memTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range s.tasks {
		if task.ID == id {
			clone := *task
			return &clone, nil
		}
	}
	return nil, &model.NotFoundError{Kind: "task", ID: id.String()}
}

func (s *memTaskStore) Update(ctx context.Context, task *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.tasks {
		if existing.ID == task.ID {
			clone := *task
			s.tasks[i] = &clone
			return nil
		}
	}
	return errors.New("missing row")
}

func (s *memTaskStore) ListByUser(ctx context.Context, userID string, statuses []model.TaskStatus) ([]model.Task, error) {
	return nil, nil
}

func (s *memTaskStore) ListByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Task
	for _, task := range s.tasks {
		if task.WorkflowID == workflowID {
			out = append(out, *task)
		}
	}
	return out, nil
}

func (s *memTaskStore) ListPendingByClinic(ctx context.Context, clinicID string) ([]model.Task, error) {
	return nil, nil
}

func (s *memTaskStore) ListUnassignedPending(ctx context.Context, clinicID string) ([]model.Task, error) {
	return nil, nil
}

func (s *memTaskStore) UpdatePriority(ctx context.Context, id uuid.UUID, priority model.TaskPriority) error {
	return nil
}

func (s *memTaskStore) AssignIfUnassigned(ctx context.Context, id uuid.UUID, userID string) (bool, error) {
	return false, nil
}

func (s *memTaskStore) MarkOverdue(ctx context.Context, now time.Time) (int64, error) { return 0, nil }

func (s *memTaskStore) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (s *memTaskStore) byType(taskType model.TaskType) []*model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Task
	for _, task := range s.tasks {
		if task.TaskType == taskType {
			out = append(out, task)
		}
	}
	return out
}

type memEventStore struct {
	mu     sync.Mutex
	events []*model.WorkflowEvent
}

func (s *memEventStore) Insert(ctx context.Context, e *model.WorkflowEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *memEventStore) History(ctx context.Context, workflowID uuid.UUID, types []model.EventType, limit int) ([]model.WorkflowEvent, error) {
	return nil, nil
}

func (s *memEventStore) MarkProcessed(ctx context.Context, ids []uuid.UUID) error { return nil }

func (s *memEventStore) byType(eventType model.EventType) []*model.WorkflowEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.WorkflowEvent
	for _, e := range s.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

type noStaff struct{}

func (noStaff) ListStaff(ctx context.Context, clinicID string) ([]model.Staff, error) {
	return nil, nil
}

func newTestEngine(t *testing.T) (*Engine, *memStore, *memTaskStore, *memEventStore) {
	t.Helper()
	store := newMemStore()
	taskStore := &memTaskStore{}
	eventStore := &memEventStore{}
	broadcaster := broadcast.NewBroadcaster(eventStore, nil, nil, zap.NewNop())
	tasks := taskqueue.NewManager(taskStore, noStaff{}, broadcaster, zap.NewNop())
	eng := NewEngine(store, store, tasks, broadcaster, zap.NewNop())
	return eng, store, taskStore, eventStore
}

func createWorkflow(t *testing.T, eng *Engine) *model.WorkflowState {
	t.Helper()
	state, err := eng.CreateWorkflow(context.Background(), CreateWorkflowParams{
		ClinicID:        "clinic-1",
		CustomerID:      "cust-1",
		CustomerName:    "Alice",
		AssignedSalesID: "S1",
	})
	if err != nil {
		t.Fatal(err)
	}
	return state
}

func TestCreateWorkflow(t *testing.T) {
	eng, store, taskStore, _ := newTestEngine(t)

	state := createWorkflow(t, eng)
	if state.CurrentStage != model.StageLeadCreated {
		t.Fatalf("stage = %s, want lead_created", state.CurrentStage)
	}

	actions, _ := store.ListByWorkflow(context.Background(), state.ID)
	if len(actions) != 1 || actions[0].Type != model.ActionLeadCreated {
		t.Fatalf("opening audit missing: %+v", actions)
	}

	scans := taskStore.byType(model.TaskScanCustomer)
	if len(scans) != 1 || scans[0].AssignedTo != "S1" {
		t.Fatalf("initial scan task wrong: %+v", scans)
	}
}

func TestCreateWorkflowValidation(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)

	_, err := eng.CreateWorkflow(context.Background(), CreateWorkflowParams{
		ClinicID:   "clinic-1",
		CustomerID: "cust-1",
	})
	var ve *model.ValidationError
	if !errors.As(err, &ve) || ve.Field != "customerName" {
		t.Fatalf("expected customerName validation error, got %v", err)
	}
}

func TestIllegalTransitionLeavesStateUnchanged(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	ctx := context.Background()
	state := createWorkflow(t, eng)

	_, err := eng.ExecuteTransition(ctx, state.ID, model.ActionConfirmPayment, "S1",
		[]model.StaffRole{model.RoleSalesStaff}, nil, "")
	var ite *model.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}

	fresh, err := store.GetByID(ctx, state.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fresh.CurrentStage != model.StageLeadCreated {
		t.Fatalf("rejected transition moved the stage to %s", fresh.CurrentStage)
	}
	actions, _ := store.ListByWorkflow(ctx, state.ID)
	if len(actions) != 1 {
		t.Fatalf("rejected transition appended history: %d actions", len(actions))
	}
}

func TestScanAutoAdvancesToProposal(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	ctx := context.Background()
	state := createWorkflow(t, eng)

	after, err := eng.ExecuteTransition(ctx, state.ID, model.ActionScanCustomer, "S1",
		[]model.StaffRole{model.RoleSalesStaff},
		model.JSONB{
			"scanResults": map[string]interface{}{"urgencyScore": float64(80)},
			"salesId":     "S1",
		}, "")
	if err != nil {
		t.Fatal(err)
	}

	// The scan lands on scanned and the auto hop pushes straight to
	// proposal_sent with a synthesized plan.
	if after.CurrentStage != model.StageProposalSent {
		t.Fatalf("stage = %s, want proposal_sent", after.CurrentStage)
	}
	if after.TreatmentPlanTotal() != 5000 {
		t.Fatalf("urgent plan total = %v, want 5000", after.TreatmentPlanTotal())
	}

	actions, _ := store.ListByWorkflow(ctx, state.ID)
	// Opening + scan_customer + send_proposal.
	if len(actions) != 3 {
		t.Fatalf("action history has %d entries, want 3", len(actions))
	}
	if actions[2].Type != model.ActionSendProposal || actions[2].PerformedBy != string(model.RoleSystem) {
		t.Fatalf("auto hop audit wrong: %+v", actions[2])
	}
}

func TestConfirmPaymentGuard(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	ctx := context.Background()

	// Seed directly at proposal_sent without a plan.
	state := &model.WorkflowState{
		ID:           uuid.New(),
		ClinicID:     "clinic-1",
		CustomerID:   "cust-1",
		CustomerName: "Alice",
		CurrentStage: model.StageProposalSent,
	}
	if err := store.Create(ctx, state); err != nil {
		t.Fatal(err)
	}

	_, err := eng.ExecuteTransition(ctx, state.ID, model.ActionConfirmPayment, "S1",
		[]model.StaffRole{model.RoleSalesStaff}, nil, "")
	var pe *model.PreconditionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PreconditionError, got %v", err)
	}

	state.TreatmentPlan = model.JSONB{"totalAmount": float64(15000)}
	if err := store.Create(ctx, state); err != nil {
		t.Fatal(err)
	}
	after, err := eng.ExecuteTransition(ctx, state.ID, model.ActionConfirmPayment, "S1",
		[]model.StaffRole{model.RoleSalesStaff}, model.JSONB{"paymentMethod": "card"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if after.CurrentStage != model.StagePaymentConfirmed {
		t.Fatalf("stage = %s, want payment_confirmed", after.CurrentStage)
	}
	if after.Metadata["paidAmount"] != float64(15000) {
		t.Fatalf("paid amount not recorded: %v", after.Metadata)
	}
}

func TestRoleGating(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	ctx := context.Background()

	state := &model.WorkflowState{
		ID:           uuid.New(),
		ClinicID:     "clinic-1",
		CustomerID:   "cust-1",
		CustomerName: "Alice",
		CurrentStage: model.StageTreatmentScheduled,
	}
	if err := store.Create(ctx, state); err != nil {
		t.Fatal(err)
	}

	_, err := eng.ExecuteTransition(ctx, state.ID, model.ActionStartTreatment, "S1",
		[]model.StaffRole{model.RoleSalesStaff}, nil, "")
	var fe *model.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("sales staff must not start treatments, got %v", err)
	}

	if _, err := eng.ExecuteTransition(ctx, state.ID, model.ActionStartTreatment, "B1",
		[]model.StaffRole{model.RoleBeautician}, nil, ""); err != nil {
		t.Fatal(err)
	}
}

func TestConcurrentTransitionsOneWinner(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	state := createWorkflow(t, eng)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := eng.ExecuteTransition(ctx, state.ID, model.ActionScanCustomer, "S1",
				[]model.StaffRole{model.RoleSalesStaff},
				model.JSONB{"salesId": "S1"}, "")
			results[i] = err
		}(i)
	}
	wg.Wait()

	var wins, callerErrs int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case model.IsCallerError(err):
			// The loser retried against fresh state and found the scan
			// already done.
			callerErrs++
		default:
			t.Fatalf("unexpected error class: %v", err)
		}
	}
	if wins != 1 || callerErrs != 1 {
		t.Fatalf("wins = %d, caller errors = %d; want 1 and 1", wins, callerErrs)
	}
}

func TestFullJourney(t *testing.T) {
	eng, store, taskStore, eventStore := newTestEngine(t)
	ctx := context.Background()
	state := createWorkflow(t, eng)

	sales := []model.StaffRole{model.RoleSalesStaff}
	beauty := []model.StaffRole{model.RoleBeautician}

	if _, err := eng.ExecuteTransition(ctx, state.ID, model.ActionScanCustomer, "S1", sales,
		model.JSONB{"scanResults": map[string]interface{}{"urgencyScore": float64(80)}, "salesId": "S1"}, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.ExecuteTransition(ctx, state.ID, model.ActionConfirmPayment, "S1", sales,
		model.JSONB{"paymentMethod": "card"}, ""); err != nil {
		t.Fatal(err)
	}
	scheduled, err := eng.ExecuteTransition(ctx, state.ID, model.ActionScheduleAppointment, "S1", sales,
		model.JSONB{"beauticianId": "B1", "appointmentDate": "2025-03-01", "appointmentTime": "14:00"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if scheduled.CurrentStage != model.StageTreatmentScheduled || scheduled.AssignedBeauticianID != "B1" {
		t.Fatalf("scheduling failed: %+v", scheduled)
	}

	// Scheduling spawns the prep task for the beautician and targets them
	// with an appointment event.
	preps := taskStore.byType(model.TaskPrepareTreatment)
	if len(preps) != 1 || preps[0].AssignedTo != "B1" {
		t.Fatalf("prep task wrong: %+v", preps)
	}
	if events := eventStore.byType(model.EventAppointmentScheduled); len(events) != 1 {
		t.Fatalf("want 1 appointment event, have %d", len(events))
	}

	if _, err := eng.ExecuteTransition(ctx, state.ID, model.ActionStartTreatment, "B1", beauty, nil, ""); err != nil {
		t.Fatal(err)
	}
	completed, err := eng.ExecuteTransition(ctx, state.ID, model.ActionCompleteTreatment, "B1", beauty, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	// The delayed follow-up must not fire inline; the due stamp is what the
	// sweeper later acts on.
	if completed.CurrentStage != model.StageTreatmentCompleted {
		t.Fatalf("stage = %s, want treatment_completed", completed.CurrentStage)
	}
	if _, ok := completed.Metadata[progression.MetaFollowUpDueAt]; !ok {
		t.Fatal("follow-up due stamp missing")
	}

	// Sweeper-style system transition, then close.
	if _, err := eng.ExecuteTransition(ctx, state.ID, model.ActionSendFollowUp,
		string(model.RoleSystem), nil, model.JSONB{"followUpType": "post_treatment"}, ""); err != nil {
		t.Fatal(err)
	}
	final, err := eng.ExecuteTransition(ctx, state.ID, model.ActionCloseCase, "S1", sales, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if final.CurrentStage != model.StageCompleted {
		t.Fatalf("stage = %s, want completed", final.CurrentStage)
	}

	counts, err := eng.StageCounts(ctx, "clinic-1")
	if err != nil {
		t.Fatal(err)
	}
	if counts[model.StageCompleted] != 1 {
		t.Fatalf("stage counts = %v", counts)
	}

	loaded, err := eng.GetWorkflowState(ctx, state.ID)
	if err != nil {
		t.Fatal(err)
	}
	// Opening + 8 transitions (send_proposal fired as the auto hop).
	if len(loaded.Actions) != 9 {
		t.Fatalf("history has %d actions, want 9", len(loaded.Actions))
	}

	// The stored stage must match the last recorded action.
	persisted, err := store.GetByID(ctx, state.ID)
	if err != nil {
		t.Fatal(err)
	}
	if last := loaded.Actions[len(loaded.Actions)-1]; persisted.CurrentStage != last.ToStage {
		t.Fatalf("stored stage %s does not match last action target %s", persisted.CurrentStage, last.ToStage)
	}
}
