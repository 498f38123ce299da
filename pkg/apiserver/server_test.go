package apiserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/auraflow/auraflow/pkg/auth"
	"github.com/auraflow/auraflow/pkg/bridge"
	"github.com/auraflow/auraflow/pkg/broadcast"
	"github.com/auraflow/auraflow/pkg/config"
	"github.com/auraflow/auraflow/pkg/engine"
	"github.com/auraflow/auraflow/pkg/model"
	"github.com/auraflow/auraflow/pkg/taskqueue"
)

// In-memory stores so the full HTTP surface runs without postgres.

type memWorkflows struct {
	mu        sync.Mutex
	workflows map[uuid.UUID]*model.WorkflowState
	actions   map[uuid.UUID][]model.WorkflowAction
}

func newMemWorkflows() *memWorkflows {
	return &memWorkflows{
		workflows: make(map[uuid.UUID]*model.WorkflowState),
		actions:   make(map[uuid.UUID][]model.WorkflowAction),
	}
}

func (s *memWorkflows) Create(ctx context.Context, state *model.WorkflowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *state
	s.workflows[state.ID] = &clone
	return nil
}

func (s *memWorkflows) GetByID(ctx context.Context, id uuid.UUID) (*model.WorkflowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.workflows[id]
	if !ok {
		return nil, &model.NotFoundError{Kind: "workflow", ID: id.String()}
	}
	clone := *state
	return &clone, nil
}

func (s *memWorkflows) Transition(ctx context.Context, id uuid.UUID, expectedStage model.WorkflowStage, state *model.WorkflowState, action *model.WorkflowAction) error {
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

func (s *memWorkflows) List(ctx context.Context, filter engine.ListFilter) ([]model.WorkflowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.WorkflowState
	for _, state := range s.workflows {
		if state.ClinicID == filter.ClinicID {
			out = append(out, *state)
		}
	}
	return out, nil
}

func (s *memWorkflows) CountByStage(ctx context.Context, clinicID string) (map[model.WorkflowStage]int64, error) {
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

func (s *memWorkflows) Append(ctx context.Context, action *model.WorkflowAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[action.WorkflowID] = append(s.actions[action.WorkflowID], *action)
	return nil
}

func (s *memWorkflows) ListByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]model.WorkflowAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.WorkflowAction(nil), s.actions[workflowID]...), nil
}

type memTasks struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*model.Task
}

func newMemTasks() *memTasks {
	return &memTasks{tasks: make(map[uuid.UUID]*model.Task)}
}

func (s *memTasks) Create(ctx context.Context, task *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *task
	s.tasks[task.ID] = &clone
	return nil
}

func (s *memTasks) GetByID(ctx context.Context, id uuid.UUID) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, &model.NotFoundError{Kind: "task", ID: id.String()}
	}
	clone := *task
	return &clone, nil
}

func (s *memTasks) Update(ctx context.Context, task *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *task
	s.tasks[task.ID] = &clone
	return nil
}

func (s *memTasks) ListByUser(ctx context.Context, userID string, statuses []model.TaskStatus) ([]model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Task
	for _, task := range s.tasks {
		if task.AssignedTo != userID {
			continue
		}
		for _, status := range statuses {
			if task.Status == status {
				out = append(out, *task)
				break
			}
		}
	}
	return out, nil
}

func (s *memTasks) ListByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]model.Task, error) {
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

func (s *memTasks) ListPendingByClinic(ctx context.Context, clinicID string) ([]model.Task, error) {
	return nil, nil
}

func (s *memTasks) ListUnassignedPending(ctx context.Context, clinicID string) ([]model.Task, error) {
	return nil, nil
}

func (s *memTasks) UpdatePriority(ctx context.Context, id uuid.UUID, priority model.TaskPriority) error {
	return nil
}

func (s *memTasks) AssignIfUnassigned(ctx context.Context, id uuid.UUID, userID string) (bool, error) {
	return false, nil
}

func (s *memTasks) MarkOverdue(ctx context.Context, now time.Time) (int64, error) { return 0, nil }

func (s *memTasks) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type memEvents struct {
	mu     sync.Mutex
	events []*model.WorkflowEvent
}

func (s *memEvents) Insert(ctx context.Context, e *model.WorkflowEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *memEvents) History(ctx context.Context, workflowID uuid.UUID, types []model.EventType, limit int) ([]model.WorkflowEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.WorkflowEvent
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if s.events[i].WorkflowID == workflowID {
			out = append(out, *s.events[i])
		}
	}
	return out, nil
}

func (s *memEvents) MarkProcessed(ctx context.Context, ids []uuid.UUID) error { return nil }

type noStaff struct{}

func (noStaff) ListStaff(ctx context.Context, clinicID string) ([]model.Staff, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*Server, *auth.StaffTokenManager) {
	t.Helper()
	logger := zap.NewNop()
	tokens := auth.NewStaffTokenManager([]byte("test-secret"), time.Hour)

	store := newMemWorkflows()
	broadcaster := broadcast.NewBroadcaster(&memEvents{}, nil, nil, logger)
	tasks := taskqueue.NewManager(newMemTasks(), noStaff{}, broadcaster, logger)
	eng := engine.NewEngine(store, store, tasks, broadcaster, logger)

	cfg := &config.Config{}
	return NewServer(bridge.New(eng, tasks, broadcaster), tokens, cfg, logger), tokens
}

func doJSON(t *testing.T, s *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health = %d, want 200", w.Code)
	}
}

func TestAPIRequiresAuth(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/v1/workflows", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated request = %d, want 401", w.Code)
	}

	w = doJSON(t, s, http.MethodGet, "/api/v1/workflows", "not-a-token", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token = %d, want 401", w.Code)
	}
}

func TestWorkflowLifecycleOverHTTP(t *testing.T) {
	s, tokens := newTestServer(t)

	salesToken, err := tokens.Generate("S1", "clinic-1", model.RoleSalesStaff)
	if err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, s, http.MethodPost, "/api/v1/workflows", salesToken, map[string]interface{}{
		"customer_id":       "cust-1",
		"customer_name":     "Alice",
		"assigned_sales_id": "S1",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", w.Code, w.Body.String())
	}
	var created model.WorkflowState
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	// Scan; auto hop lands on proposal_sent.
	w = doJSON(t, s, http.MethodPost,
		fmt.Sprintf("/api/v1/workflows/%s/transitions", created.ID), salesToken,
		map[string]interface{}{
			"action": "scan_customer",
			"data": map[string]interface{}{
				"scanResults": map[string]interface{}{"urgencyScore": 80},
				"salesId":     "S1",
			},
		})
	if w.Code != http.StatusOK {
		t.Fatalf("transition = %d: %s", w.Code, w.Body.String())
	}
	var after model.WorkflowState
	if err := json.Unmarshal(w.Body.Bytes(), &after); err != nil {
		t.Fatal(err)
	}
	if after.CurrentStage != model.StageProposalSent {
		t.Fatalf("stage = %s, want proposal_sent", after.CurrentStage)
	}

	// Repeating the scan is now illegal.
	w = doJSON(t, s, http.MethodPost,
		fmt.Sprintf("/api/v1/workflows/%s/transitions", created.ID), salesToken,
		map[string]interface{}{"action": "scan_customer"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("repeat scan = %d, want 400", w.Code)
	}

	// Stats reflect the clinic funnel.
	w = doJSON(t, s, http.MethodGet, "/api/v1/workflows/stats", salesToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats = %d: %s", w.Code, w.Body.String())
	}
	var stats struct {
		Stages map[model.WorkflowStage]int64 `json:"stages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Stages[model.StageProposalSent] != 1 {
		t.Fatalf("stats = %v", stats.Stages)
	}
}

func TestForbiddenTransitionOverHTTP(t *testing.T) {
	s, tokens := newTestServer(t)

	salesToken, err := tokens.Generate("S1", "clinic-1", model.RoleSalesStaff)
	if err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, s, http.MethodPost, "/api/v1/workflows", salesToken, map[string]interface{}{
		"customer_id":   "cust-1",
		"customer_name": "Alice",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d", w.Code)
	}
	var created model.WorkflowState
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	// Reception staff cannot perform the scan.
	receptionToken, err := tokens.Generate("R1", "clinic-1", model.RoleReception)
	if err != nil {
		t.Fatal(err)
	}
	w = doJSON(t, s, http.MethodPost,
		fmt.Sprintf("/api/v1/workflows/%s/transitions", created.ID), receptionToken,
		map[string]interface{}{"action": "scan_customer"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("reception scan = %d, want 403: %s", w.Code, w.Body.String())
	}
}

func TestUnknownWorkflowIs404(t *testing.T) {
	s, tokens := newTestServer(t)

	token, err := tokens.Generate("S1", "clinic-1", model.RoleSalesStaff)
	if err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, s, http.MethodGet, "/api/v1/workflows/"+uuid.NewString(), token, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown workflow = %d, want 404", w.Code)
	}
}
