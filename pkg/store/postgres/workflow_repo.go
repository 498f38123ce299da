package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/auraflow/auraflow/pkg/engine"
	"github.com/auraflow/auraflow/pkg/model"
)

type WorkflowRepository struct {
	db *gorm.DB
}

func NewWorkflowRepository(db *gorm.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

func (r *WorkflowRepository) Create(ctx context.Context, state *model.WorkflowState) error {
	return r.db.WithContext(ctx).Create(state).Error
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.WorkflowState, error) {
	var state model.WorkflowState
	err := r.db.WithContext(ctx).First(&state, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &model.NotFoundError{Kind: "workflow", ID: id.String()}
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// Transition commits a stage move and its audit action in one transaction.
// The UPDATE is guarded by the stage the caller read, so a concurrent move
// matches zero rows and the whole transaction rolls back with a
// ConcurrentModificationError.
func (r *WorkflowRepository) Transition(ctx context.Context, id uuid.UUID, expectedStage model.WorkflowStage, state *model.WorkflowState, action *model.WorkflowAction) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.WorkflowState{}).
			Where("id = ? AND current_stage = ?", id, expectedStage).
			Updates(map[string]interface{}{
				"current_stage":          state.CurrentStage,
				"assigned_sales_id":      state.AssignedSalesID,
				"assigned_beautician_id": state.AssignedBeauticianID,
				"scan_results":           state.ScanResults,
				"treatment_plan":         state.TreatmentPlan,
				"metadata":               state.Metadata,
				"updated_at":             state.UpdatedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return &model.ConcurrentModificationError{WorkflowID: id.String()}
		}
		return tx.Create(action).Error
	})
}

func (r *WorkflowRepository) List(ctx context.Context, filter engine.ListFilter) ([]model.WorkflowState, error) {
	query := r.db.WithContext(ctx).
		Model(&model.WorkflowState{}).
		Where("clinic_id = ?", filter.ClinicID)

	if filter.Stage != "" {
		query = query.Where("current_stage = ?", filter.Stage)
	}
	if filter.AssignedTo != "" {
		query = query.Where("assigned_sales_id = ? OR assigned_beautician_id = ?",
			filter.AssignedTo, filter.AssignedTo)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var workflows []model.WorkflowState
	err := query.
		Order("updated_at DESC").
		Limit(limit).
		Offset(filter.Offset).
		Find(&workflows).Error
	return workflows, err
}

func (r *WorkflowRepository) CountByStage(ctx context.Context, clinicID string) (map[model.WorkflowStage]int64, error) {
	var rows []struct {
		CurrentStage model.WorkflowStage
		Count        int64
	}
	err := r.db.WithContext(ctx).
		Model(&model.WorkflowState{}).
		Select("current_stage, count(*) as count").
		Where("clinic_id = ?", clinicID).
		Group("current_stage").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[model.WorkflowStage]int64, len(rows))
	for _, row := range rows {
		counts[row.CurrentStage] = row.Count
	}
	return counts, nil
}

// ListFollowUpDue returns workflows parked at treatment_completed whose
// follow-up stamp has passed. The stamp lives in metadata so it survives
// restarts; the sweeper polls this.
func (r *WorkflowRepository) ListFollowUpDue(ctx context.Context, now time.Time, limit int) ([]model.WorkflowState, error) {
	if limit <= 0 {
		limit = 100
	}
	var workflows []model.WorkflowState
	err := r.db.WithContext(ctx).
		Where("current_stage = ?", model.StageTreatmentCompleted).
		Where("metadata->>'followUpDueAt' IS NOT NULL").
		Where("(metadata->>'followUpDueAt')::timestamptz <= ?", now).
		Order("updated_at ASC").
		Limit(limit).
		Find(&workflows).Error
	return workflows, err
}

type ActionRepository struct {
	db *gorm.DB
}

func NewActionRepository(db *gorm.DB) *ActionRepository {
	return &ActionRepository{db: db}
}

func (r *ActionRepository) Append(ctx context.Context, action *model.WorkflowAction) error {
	return r.db.WithContext(ctx).Create(action).Error
}

func (r *ActionRepository) ListByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]model.WorkflowAction, error) {
	var actions []model.WorkflowAction
	err := r.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("performed_at ASC").
		Find(&actions).Error
	return actions, err
}
