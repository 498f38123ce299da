package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WorkflowStage is one step of the customer journey. The order below is the
// only order the engine ever moves through; there are no backward transitions.
type WorkflowStage string

const (
	StageLeadCreated        WorkflowStage = "lead_created"
	StageScanned            WorkflowStage = "scanned"
	StageProposalSent       WorkflowStage = "proposal_sent"
	StagePaymentConfirmed   WorkflowStage = "payment_confirmed"
	StageTreatmentScheduled WorkflowStage = "treatment_scheduled"
	StageInTreatment        WorkflowStage = "in_treatment"
	StageTreatmentCompleted WorkflowStage = "treatment_completed"
	StageFollowUp           WorkflowStage = "follow_up"
	StageCompleted          WorkflowStage = "completed"
)

var allStages = []WorkflowStage{
	StageLeadCreated,
	StageScanned,
	StageProposalSent,
	StagePaymentConfirmed,
	StageTreatmentScheduled,
	StageInTreatment,
	StageTreatmentCompleted,
	StageFollowUp,
	StageCompleted,
}

func Stages() []WorkflowStage {
	stages := make([]WorkflowStage, len(allStages))
	copy(stages, allStages)
	return stages
}

func IsValidStage(stage WorkflowStage) bool {
	for _, s := range allStages {
		if s == stage {
			return true
		}
	}
	return false
}

func (s WorkflowStage) Terminal() bool {
	return s == StageCompleted
}

// WorkflowState is one customer journey instance. CurrentStage together with
// the append-only action history is the source of truth for where the
// customer is; customer contact fields are denormalized for display.
type WorkflowState struct {
	ID                   uuid.UUID     `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	ClinicID             string        `gorm:"not null;index" json:"clinicId"`
	CustomerID           string        `gorm:"not null;index" json:"customerId"`
	CustomerName         string        `gorm:"not null" json:"customerName"`
	CustomerEmail        string        `json:"customerEmail,omitempty"`
	CustomerPhone        string        `json:"customerPhone,omitempty"`
	CurrentStage         WorkflowStage `gorm:"type:varchar(50);not null;default:'lead_created';index" json:"currentStage"`
	AssignedSalesID      string        `gorm:"index" json:"assignedSalesId,omitempty"`
	AssignedBeauticianID string        `gorm:"index" json:"assignedBeauticianId,omitempty"`
	ScanResults          JSONB         `gorm:"type:jsonb" json:"scanResults,omitempty"`
	TreatmentPlan        JSONB         `gorm:"type:jsonb" json:"treatmentPlan,omitempty"`
	Metadata             JSONB         `gorm:"type:jsonb;default:'{}'" json:"metadata"`

	Actions []WorkflowAction `gorm:"foreignKey:WorkflowID" json:"actions,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (WorkflowState) TableName() string {
	return "workflow_states"
}

// TreatmentPlanTotal returns the plan's totalAmount, or 0 when no plan is
// attached. JSON numbers decode as float64.
func (w *WorkflowState) TreatmentPlanTotal() float64 {
	if w.TreatmentPlan == nil {
		return 0
	}
	total, _ := w.TreatmentPlan["totalAmount"].(float64)
	return total
}

// UrgencyScore returns the scan's urgency score, or 0 when unscanned.
func (w *WorkflowState) UrgencyScore() float64 {
	if w.ScanResults == nil {
		return 0
	}
	score, _ := w.ScanResults["urgencyScore"].(float64)
	return score
}

// JSONB is an open key/value bag persisted as a jsonb column. Producers
// outside the core (scan analysis, proposal generation) vary its shape, so it
// is never a concrete struct.
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("failed to scan JSONB: %v", value)
	}
	return json.Unmarshal(bytes, j)
}

func (j JSONB) GormDataType() string {
	return "jsonb"
}

// Clone returns a shallow copy so callers can merge keys without mutating the
// stored map.
func (j JSONB) Clone() JSONB {
	if j == nil {
		return nil
	}
	out := make(JSONB, len(j))
	for k, v := range j {
		out[k] = v
	}
	return out
}
