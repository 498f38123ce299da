package model

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowActionType names the operation that caused a stage move.
type WorkflowActionType string

const (
	// ActionLeadCreated is recorded exactly once when a workflow is opened;
	// it never appears in the transition table.
	ActionLeadCreated WorkflowActionType = "lead_created"

	ActionScanCustomer        WorkflowActionType = "scan_customer"
	ActionSendProposal        WorkflowActionType = "send_proposal"
	ActionConfirmPayment      WorkflowActionType = "confirm_payment"
	ActionScheduleAppointment WorkflowActionType = "schedule_appointment"
	ActionStartTreatment      WorkflowActionType = "start_treatment"
	ActionCompleteTreatment   WorkflowActionType = "complete_treatment"
	ActionSendFollowUp        WorkflowActionType = "send_follow_up"
	ActionCloseCase           WorkflowActionType = "close_case"
)

// WorkflowAction is an immutable audit record. Exactly one action is appended
// per successful transition and actions are never edited or removed; the
// ordered sequence for a workflow reconstructs its full stage history.
type WorkflowAction struct {
	ID          uuid.UUID          `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	WorkflowID  uuid.UUID          `gorm:"type:uuid;not null;index" json:"workflowId"`
	Type        WorkflowActionType `gorm:"type:varchar(50);not null" json:"type"`
	PerformedBy string             `gorm:"not null" json:"performedBy"`
	PerformedAt time.Time          `gorm:"index" json:"performedAt"`
	FromStage   WorkflowStage      `gorm:"type:varchar(50);not null" json:"fromStage"`
	ToStage     WorkflowStage      `gorm:"type:varchar(50);not null" json:"toStage"`
	Data        JSONB              `gorm:"type:jsonb" json:"data,omitempty"`
	Notes       string             `json:"notes,omitempty"`
}

func (WorkflowAction) TableName() string {
	return "workflow_actions"
}
