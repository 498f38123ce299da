package model

import (
	"time"

	"github.com/google/uuid"
)

type TaskType string

const (
	TaskScanCustomer        TaskType = "scan_customer"
	TaskSendProposal        TaskType = "send_proposal"
	TaskPrepareTreatment    TaskType = "prepare_treatment"
	TaskFollowUpUpsell      TaskType = "follow_up_upsell"
	TaskCustomerFollowUp    TaskType = "customer_follow_up"
	TaskPaymentReminder     TaskType = "payment_reminder"
	TaskAppointmentReminder TaskType = "appointment_reminder"
	TaskReviewRequest       TaskType = "review_request"
)

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
	TaskOverdue    TaskStatus = "overdue"
)

func IsValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskPending, TaskInProgress, TaskCompleted, TaskCancelled, TaskOverdue:
		return true
	default:
		return false
	}
}

type TaskPriority string

const (
	PriorityLow      TaskPriority = "low"
	PriorityMedium   TaskPriority = "medium"
	PriorityHigh     TaskPriority = "high"
	PriorityCritical TaskPriority = "critical"
)

// Rank orders priorities for sorting; higher is more urgent.
func (p TaskPriority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// Task is one concrete unit of work bound to a workflow. AssignedTo is empty
// until a staff member is assigned, either explicitly or by auto-assignment.
type Task struct {
	ID                uuid.UUID      `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	WorkflowID        uuid.UUID      `gorm:"type:uuid;not null;index" json:"workflowId"`
	Workflow          *WorkflowState `gorm:"foreignKey:WorkflowID" json:"-"`
	AssignedTo        string         `gorm:"index" json:"assignedTo,omitempty"`
	TaskType          TaskType       `gorm:"type:varchar(50);not null;index" json:"taskType"`
	Title             string         `gorm:"not null" json:"title"`
	Description       string         `json:"description"`
	Priority          TaskPriority   `gorm:"type:varchar(20);not null;default:'medium';index" json:"priority"`
	Status            TaskStatus     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	DueDate           *time.Time     `gorm:"index" json:"dueDate,omitempty"`
	TaskData          JSONB          `gorm:"type:jsonb;default:'{}'" json:"taskData"`
	EstimatedDuration int            `json:"estimatedDuration,omitempty"` // minutes
	CompletedAt       *time.Time     `json:"completedAt,omitempty"`
	CompletedBy       string         `json:"completedBy,omitempty"`
	Notes             string         `json:"notes,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

func (Task) TableName() string {
	return "task_queue"
}
