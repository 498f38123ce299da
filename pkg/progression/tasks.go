package progression

import (
	"strings"
	"time"

	"github.com/auraflow/auraflow/pkg/model"
)

// TaskTemplate drives title/description rendering and defaults when the task
// queue creates a task of a given type.
type TaskTemplate struct {
	Type             model.TaskType
	Title            string // {customerName} placeholder
	Description      string
	DefaultPriority  model.TaskPriority
	EstimatedMinutes int
	AutoAssign       bool
}

var taskTemplates = map[model.TaskType]TaskTemplate{
	model.TaskScanCustomer: {
		Type:             model.TaskScanCustomer,
		Title:            "Skin scan: {customerName}",
		Description:      "Scan the customer's skin and analyze concerns",
		DefaultPriority:  model.PriorityHigh,
		EstimatedMinutes: 15,
		AutoAssign:       true,
	},
	model.TaskSendProposal: {
		Type:             model.TaskSendProposal,
		Title:            "Send proposal: {customerName}",
		Description:      "Build and send a proposal from the scan results",
		DefaultPriority:  model.PriorityHigh,
		EstimatedMinutes: 30,
		AutoAssign:       true,
	},
	model.TaskPrepareTreatment: {
		Type:             model.TaskPrepareTreatment,
		Title:            "Prepare treatment: {customerName}",
		Description:      "Prepare equipment and room for the treatment",
		DefaultPriority:  model.PriorityMedium,
		EstimatedMinutes: 20,
		AutoAssign:       true,
	},
	model.TaskFollowUpUpsell: {
		Type:             model.TaskFollowUpUpsell,
		Title:            "Upsell follow-up: {customerName}",
		Description:      "Follow up after treatment and offer additional services",
		DefaultPriority:  model.PriorityMedium,
		EstimatedMinutes: 10,
		AutoAssign:       true,
	},
	model.TaskCustomerFollowUp: {
		Type:             model.TaskCustomerFollowUp,
		Title:            "Customer follow-up: {customerName}",
		Description:      "Check satisfaction and treatment results",
		DefaultPriority:  model.PriorityLow,
		EstimatedMinutes: 5,
		AutoAssign:       true,
	},
	model.TaskPaymentReminder: {
		Type:             model.TaskPaymentReminder,
		Title:            "Payment reminder: {customerName}",
		Description:      "Remind the customer to pay for the treatment",
		DefaultPriority:  model.PriorityHigh,
		EstimatedMinutes: 5,
	},
	model.TaskAppointmentReminder: {
		Type:             model.TaskAppointmentReminder,
		Title:            "Appointment reminder: {customerName}",
		Description:      "Remind the customer about the upcoming appointment",
		DefaultPriority:  model.PriorityMedium,
		EstimatedMinutes: 3,
		AutoAssign:       true,
	},
	model.TaskReviewRequest: {
		Type:             model.TaskReviewRequest,
		Title:            "Review request: {customerName}",
		Description:      "Ask the customer to rate and review the service",
		DefaultPriority:  model.PriorityLow,
		EstimatedMinutes: 5,
		AutoAssign:       true,
	},
}

// TemplateFor returns the template for a task type.
func TemplateFor(taskType model.TaskType) (TaskTemplate, bool) {
	template, ok := taskTemplates[taskType]
	return template, ok
}

// RenderTitle substitutes the customer name into a template title.
func (t TaskTemplate) RenderTitle(customerName string) string {
	return strings.ReplaceAll(t.Title, "{customerName}", customerName)
}

// Base scores per task type. Payment reminders outrank everything; review
// requests score lowest.
var typeScores = map[model.TaskType]int{
	model.TaskPaymentReminder:     100,
	model.TaskScanCustomer:        90,
	model.TaskSendProposal:        80,
	model.TaskAppointmentReminder: 70,
	model.TaskPrepareTreatment:    60,
	model.TaskFollowUpUpsell:      40,
	model.TaskCustomerFollowUp:    30,
	model.TaskReviewRequest:       20,
}

// Stage importance bonuses: tasks on workflows deeper in the funnel score
// higher until the journey winds down.
var stageScores = map[model.WorkflowStage]int{
	model.StageLeadCreated:        10,
	model.StageScanned:            20,
	model.StageProposalSent:       15,
	model.StagePaymentConfirmed:   25,
	model.StageTreatmentScheduled: 30,
	model.StageInTreatment:        35,
	model.StageTreatmentCompleted: 20,
	model.StageFollowUp:           10,
	model.StageCompleted:          0,
}

// ScoreTask computes the deterministic priority score for a pending task.
// Same inputs always produce the same score; there is no randomness or clock
// read inside.
func ScoreTask(taskType model.TaskType, dueDate *time.Time, now time.Time, urgencyScore float64, stage model.WorkflowStage) float64 {
	score := float64(50)
	if base, ok := typeScores[taskType]; ok {
		score = float64(base)
	}

	if dueDate != nil {
		hoursUntilDue := dueDate.Sub(now).Hours()
		switch {
		case hoursUntilDue < 1:
			score += 50
		case hoursUntilDue < 4:
			score += 30
		case hoursUntilDue < 24:
			score += 10
		}
	}

	score += urgencyScore * 0.3
	score += float64(stageScores[stage])

	return score
}

// PriorityForScore buckets a score into the four priority levels.
func PriorityForScore(score float64) model.TaskPriority {
	switch {
	case score >= 120:
		return model.PriorityCritical
	case score >= 90:
		return model.PriorityHigh
	case score >= 60:
		return model.PriorityMedium
	default:
		return model.PriorityLow
	}
}

// Role eligibility per task type for auto-assignment. Types absent from the
// map accept any staff.
var taskTypeRoles = map[model.TaskType][]model.StaffRole{
	model.TaskScanCustomer:        {model.RoleSalesStaff},
	model.TaskSendProposal:        {model.RoleSalesStaff},
	model.TaskPrepareTreatment:    {model.RoleBeautician},
	model.TaskFollowUpUpsell:      {model.RoleSalesStaff},
	model.TaskCustomerFollowUp:    {model.RoleSalesStaff, model.RoleBeautician},
	model.TaskPaymentReminder:     {model.RoleSalesStaff},
	model.TaskAppointmentReminder: {model.RoleReception, model.RoleSalesStaff},
	model.TaskReviewRequest:       {model.RoleSalesStaff},
}

// EligibleRoles returns the staff roles allowed to take a task type.
func EligibleRoles(taskType model.TaskType) []model.StaffRole {
	return taskTypeRoles[taskType]
}
