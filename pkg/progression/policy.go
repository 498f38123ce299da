// Package progression is the single source of truth for how a customer
// journey advances: the legal transition table consumed by the workflow
// engine and the task reaction table consumed by the task queue live side by
// side here so the two cannot drift apart.
//
// There is no backward or cancellation transition; the journey is a fixed
// forward list. A customer abandoning after proposal_sent has no modeled path
// today.
package progression

import (
	"time"

	"github.com/auraflow/auraflow/pkg/model"
)

// Transition is one permitted (from, action) -> to rule. AutoTrigger rows are
// attempted immediately after another transition lands on From; Delayed rows
// are instead fired by the sweeper once their due time passes.
type Transition struct {
	From          model.WorkflowStage
	To            model.WorkflowStage
	Action        model.WorkflowActionType
	RequiredRoles []model.StaffRole
	AutoTrigger   bool
	Delayed       bool
	Guard         func(*model.WorkflowState) error
}

// FollowUpDelay is how long after treatment completion the delayed
// send_follow_up transition becomes due.
const FollowUpDelay = 24 * time.Hour

// CustomerFollowUpDelay is the due date offset for the customer_follow_up
// task created when a follow_up_upsell task completes.
const CustomerFollowUpDelay = 7 * 24 * time.Hour

// MetaFollowUpDueAt is the workflow metadata key stamping when the delayed
// follow-up fires. Stored in the row, not a timer, so it survives restarts.
const MetaFollowUpDueAt = "followUpDueAt"

var transitions = []Transition{
	{
		From:          model.StageLeadCreated,
		To:            model.StageScanned,
		Action:        model.ActionScanCustomer,
		RequiredRoles: []model.StaffRole{model.RoleSalesStaff, model.RoleClinicOwner},
	},
	{
		From:          model.StageScanned,
		To:            model.StageProposalSent,
		Action:        model.ActionSendProposal,
		RequiredRoles: []model.StaffRole{model.RoleSalesStaff},
		AutoTrigger:   true,
	},
	{
		From:   model.StageProposalSent,
		To:     model.StagePaymentConfirmed,
		Action: model.ActionConfirmPayment,
		Guard: func(state *model.WorkflowState) error {
			if state.TreatmentPlanTotal() <= 0 {
				return &model.PreconditionError{
					Action: model.ActionConfirmPayment,
					Reason: "treatment plan with a non-zero total is required",
				}
			}
			return nil
		},
	},
	{
		From:          model.StagePaymentConfirmed,
		To:            model.StageTreatmentScheduled,
		Action:        model.ActionScheduleAppointment,
		RequiredRoles: []model.StaffRole{model.RoleSalesStaff, model.RoleBeautician},
	},
	{
		From:          model.StageTreatmentScheduled,
		To:            model.StageInTreatment,
		Action:        model.ActionStartTreatment,
		RequiredRoles: []model.StaffRole{model.RoleBeautician},
	},
	{
		From:          model.StageInTreatment,
		To:            model.StageTreatmentCompleted,
		Action:        model.ActionCompleteTreatment,
		RequiredRoles: []model.StaffRole{model.RoleBeautician},
	},
	{
		From:        model.StageTreatmentCompleted,
		To:          model.StageFollowUp,
		Action:      model.ActionSendFollowUp,
		AutoTrigger: true,
		Delayed:     true,
	},
	{
		From:          model.StageFollowUp,
		To:            model.StageCompleted,
		Action:        model.ActionCloseCase,
		RequiredRoles: []model.StaffRole{model.RoleSalesStaff, model.RoleClinicOwner},
	},
}

// Transitions returns a copy of the full table.
func Transitions() []Transition {
	out := make([]Transition, len(transitions))
	copy(out, transitions)
	return out
}

// Find returns the transition matching (from, action).
func Find(from model.WorkflowStage, action model.WorkflowActionType) (Transition, bool) {
	for _, t := range transitions {
		if t.From == from && t.Action == action {
			return t, true
		}
	}
	return Transition{}, false
}

// AutoNext returns the immediate auto-trigger transition out of stage, if
// any. Delayed transitions are excluded; the sweeper owns those.
func AutoNext(stage model.WorkflowStage) (Transition, bool) {
	for _, t := range transitions {
		if t.From == stage && t.AutoTrigger && !t.Delayed {
			return t, true
		}
	}
	return Transition{}, false
}

// DelayedNext returns the delayed auto transition out of stage, if any.
func DelayedNext(stage model.WorkflowStage) (Transition, bool) {
	for _, t := range transitions {
		if t.From == stage && t.AutoTrigger && t.Delayed {
			return t, true
		}
	}
	return Transition{}, false
}

// MergeActionData applies the fixed per-action data-merge rule to the state.
// Unknown keys in data are ignored; each action only touches its documented
// fields.
func MergeActionData(state *model.WorkflowState, action model.WorkflowActionType, data model.JSONB, now time.Time) {
	switch action {
	case model.ActionScanCustomer:
		if results, ok := data["scanResults"].(map[string]interface{}); ok {
			state.ScanResults = model.JSONB(results)
		}
		if salesID, ok := data["salesId"].(string); ok && salesID != "" {
			state.AssignedSalesID = salesID
		}

	case model.ActionSendProposal:
		if plan, ok := data["treatmentPlan"].(map[string]interface{}); ok {
			state.TreatmentPlan = model.JSONB(plan)
		}

	case model.ActionConfirmPayment:
		meta := state.Metadata.Clone()
		if meta == nil {
			meta = model.JSONB{}
		}
		if method, ok := data["paymentMethod"].(string); ok {
			meta["paymentMethod"] = method
		}
		meta["paidAmount"] = state.TreatmentPlanTotal()
		meta["paidAt"] = now.UTC().Format(time.RFC3339)
		state.Metadata = meta

	case model.ActionScheduleAppointment:
		if beauticianID, ok := data["beauticianId"].(string); ok && beauticianID != "" {
			state.AssignedBeauticianID = beauticianID
		}
		meta := state.Metadata.Clone()
		if meta == nil {
			meta = model.JSONB{}
		}
		if date, ok := data["appointmentDate"].(string); ok {
			meta["appointmentDate"] = date
		}
		if at, ok := data["appointmentTime"].(string); ok {
			meta["appointmentTime"] = at
		}
		state.Metadata = meta

	case model.ActionCompleteTreatment:
		meta := state.Metadata.Clone()
		if meta == nil {
			meta = model.JSONB{}
		}
		if results, ok := data["treatmentResults"].(map[string]interface{}); ok {
			meta["treatmentResults"] = results
		}
		meta[MetaFollowUpDueAt] = now.Add(FollowUpDelay).UTC().Format(time.RFC3339)
		state.Metadata = meta
	}
}

// SynthesizeTreatmentPlan builds the default proposal attached during the
// auto send_proposal hop. High urgency adds a deep-cleansing session.
func SynthesizeTreatmentPlan(scanResults model.JSONB) model.JSONB {
	treatments := []interface{}{"hydrafacial", "vitamin_c_mask"}
	total := float64(3500)
	duration := float64(90)

	urgency, _ := scanResults["urgencyScore"].(float64)
	if urgency > 70 {
		treatments = append(treatments, "deep_cleansing")
		total += 1500
		duration += 30
	}

	return model.JSONB{
		"treatments":  treatments,
		"totalAmount": total,
		"duration":    duration,
		"sessions":    float64(1),
	}
}

// StageAssignee selects whose workflow assignment a stage-spawned task goes
// to.
type StageAssignee int

const (
	AssignSales StageAssignee = iota
	AssignBeautician
)

// StageTask describes a task the engine spawns when a workflow reaches a
// stage.
type StageTask struct {
	Type     model.TaskType
	Assignee StageAssignee
}

var stageTasks = map[model.WorkflowStage]StageTask{
	model.StageLeadCreated:        {Type: model.TaskScanCustomer, Assignee: AssignSales},
	model.StageTreatmentScheduled: {Type: model.TaskPrepareTreatment, Assignee: AssignBeautician},
	model.StageTreatmentCompleted: {Type: model.TaskFollowUpUpsell, Assignee: AssignSales},
}

// StageTaskFor returns the task spawned on reaching stage, if any.
func StageTaskFor(stage model.WorkflowStage) (StageTask, bool) {
	task, ok := stageTasks[stage]
	return task, ok
}

// Reaction is what the task queue does when a task of a given type completes.
// This table and the transition table above drive the same journey; keeping
// them in one package is what keeps them consistent.
type Reaction struct {
	CreateTask   model.TaskType
	DueIn        time.Duration
	NotifyOwners bool
	OwnerMessage string
}

var reactions = map[model.TaskType]Reaction{
	model.TaskScanCustomer: {CreateTask: model.TaskSendProposal},
	model.TaskPrepareTreatment: {
		NotifyOwners: true,
		OwnerMessage: "Treatment preparation finished and ready to start",
	},
	model.TaskFollowUpUpsell: {
		CreateTask: model.TaskCustomerFollowUp,
		DueIn:      CustomerFollowUpDelay,
	},
}

// ReactionFor returns the completion reaction for a task type, if any.
func ReactionFor(taskType model.TaskType) (Reaction, bool) {
	reaction, ok := reactions[taskType]
	return reaction, ok
}
