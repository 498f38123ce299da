package broadcast

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/auraflow/auraflow/pkg/model"
)

// Canonical event constructors. Handlers and the engine go through these so
// every dashboard sees the same wording for the same situation.

// NotifyCustomerScanned tells sales staff a scan finished and a proposal is
// expected next.
func (b *Broadcaster) NotifyCustomerScanned(ctx context.Context, workflow *model.WorkflowState, sourceUserID string) error {
	return b.BroadcastEvent(ctx, &model.EventPayload{
		EventType:    model.EventCustomerScanned,
		WorkflowID:   workflow.ID,
		SourceUserID: sourceUserID,
		TargetUsers:  targets(workflow.AssignedSalesID),
		Data: model.EventData{
			CustomerName:  workflow.CustomerName,
			WorkflowStage: workflow.CurrentStage,
			Message:       fmt.Sprintf("Skin scan for %s is complete", workflow.CustomerName),
			Priority:      model.PriorityMedium,
		},
	})
}

// NotifyTreatmentScheduled targets the assigned beautician with the
// appointment details.
func (b *Broadcaster) NotifyTreatmentScheduled(ctx context.Context, workflow *model.WorkflowState, sourceUserID string) error {
	return b.BroadcastEvent(ctx, &model.EventPayload{
		EventType:    model.EventAppointmentScheduled,
		WorkflowID:   workflow.ID,
		SourceUserID: sourceUserID,
		TargetUsers:  targets(workflow.AssignedBeauticianID),
		Data: model.EventData{
			CustomerName:   workflow.CustomerName,
			WorkflowStage:  workflow.CurrentStage,
			Message:        fmt.Sprintf("%s has a new treatment appointment", workflow.CustomerName),
			ActionRequired: "Review the treatment plan and prepare the room",
			Priority:       model.PriorityHigh,
			Metadata: map[string]interface{}{
				"appointmentDate": workflow.Metadata["appointmentDate"],
				"appointmentTime": workflow.Metadata["appointmentTime"],
			},
		},
	})
}

// NotifyTreatmentCompleted hands the customer back to sales with an upsell
// hint.
func (b *Broadcaster) NotifyTreatmentCompleted(ctx context.Context, workflow *model.WorkflowState, sourceUserID string) error {
	return b.BroadcastEvent(ctx, &model.EventPayload{
		EventType:    model.EventTreatmentCompleted,
		WorkflowID:   workflow.ID,
		SourceUserID: sourceUserID,
		TargetUsers:  targets(workflow.AssignedSalesID),
		Data: model.EventData{
			CustomerName:   workflow.CustomerName,
			WorkflowStage:  workflow.CurrentStage,
			Message:        fmt.Sprintf("Treatment for %s is complete", workflow.CustomerName),
			ActionRequired: "Follow up and propose additional services",
			Priority:       model.PriorityMedium,
		},
	})
}

// NotifyPaymentReceived confirms a payment to the assigned sales staff.
func (b *Broadcaster) NotifyPaymentReceived(ctx context.Context, workflow *model.WorkflowState, sourceUserID string, amount float64) error {
	return b.BroadcastEvent(ctx, &model.EventPayload{
		EventType:    model.EventPaymentReceived,
		WorkflowID:   workflow.ID,
		SourceUserID: sourceUserID,
		TargetUsers:  targets(workflow.AssignedSalesID),
		Data: model.EventData{
			CustomerName:  workflow.CustomerName,
			WorkflowStage: workflow.CurrentStage,
			Message:       fmt.Sprintf("Payment received from %s", workflow.CustomerName),
			Priority:      model.PriorityMedium,
			Metadata:      map[string]interface{}{"amount": amount},
		},
	})
}

// NotifyUpsellOpportunity flags a post-treatment sales opening.
func (b *Broadcaster) NotifyUpsellOpportunity(ctx context.Context, workflow *model.WorkflowState) error {
	return b.BroadcastEvent(ctx, &model.EventPayload{
		EventType:    model.EventUpsellOpportunity,
		WorkflowID:   workflow.ID,
		SourceUserID: string(model.RoleSystem),
		TargetUsers:  targets(workflow.AssignedSalesID),
		Data: model.EventData{
			CustomerName:   workflow.CustomerName,
			WorkflowStage:  workflow.CurrentStage,
			Message:        fmt.Sprintf("%s may be interested in additional services", workflow.CustomerName),
			ActionRequired: "Reach out with a tailored offer",
			Priority:       model.PriorityLow,
		},
	})
}

// NotifyTaskAssignment tells a staff member a task landed in their queue.
func (b *Broadcaster) NotifyTaskAssignment(ctx context.Context, task *model.Task, customerName string, stage model.WorkflowStage) error {
	if task.AssignedTo == "" {
		return nil
	}
	return b.BroadcastEvent(ctx, &model.EventPayload{
		EventType:    model.EventTaskAssigned,
		WorkflowID:   task.WorkflowID,
		SourceUserID: string(model.RoleSystem),
		TargetUsers:  []string{task.AssignedTo},
		Data: model.EventData{
			CustomerName:   customerName,
			WorkflowStage:  stage,
			Message:        task.Title,
			ActionRequired: task.Description,
			Priority:       task.Priority,
			Metadata:       map[string]interface{}{"taskId": task.ID.String(), "taskType": string(task.TaskType)},
		},
	})
}

// NotifyOwnerWorkflowUpdate broadcasts a stage change to owner dashboards.
// ownerIDs may be empty, in which case the event goes out untargeted and owner
// connections pick it up through their subscriptions.
func (b *Broadcaster) NotifyOwnerWorkflowUpdate(ctx context.Context, workflow *model.WorkflowState, sourceUserID string, ownerIDs []string) error {
	return b.BroadcastEvent(ctx, &model.EventPayload{
		EventType:    model.EventWorkflowUpdated,
		WorkflowID:   workflow.ID,
		SourceUserID: sourceUserID,
		TargetUsers:  ownerIDs,
		Data: model.EventData{
			CustomerName:  workflow.CustomerName,
			WorkflowStage: workflow.CurrentStage,
			Message:       fmt.Sprintf("%s moved to %s", workflow.CustomerName, workflow.CurrentStage),
			Priority:      model.PriorityLow,
		},
	})
}

// NotifyUser delivers a one-off message to a single user.
func (b *Broadcaster) NotifyUser(ctx context.Context, workflowID uuid.UUID, userID, message string, priority model.TaskPriority) error {
	return b.BroadcastEvent(ctx, &model.EventPayload{
		EventType:    model.EventNotificationSent,
		WorkflowID:   workflowID,
		SourceUserID: string(model.RoleSystem),
		TargetUsers:  []string{userID},
		Data: model.EventData{
			Message:  message,
			Priority: priority,
		},
	})
}

// targets drops empty ids so an unassigned workflow falls back to a broadcast.
func targets(userIDs ...string) []string {
	var out []string
	for _, id := range userIDs {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}
