package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// EventType is the closed set of dashboard events exchanged between roles.
type EventType string

const (
	EventCustomerScanned      EventType = "customer_scanned"      // sales -> beautician
	EventTreatmentCompleted   EventType = "treatment_completed"   // beautician -> sales
	EventPaymentReceived      EventType = "payment_received"      // customer -> sales
	EventAppointmentScheduled EventType = "appointment_scheduled" // sales -> beautician
	EventUpsellOpportunity    EventType = "upsell_opportunity"    // system -> sales
	EventTaskAssigned         EventType = "task_assigned"         // system -> staff
	EventWorkflowUpdated      EventType = "workflow_updated"      // any -> owner
	EventNotificationSent     EventType = "notification_sent"     // system -> user
)

const (
	EventStatusPending   = "pending"
	EventStatusPublished = "published"
	EventStatusFailed    = "failed"
)

// EventData is the display payload carried by every event.
type EventData struct {
	CustomerName   string                 `json:"customerName"`
	WorkflowStage  WorkflowStage          `json:"workflowStage"`
	Message        string                 `json:"message"`
	ActionRequired string                 `json:"actionRequired,omitempty"`
	Priority       TaskPriority           `json:"priority"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// EventPayload is the unit of broadcast. Immutable once constructed; an empty
// TargetUsers list means broadcast to all subscribers of the type. Delivery is
// at-least-once, so consumers dedupe by EventID.
type EventPayload struct {
	EventID      uuid.UUID `json:"eventId"`
	EventType    EventType `json:"eventType"`
	WorkflowID   uuid.UUID `json:"workflowId"`
	SourceUserID string    `json:"sourceUserId"`
	TargetUsers  []string  `json:"targetUsers"`
	Data         EventData `json:"data"`
	Timestamp    time.Time `json:"timestamp"`
}

func (p *EventPayload) Broadcast() bool {
	return len(p.TargetUsers) == 0
}

// WorkflowEvent is the persisted form of an EventPayload. Rows double as an
// outbox: Status tracks relay delivery to Kafka, Processed tracks dashboard
// consumption.
type WorkflowEvent struct {
	ID           uuid.UUID      `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	WorkflowID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"workflowId"`
	EventType    EventType      `gorm:"type:varchar(50);not null;index" json:"eventType"`
	SourceUserID string         `json:"sourceUserId"`
	TargetUsers  pq.StringArray `gorm:"type:text[]" json:"targetUsers"`
	Broadcast    bool           `json:"broadcast"`
	EventData    JSONB          `gorm:"type:jsonb;not null" json:"eventData"`
	Status       string         `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Processed    bool           `gorm:"default:false;index" json:"processed"`
	CreatedAt    time.Time      `gorm:"index" json:"createdAt"`
	PublishedAt  *time.Time     `json:"publishedAt,omitempty"`
}

func (WorkflowEvent) TableName() string {
	return "workflow_events"
}

// Payload reconstructs the broadcast payload from a persisted row.
func (e *WorkflowEvent) Payload() *EventPayload {
	data := EventData{}
	if e.EventData != nil {
		data.CustomerName, _ = e.EventData["customerName"].(string)
		if stage, ok := e.EventData["workflowStage"].(string); ok {
			data.WorkflowStage = WorkflowStage(stage)
		}
		data.Message, _ = e.EventData["message"].(string)
		data.ActionRequired, _ = e.EventData["actionRequired"].(string)
		if priority, ok := e.EventData["priority"].(string); ok {
			data.Priority = TaskPriority(priority)
		}
		if metadata, ok := e.EventData["metadata"].(map[string]interface{}); ok {
			data.Metadata = metadata
		}
	}
	return &EventPayload{
		EventID:      e.ID,
		EventType:    e.EventType,
		WorkflowID:   e.WorkflowID,
		SourceUserID: e.SourceUserID,
		TargetUsers:  []string(e.TargetUsers),
		Data:         data,
		Timestamp:    e.CreatedAt,
	}
}

// Record converts a payload into its persisted form.
func (p *EventPayload) Record() *WorkflowEvent {
	eventData := JSONB{
		"customerName":  p.Data.CustomerName,
		"workflowStage": string(p.Data.WorkflowStage),
		"message":       p.Data.Message,
		"priority":      string(p.Data.Priority),
	}
	if p.Data.ActionRequired != "" {
		eventData["actionRequired"] = p.Data.ActionRequired
	}
	if p.Data.Metadata != nil {
		eventData["metadata"] = map[string]interface{}(p.Data.Metadata)
	}
	return &WorkflowEvent{
		ID:           p.EventID,
		WorkflowID:   p.WorkflowID,
		EventType:    p.EventType,
		SourceUserID: p.SourceUserID,
		TargetUsers:  pq.StringArray(p.TargetUsers),
		Broadcast:    p.Broadcast(),
		EventData:    eventData,
		Status:       EventStatusPending,
		CreatedAt:    p.Timestamp,
	}
}

// DashboardSubscription is a process-local registration mapping an observer to
// the event types it wants. Not persisted; lives only for a connection.
type DashboardSubscription struct {
	UserID        string      `json:"userId"`
	DashboardType string      `json:"dashboardType"` // sales | beautician | customer | owner
	EventTypes    []EventType `json:"eventTypes"`
	IsActive      bool        `json:"isActive"`
}
