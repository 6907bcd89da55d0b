package events

import (
	"time"
)

// Event types published during scans and rollouts.
const (
	TypeJobStarted      = "job_started"
	TypeJobProgress     = "job_progress"
	TypeJobCompleted    = "job_completed"
	TypeRouterStarted   = "router_started"
	TypeRouterProgress  = "router_progress"
	TypeRouterCompleted = "router_completed"
	TypeRouterFailed    = "router_failed"
	TypeBatchStarted    = "batch_started"
	TypeBatchCompleted  = "batch_completed"
	TypeBatchWaiting    = "batch_waiting"
)

// ScanJobID is the synthetic job id used by the inventory scanner. Rollout
// jobs use store-generated UUIDs, so the two can never collide.
const ScanJobID = "check"

// UpdateEvent is one progress event. Events are best-effort and in-memory;
// durable state lives in the store.
type UpdateEvent struct {
	Type      string    `json:"type"`
	JobID     string    `json:"jobId"`
	Timestamp time.Time `json:"timestamp"`
	Data      EventData `json:"data"`
}

// EventData is the open payload of an UpdateEvent. Only the fields relevant
// to the event type are set; zero values are omitted from the wire, so
// consumers treat an absent counter as zero.
type EventData struct {
	RouterID          string `json:"routerId,omitempty"`
	DeviceName        string `json:"deviceName,omitempty"`
	IPAddress         string `json:"ipAddress,omitempty"`
	Message           string `json:"message,omitempty"`
	Progress          int    `json:"progress,omitempty"`
	Total             int    `json:"total,omitempty"`
	Completed         int    `json:"completed,omitempty"`
	Failed            int    `json:"failed,omitempty"`
	BatchNumber       int    `json:"batchNumber,omitempty"`
	TotalBatches      int    `json:"totalBatches,omitempty"`
	WaitTimeRemaining int    `json:"waitTimeRemaining,omitempty"`
	FirmwareBefore    string `json:"firmwareBefore,omitempty"`
	FirmwareAfter     string `json:"firmwareAfter,omitempty"`
	Error             string `json:"error,omitempty"`
	Status            string `json:"status,omitempty"`
}

// NewEvent builds an UpdateEvent stamped with the current time.
func NewEvent(eventType, jobID string, data EventData) UpdateEvent {
	return UpdateEvent{
		Type:      eventType,
		JobID:     jobID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}
