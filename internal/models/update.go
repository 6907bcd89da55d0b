package models

import (
	"time"
)

// UpdateHistory is one recorded update attempt for one router.
type UpdateHistory struct {
	ID             string        `json:"id"`
	RouterID       string        `json:"router_id"`
	FirmwareBefore *string       `json:"firmware_before"`
	FirmwareAfter  *string       `json:"firmware_after"`
	Status         HistoryStatus `json:"status"`
	ErrorMessage   *string       `json:"error_message,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	CompletedAt    *time.Time    `json:"completed_at"`

	// Joined from the router row for listings; empty on bare reads.
	DeviceName string `json:"device_name,omitempty"`
	IPAddress  string `json:"ip_address,omitempty"`
}

// HistoryStatus represents the lifecycle of an update attempt.
// CompletedAt is set exactly when the status leaves running.
type HistoryStatus string

const (
	HistoryStatusRunning HistoryStatus = "running"
	HistoryStatusSuccess HistoryStatus = "success"
	HistoryStatusFailed  HistoryStatus = "failed"
)

// BatchJob is one rollout over a selected router set.
type BatchJob struct {
	ID               string     `json:"id"`
	Status           JobStatus  `json:"status"`
	BatchSize        int        `json:"batch_size"`
	TotalRouters     int        `json:"total_routers"`
	CompletedRouters int        `json:"completed_routers"`
	FailedRouters    int        `json:"failed_routers"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at"`
}

// JobStatus represents the lifecycle of a rollout job. At most one job is
// pending or running at any time.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Active reports whether the job still holds the rollout lock.
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// ValidBatchSizes are the rollout window sizes the operator may pick.
var ValidBatchSizes = []int{5, 10, 25, 100}

// IsValidBatchSize reports whether n is an allowed rollout batch size.
func IsValidBatchSize(n int) bool {
	for _, s := range ValidBatchSizes {
		if n == s {
			return true
		}
	}
	return false
}

// FirmwareVersion maps a device-family prefix to the latest firmware the
// operator has approved for that family.
type FirmwareVersion struct {
	DevicePrefix  string    `json:"device_prefix"`
	LatestVersion string    `json:"latest_version"`
	UpdatedAt     time.Time `json:"updated_at"`
}
