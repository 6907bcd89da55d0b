package models

import (
	"net"
	"time"
)

// Router represents one managed device in the fleet.
type Router struct {
	ID         string `json:"id"`
	DeviceName string `json:"device_name"`
	IPAddress  string `json:"ip_address"`

	// Per-device credentials. When nil the global credentials from
	// settings apply.
	Username *string `json:"username,omitempty"`
	Password *string `json:"-"`

	CurrentFirmware   *string `json:"current_firmware"`
	AvailableFirmware *string `json:"available_firmware"`

	Status    RouterStatus `json:"status"`
	LastCheck *time.Time   `json:"last_check"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// RouterStatus represents the current firmware state of a router.
type RouterStatus string

const (
	RouterStatusUnknown         RouterStatus = "unknown"
	RouterStatusUpToDate        RouterStatus = "up_to_date"
	RouterStatusUpdateAvailable RouterStatus = "update_available"
	RouterStatusUpdating        RouterStatus = "updating"
	RouterStatusUnreachable     RouterStatus = "unreachable"
	RouterStatusError           RouterStatus = "error"
)

// Valid reports whether s is one of the known router statuses.
func (s RouterStatus) Valid() bool {
	switch s {
	case RouterStatusUnknown, RouterStatusUpToDate, RouterStatusUpdateAvailable,
		RouterStatusUpdating, RouterStatusUnreachable, RouterStatusError:
		return true
	}
	return false
}

// Validate checks if the router data is valid.
func (r *Router) Validate() error {
	if r.DeviceName == "" {
		return ErrInvalidRouter("device name is required")
	}
	if r.IPAddress == "" {
		return ErrInvalidRouter("ip address is required")
	}
	ip := net.ParseIP(r.IPAddress)
	if ip == nil || ip.To4() == nil {
		return ErrInvalidRouter("ip address must be a dotted-quad IPv4 address")
	}
	if r.Status != "" && !r.Status.Valid() {
		return ErrInvalidRouter("unknown router status")
	}
	return nil
}

// ErrInvalidRouter represents a router validation error.
type ErrInvalidRouter string

func (e ErrInvalidRouter) Error() string {
	return string(e)
}
