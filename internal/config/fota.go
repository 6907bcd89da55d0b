package config

import (
	"time"
)

// ProbeConfig holds the timeouts applied to on-device firmware commands.
// The defaults match what the RutOS agent tolerates in the field; callers
// shrink them in tests.
type ProbeConfig struct {
	// ConnectTimeout bounds the SSH dial + handshake.
	ConnectTimeout time.Duration `json:"connect_timeout"`

	// CommandTimeout bounds an ordinary remote command.
	CommandTimeout time.Duration `json:"command_timeout"`

	// PingTimeout bounds the reachability probe.
	PingTimeout time.Duration `json:"ping_timeout"`

	// DownloadTimeout bounds the firmware image download on the device.
	DownloadTimeout time.Duration `json:"download_timeout"`

	// FlashTimeout bounds the sysupgrade submission. The command usually
	// kills its own session before this expires.
	FlashTimeout time.Duration `json:"flash_timeout"`
}

// DefaultProbeConfig returns production timeout settings.
func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		ConnectTimeout:  30 * time.Second,
		CommandTimeout:  60 * time.Second,
		PingTimeout:     10 * time.Second,
		DownloadTimeout: 5 * time.Minute,
		FlashTimeout:    120 * time.Second,
	}
}

// TestProbeConfig returns test-optimized settings.
func TestProbeConfig() ProbeConfig {
	return ProbeConfig{
		ConnectTimeout:  50 * time.Millisecond,
		CommandTimeout:  50 * time.Millisecond,
		PingTimeout:     20 * time.Millisecond,
		DownloadTimeout: 100 * time.Millisecond,
		FlashTimeout:    50 * time.Millisecond,
	}
}

// RolloutConfig holds configuration for the batch rollout engine.
type RolloutConfig struct {
	// BatchWaitTick is the length of one countdown step of the inter-batch
	// pause. One wall-clock minute in production.
	BatchWaitTick time.Duration `json:"batch_wait_tick"`

	// RebootPollInterval is the delay between reboot re-check attempts.
	RebootPollInterval time.Duration `json:"reboot_poll_interval"`

	// RebootPollAttempts is how many times a router is re-checked after a
	// flash before it is declared lost.
	RebootPollAttempts int `json:"reboot_poll_attempts"`
}

// DefaultRolloutConfig returns production default settings.
func DefaultRolloutConfig() RolloutConfig {
	return RolloutConfig{
		BatchWaitTick:      time.Minute,
		RebootPollInterval: 30 * time.Second,
		RebootPollAttempts: 20,
	}
}

// TestRolloutConfig returns test-optimized settings.
func TestRolloutConfig() RolloutConfig {
	return RolloutConfig{
		BatchWaitTick:      10 * time.Millisecond,
		RebootPollInterval: 5 * time.Millisecond,
		RebootPollAttempts: 3,
	}
}

// ScanConfig holds configuration for the inventory scanner.
type ScanConfig struct {
	// ChunkSize is how many routers are probed concurrently.
	ChunkSize int `json:"chunk_size"`
}

// DefaultScanConfig returns production default settings.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{ChunkSize: 10}
}
