// Package optimization sizes worker pools, connection pools and buffers for
// the expected load.
package optimization

import (
	"fmt"
	"runtime"
)

// Config holds tuned parameters for one deployment profile.
type Config struct {
	// Scheduler
	TickWorkers int

	// Channel buffers
	EventChannelBuffer     int
	BroadcastChannelBuffer int
	ClientSendBuffer       int

	// Connection pools
	DBMaxOpenConns int
	DBMaxIdleConns int
	RedisPoolSize  int

	// Rate limiting
	MaxActionsPerSecond int
	MaxClientsPerVault  int
}

// DefaultConfig returns sensible defaults for production.
func DefaultConfig() *Config {
	numCPU := runtime.NumCPU()

	return &Config{
		// ticks are I/O bound: two load/commit round trips per vault
		TickWorkers: numCPU * 4,

		EventChannelBuffer:     1024,
		BroadcastChannelBuffer: 256,
		ClientSendBuffer:       64,

		// every worker holds at most one connection at a time
		DBMaxOpenConns: numCPU*4 + 4,
		DBMaxIdleConns: numCPU * 2,

		RedisPoolSize: numCPU * 4,

		MaxActionsPerSecond: 10,
		MaxClientsPerVault:  50,
	}
}

// StressTestConfig returns aggressive settings for stress testing.
func StressTestConfig() *Config {
	numCPU := runtime.NumCPU()

	return &Config{
		TickWorkers: numCPU * 8,

		EventChannelBuffer:     4096,
		BroadcastChannelBuffer: 512,
		ClientSendBuffer:       128,

		DBMaxOpenConns: numCPU*8 + 4,
		DBMaxIdleConns: numCPU * 4,
		RedisPoolSize:  numCPU * 8,

		MaxActionsPerSecond: 50,
		MaxClientsPerVault:  200,
	}
}

// LowResourceConfig returns minimal settings for development.
func LowResourceConfig() *Config {
	return &Config{
		TickWorkers: 2,

		EventChannelBuffer:     64,
		BroadcastChannelBuffer: 16,
		ClientSendBuffer:       8,

		DBMaxOpenConns: 4,
		DBMaxIdleConns: 2,
		RedisPoolSize:  4,

		MaxActionsPerSecond: 5,
		MaxClientsPerVault:  10,
	}
}

// ForProfile picks a config by name.
func ForProfile(name string) (*Config, error) {
	switch name {
	case "", "default":
		return DefaultConfig(), nil
	case "stress":
		return StressTestConfig(), nil
	case "low":
		return LowResourceConfig(), nil
	}
	return nil, fmt.Errorf("unknown profile %q", name)
}

// Recommendations provides suggestions based on observed metrics.
type Recommendations struct {
	IncreaseEventBuffer     bool
	IncreaseBroadcastBuffer bool
	IncreaseDBConnections   bool
	IncreaseWorkers         bool
	Notes                   []string
}

// Analyze examines a metrics snapshot and returns tuning recommendations.
func Analyze(metrics map[string]interface{}) *Recommendations {
	rec := &Recommendations{
		Notes: make([]string, 0),
	}

	if tick, ok := metrics["tick"].(map[string]interface{}); ok {
		if maxLat, ok := tick["max_latency_ms"].(float64); ok && maxLat > 1000 {
			rec.IncreaseWorkers = true
			rec.Notes = append(rec.Notes, "Tick latency exceeds 1s - add tick workers")
		}
		if contended, ok := tick["contended"].(int64); ok && contended > 0 {
			rec.Notes = append(rec.Notes, "Lease contention observed - another process may be ticking the same vaults")
		}
	}

	if commits, ok := metrics["commits"].(map[string]interface{}); ok {
		if maxLat, ok := commits["max_commit_lat_ms"].(float64); ok && maxLat > 50 {
			rec.IncreaseDBConnections = true
			rec.Notes = append(rec.Notes, "Commit latency exceeds 50ms - increase DB connections")
		}
		if errors, ok := commits["errors"].(int64); ok && errors > 0 {
			rec.IncreaseDBConnections = true
			rec.Notes = append(rec.Notes, "Commit errors detected - check DB connection pool")
		}
	}

	if ws, ok := metrics["websocket"].(map[string]interface{}); ok {
		if errors, ok := ws["errors"].(int64); ok && errors > 0 {
			rec.IncreaseBroadcastBuffer = true
			rec.IncreaseEventBuffer = true
			rec.Notes = append(rec.Notes, "WebSocket errors detected - increase client send buffer")
		}
	}

	return rec
}

// ApplyRecommendations returns a copy of config adjusted by rec.
func ApplyRecommendations(config *Config, rec *Recommendations) *Config {
	out := *config
	if rec.IncreaseEventBuffer {
		out.EventChannelBuffer *= 2
	}
	if rec.IncreaseBroadcastBuffer {
		out.BroadcastChannelBuffer *= 2
		out.ClientSendBuffer *= 2
	}
	if rec.IncreaseDBConnections {
		out.DBMaxOpenConns = int(float64(out.DBMaxOpenConns) * 1.5)
		out.DBMaxIdleConns = int(float64(out.DBMaxIdleConns) * 1.5)
	}
	if rec.IncreaseWorkers {
		out.TickWorkers *= 2
	}
	return &out
}
