package model

// InstanceStatus is the cluster view of one instance.
type InstanceStatus string

const (
	InstanceActive  InstanceStatus = "active"
	InstanceDrifted InstanceStatus = "drifted"
	InstanceDown    InstanceStatus = "down"
)

// InstanceRecord is one instance's entry in the cluster registry.
type InstanceRecord struct {
	ID            string         `json:"id"`
	StartedAt     int64          `json:"started_at"`
	LastHeartbeat int64          `json:"last_heartbeat"`
	Workers       int            `json:"workers"`
	Status        InstanceStatus `json:"status"`
	// Load sampling folded into the heartbeat payload.
	CPUPercent float64 `json:"cpu_percent,omitempty"`
	MemoryMB   float64 `json:"memory_mb,omitempty"`
	Goroutines int     `json:"goroutines,omitempty"`
}

// CounterField names one metrics counter.
type CounterField string

const (
	CounterTotalRequests     CounterField = "total_requests"
	CounterBlockedRequests   CounterField = "blocked_requests"
	CounterMonitoredRequests CounterField = "monitored_requests"
	CounterAllowedRequests   CounterField = "allowed_requests"
	CounterSkippedRequests   CounterField = "skipped_requests"
	CounterFormSubmissions   CounterField = "form_submissions"
	CounterValidationErrors  CounterField = "validation_errors"
	CounterSpamScoreSum      CounterField = "spam_score_sum"
)

// CounterFields lists every counter in a stable order.
var CounterFields = []CounterField{
	CounterTotalRequests,
	CounterBlockedRequests,
	CounterMonitoredRequests,
	CounterAllowedRequests,
	CounterSkippedRequests,
	CounterFormSubmissions,
	CounterValidationErrors,
	CounterSpamScoreSum,
}
