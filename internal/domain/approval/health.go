// internal/domain/approval/health.go
package approval

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// HealthThresholds are the record counts above which the queue is reported as not healthy.
type HealthThresholds struct {
	MaxPending int
	MaxFailed  int
}

func DefaultHealthThresholds() HealthThresholds {
	return HealthThresholds{MaxPending: 50, MaxFailed: 10}
}

// HealthReport is a point-in-time view of the queue.
type HealthReport struct {
	Status HealthStatus  `json:"status"`
	Counts map[State]int `json:"counts"`
	Total  int           `json:"total"`
}

// Evaluate derives the health status from per-state counts. Failed records outweigh a pending
// backlog.
func Evaluate(counts map[State]int, th HealthThresholds) HealthReport {
	total := 0
	for _, n := range counts {
		total += n
	}
	report := HealthReport{Status: HealthHealthy, Counts: counts, Total: total}
	switch {
	case total == 0:
	case counts[StateFailed] > th.MaxFailed:
		report.Status = HealthUnhealthy
	case counts[StatePendingApproval] > th.MaxPending:
		report.Status = HealthDegraded
	}
	return report
}
