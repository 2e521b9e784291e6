package metrics

import (
	"database/sql"
	"sort"
	"sync"
	"time"
)

// =============================================================================
// Connection Pool Monitor
// =============================================================================

// PoolStats is a driver-neutral snapshot of a connection pool.
type PoolStats struct {
	Open         int           `json:"open"`
	InUse        int           `json:"in_use"`
	Idle         int           `json:"idle"`
	Max          int           `json:"max"`
	WaitCount    int64         `json:"wait_count"`
	WaitDuration time.Duration `json:"-"`
}

// StatsFunc reads a pool's current stats.
type StatsFunc func() PoolStats

// SQLStats adapts a database/sql handle.
func SQLStats(db *sql.DB) StatsFunc {
	return func() PoolStats {
		s := db.Stats()
		return PoolStats{
			Open:         s.OpenConnections,
			InUse:        s.InUse,
			Idle:         s.Idle,
			Max:          s.MaxOpenConnections,
			WaitCount:    s.WaitCount,
			WaitDuration: s.WaitDuration,
		}
	}
}

// PoolHealthStatus indicates the health of a connection pool.
type PoolHealthStatus string

const (
	PoolHealthy   PoolHealthStatus = "healthy"
	PoolDegraded  PoolHealthStatus = "degraded"
	PoolUnhealthy PoolHealthStatus = "unhealthy"
)

// PoolHealth is the assessment of one pool.
type PoolHealth struct {
	Status      PoolHealthStatus `json:"status"`
	Utilization float64          `json:"utilization"`
	Stats       PoolStats        `json:"stats"`
	Message     string           `json:"message,omitempty"`
}

// AssessPool grades utilization: >=95% unhealthy, >=80% degraded. Long
// cumulative waits downgrade a healthy pool.
func AssessPool(stats PoolStats) PoolHealth {
	if stats.Max <= 0 {
		return PoolHealth{Status: PoolHealthy, Stats: stats, Message: "unlimited connections"}
	}

	h := PoolHealth{Stats: stats, Utilization: float64(stats.InUse) / float64(stats.Max)}
	switch {
	case h.Utilization >= 0.95:
		h.Status, h.Message = PoolUnhealthy, "pool nearly exhausted"
	case h.Utilization >= 0.80:
		h.Status, h.Message = PoolDegraded, "high pool utilization"
	default:
		h.Status, h.Message = PoolHealthy, "pool operating normally"
	}
	if stats.WaitCount > 0 && stats.WaitDuration > 5*time.Second && h.Status == PoolHealthy {
		h.Status, h.Message = PoolDegraded, "elevated connection wait times"
	}
	return h
}

// PoolMonitor tracks named connection pools.
type PoolMonitor struct {
	mu    sync.RWMutex
	pools map[string]StatsFunc
}

// NewPoolMonitor creates an empty monitor.
func NewPoolMonitor() *PoolMonitor {
	return &PoolMonitor{pools: make(map[string]StatsFunc)}
}

// Register adds or replaces a pool.
func (m *PoolMonitor) Register(name string, fn StatsFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[name] = fn
}

// Names lists registered pools in order.
func (m *PoolMonitor) Names() []string {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.pools))
	for name := range m.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AllHealth assesses every registered pool. A nil monitor reports none.
func (m *PoolMonitor) AllHealth() map[string]PoolHealth {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]PoolHealth, len(m.pools))
	for name, fn := range m.pools {
		out[name] = AssessPool(fn())
	}
	return out
}
