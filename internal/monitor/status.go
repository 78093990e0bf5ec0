package monitor

import (
	"time"

	"wisefido-vitals/internal/models"
)

// Status 监控运行状态（只用于观测，不影响行为）
type Status struct {
	Name               string              `json:"name"`
	Shape              Shape               `json:"shape"`
	State              string              `json:"state"`
	LastRefresh        time.Time           `json:"last_refresh,omitempty"`
	Refreshes          int64               `json:"refreshes"`
	FailedCategories   []string            `json:"failed_categories,omitempty"`
	LastError          string              `json:"last_error,omitempty"`
	LastErrorAt        time.Time           `json:"last_error_at,omitempty"`
	HasToken           bool                `json:"has_token"`
	PermissionsGranted bool                `json:"permissions_granted"`
	MissingPermissions []models.Permission `json:"missing_permissions,omitempty"`
	SnapshotVersion    uint64              `json:"snapshot_version"`
	MetricsVersion     uint64              `json:"metrics_version"`
}

// Status 当前状态快照
func (m *Monitor) Status() Status {
	m.statusMu.RLock()
	st := m.status
	st.FailedCategories = append([]string(nil), m.status.FailedCategories...)
	st.MissingPermissions = append([]models.Permission(nil), m.status.MissingPermissions...)
	m.statusMu.RUnlock()

	st.State = m.State().String()
	_, st.SnapshotVersion = m.snapshots.Get()
	_, st.MetricsVersion = m.metrics.Get()
	return st
}

func (m *Monitor) recordError(err error) {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	m.status.LastError = err.Error()
	m.status.LastErrorAt = m.now()
}

func (m *Monitor) setPermissions(granted bool, missing []models.Permission) {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	m.status.PermissionsGranted = granted
	m.status.MissingPermissions = missing
}
