package httpapi

import (
	"context"
	"net/http"
	"time"

	"wisefido-vitals/internal/models"
)

// 自定义窗口参数
const (
	defaultMetricsWindow = 7 * 24 * time.Hour
	maxMetricsWindow     = 366 * 24 * time.Hour
)

// WindowMetrics 按任意时间窗重建指标（由 normalizer.Normalizer 实现）
type WindowMetrics interface {
	Refresh(ctx context.Context, start, end time.Time) []models.Metric
	Metrics() []models.Metric
}

// SetWindowMetrics 启用 /metrics/refresh 与 /metrics/window；需在 RegisterVitalsRoutes 之前调用
func (h *VitalsHandler) SetWindowMetrics(wm WindowMetrics) {
	h.window = wm
}

// RefreshWindowMetrics POST /api/v1/vitals/metrics/refresh?from=&to=
// to 默认为当前时间，from 默认为 to 之前 7 天
func (h *VitalsHandler) RefreshWindowMetrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	to, err := parseTime(q.Get("to"), h.now())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid to: "+err.Error()))
		return
	}
	from, err := parseTime(q.Get("from"), to.Add(-defaultMetricsWindow))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid from: "+err.Error()))
		return
	}
	if !from.Before(to) {
		writeJSON(w, http.StatusBadRequest, Fail("from must be before to"))
		return
	}
	if to.Sub(from) > maxMetricsWindow {
		writeJSON(w, http.StatusBadRequest, Fail("window must not exceed 366 days"))
		return
	}

	list := h.window.Refresh(r.Context(), from, to)
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"from":    from.UTC(),
		"to":      to.UTC(),
		"count":   len(list),
		"metrics": list,
	}))
}

// GetWindowMetrics GET /api/v1/vitals/metrics/window
// 最近一次 RefreshWindowMetrics 的结果
func (h *VitalsHandler) GetWindowMetrics(w http.ResponseWriter, r *http.Request) {
	list := h.window.Metrics()
	if list == nil {
		list = []models.Metric{}
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"count":   len(list),
		"metrics": list,
	}))
}
