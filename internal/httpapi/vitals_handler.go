package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"wisefido-vitals/internal/cache"
	"wisefido-vitals/internal/export"
	"wisefido-vitals/internal/gateway"
	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/monitor"
	"wisefido-vitals/internal/normalizer"

	"go.uber.org/zap"
)

// MonitorView 监控对外暴露的能力（由 monitor.Monitor 实现）
type MonitorView interface {
	Name() string
	Status() monitor.Status
	RefreshData(ctx context.Context) bool
}

// RecordWriter 记录写入（由 gateway.RecordGateway 实现）
type RecordWriter interface {
	WriteRecord(ctx context.Context, rec models.Record) gateway.WriteResult
}

// VitalsHandler vitals API
type VitalsHandler struct {
	snapshots *cache.Observable[models.Snapshot]
	metrics   *cache.Observable[[]models.Metric]
	monitors  []MonitorView
	writer    RecordWriter
	hub       *Hub
	window    WindowMetrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewVitalsHandler 创建 handler；hub 可为 nil（不提供 stream）
func NewVitalsHandler(
	snapshots *cache.Observable[models.Snapshot],
	metrics *cache.Observable[[]models.Metric],
	monitors []MonitorView,
	writer RecordWriter,
	hub *Hub,
	logger *zap.Logger,
) *VitalsHandler {
	h := &VitalsHandler{
		snapshots: snapshots,
		metrics:   metrics,
		monitors:  monitors,
		writer:    writer,
		hub:       hub,
		logger:    logger,
		now:       time.Now,
	}
	if hub != nil {
		hub.OnConnect(h.currentSnapshotEvent)
	}
	return h
}

func (h *VitalsHandler) currentSnapshotEvent() *StreamEvent {
	if !h.snapshots.Present() {
		return nil
	}
	snap, version := h.snapshots.Get()
	return &StreamEvent{Event: cache.EventSnapshotUpdated, Data: snapshotView{Version: version, Snapshot: snap}}
}

type snapshotView struct {
	Version  uint64          `json:"version"`
	Snapshot models.Snapshot `json:"snapshot"`
}

// Health GET /health
func (h *VitalsHandler) Health(w http.ResponseWriter, r *http.Request) {
	statuses := make([]monitor.Status, 0, len(h.monitors))
	for _, m := range h.monitors {
		statuses = append(statuses, m.Status())
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"status":   "ok",
		"time":     h.now().UTC(),
		"monitors": statuses,
	}))
}

// GetSnapshot GET /api/v1/vitals/snapshot[?category=steps]
func (h *VitalsHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, version := h.snapshots.Get()
	if snap.Records == nil {
		snap = models.NewSnapshot(nil)
	}

	if raw := r.URL.Query().Get("category"); raw != "" {
		c, err := models.ParseCategory(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Fail(err.Error()))
			return
		}
		filtered := models.NewSnapshot([]models.Category{c})
		if rec, ok := snap.Latest(c); ok {
			filtered.Put(c, &rec)
		}
		snap = filtered
	}

	writeJSON(w, http.StatusOK, Ok(snapshotView{Version: version, Snapshot: snap}))
}

// Refresh POST /api/v1/vitals/refresh
func (h *VitalsHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	results := make(map[string]bool, len(h.monitors))
	executed := false
	for _, m := range h.monitors {
		ok := m.RefreshData(r.Context())
		results[m.Name()] = ok
		executed = executed || ok
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"executed": executed,
		"monitors": results,
	}))
}

// GetMetrics GET /api/v1/vitals/metrics?from=&to=&types=&sources=&manual=
func (h *VitalsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	list, version := h.metrics.Get()
	q := r.URL.Query()

	if q.Get("from") != "" || q.Get("to") != "" {
		from, err := parseTime(q.Get("from"), time.Time{})
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("invalid from: "+err.Error()))
			return
		}
		to, err := parseTime(q.Get("to"), h.now())
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Fail("invalid to: "+err.Error()))
			return
		}
		list = normalizer.FilterByTimeRange(list, from, to, h.logger)
	}
	if types := splitList(q.Get("types")); len(types) > 0 {
		list = normalizer.FilterByTypes(list, types...)
	}
	if sources := splitList(q.Get("sources")); len(sources) > 0 {
		list = normalizer.FilterBySources(list, sources...)
	}
	if manual, ok := parseBool(q.Get("manual")); ok {
		list = normalizer.FilterByManualEntry(list, manual)
	}
	if list == nil {
		list = []models.Metric{}
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"version": version,
		"count":   len(list),
		"metrics": list,
	}))
}

// GetDailySummary GET /api/v1/vitals/metrics/daily?type=stepcount[&date=2024-03-01]
func (h *VitalsHandler) GetDailySummary(w http.ResponseWriter, r *http.Request) {
	typ := r.URL.Query().Get("type")
	if typ == "" {
		writeJSON(w, http.StatusBadRequest, Fail("type is required"))
		return
	}
	list, _ := h.metrics.Get()

	date := r.URL.Query().Get("date")
	if date == "" {
		days := normalizer.DailySummaries(list, typ)
		writeJSON(w, http.StatusOK, Ok(days))
		return
	}

	value, found := normalizer.DailySummary(list, typ, date)
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"type":        typ,
		"date":        date,
		"aggregation": normalizer.AggregatorFor(typ),
		"value":       value,
		"found":       found,
	}))
}

// GetLatestMetric GET /api/v1/vitals/metrics/latest?type=heartrate
func (h *VitalsHandler) GetLatestMetric(w http.ResponseWriter, r *http.Request) {
	typ := r.URL.Query().Get("type")
	if typ == "" {
		writeJSON(w, http.StatusBadRequest, Fail("type is required"))
		return
	}
	list, _ := h.metrics.Get()

	m, ok := normalizer.MostRecent(list, typ, h.logger)
	if !ok {
		writeJSON(w, http.StatusNotFound, Fail("no data available"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(m))
}

// ExportMetrics GET /api/v1/vitals/metrics/export
func (h *VitalsHandler) ExportMetrics(w http.ResponseWriter, r *http.Request) {
	list, _ := h.metrics.Get()

	data, err := export.MetricsWorkbook(list)
	if err != nil {
		h.logger.Error("Failed to export metrics", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to export metrics"))
		return
	}

	filename := fmt.Sprintf("vitals_metrics_%s.xlsx", h.now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// WriteRecord POST /api/v1/vitals/records/{category}
// body 为记录 JSON（category 取自路径）
func (h *VitalsHandler) WriteRecord(w http.ResponseWriter, r *http.Request, rawCategory string) {
	c, err := models.ParseCategory(rawCategory)
	if err != nil {
		writeJSON(w, http.StatusNotFound, Fail(err.Error()))
		return
	}

	var rec models.Record
	if err := readBodyJSON(r, 1<<20, &rec); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body: "+err.Error()))
		return
	}
	rec.Category = c

	res := h.writer.WriteRecord(r.Context(), rec)
	if !res.OK() {
		status := http.StatusBadGateway
		if errors.Is(res.Err, models.ErrInvalidRecord) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, Fail(res.Err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"record_id": res.RecordID}))
}
