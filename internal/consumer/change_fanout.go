package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wisefido-vitals/internal/cache"
	"wisefido-vitals/internal/models"

	"go.uber.org/zap"
)

// Publisher MQTT 发布（由 common/mqtt.Client 实现）
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// Mirror 快照镜像（由 cache.SnapshotMirror 实现）
type Mirror interface {
	WriteSnapshot(ctx context.Context, monitor string, snap models.Snapshot, version uint64) error
	WriteMetrics(ctx context.Context, monitor string, metrics []models.Metric, version uint64) error
}

// Broadcaster WebSocket 广播（由 httpapi.Hub 实现）
type Broadcaster interface {
	Broadcast(event string, data any)
}

// SnapshotTopic 快照 MQTT 主题
func SnapshotTopic(monitor string) string {
	return fmt.Sprintf("wisefido/vitals/%s/snapshot", monitor)
}

// MetricsTopic 指标 MQTT 主题
func MetricsTopic(monitor string) string {
	return fmt.Sprintf("wisefido/vitals/%s/metrics", monitor)
}

// ChangeFanout 把一个监控发布的快照 / 指标转发到 Redis、MQTT 和 WebSocket
// mirror / publisher / hub 均可为 nil
type ChangeFanout struct {
	monitor   string
	snapshots *cache.Observable[models.Snapshot]
	metrics   *cache.Observable[[]models.Metric]
	mirror    Mirror
	publisher Publisher
	hub       Broadcaster
	qos       byte
	logger    *zap.Logger
	timeout   time.Duration
}

// NewChangeFanout 创建转发器
func NewChangeFanout(
	monitor string,
	snapshots *cache.Observable[models.Snapshot],
	metrics *cache.Observable[[]models.Metric],
	mirror Mirror,
	publisher Publisher,
	hub Broadcaster,
	qos byte,
	logger *zap.Logger,
) *ChangeFanout {
	return &ChangeFanout{
		monitor:   monitor,
		snapshots: snapshots,
		metrics:   metrics,
		mirror:    mirror,
		publisher: publisher,
		hub:       hub,
		qos:       qos,
		logger:    logger.With(zap.String("monitor", monitor)),
		timeout:   5 * time.Second,
	}
}

// Run 转发直到 ctx 取消；单次转发失败只记录日志
func (f *ChangeFanout) Run(ctx context.Context) {
	snapCh, cancelSnap := f.snapshots.Subscribe()
	defer cancelSnap()
	metricCh, cancelMetrics := f.metrics.Subscribe()
	defer cancelMetrics()

	f.logger.Info("Change fan-out started")

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("Change fan-out stopped")
			return
		case upd, ok := <-snapCh:
			if !ok {
				return
			}
			f.forwardSnapshot(ctx, upd.Value, upd.Version)
		case upd, ok := <-metricCh:
			if !ok {
				return
			}
			f.forwardMetrics(ctx, upd.Value, upd.Version)
		}
	}
}

func (f *ChangeFanout) forwardSnapshot(ctx context.Context, snap models.Snapshot, version uint64) {
	wctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if f.mirror != nil {
		if err := f.mirror.WriteSnapshot(wctx, f.monitor, snap, version); err != nil {
			f.logger.Warn("Failed to mirror snapshot", zap.Error(err))
		}
	}

	doc := cache.MirroredSnapshot{Monitor: f.monitor, Version: version, UpdatedAt: time.Now().UTC(), Snapshot: snap}
	f.publish(SnapshotTopic(f.monitor), doc)

	if f.hub != nil {
		f.hub.Broadcast(cache.EventSnapshotUpdated, doc)
	}
}

func (f *ChangeFanout) forwardMetrics(ctx context.Context, list []models.Metric, version uint64) {
	wctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if f.mirror != nil {
		if err := f.mirror.WriteMetrics(wctx, f.monitor, list, version); err != nil {
			f.logger.Warn("Failed to mirror metrics", zap.Error(err))
		}
	}

	doc := cache.MirroredMetrics{Monitor: f.monitor, Version: version, UpdatedAt: time.Now().UTC(), Metrics: list}
	f.publish(MetricsTopic(f.monitor), doc)

	if f.hub != nil {
		f.hub.Broadcast(cache.EventMetricsUpdated, doc)
	}
}

func (f *ChangeFanout) publish(topic string, doc any) {
	if f.publisher == nil {
		return
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		f.logger.Error("Failed to marshal fan-out payload", zap.Error(err))
		return
	}
	// retained 消息
	if err := f.publisher.Publish(topic, f.qos, true, payload); err != nil {
		f.logger.Warn("Failed to publish to MQTT",
			zap.String("topic", topic),
			zap.Error(err),
		)
	}
}
