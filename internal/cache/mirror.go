package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	commonredis "wisefido-vitals/common/redis"
	"wisefido-vitals/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// EventsStream 快照变更事件流
const EventsStream = "vitals:events"

// 事件类型
const (
	EventSnapshotUpdated = "snapshot.updated"
	EventMetricsUpdated  = "metrics.updated"
)

// SnapshotKey 快照缓存 key
func SnapshotKey(monitor string) string {
	return fmt.Sprintf("vitals:%s:snapshot", monitor)
}

// MetricsKey 指标列表缓存 key
func MetricsKey(monitor string) string {
	return fmt.Sprintf("vitals:%s:metrics", monitor)
}

// EventPublisher 变更事件发布
type EventPublisher interface {
	PublishEvent(ctx context.Context, event string, data any) error
}

// StreamPublisher 基于 Redis Streams 的事件发布
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewStreamPublisher 创建事件发布器；stream 为空时使用 EventsStream
func NewStreamPublisher(client *redis.Client, stream string, maxLen int64) *StreamPublisher {
	if stream == "" {
		stream = EventsStream
	}
	return &StreamPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *StreamPublisher) PublishEvent(ctx context.Context, event string, data any) error {
	if _, err := commonredis.PublishJSONToStream(ctx, p.client, p.stream, p.maxLen, event, data); err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", event, p.stream, err)
	}
	return nil
}

// MirroredSnapshot Redis 中保存的快照
type MirroredSnapshot struct {
	Monitor   string          `json:"monitor"`
	Version   uint64          `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
	Snapshot  models.Snapshot `json:"snapshot"`
}

// MirroredMetrics Redis 中保存的指标列表
type MirroredMetrics struct {
	Monitor   string          `json:"monitor"`
	Version   uint64          `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
	Metrics   []models.Metric `json:"metrics"`
}

// SnapshotMirror 将发布的快照 / 指标镜像到 Redis，供其他服务读取
type SnapshotMirror struct {
	kv     KVStore
	events EventPublisher
	logger *zap.Logger
	ttl    time.Duration
	now    func() time.Time
}

// NewSnapshotMirror 创建镜像；events 可为 nil（不发事件）
func NewSnapshotMirror(kv KVStore, events EventPublisher, logger *zap.Logger, ttl time.Duration) *SnapshotMirror {
	return &SnapshotMirror{
		kv:     kv,
		events: events,
		logger: logger,
		ttl:    ttl,
		now:    time.Now,
	}
}

// WriteSnapshot 写入快照并追加变更事件
func (m *SnapshotMirror) WriteSnapshot(ctx context.Context, monitor string, snap models.Snapshot, version uint64) error {
	doc := MirroredSnapshot{
		Monitor:   monitor,
		Version:   version,
		UpdatedAt: m.now().UTC(),
		Snapshot:  snap,
	}
	if err := m.write(ctx, SnapshotKey(monitor), doc); err != nil {
		return err
	}

	m.publish(ctx, EventSnapshotUpdated, map[string]any{
		"monitor":    monitor,
		"version":    version,
		"categories": snapshotCounts(snap),
	})
	return nil
}

// WriteMetrics 写入指标列表并追加变更事件
func (m *SnapshotMirror) WriteMetrics(ctx context.Context, monitor string, metrics []models.Metric, version uint64) error {
	doc := MirroredMetrics{
		Monitor:   monitor,
		Version:   version,
		UpdatedAt: m.now().UTC(),
		Metrics:   metrics,
	}
	if err := m.write(ctx, MetricsKey(monitor), doc); err != nil {
		return err
	}

	m.publish(ctx, EventMetricsUpdated, map[string]any{
		"monitor": monitor,
		"version": version,
		"count":   len(metrics),
	})
	return nil
}

// LoadSnapshot 读取镜像中的快照；不存在时返回 ErrCacheMiss
func (m *SnapshotMirror) LoadSnapshot(ctx context.Context, monitor string) (MirroredSnapshot, error) {
	var doc MirroredSnapshot
	err := m.read(ctx, SnapshotKey(monitor), &doc)
	return doc, err
}

// LoadMetrics 读取镜像中的指标列表；不存在时返回 ErrCacheMiss
func (m *SnapshotMirror) LoadMetrics(ctx context.Context, monitor string) (MirroredMetrics, error) {
	var doc MirroredMetrics
	err := m.read(ctx, MetricsKey(monitor), &doc)
	return doc, err
}

func (m *SnapshotMirror) write(ctx context.Context, key string, doc any) error {
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := m.kv.Set(ctx, key, string(jsonData), m.ttl); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	m.logger.Debug("Updated vitals cache",
		zap.String("key", key),
		zap.Int("bytes", len(jsonData)),
	)
	return nil
}

func (m *SnapshotMirror) read(ctx context.Context, key string, out any) error {
	raw, err := m.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return ErrCacheMiss
		}
		return fmt.Errorf("failed to get cache %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

// publish 事件发布失败不影响缓存写入
func (m *SnapshotMirror) publish(ctx context.Context, event string, data any) {
	if m.events == nil {
		return
	}
	if err := m.events.PublishEvent(ctx, event, data); err != nil {
		m.logger.Warn("Failed to publish vitals event",
			zap.String("event", event),
			zap.Error(err),
		)
	}
}

func snapshotCounts(snap models.Snapshot) map[string]int {
	out := make(map[string]int, len(snap.Records))
	for c, recs := range snap.Records {
		out[string(c)] = len(recs)
	}
	return out
}
