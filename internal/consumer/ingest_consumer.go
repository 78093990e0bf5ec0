package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	mqttcommon "wisefido-vitals/common/mqtt"
	"wisefido-vitals/internal/gateway"
	"wisefido-vitals/internal/models"

	"go.uber.org/zap"
)

// DefaultIngestTopic 记录写入主题
const DefaultIngestTopic = "wisefido/vitals/ingest"

// Subscriber MQTT 订阅（由 common/mqtt.Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// RecordWriter 记录写入（由 gateway.RecordGateway 实现）
type RecordWriter interface {
	WriteRecord(ctx context.Context, rec models.Record) gateway.WriteResult
}

// Refresher 节流的手动刷新（由 monitor.Monitor 实现）
type Refresher interface {
	RefreshData(ctx context.Context) bool
}

// RecordIngestConsumer 从 MQTT 接收外部设备上报的记录并写入健康数据存储
type RecordIngestConsumer struct {
	subscriber Subscriber
	writer     RecordWriter
	refreshers []Refresher
	topic      string
	qos        byte
	logger     *zap.Logger

	mu  sync.RWMutex
	ctx context.Context
}

// NewRecordIngestConsumer 创建写入消费者
func NewRecordIngestConsumer(
	subscriber Subscriber,
	writer RecordWriter,
	refreshers []Refresher,
	topic string,
	qos byte,
	logger *zap.Logger,
) *RecordIngestConsumer {
	if topic == "" {
		topic = DefaultIngestTopic
	}
	return &RecordIngestConsumer{
		subscriber: subscriber,
		writer:     writer,
		refreshers: refreshers,
		topic:      topic,
		qos:        qos,
		logger:     logger,
		ctx:        context.Background(),
	}
}

// Start 订阅主题并阻塞到 ctx 取消
func (c *RecordIngestConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()

	if err := c.subscriber.Subscribe(c.topic, c.qos, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to ingest topic: %w", err)
	}

	c.logger.Info("Record ingest consumer started", zap.String("topic", c.topic))

	<-ctx.Done()
	return nil
}

// Stop 取消订阅
func (c *RecordIngestConsumer) Stop(ctx context.Context) error {
	if err := c.subscriber.Unsubscribe(c.topic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}
	c.logger.Info("Record ingest consumer stopped")
	return nil
}

// handleMessage 负载可以是单条记录或记录数组
func (c *RecordIngestConsumer) handleMessage(topic string, payload []byte) error {
	c.logger.Debug("Received ingest message",
		zap.String("topic", topic),
		zap.Int("payload_size", len(payload)),
	)

	records, err := decodeRecords(payload)
	if err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}

	c.mu.RLock()
	ctx := c.ctx
	c.mu.RUnlock()

	written := 0
	for _, rec := range records {
		res := c.writer.WriteRecord(ctx, rec)
		if !res.OK() {
			// 继续处理下一条记录
			c.logger.Warn("Failed to ingest record",
				zap.String("category", string(rec.Category)),
				zap.Error(res.Err),
			)
			continue
		}
		written++
	}

	if written > 0 {
		for _, r := range c.refreshers {
			r.RefreshData(ctx)
		}
	}

	c.logger.Info("Ingested health records",
		zap.Int("received", len(records)),
		zap.Int("written", written),
	)
	return nil
}

func decodeRecords(payload []byte) ([]models.Record, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	if trimmed[0] == '[' {
		var records []models.Record
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, err
		}
		return records, nil
	}
	var rec models.Record
	if err := json.Unmarshal(trimmed, &rec); err != nil {
		return nil, err
	}
	return []models.Record{rec}, nil
}
