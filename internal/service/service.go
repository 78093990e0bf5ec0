package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"wisefido-vitals/common/database"
	mqttcommon "wisefido-vitals/common/mqtt"
	rediscommon "wisefido-vitals/common/redis"
	"wisefido-vitals/internal/cache"
	"wisefido-vitals/internal/config"
	"wisefido-vitals/internal/consumer"
	"wisefido-vitals/internal/gateway"
	"wisefido-vitals/internal/httpapi"
	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/monitor"
	"wisefido-vitals/internal/normalizer"
	"wisefido-vitals/internal/platform"
	"wisefido-vitals/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// VitalsService 健康数据监控服务
type VitalsService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client

	store      repository.HealthStore
	gateway    *gateway.RecordGateway
	normalizer *normalizer.Normalizer
	monitors   []*monitor.Monitor
	fanouts    []*consumer.ChangeFanout
	ingest     *consumer.RecordIngestConsumer
	hub        *httpapi.Hub
	handler    http.Handler
	server     *http.Server

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewVitalsService 创建服务
// Redis / MQTT 不可用时只记录警告并关闭对应功能
func NewVitalsService(cfg *config.Config, logger *zap.Logger) (*VitalsService, error) {
	s := &VitalsService{config: cfg, logger: logger}

	store, err := s.openStore()
	if err != nil {
		return nil, err
	}
	s.store = store

	s.gateway = gateway.NewRecordGateway(store, logger, gateway.Options{
		Source: cfg.Vitals.Source,
		Device: cfg.Vitals.Device,
	})
	s.normalizer = normalizer.NewNormalizer(s.gateway, normalizer.NewMetricsCache(), logger, normalizer.Options{
		HeightM:  cfg.HeightM(),
		Location: cfg.Location(),
	})

	for _, mc := range cfg.Vitals.Monitors {
		m, err := monitor.New(mc, monitor.Deps{
			Reader:  s.gateway,
			Changes: store,
			Builder: s.normalizer,
			Logger:  logger,
		})
		if err != nil {
			s.closeConnections()
			return nil, fmt.Errorf("failed to create monitor: %w", err)
		}
		s.monitors = append(s.monitors, m)
	}

	var mirror consumer.Mirror
	if cfg.Cache.Enabled {
		if client := s.connectRedis(); client != nil {
			s.redisClient = client
			events := cache.NewStreamPublisher(client, cfg.Cache.Stream, cfg.Cache.StreamMaxLen)
			mirror = cache.NewSnapshotMirror(cache.NewRedisKVStore(client), events, logger, cfg.Cache.TTL)
		}
	}

	if cfg.Ingest.Enabled || cfg.Fanout.MQTTEnabled {
		client, err := mqttcommon.NewClient(&cfg.MQTT, logger)
		if err != nil {
			logger.Warn("MQTT unavailable, ingest and MQTT fan-out disabled", zap.Error(err))
		} else {
			s.mqttClient = client
		}
	}

	s.hub = httpapi.NewHub(logger)

	var publisher consumer.Publisher
	if s.mqttClient != nil && cfg.Fanout.MQTTEnabled {
		publisher = s.mqttClient
	}
	for _, m := range s.monitors {
		s.fanouts = append(s.fanouts, consumer.NewChangeFanout(
			m.Name(), m.Snapshots(), m.Metrics(), mirror, publisher, s.hub, cfg.MQTT.QoS, logger,
		))
	}

	refreshers := make([]consumer.Refresher, 0, len(s.monitors))
	views := make([]httpapi.MonitorView, 0, len(s.monitors))
	for _, m := range s.monitors {
		refreshers = append(refreshers, m)
		views = append(views, m)
	}
	if s.mqttClient != nil && cfg.Ingest.Enabled {
		s.ingest = consumer.NewRecordIngestConsumer(s.mqttClient, s.gateway, refreshers, cfg.Ingest.Topic, cfg.MQTT.QoS, logger)
	}

	snapshots, metrics := s.primaryCaches()
	h := httpapi.NewVitalsHandler(snapshots, metrics, views, s.gateway, s.hub, logger)
	h.SetWindowMetrics(s.normalizer)
	router := httpapi.NewRouter(logger)
	router.RegisterVitalsRoutes(h)
	s.handler = router
	s.server = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// openStore 按 HEALTH_STORE 选择存储；postgres 不可用时退回内存
func (s *VitalsService) openStore() (repository.HealthStore, error) {
	cfg := s.config
	switch cfg.Store.Kind {
	case config.StoreRemote:
		return platform.NewClient(platform.Options{
			BaseURL:    cfg.Platform.BaseURL,
			APIKey:     cfg.Platform.APIKey,
			Timeout:    cfg.Platform.Timeout,
			RetryCount: cfg.Platform.RetryCount,
		}, s.logger), nil
	case config.StoreMemory:
		s.logger.Info("Using in-memory health store")
		return repository.NewMemoryHealthStore(), nil
	}

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		s.logger.Warn("Database unavailable, falling back to in-memory health store", zap.Error(err))
		return repository.NewMemoryHealthStore(), nil
	}

	store := repository.NewPostgresHealthStore(db, s.logger, cfg.Store.TokenTTL)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if cfg.Store.AutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = database.Close(db)
			return nil, fmt.Errorf("failed to ensure health store schema: %w", err)
		}
	}
	if cfg.Store.GrantAll {
		perms := make([]models.Permission, 0, 2*len(models.AllCategories))
		for _, c := range models.AllCategories {
			perms = append(perms, models.ReadPermission(c), models.WritePermission(c))
		}
		if err := store.GrantPermissions(ctx, perms); err != nil {
			_ = database.Close(db)
			return nil, err
		}
	}
	s.db = db
	return store, nil
}

func (s *VitalsService) connectRedis() *redis.Client {
	client := rediscommon.NewRedisClient(&s.config.Redis)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rediscommon.Ping(ctx, client); err != nil {
		s.logger.Warn("Redis unavailable, snapshot mirror disabled", zap.Error(err))
		_ = rediscommon.Close(client)
		return nil
	}
	return client
}

// primaryCaches HTTP 使用第一个输出快照的监控和第一个输出指标的监控
func (s *VitalsService) primaryCaches() (*cache.Observable[models.Snapshot], *cache.Observable[[]models.Metric]) {
	var snapshots *cache.Observable[models.Snapshot]
	var metrics *cache.Observable[[]models.Metric]
	for _, m := range s.monitors {
		shape := m.Config().Shape
		if snapshots == nil && shape != monitor.ShapeMetrics {
			snapshots = m.Snapshots()
		}
		if metrics == nil && shape != monitor.ShapeSnapshot {
			metrics = m.Metrics()
		}
	}
	if snapshots == nil {
		snapshots = monitor.NewSnapshotCache()
	}
	if metrics == nil {
		metrics = normalizer.NewMetricsCache()
	}
	return snapshots, metrics
}

// Handler HTTP 路由
func (s *VitalsService) Handler() http.Handler {
	return s.handler
}

// Gateway 记录网关
func (s *VitalsService) Gateway() *gateway.RecordGateway {
	return s.gateway
}

// Monitors 所有监控
func (s *VitalsService) Monitors() []*monitor.Monitor {
	return s.monitors
}

// Addr HTTP 实际监听地址（启动前为空）
func (s *VitalsService) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start 启动服务并阻塞到 ctx 取消
func (s *VitalsService) Start(ctx context.Context) error {
	s.logger.Info("Starting vitals service",
		zap.String("store", s.config.Store.Kind),
		zap.Int("monitors", len(s.monitors)),
		zap.Bool("redis_mirror", s.redisClient != nil),
		zap.Bool("mqtt", s.mqttClient != nil),
	)

	ln, err := net.Listen("tcp", s.config.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.HTTP.Addr, err)
	}
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.listener = ln
	s.cancel = cancel
	s.mu.Unlock()

	// fan-out 需在监控首次发布前订阅
	for _, f := range s.fanouts {
		s.wg.Add(1)
		go func(f *consumer.ChangeFanout) {
			defer s.wg.Done()
			f.Run(ctx)
		}(f)
	}
	for _, m := range s.monitors {
		m.Start(ctx)
	}

	if s.ingest != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.ingest.Start(ctx); err != nil {
				s.logger.Error("Record ingest consumer failed", zap.Error(err))
			}
		}()
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errChan:
		return fmt.Errorf("http server: %w", err)
	}
}

// Stop 停止服务，释放连接
func (s *VitalsService) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	var errs []error
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	for _, m := range s.monitors {
		m.Stop()
	}
	if s.ingest != nil {
		if err := s.ingest.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	s.hub.Close()
	s.wg.Wait()

	s.closeConnections()
	return errors.Join(errs...)
}

func (s *VitalsService) closeConnections() {
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.redisClient != nil {
		if err := rediscommon.Close(s.redisClient); err != nil {
			s.logger.Warn("Failed to close redis", zap.Error(err))
		}
	}
	if err := database.Close(s.db); err != nil {
		s.logger.Warn("Failed to close database", zap.Error(err))
	}
}
