package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"wisefido-vitals/internal/cache"
	"wisefido-vitals/internal/gateway"
	"wisefido-vitals/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// State 监控状态
type State int32

const (
	StateStopped State = iota
	StateStarting
	StatePolling
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StatePolling:
		return "polling"
	default:
		return "stopped"
	}
}

// RecordReader 带失败原因的记录读取（由 gateway.RecordGateway 实现）
type RecordReader interface {
	ReadDetailed(ctx context.Context, c models.Category, start, end time.Time) gateway.ReadResult
}

// ChangeSource 变更令牌与权限查询（由 repository.HealthStore 实现）
type ChangeSource interface {
	GetChangesToken(ctx context.Context, categories []models.Category) (models.ChangesToken, error)
	GetChanges(ctx context.Context, token models.ChangesToken) (models.ChangesResponse, error)
	GetGrantedPermissions(ctx context.Context) (models.PermissionSet, error)
}

// MetricBuilder 将记录展开为指标（由 normalizer.Normalizer 实现）
type MetricBuilder interface {
	Build(order []models.Category, byCategory map[models.Category][]models.Record) []models.Metric
}

// Deps 监控依赖；Snapshots / Metrics 为空时内部创建
type Deps struct {
	Reader    RecordReader
	Changes   ChangeSource
	Builder   MetricBuilder
	Snapshots *cache.Observable[models.Snapshot]
	Metrics   *cache.Observable[[]models.Metric]
	Logger    *zap.Logger
}

// NewSnapshotCache 快照缓存（结构相等时不重复发布）
func NewSnapshotCache() *cache.Observable[models.Snapshot] {
	return cache.NewObservable(func(a, b models.Snapshot) bool { return a.Equal(b) })
}

// Monitor 周期性检查变更令牌并刷新快照 / 指标缓存
type Monitor struct {
	cfg       Config
	reader    RecordReader
	changes   ChangeSource
	builder   MetricBuilder
	snapshots *cache.Observable[models.Snapshot]
	metrics   *cache.Observable[[]models.Metric]
	logger    *zap.Logger
	limiter   *rate.Limiter
	now       func() time.Time

	lifeMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	state  atomic.Int32

	// 刷新串行执行
	refreshMu sync.Mutex

	tokenMu sync.Mutex
	token   models.ChangesToken

	statusMu sync.RWMutex
	status   Status
}

// New 创建监控
func New(cfg Config, deps Deps) (*Monitor, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Reader == nil || deps.Changes == nil {
		return nil, errors.New("monitor requires a record reader and a change source")
	}
	if cfg.wantsMetrics() && deps.Builder == nil {
		return nil, fmt.Errorf("monitor %s: metrics shape requires a metric builder", cfg.Name)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Snapshots == nil {
		deps.Snapshots = NewSnapshotCache()
	}
	if deps.Metrics == nil {
		deps.Metrics = cache.NewObservable(models.MetricsEqual)
	}

	return &Monitor{
		cfg:       cfg,
		reader:    deps.Reader,
		changes:   deps.Changes,
		builder:   deps.Builder,
		snapshots: deps.Snapshots,
		metrics:   deps.Metrics,
		logger:    deps.Logger.With(zap.String("monitor", cfg.Name)),
		limiter:   rate.NewLimiter(rate.Every(cfg.RefreshThrottle), 1),
		now:       time.Now,
		status:    Status{Name: cfg.Name, Shape: cfg.Shape},
	}, nil
}

func (m *Monitor) Name() string                                  { return m.cfg.Name }
func (m *Monitor) Config() Config                                { return m.cfg }
func (m *Monitor) Snapshots() *cache.Observable[models.Snapshot] { return m.snapshots }
func (m *Monitor) Metrics() *cache.Observable[[]models.Metric]   { return m.metrics }

// State 当前状态
func (m *Monitor) State() State {
	return State(m.state.Load())
}

// Start 启动轮询；已在运行时先停止旧任务再重启
func (m *Monitor) Start(ctx context.Context) {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	m.stopLocked()

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.state.Store(int32(StateStarting))

	m.logger.Info("Starting health data monitor",
		zap.Duration("window", m.cfg.Window),
		zap.Duration("poll_interval", m.cfg.PollInterval),
		zap.String("shape", string(m.cfg.Shape)),
		zap.Int("categories", len(m.cfg.Categories)),
	)

	go m.run(loopCtx, done)
}

// Stop 停止轮询并等待循环退出；未运行时为空操作
func (m *Monitor) Stop() {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	if m.stopLocked() {
		m.logger.Info("Health data monitor stopped")
	}
}

func (m *Monitor) stopLocked() bool {
	if m.cancel == nil {
		return false
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	m.done = nil
	m.state.Store(int32(StateStopped))
	return true
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer m.state.Store(int32(StateStopped))

	// 启动时立即刷新一次，再获取初始令牌
	m.Refresh(ctx)
	if ctx.Err() != nil {
		return
	}
	m.renewToken(ctx)
	m.state.Store(int32(StatePolling))

	timer := time.NewTimer(m.cfg.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			timer.Reset(m.poll(ctx))
		}
	}
}

// poll 执行一个轮询周期，返回到下一周期的等待时间
func (m *Monitor) poll(ctx context.Context) time.Duration {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Poll cycle panicked", zap.Any("panic", r))
			m.recordError(fmt.Errorf("poll panicked: %v", r))
		}
	}()

	if !m.checkPermissions(ctx) {
		return m.cfg.PermissionBackoff
	}

	token := m.currentToken()
	if token == "" {
		m.renewToken(ctx)
		return m.cfg.PollInterval
	}

	resp, err := m.changes.GetChanges(ctx, token)
	switch {
	case err != nil:
		m.logger.Warn("Failed to check health data changes", zap.Error(err))
		m.recordError(err)
		m.renewToken(ctx)
	case resp.TokenExpired:
		m.logger.Info("Changes token expired, acquiring a new one")
		m.renewToken(ctx)
	case resp.HasMore:
		m.logger.Debug("Health data changed, refreshing")
		m.Refresh(ctx)
		m.renewToken(ctx)
	}
	return m.cfg.PollInterval
}

func (m *Monitor) checkPermissions(ctx context.Context) bool {
	granted, err := m.changes.GetGrantedPermissions(ctx)
	if err != nil {
		m.logger.Warn("Failed to query granted permissions", zap.Error(err))
		m.recordError(err)
		m.setPermissions(false, nil)
		return false
	}

	missing := granted.Missing(models.ReadPermissions(m.cfg.Categories))
	if len(missing) > 0 {
		m.logger.Warn("Missing health data permissions, backing off",
			zap.Any("missing", missing),
			zap.Duration("backoff", m.cfg.PermissionBackoff),
		)
		m.setPermissions(false, missing)
		return false
	}
	m.setPermissions(true, nil)
	return true
}

func (m *Monitor) renewToken(ctx context.Context) {
	token, err := m.changes.GetChangesToken(ctx, m.cfg.Categories)
	if err != nil {
		// 下一周期重试
		m.logger.Warn("Failed to acquire changes token", zap.Error(err))
		m.recordError(err)
		m.setToken("")
		return
	}
	m.setToken(token)
}

func (m *Monitor) currentToken() models.ChangesToken {
	m.tokenMu.Lock()
	defer m.tokenMu.Unlock()
	return m.token
}

func (m *Monitor) setToken(token models.ChangesToken) {
	m.tokenMu.Lock()
	m.token = token
	m.tokenMu.Unlock()

	m.statusMu.Lock()
	m.status.HasToken = token != ""
	m.statusMu.Unlock()
}

// RefreshData 手动刷新，每个节流窗口内最多执行一次；被节流或 ctx 已取消时返回 false
func (m *Monitor) RefreshData(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	if !m.limiter.AllowN(m.now(), 1) {
		m.logger.Debug("Manual refresh throttled")
		return false
	}
	m.Refresh(ctx)
	return ctx.Err() == nil
}

// Refresh 读取窗口内各类别记录并发布快照 / 指标；返回是否有缓存被更新
func (m *Monitor) Refresh(ctx context.Context) bool {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	end := m.now()
	start := end.Add(-m.cfg.Window)

	results := make([]gateway.ReadResult, len(m.cfg.Categories))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range m.cfg.Categories {
		i, c := i, c
		g.Go(func() error {
			results[i] = m.reader.ReadDetailed(gctx, c, start, end)
			return nil
		})
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		// 已停止，不用不完整的结果覆盖缓存
		return false
	}

	byCategory := make(map[models.Category][]models.Record, len(m.cfg.Categories))
	var failed []string
	for i, c := range m.cfg.Categories {
		if results[i].Err != nil {
			failed = append(failed, string(c))
		}
		byCategory[c] = results[i].Records
	}

	updated := false
	if m.cfg.wantsSnapshot() {
		snap := models.NewSnapshot(m.cfg.Categories)
		for _, c := range m.cfg.Categories {
			snap.Put(c, models.LatestOf(byCategory[c]))
		}
		if m.snapshots.Publish(snap) {
			updated = true
			_, version := m.snapshots.Get()
			m.logger.Info("Published health snapshot", zap.Uint64("version", version))
		}
	}
	if m.cfg.wantsMetrics() {
		list := m.builder.Build(m.cfg.Categories, byCategory)
		if m.metrics.Publish(list) {
			updated = true
			_, version := m.metrics.Get()
			m.logger.Info("Published health metrics",
				zap.Uint64("version", version),
				zap.Int("count", len(list)),
			)
		}
	}

	m.statusMu.Lock()
	m.status.LastRefresh = end
	m.status.Refreshes++
	m.status.FailedCategories = failed
	m.statusMu.Unlock()

	return updated
}
