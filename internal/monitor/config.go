package monitor

import (
	"fmt"
	"time"

	"wisefido-vitals/internal/models"
)

// Shape 监控输出形式
type Shape string

const (
	ShapeSnapshot Shape = "snapshot" // 每类别最新一条记录
	ShapeMetrics  Shape = "metrics"  // 扁平化指标列表
	ShapeBoth     Shape = "both"
)

// 默认参数
const (
	DefaultPollInterval      = 30 * time.Second
	DefaultPermissionBackoff = 35 * time.Second
	DefaultRefreshThrottle   = 3 * time.Second
)

// Config 监控参数
type Config struct {
	Name              string            `yaml:"name"`
	Window            time.Duration     `yaml:"window"`
	Categories        []models.Category `yaml:"categories"`
	Shape             Shape             `yaml:"shape"`
	PollInterval      time.Duration     `yaml:"poll_interval"`
	PermissionBackoff time.Duration     `yaml:"permission_backoff"`
	RefreshThrottle   time.Duration     `yaml:"refresh_throttle"`
}

// LatestWeek 最近 7 天、九个类别的快照
func LatestWeek() Config {
	return Config{
		Name:       "latest-week",
		Window:     7 * 24 * time.Hour,
		Categories: append([]models.Category(nil), models.SnapshotCategories...),
		Shape:      ShapeSnapshot,
	}.withDefaults()
}

// MonthlyMetrics 最近 30 天、全部类别的指标列表
func MonthlyMetrics() Config {
	return Config{
		Name:       "monthly-metrics",
		Window:     30 * 24 * time.Hour,
		Categories: append([]models.Category(nil), models.AllCategories...),
		Shape:      ShapeMetrics,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.Shape == "" {
		c.Shape = ShapeSnapshot
	}
	if len(c.Categories) == 0 {
		c.Categories = append([]models.Category(nil), models.SnapshotCategories...)
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PermissionBackoff <= 0 {
		c.PermissionBackoff = DefaultPermissionBackoff
	}
	if c.RefreshThrottle <= 0 {
		c.RefreshThrottle = DefaultRefreshThrottle
	}
	return c
}

// Validate 校验参数
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("monitor name is required")
	}
	if c.Window <= 0 {
		return fmt.Errorf("monitor %s: window must be positive", c.Name)
	}
	switch c.Shape {
	case ShapeSnapshot, ShapeMetrics, ShapeBoth:
	default:
		return fmt.Errorf("monitor %s: unsupported shape %q", c.Name, c.Shape)
	}
	for _, cat := range c.Categories {
		if !cat.Valid() {
			return fmt.Errorf("monitor %s: unknown category %q", c.Name, cat)
		}
	}
	return nil
}

func (c Config) wantsSnapshot() bool {
	return c.Shape == ShapeSnapshot || c.Shape == ShapeBoth
}

func (c Config) wantsMetrics() bool {
	return c.Shape == ShapeMetrics || c.Shape == ShapeBoth
}
