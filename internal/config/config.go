package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata" // 容器镜像可能没有时区数据

	"wisefido-vitals/common/config"
	"wisefido-vitals/internal/monitor"

	"gopkg.in/yaml.v3"
)

// 健康数据存储类型
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
	StoreRemote   = "remote"
)

// Config vitals 服务配置
type Config struct {
	Database config.DatabaseConfig `yaml:"database"`
	Redis    config.RedisConfig    `yaml:"redis"`
	MQTT     config.MQTTConfig     `yaml:"mqtt"`

	HTTP struct {
		Addr string `yaml:"addr"` // 监听地址，默认 :8090
	} `yaml:"http"`

	// 健康数据存储
	Store struct {
		Kind        string        `yaml:"kind"` // postgres | memory | remote
		TokenTTL    time.Duration `yaml:"token_ttl"`
		AutoMigrate bool          `yaml:"auto_migrate"`
		GrantAll    bool          `yaml:"grant_all"` // 启动时授予全部类别读写权限
	} `yaml:"store"`

	// 远程健康数据平台（Store.Kind = remote）
	Platform struct {
		BaseURL    string        `yaml:"base_url"`
		APIKey     string        `yaml:"api_key"`
		Timeout    time.Duration `yaml:"timeout"`
		RetryCount int           `yaml:"retry_count"`
	} `yaml:"platform"`

	Vitals struct {
		Source   string           `yaml:"source"`    // 写入记录的来源名
		Device   string           `yaml:"device"`    // 写入记录的设备名
		HeightCM float64          `yaml:"height_cm"` // 用于 BMI，0 表示未知
		Timezone string           `yaml:"timezone"`  // 指标时间文本的时区
		Monitors []monitor.Config `yaml:"monitors"`
	} `yaml:"vitals"`

	// Redis 镜像
	Cache struct {
		Enabled      bool          `yaml:"enabled"`
		TTL          time.Duration `yaml:"ttl"`
		Stream       string        `yaml:"stream"`
		StreamMaxLen int64         `yaml:"stream_max_len"`
	} `yaml:"cache"`

	// MQTT 写入与转发
	Ingest struct {
		Enabled bool   `yaml:"enabled"`
		Topic   string `yaml:"topic"`
	} `yaml:"ingest"`
	Fanout struct {
		MQTTEnabled bool `yaml:"mqtt_enabled"`
	} `yaml:"fanout"`

	Log struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`
}

// Load 加载配置：环境变量（含默认值）之后叠加 VITALS_CONFIG_FILE 指定的 YAML 文件
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = 5432
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "owlrd")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = 10
	cfg.Database.MaxIdle = 5
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "wisefido-vitals")
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8090")

	cfg.Store.Kind = getEnv("HEALTH_STORE", StorePostgres)
	cfg.Store.TokenTTL = getDuration("CHANGES_TOKEN_TTL", 30*24*time.Hour)
	cfg.Store.AutoMigrate = getEnv("HEALTH_STORE_AUTO_MIGRATE", "true") == "true"
	cfg.Store.GrantAll = getEnv("HEALTH_STORE_GRANT_ALL", "false") == "true"

	cfg.Platform.BaseURL = getEnv("PLATFORM_BASE_URL", "")
	cfg.Platform.APIKey = getEnv("PLATFORM_API_KEY", "")
	cfg.Platform.Timeout = getDuration("PLATFORM_TIMEOUT", 10*time.Second)
	cfg.Platform.RetryCount = getInt("PLATFORM_RETRY_COUNT", 3)

	cfg.Vitals.Source = getEnv("VITALS_SOURCE", "com.wisefido.vitals")
	cfg.Vitals.Device = getEnv("VITALS_DEVICE", "")
	cfg.Vitals.HeightCM = getFloat("BODY_HEIGHT_CM", 0)
	cfg.Vitals.Timezone = getEnv("VITALS_TIMEZONE", "UTC")
	cfg.Vitals.Monitors = defaultMonitors()

	cfg.Cache.Enabled = getEnv("VITALS_CACHE_ENABLED", "true") == "true"
	cfg.Cache.TTL = getDuration("VITALS_CACHE_TTL", time.Hour)
	cfg.Cache.Stream = getEnv("VITALS_EVENT_STREAM", "vitals:events")
	cfg.Cache.StreamMaxLen = int64(getInt("VITALS_EVENT_STREAM_MAXLEN", 10000))

	cfg.Ingest.Enabled = getEnv("MQTT_INGEST_ENABLED", "true") == "true"
	cfg.Ingest.Topic = getEnv("MQTT_INGEST_TOPIC", "wisefido/vitals/ingest")
	cfg.Fanout.MQTTEnabled = getEnv("MQTT_FANOUT_ENABLED", "true") == "true"

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")
	cfg.Log.File = getEnv("LOG_FILE", "")
	cfg.Log.MaxSizeMB = getInt("LOG_MAX_SIZE_MB", 100)
	cfg.Log.MaxBackups = getInt("LOG_MAX_BACKUPS", 5)
	cfg.Log.MaxAgeDays = getInt("LOG_MAX_AGE_DAYS", 30)

	if path := os.Getenv("VITALS_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultMonitors 最近 7 天快照 + 最近 30 天指标
func defaultMonitors() []monitor.Config {
	week := monitor.LatestWeek()
	month := monitor.MonthlyMetrics()
	for _, m := range []*monitor.Config{&week, &month} {
		m.PollInterval = getDuration("VITALS_POLL_INTERVAL", m.PollInterval)
		m.PermissionBackoff = getDuration("VITALS_PERMISSION_BACKOFF", m.PermissionBackoff)
		m.RefreshThrottle = getDuration("VITALS_REFRESH_THROTTLE", m.RefreshThrottle)
	}
	return []monitor.Config{week, month}
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch c.Store.Kind {
	case StorePostgres, StoreMemory:
	case StoreRemote:
		if c.Platform.BaseURL == "" {
			return fmt.Errorf("PLATFORM_BASE_URL is required when HEALTH_STORE=remote")
		}
	default:
		return fmt.Errorf("unsupported HEALTH_STORE %q", c.Store.Kind)
	}
	if _, err := time.LoadLocation(c.Vitals.Timezone); err != nil {
		return fmt.Errorf("invalid VITALS_TIMEZONE: %w", err)
	}
	if len(c.Vitals.Monitors) == 0 {
		return fmt.Errorf("at least one monitor must be configured")
	}
	seen := make(map[string]bool, len(c.Vitals.Monitors))
	for _, m := range c.Vitals.Monitors {
		if seen[m.Name] {
			return fmt.Errorf("duplicate monitor name %q", m.Name)
		}
		seen[m.Name] = true
	}
	return nil
}

// HeightM 身高（米），未配置时为 0
func (c *Config) HeightM() float64 {
	return c.Vitals.HeightCM / 100
}

// Location 指标时区
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Vitals.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return defaultValue
}
