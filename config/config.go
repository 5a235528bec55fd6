package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 引擎全局配置
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Consumer  ConsumerConfig  `mapstructure:"consumer"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Fanout    FanoutConfig    `mapstructure:"fanout"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres | sqlite
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | console
}

// QueueConfig worker 并发参数，0 或负数表示使用默认值
type QueueConfig struct {
	Prefix                   string        `mapstructure:"prefix"`
	Concurrency              int           `mapstructure:"concurrency"`
	ScheduledPublishPerOwner int           `mapstructure:"scheduled_publish_per_owner"`
	FollowPerUser            int           `mapstructure:"follow_per_user"`
	PollInterval             time.Duration `mapstructure:"poll_interval"`
	// KeepFailed 保留失败任务供运维接口查看
	KeepFailed bool `mapstructure:"keep_failed"`
}

type ConsumerConfig struct {
	Stream  string        `mapstructure:"stream"`
	Group   string        `mapstructure:"group"`
	Name    string        `mapstructure:"name"`
	Block   time.Duration `mapstructure:"block"`
	Count   int64         `mapstructure:"count"`
	MinIdle time.Duration `mapstructure:"min_idle"`
	// HandledTTL 处理器完成记录的保留时长
	HandledTTL time.Duration `mapstructure:"handled_ttl"`
}

type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	PageSize int           `mapstructure:"page_size"`
}

type FanoutConfig struct {
	BatchSize int `mapstructure:"batch_size"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

// Load 读取配置：config.yaml（可选）+ FANOUT_ 前缀环境变量
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("FANOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "host=localhost user=postgres password=postgres dbname=postgres port=5432 sslmode=disable")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("queue.prefix", "fanout")
	v.SetDefault("queue.poll_interval", 50*time.Millisecond)
	// 0 = 未设置，由 OrDefault 在装配时兜底
	v.SetDefault("queue.concurrency", 0)
	v.SetDefault("queue.scheduled_publish_per_owner", 0)
	v.SetDefault("queue.follow_per_user", 0)
	v.SetDefault("queue.keep_failed", false)

	v.SetDefault("consumer.stream", "content-events")
	v.SetDefault("consumer.group", "fanout-engine")
	v.SetDefault("consumer.name", "")
	v.SetDefault("consumer.block", 2*time.Second)
	v.SetDefault("consumer.count", 64)
	v.SetDefault("consumer.min_idle", time.Minute)
	v.SetDefault("consumer.handled_ttl", 24*time.Hour)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", time.Minute)
	v.SetDefault("scheduler.page_size", 100)

	v.SetDefault("fanout.batch_size", 1000)

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "content-fanout")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "development")
}

// OrDefault 未设置或非法（<=0）时返回默认值
func OrDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
