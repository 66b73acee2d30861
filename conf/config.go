package conf

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// 配置加载（数据库、redis、推送密钥等）

type Db struct {
	DbName   string `yaml:"dbname"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	FileName   string `yaml:"file-name"`
	MaxSize    int    `yaml:"max-size"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAge     int    `yaml:"max-age"`
	Compress   bool   `yaml:"compress"`
	Console    bool   `yaml:"console"`
}

// RedisConfig is used to configure redis
type RedisConfig struct {
	Addr         string `yaml:"address"`
	Password     string `yaml:"password"`
	Db           int    `yaml:"db"`
	PoolSize     int    `yaml:"pool-size"`
	MinIdleConns int    `yaml:"min-idle-conns"`
}

type KafkaConfig struct {
	Broker string `yaml:"broker"` // 为空则关闭触发事件审计流
	Topic  string `yaml:"topic"`
}

type Apns struct {
	Topic   string `yaml:"topic"`
	KeyID   string `yaml:"key_id"`
	TeamID  string `yaml:"team_id"`
	KeyFile string `yaml:"key_file"` // .p8 路径，为空则不启用推送
	IsProd  bool   `yaml:"is_prod"`
}

type AppleConfig struct {
	Apns Apns `yaml:"apns"`
}

type MarketConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout int    `yaml:"timeout"` // 行情请求超时（秒）
}

type EvaluatorConfig struct {
	Interval    int `yaml:"interval"`    // 评估周期（秒）
	Parallelism int `yaml:"parallelism"` // 同时拉取行情的币种数
}

type DispatcherConfig struct {
	Tick        int `yaml:"tick"`         // 出队节拍（秒）
	BatchSize   int `yaml:"batch-size"`   // 每个节拍最多投递条数
	Concurrency int `yaml:"concurrency"`  // 并发投递数
	MaxAttempts int `yaml:"max-attempts"` // 投递失败最大尝试次数
	RetryDelay  int `yaml:"retry-delay"`  // 重试间隔（秒）
}

type DedupeConfig struct {
	Window     int            `yaml:"window"`      // 去重窗口（秒）
	Windows    map[string]int `yaml:"windows"`     // 按通知类型覆盖窗口
	RateLimit  int            `yaml:"rate-limit"`  // 单用户限流窗口内允许条数
	RateWindow int            `yaml:"rate-window"` // 限流窗口（秒）
}

type RetentionConfig struct {
	Days int `yaml:"days"` // 已触发提醒保留天数
}

type Config struct {
	AppName      string `yaml:"app_name"`
	Listen       string `yaml:"listen"`
	Mode         string `yaml:"mode"`
	MaxPingCount int    `yaml:"max-ping-count"`
	NodeID       int64  `yaml:"node-id"` // snowflake 节点号，多实例部署时必须互不相同

	Db         `yaml:"database"`
	Log        LogConfig        `yaml:"log"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Apple      AppleConfig      `yaml:"apple"`
	Market     MarketConfig     `yaml:"market"`
	Evaluator  EvaluatorConfig  `yaml:"evaluator"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Dedupe     DedupeConfig     `yaml:"dedupe"`
	Retention  RetentionConfig  `yaml:"retention"`
}

var AppConfig Config

func LoadConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("Read config file error %w", err)
	}
	if err := yaml.Unmarshal(data, &AppConfig); err != nil {
		return fmt.Errorf("Unmarshal config yaml error: %w", err)
	}
	AppConfig.applyDefaults()
	return nil
}

// applyDefaults 给没配置的字段填入默认值，保证子系统拿到的永远是可用参数
func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8090"
	}
	if c.MaxPingCount == 0 {
		c.MaxPingCount = 10
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "alert_trigger_audit"
	}
	if c.Market.BaseURL == "" {
		c.Market.BaseURL = "https://www.okx.com"
	}
	if c.Market.Timeout <= 0 {
		c.Market.Timeout = 5
	}
	if c.Evaluator.Interval <= 0 {
		c.Evaluator.Interval = 60
	}
	if c.Evaluator.Parallelism <= 0 {
		c.Evaluator.Parallelism = 4
	}
	if c.Dispatcher.Tick <= 0 {
		c.Dispatcher.Tick = 1
	}
	if c.Dispatcher.BatchSize <= 0 {
		c.Dispatcher.BatchSize = 100
	}
	if c.Dispatcher.Concurrency <= 0 {
		c.Dispatcher.Concurrency = 10
	}
	if c.Dispatcher.MaxAttempts <= 0 {
		c.Dispatcher.MaxAttempts = 3
	}
	if c.Dispatcher.RetryDelay <= 0 {
		c.Dispatcher.RetryDelay = 5
	}
	if c.Dedupe.Window <= 0 {
		c.Dedupe.Window = 120
	}
	if c.Dedupe.RateLimit <= 0 {
		c.Dedupe.RateLimit = 20
	}
	if c.Dedupe.RateWindow <= 0 {
		c.Dedupe.RateWindow = 60
	}
	if c.Retention.Days <= 0 {
		c.Retention.Days = 30
	}
}

// QuoteTimeout 行情请求超时时间
func (m MarketConfig) QuoteTimeout() time.Duration {
	return time.Duration(m.Timeout) * time.Second
}
