package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	Alerts string `mapstructure:"alerts"`
}

// QueueConfig 队列（Redis Stream）配置
// 重投递→死信的策略是队列配置，不属于流水线代码
type QueueConfig struct {
	ValidationStream         string `mapstructure:"validation_stream"`
	EnrichmentStream         string `mapstructure:"enrichment_stream"`
	DLQStream                string `mapstructure:"dlq_stream"`
	ConsumerGroup            string `mapstructure:"consumer_group"`
	VisibilityTimeoutSeconds int    `mapstructure:"visibility_timeout_seconds"`
	MaxReceiveCount          int    `mapstructure:"max_receive_count"`
}

type BusinessConfig struct {
	AmountCeiling       float64  `mapstructure:"amount_ceiling"`        // 单笔金额上限
	HighValueThreshold  float64  `mapstructure:"high_value_threshold"`  // 大额人工复核阈值
	AllowedCurrencies   []string `mapstructure:"allowed_currencies"`    // 币种白名单
	HomeCountry         string   `mapstructure:"home_country"`          // 本国标识
	WarningThreshold    int      `mapstructure:"warning_threshold"`     // 风险分告警阈值
	ReviewThreshold     int      `mapstructure:"review_threshold"`      // 风险分人工复核阈值
	DLQRetryLimit       int      `mapstructure:"dlq_retry_limit"`       // 死信消息重试上限
	ExternalTimeoutSecs int      `mapstructure:"external_timeout_secs"` // 外部调用超时
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	GlobalConfig = config
	return config
}
