package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"cryptofeeds/models"
)

type Config struct {
	Cryptofeeds AppConfig                 `yaml:"cryptofeeds"`
	Logging     LoggingConfig             `yaml:"logging"`
	Registry    RegistryConfig            `yaml:"registry"`
	Connection  ConnectionConfig          `yaml:"connection"`
	Spot        map[string][]string       `yaml:"spot"`
	Perp        map[string][]string       `yaml:"perp"`
	Exchanges   map[string]ExchangeConfig `yaml:"exchanges"`
	Fees        map[string]FeeOverrides   `yaml:"fees"`
	Metrics     MetricsConfig             `yaml:"metrics"`
	API         APIConfig                 `yaml:"api"`
	Publisher   PublisherConfig           `yaml:"publisher"`
	CloudWatch  CloudWatchConfig          `yaml:"cloudwatch"`
	Report      ReportConfig              `yaml:"report"`
	Display     DisplayConfig             `yaml:"display"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// RegistryConfig lists the base assets to register, inline or through a
// symbols file.
type RegistryConfig struct {
	Path       string   `yaml:"path"`
	BaseAssets []string `yaml:"base_assets"`
	Quotes     []string `yaml:"quotes"`
}

type ConnectionConfig struct {
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	MessageTimeout    time.Duration `yaml:"message_timeout"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	RetryResetAfter   time.Duration `yaml:"retry_reset_after"`
	ShutdownGrace     time.Duration `yaml:"shutdown_grace"`
}

// ExchangeConfig overrides venue endpoints.
type ExchangeConfig struct {
	URL             string        `yaml:"url"`
	PerpURL         string        `yaml:"perp_url"`
	RESTURL         string        `yaml:"rest_url"`
	ValidateSymbols bool          `yaml:"validate_symbols"`
	HTTPTimeout     time.Duration `yaml:"http_timeout"`
}

// FeeSchedule is taker and maker fees in basis points.
type FeeSchedule struct {
	TakerBps float64 `yaml:"taker_bps"`
	MakerBps float64 `yaml:"maker_bps"`
}

type FeeOverrides struct {
	Spot    *FeeSchedule           `yaml:"spot"`
	Perp    *FeeSchedule           `yaml:"perp"`
	Symbols map[string]FeeSchedule `yaml:"symbols"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type PublisherConfig struct {
	Interval time.Duration `yaml:"interval"`
	Redis    RedisConfig   `yaml:"redis"`
	Kafka    KafkaConfig   `yaml:"kafka"`
}

type RedisConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type ReportConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

type DisplayConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

func defaults() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Connection: ConnectionConfig{
			InitialBackoff:    time.Second,
			MaxBackoff:        60 * time.Second,
			HeartbeatInterval: 10 * time.Second,
			MessageTimeout:    90 * time.Second,
			ConnectTimeout:    10 * time.Second,
			WriteTimeout:      10 * time.Second,
			RetryResetAfter:   5 * time.Minute,
			ShutdownGrace:     5 * time.Second,
		},
		Metrics: MetricsConfig{Addr: ":9090"},
		API:     APIConfig{Addr: ":8080"},
		Publisher: PublisherConfig{
			Interval: time.Second,
			Redis:    RedisConfig{Addr: "localhost:6379", KeyPrefix: "bbo", TTL: time.Minute},
			Kafka:    KafkaConfig{Topic: "bbo-quotes", BatchTimeout: 100 * time.Millisecond},
		},
		CloudWatch: CloudWatchConfig{Namespace: "CryptoFeeds"},
		Report:     ReportConfig{Interval: time.Minute},
		Display:    DisplayConfig{Interval: time.Second},
	}
}

// LoadConfig reads path, applies defaults and environment overrides, and
// validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaults()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	applyEnv(&config)
	lowerKeys(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &config, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("SYMBOL_CONFIG")); v != "" {
		cfg.Registry.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_ADDR")); v != "" {
		cfg.Publisher.Redis.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		var brokers []string
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		cfg.Publisher.Kafka.Brokers = brokers
	}
	if v := strings.TrimSpace(os.Getenv("AWS_REGION")); v != "" {
		cfg.CloudWatch.Region = v
	}
	if v := strings.TrimSpace(os.Getenv("API_ADDR")); v != "" {
		cfg.API.Addr = v
	}
}

// lowerKeys makes exchange names case-insensitive.
func lowerKeys(cfg *Config) {
	cfg.Spot = lowerMap(cfg.Spot)
	cfg.Perp = lowerMap(cfg.Perp)
	cfg.Exchanges = lowerMap(cfg.Exchanges)
	cfg.Fees = lowerMap(cfg.Fees)
}

func lowerMap[V any](m map[string]V) map[string]V {
	if m == nil {
		return nil
	}
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}

func validateConfig(cfg *Config) error {
	if cfg.Cryptofeeds.Name == "" {
		return fmt.Errorf("cryptofeeds.name is required")
	}
	if cfg.Registry.Path == "" && len(cfg.Registry.BaseAssets) == 0 {
		return fmt.Errorf("registry.path or registry.base_assets is required")
	}

	c := cfg.Connection
	if c.InitialBackoff <= 0 || c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("connection.initial_backoff must be > 0 and <= connection.max_backoff")
	}
	if c.HeartbeatInterval <= 0 || c.MessageTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("connection.message_timeout must exceed connection.heartbeat_interval")
	}

	if len(cfg.Spot)+len(cfg.Perp) == 0 {
		return fmt.Errorf("at least one spot or perp exchange must be configured")
	}
	for _, section := range []struct {
		name string
		subs map[string][]string
	}{{"spot", cfg.Spot}, {"perp", cfg.Perp}} {
		for exchange, syms := range section.subs {
			if len(syms) == 0 {
				return fmt.Errorf("%s.%s has no symbols", section.name, exchange)
			}
		}
	}

	if cfg.Publisher.Redis.Enabled && cfg.Publisher.Redis.Addr == "" {
		return fmt.Errorf("publisher.redis.addr is required when redis is enabled")
	}
	if cfg.Publisher.Kafka.Enabled {
		if len(cfg.Publisher.Kafka.Brokers) == 0 {
			return fmt.Errorf("publisher.kafka.brokers is required when kafka is enabled")
		}
		if cfg.Publisher.Kafka.Topic == "" {
			return fmt.Errorf("publisher.kafka.topic is required when kafka is enabled")
		}
	}
	if (cfg.Publisher.Redis.Enabled || cfg.Publisher.Kafka.Enabled) && cfg.Publisher.Interval <= 0 {
		return fmt.Errorf("publisher.interval must be greater than 0")
	}
	if cfg.CloudWatch.Enabled && cfg.CloudWatch.Region == "" {
		return fmt.Errorf("cloudwatch.region is required when cloudwatch is enabled")
	}
	return nil
}

// Subscription is one configured exchange and instrument type with its
// symbols.
type Subscription struct {
	Exchange string
	Type     models.InstrumentType
	Symbols  []string
}

// Subscriptions flattens the spot and perp sections in a stable order.
func (c *Config) Subscriptions() []Subscription {
	var out []Subscription
	add := func(it models.InstrumentType, m map[string][]string) {
		names := make([]string, 0, len(m))
		for name := range m {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			out = append(out, Subscription{Exchange: name, Type: it, Symbols: m[name]})
		}
	}
	add(models.Spot, c.Spot)
	add(models.Perp, c.Perp)
	return out
}

// Exchange returns the overrides for name, zero when none are configured.
func (c *Config) Exchange(name string) ExchangeConfig {
	return c.Exchanges[strings.ToLower(name)]
}
