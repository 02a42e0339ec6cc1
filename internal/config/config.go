package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`
	DB        DBConfig        `yaml:"db"`
	Log       LogConfig       `yaml:"log"`
	Collab    CollabConfig    `yaml:"collab"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type TransportConfig struct {
	Mode string `yaml:"mode"` // "http" or "stdio"
	// DefaultUser acts for MCP requests that carry no caller identity.
	DefaultUser string `yaml:"default_user"`
	// MessageRate limits inbound WebSocket messages per connection per second.
	MessageRate  float64 `yaml:"message_rate"`
	MessageBurst int     `yaml:"message_burst"`
}

type DBConfig struct {
	Path string `yaml:"path"`
	// ArchiveCacheSize is how many archived sessions are kept in memory for reads.
	ArchiveCacheSize int `yaml:"archive_cache_size"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// CollabConfig tunes the session engine.
type CollabConfig struct {
	MaxParticipants  int           `yaml:"max_participants"`
	ConflictWindow   time.Duration `yaml:"conflict_window"`
	RecentOperations int           `yaml:"recent_operations"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	MaxSessionAge    time.Duration `yaml:"max_session_age"`
	AutoSaveInterval time.Duration `yaml:"auto_save_interval"`
}

// KafkaConfig enables event publishing when Brokers is non-empty.
type KafkaConfig struct {
	Brokers     []string      `yaml:"brokers"`
	Topic       string        `yaml:"topic"`
	Workers     int           `yaml:"workers"`
	QueueSize   int           `yaml:"queue_size"`
	MaxRetry    int           `yaml:"max_retry"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`

	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
}

// RedisConfig enables presence tracking when Addr is set.
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	PresenceTTL time.Duration `yaml:"presence_ttl"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Transport: TransportConfig{
			Mode:         "http",
			MessageRate:  50,
			MessageBurst: 100,
		},
		DB: DBConfig{
			Path:             "atelier.db",
			ArchiveCacheSize: 256,
		},
		Log: LogConfig{
			Level: "info",
		},
		Collab: CollabConfig{
			MaxParticipants:  10,
			ConflictWindow:   time.Second,
			RecentOperations: 10,
			SweepInterval:    time.Hour,
			MaxSessionAge:    24 * time.Hour,
			AutoSaveInterval: 30 * time.Second,
		},
		Kafka: KafkaConfig{
			Topic:       "atelier.session-events",
			Workers:     2,
			QueueSize:   1024,
			MaxRetry:    3,
			BaseBackoff: 100 * time.Millisecond,
			MaxBackoff:  2 * time.Second,

			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Redis: RedisConfig{
			PresenceTTL: 2 * time.Minute,
		},
	}
}

// Load reads configuration from an optional YAML file and environment variables.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("ATELIER_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports settings the server cannot start with.
func (c Config) Validate() error {
	switch c.Transport.Mode {
	case "http", "stdio":
	default:
		return fmt.Errorf("invalid transport mode %q", c.Transport.Mode)
	}
	if c.Transport.MessageRate < 0 || c.Transport.MessageBurst < 0 {
		return fmt.Errorf("transport message limits must not be negative")
	}
	if c.DB.ArchiveCacheSize <= 0 {
		return fmt.Errorf("db.archive_cache_size must be positive")
	}
	if c.Collab.MaxParticipants <= 0 {
		return fmt.Errorf("collab.max_participants must be positive")
	}
	if c.Collab.ConflictWindow <= 0 {
		return fmt.Errorf("collab.conflict_window must be positive")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka.topic is required when brokers are set")
	}
	return nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if host := os.Getenv("ATELIER_SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if err := envInt("ATELIER_SERVER_PORT", &cfg.Server.Port); err != nil {
		return err
	}
	if mode := os.Getenv("ATELIER_TRANSPORT_MODE"); mode != "" {
		cfg.Transport.Mode = mode
	}
	if user := os.Getenv("ATELIER_DEFAULT_USER"); user != "" {
		cfg.Transport.DefaultUser = user
	}
	if dbPath := os.Getenv("ATELIER_DB_PATH"); dbPath != "" {
		cfg.DB.Path = dbPath
	}
	if level := os.Getenv("ATELIER_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}

	if err := envInt("ATELIER_MAX_PARTICIPANTS", &cfg.Collab.MaxParticipants); err != nil {
		return err
	}
	if err := envDuration("ATELIER_CONFLICT_WINDOW", &cfg.Collab.ConflictWindow); err != nil {
		return err
	}
	if err := envDuration("ATELIER_SWEEP_INTERVAL", &cfg.Collab.SweepInterval); err != nil {
		return err
	}
	if err := envDuration("ATELIER_MAX_SESSION_AGE", &cfg.Collab.MaxSessionAge); err != nil {
		return err
	}
	if err := envDuration("ATELIER_AUTO_SAVE_INTERVAL", &cfg.Collab.AutoSaveInterval); err != nil {
		return err
	}

	if brokers := os.Getenv("ATELIER_KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = splitList(brokers)
	}
	if topic := os.Getenv("ATELIER_KAFKA_TOPIC"); topic != "" {
		cfg.Kafka.Topic = topic
	}

	if addr := os.Getenv("ATELIER_REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("ATELIER_REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if err := envInt("ATELIER_REDIS_DB", &cfg.Redis.DB); err != nil {
		return err
	}
	return envDuration("ATELIER_PRESENCE_TTL", &cfg.Redis.PresenceTTL)
}

func envInt(key string, dst *int) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
