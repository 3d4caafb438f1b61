package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kychandar/robobridge/common"
	"github.com/spf13/viper"
)

type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// RobotConfig describes one simulated robot and the endpoint serving it.
type RobotConfig struct {
	ID   common.RobotID `mapstructure:"id"`
	Name string         `mapstructure:"name"`
	Port int            `mapstructure:"port"`
}

type SubscriptionConfig struct {
	Topic common.TopicName `mapstructure:"topic"`
	Type  string           `mapstructure:"type"`
}

// RatesConfig overrides the nominal rate of streamed topics. Topics is keyed
// by topic token (see common.TopicToken).
type RatesConfig struct {
	Default float64            `mapstructure:"default"`
	Topics  map[string]float64 `mapstructure:"topics"`
}

type Config struct {
	Server struct {
		Host            string    `mapstructure:"host"`
		TLS             TLSConfig `mapstructure:"tls"`
		ShutdownTimeout int       `mapstructure:"shutdown_timeout"` // seconds
		FrameRate       float64   `mapstructure:"frame_rate"`       // inbound frames/s per connection, 0 disables
		FrameBurst      int       `mapstructure:"frame_burst"`
	} `mapstructure:"server"`
	Robots    []RobotConfig `mapstructure:"robots"`
	Simulator struct {
		TickMs int   `mapstructure:"tick_ms"`
		Seed   int64 `mapstructure:"seed"` // 0 picks a random seed
	} `mapstructure:"simulator"`
	Rates  RatesConfig `mapstructure:"rates"`
	Client struct {
		URL       string               `mapstructure:"url"`
		Robot     common.RobotID       `mapstructure:"robot"`
		BackoffMs int                  `mapstructure:"backoff_ms"`
		Topics    []SubscriptionConfig `mapstructure:"topics"`
		Store     string               `mapstructure:"store"`
	} `mapstructure:"client"`
	PubSub struct {
		Enabled         bool   `mapstructure:"enabled"`
		URL             string `mapstructure:"url"`
		StateIntervalMs int    `mapstructure:"state_interval_ms"`
	} `mapstructure:"pubsub"`
	Valkey struct {
		Addr []string `mapstructure:"addr"`
	} `mapstructure:"valkey"`
	Health struct {
		Enabled       bool   `mapstructure:"enabled"`
		Port          int    `mapstructure:"port"`
		ReadinessPath string `mapstructure:"readiness_path"`
		LivenessPath  string `mapstructure:"liveness_path"`
	} `mapstructure:"health"`
	Log struct {
		File  string `mapstructure:"file"`
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

const (
	StoreMemory = "memory"
	StoreValkey = "valkey"
)

func Load(cfgFile, env string) (*Config, error) {
	v := viper.New()

	// Default values
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.shutdown_timeout", 30)
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.frame_rate", 100)
	v.SetDefault("server.frame_burst", 50)
	v.SetDefault("robots", []map[string]any{
		{"id": "turtlebot-1", "name": "TurtleBot 1", "port": 8765},
		{"id": "turtlebot-2", "name": "TurtleBot 2", "port": 8766},
	})
	v.SetDefault("simulator.tick_ms", 100)
	v.SetDefault("simulator.seed", 0)
	v.SetDefault("client.url", "ws://localhost:8765")
	v.SetDefault("client.robot", "turtlebot-1")
	v.SetDefault("client.backoff_ms", 3000)
	v.SetDefault("client.store", StoreMemory)
	v.SetDefault("client.topics", []map[string]any{
		{"topic": "/rosout", "type": "rosgraph_msgs/Log"},
	})
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.url", "nats://localhost:4222")
	v.SetDefault("pubsub.state_interval_ms", 500)
	v.SetDefault("valkey.addr", []string{"localhost:6379"})
	v.SetDefault("health.enabled", true)
	v.SetDefault("health.port", 8081)
	v.SetDefault("health.readiness_path", "/health/ready")
	v.SetDefault("health.liveness_path", "/health/live")
	v.SetDefault("log.file", "robobridge.log")
	v.SetDefault("log.level", "info")

	// If config file passed via CLI flag
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Read main config
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}

	// Merge environment-specific config (config.prod.yaml, etc.)
	if env != "" {
		v.SetConfigName(fmt.Sprintf("config.%s", env))
		_ = v.MergeInConfig() // optional, ignore error if not found
	}

	// Environment overrides
	v.SetEnvPrefix("ROBOBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// MOCK_RATE_* overrides land on the same keys a config file sets
	_ = v.BindEnv("rates.default", common.RateEnvDefault)
	for _, topic := range common.StreamedTopics {
		_ = v.BindEnv("rates.topics."+common.TopicToken(topic), common.RateEnvKey(topic))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &cfg, nil
}

var ErrInvalidConfig = errors.New("invalid config")

// Validate rejects configurations the bridge cannot run with.
func (c *Config) Validate() error {
	if len(c.Robots) == 0 {
		return fmt.Errorf("%w: no robots configured", ErrInvalidConfig)
	}
	ids := make(map[common.RobotID]struct{}, len(c.Robots))
	ports := make(map[int]struct{}, len(c.Robots))
	for i, r := range c.Robots {
		if r.ID == "" {
			return fmt.Errorf("%w: robots[%d] has no id", ErrInvalidConfig, i)
		}
		if r.Port <= 0 || r.Port > 65535 {
			return fmt.Errorf("%w: robot %s has invalid port %d", ErrInvalidConfig, r.ID, r.Port)
		}
		if _, dup := ids[r.ID]; dup {
			return fmt.Errorf("%w: duplicate robot id %s", ErrInvalidConfig, r.ID)
		}
		if _, dup := ports[r.Port]; dup {
			return fmt.Errorf("%w: port %d used by more than one robot", ErrInvalidConfig, r.Port)
		}
		ids[r.ID] = struct{}{}
		ports[r.Port] = struct{}{}
	}
	if c.Simulator.TickMs <= 0 {
		return fmt.Errorf("%w: simulator.tick_ms must be positive", ErrInvalidConfig)
	}
	if c.Client.BackoffMs <= 0 {
		return fmt.Errorf("%w: client.backoff_ms must be positive", ErrInvalidConfig)
	}
	switch c.Client.Store {
	case StoreMemory, StoreValkey:
	default:
		return fmt.Errorf("%w: unknown client.store %q", ErrInvalidConfig, c.Client.Store)
	}
	return nil
}

func (c *Config) Tick() time.Duration {
	return time.Duration(c.Simulator.TickMs) * time.Millisecond
}

func (c *Config) Backoff() time.Duration {
	return time.Duration(c.Client.BackoffMs) * time.Millisecond
}

func (c *Config) StateInterval() time.Duration {
	return time.Duration(c.PubSub.StateIntervalMs) * time.Millisecond
}

// Resolve returns the rate a streamed topic should run at: the per-topic
// override, else the default override, else builtin. Non-positive overrides
// are ignored.
func (r RatesConfig) Resolve(topic common.TopicName, builtin float64) float64 {
	if hz, ok := r.Topics[common.TopicToken(topic)]; ok && hz > 0 {
		return hz
	}
	if r.Default > 0 {
		return r.Default
	}
	return builtin
}
