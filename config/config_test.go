package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kychandar/robobridge/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_WithConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeConfig(t, tmpDir, "config.yaml", `
server:
  host: "127.0.0.1"
robots:
  - id: "rover-a"
    name: "Rover A"
    port: 9001
simulator:
  tick_ms: 50
  seed: 7
rates:
  default: 4
  topics:
    odom: 25
client:
  url: "ws://rover:9001"
  backoff_ms: 1500
  topics:
    - topic: "/scan"
      type: "sensor_msgs/LaserScan"
pubsub:
  enabled: true
  url: "nats://test:4222"
valkey:
  addr:
    - "valkey1:6379"
    - "valkey2:6379"
`)

	cfg, err := Load(configPath, "")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	require.Len(t, cfg.Robots, 1)
	assert.Equal(t, common.RobotID("rover-a"), cfg.Robots[0].ID)
	assert.Equal(t, "Rover A", cfg.Robots[0].Name)
	assert.Equal(t, 9001, cfg.Robots[0].Port)
	assert.Equal(t, 50, cfg.Simulator.TickMs)
	assert.Equal(t, int64(7), cfg.Simulator.Seed)
	assert.Equal(t, 4.0, cfg.Rates.Default)
	assert.Equal(t, 25.0, cfg.Rates.Topics["odom"])
	assert.Equal(t, "ws://rover:9001", cfg.Client.URL)
	assert.Equal(t, 1500, cfg.Client.BackoffMs)
	require.Len(t, cfg.Client.Topics, 1)
	assert.Equal(t, common.TopicName("/scan"), cfg.Client.Topics[0].Topic)
	assert.True(t, cfg.PubSub.Enabled)
	assert.Equal(t, "nats://test:4222", cfg.PubSub.URL)
	assert.Equal(t, []string{"valkey1:6379", "valkey2:6379"}, cfg.Valkey.Addr)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EmptyConfigUsesDefaults(t *testing.T) {
	configPath := writeConfig(t, t.TempDir(), "config.yaml", "")

	cfg, err := Load(configPath, "")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 30, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 100.0, cfg.Server.FrameRate)
	assert.Equal(t, 50, cfg.Server.FrameBurst)
	require.Len(t, cfg.Robots, 2)
	assert.Equal(t, common.RobotID("turtlebot-1"), cfg.Robots[0].ID)
	assert.Equal(t, 8765, cfg.Robots[0].Port)
	assert.Equal(t, common.RobotID("turtlebot-2"), cfg.Robots[1].ID)
	assert.Equal(t, 8766, cfg.Robots[1].Port)
	assert.Equal(t, 100, cfg.Simulator.TickMs)
	assert.Equal(t, 3000, cfg.Client.BackoffMs)
	assert.Equal(t, StoreMemory, cfg.Client.Store)
	assert.False(t, cfg.PubSub.Enabled)
	assert.Equal(t, 8081, cfg.Health.Port)
	assert.Equal(t, "/health/ready", cfg.Health.ReadinessPath)
	assert.Equal(t, "/health/live", cfg.Health.LivenessPath)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_WithEnvironmentFile(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfig(t, tmpDir, "config.yaml", `
server:
  host: "localhost"
simulator:
  tick_ms: 100
`)
	writeConfig(t, tmpDir, "config.prod.yaml", `
simulator:
  tick_ms: 20
`)

	originalWd, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer os.Chdir(originalWd)

	cfg, err := Load("", "prod")
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 20, cfg.Simulator.TickMs)
}

func TestLoad_EnvironmentVariableOverride(t *testing.T) {
	configPath := writeConfig(t, t.TempDir(), "config.yaml", `
client:
  backoff_ms: 3000
`)
	t.Setenv("ROBOBRIDGE_CLIENT_BACKOFF_MS", "250")

	cfg, err := Load(configPath, "")
	require.NoError(t, err)
	assert.Equal(t, 250, cfg.Client.BackoffMs)
}

func TestLoad_NonExistentConfigFile(t *testing.T) {
	cfg, err := Load("/nonexistent/config.yaml", "")
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "error reading config")
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, t.TempDir(), "config.yaml", `
server:
  host: "localhost"
  this is not valid yaml
`)

	cfg, err := Load(configPath, "")
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func validConfig() *Config {
	cfg := &Config{}
	cfg.Robots = []RobotConfig{{ID: "a", Port: 8765}, {ID: "b", Port: 8766}}
	cfg.Simulator.TickMs = 100
	cfg.Client.BackoffMs = 3000
	cfg.Client.Store = StoreMemory
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{"valid", func(*Config) {}, true},
		{"no robots", func(c *Config) { c.Robots = nil }, false},
		{"empty id", func(c *Config) { c.Robots[0].ID = "" }, false},
		{"bad port", func(c *Config) { c.Robots[0].Port = 0 }, false},
		{"duplicate id", func(c *Config) { c.Robots[1].ID = "a" }, false},
		{"duplicate port", func(c *Config) { c.Robots[1].Port = 8765 }, false},
		{"zero tick", func(c *Config) { c.Simulator.TickMs = 0 }, false},
		{"zero backoff", func(c *Config) { c.Client.BackoffMs = 0 }, false},
		{"unknown store", func(c *Config) { c.Client.Store = "disk" }, false},
		{"valkey store", func(c *Config) { c.Client.Store = StoreValkey }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestConfig_Durations(t *testing.T) {
	cfg := validConfig()
	cfg.PubSub.StateIntervalMs = 500
	assert.Equal(t, "100ms", cfg.Tick().String())
	assert.Equal(t, "3s", cfg.Backoff().String())
	assert.Equal(t, "500ms", cfg.StateInterval().String())
}

func TestRatesConfig_Resolve(t *testing.T) {
	tests := []struct {
		name     string
		rates    RatesConfig
		topic    common.TopicName
		builtin  float64
		expected float64
	}{
		{"no overrides", RatesConfig{}, "/odom", 10, 10},
		{"topic override", RatesConfig{Topics: map[string]float64{"odom": 30}}, "/odom", 10, 30},
		{"default override", RatesConfig{Default: 3}, "/odom", 10, 3},
		{"topic beats default", RatesConfig{Default: 3, Topics: map[string]float64{"odom": 30}}, "/odom", 10, 30},
		{"nested topic token", RatesConfig{Topics: map[string]float64{"camera_rgb_image_raw": 1}}, "/camera/rgb/image_raw", 5, 1},
		{"non-positive ignored", RatesConfig{Default: -1, Topics: map[string]float64{"odom": 0}}, "/odom", 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.rates.Resolve(tt.topic, tt.builtin))
		})
	}
}

func TestLoad_RateEnvOverrides(t *testing.T) {
	configPath := writeConfig(t, t.TempDir(), "config.yaml", `
rates:
  default: 2
  topics:
    scan: 8
    imu: 30
`)
	t.Setenv("MOCK_RATE_DEFAULT", "6")
	t.Setenv("MOCK_RATE_ODOM", "40")
	t.Setenv("MOCK_RATE_IMU", "12.5")
	t.Setenv("MOCK_RATE_CAMERA_RGB_IMAGE_RAW", "1")

	cfg, err := Load(configPath, "")
	require.NoError(t, err)

	assert.Equal(t, 6.0, cfg.Rates.Default)
	assert.Equal(t, 40.0, cfg.Rates.Topics["odom"])
	assert.Equal(t, 8.0, cfg.Rates.Topics["scan"], "file value kept without an env override")
	assert.Equal(t, 12.5, cfg.Rates.Topics["imu"], "env wins over the file")
	assert.Equal(t, 1.0, cfg.Rates.Resolve(common.TopicCameraRGB, 5))
	_, hasChatter := cfg.Rates.Topics["chatter"]
	assert.False(t, hasChatter, "unset variables add no override")
}

func TestLoad_RateEnvNonPositiveIgnoredByResolve(t *testing.T) {
	configPath := writeConfig(t, t.TempDir(), "config.yaml", "")
	t.Setenv("MOCK_RATE_CHATTER", "-2")

	cfg, err := Load(configPath, "")
	require.NoError(t, err)
	assert.Equal(t, 2.0, cfg.Rates.Resolve(common.TopicChatter, 2))
}

func TestLoad_RateEnvUnparseable(t *testing.T) {
	configPath := writeConfig(t, t.TempDir(), "config.yaml", "")
	t.Setenv("MOCK_RATE_IMU", "fast")

	_, err := Load(configPath, "")
	assert.Error(t, err)
}
