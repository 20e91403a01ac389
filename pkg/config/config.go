package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Discovery struct {
		AdvertisePort     int           `yaml:"advertise_port"`
		AdvertiseInterval time.Duration `yaml:"advertise_interval"`
		ProbePorts        []int         `yaml:"probe_ports"`
		ProbeTimeout      time.Duration `yaml:"probe_timeout"`
		MaxInFlight       int           `yaml:"max_in_flight"`
		ProbesPerSecond   float64       `yaml:"probes_per_second"`
		Retention         time.Duration `yaml:"retention"`
		SweepInterval     time.Duration `yaml:"sweep_interval"`
		AutoSelectDelay   time.Duration `yaml:"auto_select_delay"`
	} `yaml:"discovery"`

	Session struct {
		ConnectTimeout time.Duration `yaml:"connect_timeout"`
		PingInterval   time.Duration `yaml:"ping_interval"`
		PongWindow     time.Duration `yaml:"pong_window"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`

		Reconnect struct {
			Enabled      bool          `yaml:"enabled"`
			InitialDelay time.Duration `yaml:"initial_delay"`
			MaxDelay     time.Duration `yaml:"max_delay"`
			Multiplier   float64       `yaml:"multiplier"`
			MaxAttempts  int           `yaml:"max_attempts"`
		} `yaml:"reconnect"`
	} `yaml:"session"`

	Calls struct {
		ServerURL      string        `yaml:"server_url"`
		Username       string        `yaml:"username"`
		RingTimeout    time.Duration `yaml:"ring_timeout"`
		PollInterval   time.Duration `yaml:"poll_interval"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"calls"`

	Receiver struct {
		Address      string   `yaml:"address"`
		DeviceName   string   `yaml:"device_name"`
		Capabilities []string `yaml:"capabilities"`
		Version      string   `yaml:"version"`
	} `yaml:"receiver"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limiting"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Discovery
	if c.Discovery.AdvertisePort <= 0 || c.Discovery.AdvertisePort > 65535 {
		return fmt.Errorf("discovery.advertise_port must be in (0, 65535]")
	}
	if c.Discovery.AdvertiseInterval <= 0 {
		return fmt.Errorf("discovery.advertise_interval must be > 0")
	}
	if len(c.Discovery.ProbePorts) == 0 {
		return fmt.Errorf("discovery.probe_ports must not be empty")
	}
	for _, p := range c.Discovery.ProbePorts {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("discovery.probe_ports entry %d out of range", p)
		}
	}
	if c.Discovery.ProbeTimeout <= 0 {
		return fmt.Errorf("discovery.probe_timeout must be > 0")
	}
	if c.Discovery.MaxInFlight <= 0 {
		return fmt.Errorf("discovery.max_in_flight must be > 0")
	}
	if c.Discovery.ProbesPerSecond < 0 {
		return fmt.Errorf("discovery.probes_per_second must be >= 0")
	}
	if c.Discovery.Retention <= 0 {
		return fmt.Errorf("discovery.retention must be > 0")
	}
	if c.Discovery.SweepInterval <= 0 {
		return fmt.Errorf("discovery.sweep_interval must be > 0")
	}

	// Session
	if c.Session.ConnectTimeout <= 0 {
		return fmt.Errorf("session.connect_timeout must be > 0")
	}
	if c.Session.PingInterval <= 0 {
		return fmt.Errorf("session.ping_interval must be > 0")
	}
	if c.Session.PongWindow <= 0 {
		return fmt.Errorf("session.pong_window must be > 0")
	}
	if c.Session.PongWindow >= c.Session.PingInterval {
		return fmt.Errorf("session.pong_window must be < session.ping_interval")
	}
	if c.Session.WriteTimeout <= 0 {
		return fmt.Errorf("session.write_timeout must be > 0")
	}
	if c.Session.Reconnect.Enabled {
		if c.Session.Reconnect.InitialDelay <= 0 {
			return fmt.Errorf("session.reconnect.initial_delay must be > 0")
		}
		if c.Session.Reconnect.MaxDelay < c.Session.Reconnect.InitialDelay {
			return fmt.Errorf("session.reconnect.max_delay must be >= initial_delay")
		}
		if c.Session.Reconnect.Multiplier < 1.0 {
			return fmt.Errorf("session.reconnect.multiplier must be >= 1.0")
		}
		if c.Session.Reconnect.MaxAttempts < 0 {
			return fmt.Errorf("session.reconnect.max_attempts must be >= 0")
		}
	}

	// Calls
	if c.Calls.ServerURL == "" {
		return fmt.Errorf("calls.server_url must not be empty")
	}
	if c.Calls.RingTimeout <= 0 {
		return fmt.Errorf("calls.ring_timeout must be > 0")
	}
	if c.Calls.PollInterval <= 0 {
		return fmt.Errorf("calls.poll_interval must be > 0")
	}
	if c.Calls.RequestTimeout <= 0 {
		return fmt.Errorf("calls.request_timeout must be > 0")
	}

	// Receiver
	if c.Receiver.Address == "" {
		return fmt.Errorf("receiver.address must not be empty")
	}
	if c.Receiver.DeviceName == "" {
		return fmt.Errorf("receiver.device_name must not be empty")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.requests_per_second must be > 0 when enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when enabled")
		}
	}

	// Monitoring
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Discovery.AdvertisePort = 50505
	cfg.Discovery.AdvertiseInterval = 5 * time.Second
	cfg.Discovery.ProbePorts = []int{8080, 3000, 5000, 8000}
	cfg.Discovery.ProbeTimeout = 2500 * time.Millisecond
	cfg.Discovery.MaxInFlight = 32
	cfg.Discovery.ProbesPerSecond = 0 // unpaced
	cfg.Discovery.Retention = 30 * time.Second
	cfg.Discovery.SweepInterval = 10 * time.Second
	cfg.Discovery.AutoSelectDelay = 3 * time.Second

	cfg.Session.ConnectTimeout = 10 * time.Second
	cfg.Session.PingInterval = 30 * time.Second
	cfg.Session.PongWindow = 10 * time.Second
	cfg.Session.WriteTimeout = 10 * time.Second
	cfg.Session.Reconnect.Enabled = true
	cfg.Session.Reconnect.InitialDelay = 1 * time.Second
	cfg.Session.Reconnect.MaxDelay = 30 * time.Second
	cfg.Session.Reconnect.Multiplier = 2.0
	cfg.Session.Reconnect.MaxAttempts = 10

	cfg.Calls.ServerURL = "http://localhost:5000"
	cfg.Calls.RingTimeout = 30 * time.Second
	cfg.Calls.PollInterval = 3 * time.Second
	cfg.Calls.RequestTimeout = 5 * time.Second

	cfg.Receiver.Address = ":8080"
	cfg.Receiver.DeviceName = "SmartTV"
	cfg.Receiver.Capabilities = []string{"navigation", "volume", "app_launch", "calls"}
	cfg.Receiver.Version = "1.0.0"

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.RequestsPerSecond = 20
	cfg.RateLimiting.Burst = 40

	cfg.Monitoring.PrometheusEnabled = false
	cfg.Monitoring.PrometheusPort = 9090

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("TVLINK_RECEIVER_ADDRESS"); addr != "" {
		c.Receiver.Address = addr
	}
	if name := os.Getenv("TVLINK_DEVICE_NAME"); name != "" {
		c.Receiver.DeviceName = name
	}
	if url := os.Getenv("TVLINK_CALL_SERVER_URL"); url != "" {
		c.Calls.ServerURL = url
	}
	if user := os.Getenv("TVLINK_USERNAME"); user != "" {
		c.Calls.Username = user
	}
	if level := os.Getenv("TVLINK_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if addr := os.Getenv("TVLINK_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
}
