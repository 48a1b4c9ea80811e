package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL      string `env:"DATABASE_URL"`
	MigrationsFolder string `env:"MIGRATIONS_FOLDER"`
	ListenAddr       string `env:"LISTEN_ADDR" envDefault:"0.0.0.0:8000"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"INFO"`

	// Timezone is the owner-local zone used for slot clock times.
	Timezone string `env:"TIMEZONE" envDefault:"Asia/Dhaka"`

	// HeartbeatInterval is the expected device heartbeat cadence; a device
	// is online while seen within twice this interval.
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"60s"`

	// DevicePollInterval is the cadence devices poll for commands with.
	// The dispatch timeout defaults to three times this.
	DevicePollInterval time.Duration `env:"DEVICE_POLL_INTERVAL" envDefault:"10s"`

	ScanInterval     time.Duration `env:"SCAN_INTERVAL" envDefault:"30s"`
	DispatchTimeout  time.Duration `env:"DISPATCH_TIMEOUT"`
	DispatchRetryMax int           `env:"DISPATCH_RETRY_MAX" envDefault:"3"`

	MqttCfg *MqttConfig
}

type MqttConfig struct {
	Host     string `env:"MQTT_HOST"`
	Username string `env:"MQTT_USER"`
	Password string `env:"MQTT_PASS"`
}

// FromEnv builds a Config purely from environment variables, for
// deployments that pass no CLI flags.
func FromEnv() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, err
	}
	mqttCfg, err := env.ParseAs[MqttConfig]()
	if err != nil {
		return nil, err
	}
	cfg.MqttCfg = &mqttCfg
	return &cfg, nil
}

// EffectiveDispatchTimeout applies the 3x-poll-interval default when no
// explicit timeout is configured.
func (c *Config) EffectiveDispatchTimeout() time.Duration {
	if c.DispatchTimeout > 0 {
		return c.DispatchTimeout
	}
	return 3 * c.DevicePollInterval
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}
