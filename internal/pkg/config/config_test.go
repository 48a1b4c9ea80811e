package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8000", cfg.ListenAddr)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "Asia/Dhaka", cfg.Timezone)
	assert.Equal(t, 60*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 30*time.Second, cfg.ScanInterval)
	assert.Equal(t, 3, cfg.DispatchRetryMax)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/dispenser")
	t.Setenv("TIMEZONE", "Australia/Adelaide")
	t.Setenv("DISPATCH_TIMEOUT", "45s")
	t.Setenv("MQTT_HOST", "tcp://broker:1883")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/dispenser", cfg.DatabaseURL)
	assert.Equal(t, "Australia/Adelaide", cfg.Timezone)
	assert.Equal(t, 45*time.Second, cfg.EffectiveDispatchTimeout())
	assert.Equal(t, "tcp://broker:1883", cfg.MqttCfg.Host)
}

func TestEffectiveDispatchTimeout_DefaultsToThreePolls(t *testing.T) {
	cfg := &Config{DevicePollInterval: 10 * time.Second}
	assert.Equal(t, 30*time.Second, cfg.EffectiveDispatchTimeout())
}

func TestLocation(t *testing.T) {
	cfg := &Config{Timezone: "Asia/Dhaka"}
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Dhaka", loc.String())

	cfg.Timezone = "Nowhere/Invalid"
	_, err = cfg.Location()
	assert.Error(t, err)
}
