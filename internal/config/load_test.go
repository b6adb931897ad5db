package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSponsorSecret = "SBTESTSPONSORSECRET"

func TestLoadConfig_HappyPath(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "config_test")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	tempConfigsSubDir := filepath.Join(tempDir, "configs")
	err = os.Mkdir(tempConfigsSubDir, 0755)
	require.NoError(t, err)

	testAppName := "TestApp"
	testPort := 9090
	testLogLevel := "debug"
	testKafkaBrokers := "kafka1:9092,kafka2:9092"
	testBaseURL := "https://accounting.example.org"

	envContent := fmt.Sprintf(
		"APP_NAME=%s\nSERVER_PORT=%d\nLOG_LEVEL=%s\nKAFKA_BROKERS=%s\nSECURITY_SPONSOR_SECRET=%s\nFEDERATION_BASE_URL=%s\nSWEEP_INTERVAL=30s\n",
		testAppName, testPort, testLogLevel, testKafkaBrokers, testSponsorSecret, testBaseURL,
	)
	envFilePath := filepath.Join(tempConfigsSubDir, "test_happy.env")
	err = os.WriteFile(envFilePath, []byte(envContent), 0644)
	require.NoError(t, err)

	originalWD, err := os.Getwd()
	require.NoError(t, err)
	defer func() {
		_ = os.Chdir(originalWD)
	}()

	err = os.Chdir(tempDir)
	require.NoError(t, err)

	cfg, err := LoadConfig("test_happy")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, testAppName, cfg.Application.Name)
	assert.Equal(t, testPort, cfg.Server.Port)
	assert.Equal(t, testLogLevel, cfg.Logging.Level)
	assert.Equal(t, testKafkaBrokers, cfg.Kafka.Brokers)
	assert.Equal(t, testSponsorSecret, cfg.Security.SponsorSecret)
	assert.Equal(t, testBaseURL, cfg.Federation.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Sweep.Interval)

	assert.Equal(t, "development", cfg.Application.Env)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "transfer_events", cfg.Kafka.TransferTopic)
	assert.Equal(t, "mongodb://localhost:27017", cfg.MongoDB.URI)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 24*time.Hour, cfg.Redis.IdempotencyTTL)
	assert.Equal(t, "Komunitin Test Network", cfg.Settlement.NetworkPassphrase)
	assert.False(t, cfg.Notifications.Enabled)
	assert.Equal(t, 10, cfg.WorkerPool.Size)

	cfgWithName, err := LoadConfigWithName("configs/test_happy") // Viper will look for configs/test_happy.env
	require.NoError(t, err)
	require.NotNil(t, cfgWithName)
	assert.Equal(t, testAppName, cfgWithName.Application.Name)

	cfgWithNameAndType, err := LoadConfigWithNameAndType("configs/test_happy", "env")
	require.NoError(t, err)
	require.NotNil(t, cfgWithNameAndType)
	assert.Equal(t, testAppName, cfgWithNameAndType.Application.Name)
}

func TestLoadConfig_MissingSponsor(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "config_test")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	originalWD, err := os.Getwd()
	require.NoError(t, err)
	defer func() {
		_ = os.Chdir(originalWD)
	}()
	require.NoError(t, os.Chdir(tempDir))

	_, err = LoadConfig("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SECURITY_SPONSOR_SECRET is required")
}

func TestConfig_Validate_HappyPath(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("SECURITY_SPONSOR_SECRET", testSponsorSecret)

	err := fromViper(v).validate()
	assert.NoError(t, err, "Default config should be valid")
}

func TestConfig_Validate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantMsg string
	}{
		{
			name:    "ServerPort",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantMsg: "SERVER_PORT must be greater than 0",
		},
		{
			name:    "RedisAddr",
			mutate:  func(c *Config) { c.Redis.Addr = "" },
			wantMsg: "REDIS_ADDR is required",
		},
		{
			name:    "NotificationsWithoutURL",
			mutate:  func(c *Config) { c.Notifications.Enabled = true },
			wantMsg: "NOTIFICATIONS_URL is required when notifications are enabled",
		},
		{
			name:    "NegativeChannels",
			mutate:  func(c *Config) { c.Settlement.Channels = -1 },
			wantMsg: "SETTLEMENT_CHANNELS cannot be negative",
		},
		{
			name:    "SweepInterval",
			mutate:  func(c *Config) { c.Sweep.Interval = 0 },
			wantMsg: "SWEEP_INTERVAL must be greater than 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			setDefaults(v)
			v.Set("SECURITY_SPONSOR_SECRET", testSponsorSecret)
			cfg := fromViper(v)
			tt.mutate(cfg)

			err := cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}
